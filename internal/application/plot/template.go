package plot

import (
	"fmt"
	"strings"

	"plot-rag-api/internal/domain/entity"
)

// DefaultTargetLength 未指定目标字数时使用
const DefaultTargetLength = 100000

type blueprintAct struct {
	title   string
	summary string
	percent int
	events  []string
}

type blueprint struct {
	acts       []blueprintAct
	climax     string
	resolution string
}

var blueprints = map[entity.StructureType]blueprint{
	entity.StructureThreeAct: {
		acts: []blueprintAct{
			{"Setup", "Introduce the protagonist, their world and the inciting incident that disrupts it.", 25,
				[]string{"Ordinary world", "Inciting incident", "First plot point"}},
			{"Confrontation", "The protagonist pursues the goal against rising obstacles until a midpoint reversal raises the stakes.", 50,
				[]string{"Rising obstacles", "Midpoint reversal", "All is lost"}},
			{"Resolution", "The protagonist confronts the central conflict and the story settles into a new equilibrium.", 25,
				[]string{"Climax", "Falling action", "New equilibrium"}},
		},
		climax:     "The protagonist faces the antagonist in a decisive confrontation.",
		resolution: "The conflict resolves and the protagonist's change is made visible.",
	},
	entity.StructureFourAct: {
		acts: []blueprintAct{
			{"Setup", "Establish the characters, stakes and the first turning point.", 25,
				[]string{"Hook", "First plot point"}},
			{"Response", "The protagonist reacts to the new situation and searches for a way forward.", 25,
				[]string{"Reaction", "First pinch point"}},
			{"Attack", "Armed with new understanding, the protagonist takes the initiative.", 25,
				[]string{"Midpoint shift", "Second pinch point"}},
			{"Resolution", "The protagonist becomes the catalyst that resolves the conflict.", 25,
				[]string{"Second plot point", "Climax", "Resolution"}},
		},
		climax:     "The protagonist drives the final confrontation.",
		resolution: "The new order is established.",
	},
	entity.StructureFiveAct: {
		acts: []blueprintAct{
			{"Exposition", "Present the setting, the characters and the underlying tension.", 10,
				[]string{"Setting", "Inciting moment"}},
			{"Rising Action", "Complications accumulate and the conflict intensifies.", 20,
				[]string{"Complications", "Growing tension"}},
			{"Climax", "The turning point where the protagonist's fortunes change.", 40,
				[]string{"Turning point", "Point of no return"}},
			{"Falling Action", "Consequences of the climax unfold and loose ends tighten.", 20,
				[]string{"Consequences", "Final suspense"}},
			{"Denouement", "The conflict resolves and a new normal emerges.", 10,
				[]string{"Resolution", "Catharsis"}},
		},
		climax:     "The turning point reverses the protagonist's fortunes.",
		resolution: "The denouement releases the accumulated tension.",
	},
	entity.StructureHeroJourney: {
		acts: []blueprintAct{
			{"Departure", "The hero leaves the ordinary world in answer to a call.", 25,
				[]string{"Ordinary World", "Call to Adventure", "Refusal of the Call", "Meeting the Mentor", "Crossing the Threshold"}},
			{"Initiation", "The hero is tested, finds allies and enemies and survives the ordeal.", 50,
				[]string{"Tests, Allies, Enemies", "Approach to the Inmost Cave", "The Ordeal", "Reward"}},
			{"Return", "The hero returns transformed, bringing something of value back.", 25,
				[]string{"The Road Back", "Resurrection", "Return with the Elixir"}},
		},
		climax:     "The hero faces death and rebirth in the final resurrection.",
		resolution: "The hero returns home with the elixir and shares it.",
	},
	entity.StructureSevenPoint: {
		acts: []blueprintAct{
			{"Hook", "Show the protagonist's starting state, the opposite of the ending.", 10, []string{"Starting state"}},
			{"Plot Turn 1", "A new idea or event sets the story in motion.", 15, []string{"Call to action"}},
			{"Pinch Point 1", "Pressure from the antagonist forces the protagonist to act.", 15, []string{"Applied pressure"}},
			{"Midpoint", "The protagonist moves from reaction to action.", 20, []string{"Shift to action"}},
			{"Pinch Point 2", "Everything goes wrong and the plan collapses.", 15, []string{"Dark moment"}},
			{"Plot Turn 2", "The protagonist obtains the final piece needed to win.", 15, []string{"Final key"}},
			{"Resolution", "The climax plays out and the story arc completes.", 10, []string{"Climax", "Ending state"}},
		},
		climax:     "Everything converges as the protagonist uses the final key.",
		resolution: "The protagonist reaches an ending state that mirrors the hook.",
	},
	entity.StructureKishotenketsu: {
		acts: []blueprintAct{
			{"Ki (Introduction)", "Introduce the characters and their world.", 25, []string{"Introduction"}},
			{"Sho (Development)", "Develop the characters and situation without major conflict.", 25, []string{"Development"}},
			{"Ten (Twist)", "An unexpected development recontextualizes what came before.", 25, []string{"Twist"}},
			{"Ketsu (Conclusion)", "Reconcile the twist with the earlier story.", 25, []string{"Reconciliation"}},
		},
		climax:     "The twist reveals the story in a new light.",
		resolution: "The conclusion harmonizes the twist with the beginning.",
	},
}

// NormalizeStructureType 未知或空类型归一为 three_act
func NormalizeStructureType(t entity.StructureType) entity.StructureType {
	t = entity.StructureType(strings.ToLower(strings.TrimSpace(string(t))))
	if _, ok := blueprints[t]; ok {
		return t
	}
	return entity.StructureThreeAct
}

// GenerateTemplate 按结构蓝图确定性地生成剧情，不访问网络也不使用随机数。
// 返回值不含 ID 与时间戳，由调用方补齐。
func GenerateTemplate(structureType entity.StructureType, targetLength int) *entity.PlotStructure {
	st := NormalizeStructureType(structureType)
	if targetLength <= 0 {
		targetLength = DefaultTargetLength
	}
	bp := blueprints[st]

	percents := make([]int, len(bp.acts))
	for i, a := range bp.acts {
		percents[i] = a.percent
	}
	lengths := distributeLength(targetLength, percents)

	acts := make([]entity.PlotAct, 0, len(bp.acts))
	cursor := 0
	for i, a := range bp.acts {
		acts = append(acts, entity.PlotAct{
			Index:        i + 1,
			Title:        a.title,
			Summary:      a.summary,
			StartPercent: cursor,
			EndPercent:   cursor + a.percent,
			TargetLength: lengths[i],
			KeyEvents:    append([]string(nil), a.events...),
		})
		cursor += a.percent
	}

	return &entity.PlotStructure{
		StructureType: st,
		Acts:          acts,
		Climax:        bp.climax,
		Resolution:    bp.resolution,
		Source:        entity.PlotSourceTemplate,
		TargetLength:  targetLength,
	}
}

// distributeLength 按权重分配，余数计入最后一项，总和恰为 total
func distributeLength(total int, weights []int) []int {
	out := make([]int, len(weights))
	if len(weights) == 0 {
		return out
	}
	sum := 0
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}
	assigned := 0
	for i, w := range weights {
		if sum == 0 {
			out[i] = total / len(weights)
		} else if w > 0 {
			// 先除后乘，避免 total*w 溢出
			q, r := total/sum, total%sum
			out[i] = q*w + int(int64(r)*int64(w)/int64(sum))
		}
		assigned += out[i]
	}
	out[len(out)-1] += total - assigned
	return out
}

// applyActLengths 为缺少目标字数的幕按百分比补齐
func applyActLengths(acts []entity.PlotAct, total int) {
	missing := false
	weights := make([]int, len(acts))
	for i, a := range acts {
		if a.TargetLength <= 0 {
			missing = true
		}
		weights[i] = a.EndPercent - a.StartPercent
	}
	if !missing {
		return
	}
	for i, l := range distributeLength(total, weights) {
		acts[i].TargetLength = l
	}
}

// TemplateSuggestions 为剧情生成确定性的逐幕建议
func TemplateSuggestions(p *entity.PlotStructure) []entity.Suggestion {
	if p == nil || len(p.Acts) == 0 {
		p = GenerateTemplate(entity.StructureThreeAct, DefaultTargetLength)
	}

	widest := 0
	for i, a := range p.Acts {
		if a.EndPercent-a.StartPercent > p.Acts[widest].EndPercent-p.Acts[widest].StartPercent {
			widest = i
		}
	}

	out := make([]entity.Suggestion, 0, len(p.Acts)+1)
	for i, a := range p.Acts {
		priority := entity.PriorityMedium
		if i == widest {
			priority = entity.PriorityHigh
		}
		out = append(out, entity.Suggestion{
			ID:          fmt.Sprintf("template-act-%d", a.Index),
			Type:        entity.SuggestionPacing,
			Title:       fmt.Sprintf("Sharpen %s", a.Title),
			Description: fmt.Sprintf("Give %q a clear goal, an obstacle and a change of state so it earns its %d%% of the story.", a.Title, a.EndPercent-a.StartPercent),
			TargetAct:   a.Index,
			Priority:    priority,
			Rationale:   "Each act should move the protagonist closer to or further from the goal.",
		})
	}
	out = append(out, entity.Suggestion{
		ID:          "template-climax",
		Type:        entity.SuggestionConflict,
		Title:       "Tie the climax to the protagonist's choice",
		Description: "Make sure the climax is resolved by a decision the protagonist makes, not by chance.",
		Priority:    entity.PriorityHigh,
		Rationale:   "A climax driven by character choice pays off the setup.",
	})
	return out
}
