package retrieval

import (
	"sort"
	"strings"
	"unicode/utf8"

	"plot-rag-api/internal/domain/entity"
)

const (
	// ChapterCap 章节最多入选数量，固定策略
	ChapterCap = 3
	// DefaultMaxPerType 其他类型默认上限
	DefaultMaxPerType = 5
	// DefaultCharBudget 默认字符预算
	DefaultCharBudget = 6000
)

type sectionSpec struct {
	entityType entity.EntityType
	label      string
}

// sectionOrder 固定输出顺序
var sectionOrder = []sectionSpec{
	{entity.EntityTypeProject, "Project"},
	{entity.EntityTypeCharacter, "Characters"},
	{entity.EntityTypeWorldBuilding, "World Building"},
	{entity.EntityTypeChapter, "Previous Chapters"},
}

// Assembler 将检索结果组装为有预算上限的上下文
type Assembler struct {
	maxPerType int
}

// NewAssembler 创建组装器，maxPerType <= 0 时使用默认值
func NewAssembler(maxPerType int) *Assembler {
	if maxPerType <= 0 {
		maxPerType = DefaultMaxPerType
	}
	return &Assembler{maxPerType: maxPerType}
}

func (a *Assembler) capFor(t entity.EntityType) int {
	if t == entity.EntityTypeChapter {
		return ChapterCap
	}
	if a == nil || a.maxPerType <= 0 {
		return DefaultMaxPerType
	}
	return a.maxPerType
}

// Assemble 按固定分组顺序贪心填充，遇到第一个放不下的条目即整体停止。
// 条目不拆分；分组标题与分隔符计入预算；空分组不输出。
func (a *Assembler) Assemble(results []entity.RetrievalResult, charBudget int) entity.AssembledContext {
	out := entity.AssembledContext{
		Sections:   []entity.ContextSection{},
		References: []string{},
	}
	if charBudget <= 0 || len(results) == 0 {
		return out
	}

	groups := make(map[entity.EntityType][]entity.RetrievalResult, len(sectionOrder))
	for _, r := range results {
		groups[r.EntityType] = append(groups[r.EntityType], r)
	}

	used := 0
	for _, spec := range sectionOrder {
		group := groups[spec.entityType]
		if len(group) == 0 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool { return resultLess(group[i], group[j]) })
		if limit := a.capFor(spec.entityType); len(group) > limit {
			group = group[:limit]
		}

		section := entity.ContextSection{Label: spec.label}
		for _, r := range group {
			block := renderBlock(r)
			if block == "" {
				continue
			}
			cost := utf8.RuneCountInString(block) + 1
			if len(section.Blocks) == 0 {
				cost = headerCost(spec.label, len(out.Sections) > 0) + utf8.RuneCountInString(block)
			}
			if used+cost > charBudget {
				if len(section.Blocks) > 0 {
					out.Sections = append(out.Sections, section)
				}
				return out
			}
			used += cost
			section.Blocks = append(section.Blocks, block)
			out.References = append(out.References, r.EntityID)
		}
		if len(section.Blocks) > 0 {
			out.Sections = append(out.Sections, section)
		}
	}
	return out
}

// headerCost 分组标题、标题后的换行以及与前一分组的分隔符
func headerCost(label string, hasPrevious bool) int {
	cost := utf8.RuneCountInString("## "+label) + 1
	if hasPrevious {
		cost += utf8.RuneCountInString(entity.SectionSeparator)
	}
	return cost
}

// renderBlock 单个实体渲染为一行 "- 标题: 内容"
func renderBlock(r entity.RetrievalResult) string {
	title := compactOneLine(r.Payload.Title)
	text := compactOneLine(r.Payload.Text)
	switch {
	case title != "" && text != "":
		return "- " + title + ": " + text
	case title != "":
		return "- " + title
	case text != "":
		return "- " + text
	default:
		return ""
	}
}

func compactOneLine(s string) string {
	out := strings.ReplaceAll(s, "\r\n", "\n")
	out = strings.ReplaceAll(out, "\r", "\n")
	out = strings.ReplaceAll(out, "\n", " ")
	out = strings.TrimSpace(out)
	for strings.Contains(out, "  ") {
		out = strings.ReplaceAll(out, "  ", " ")
	}
	return out
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max])) + "…"
}
