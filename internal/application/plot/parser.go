// Package plot 实现剧情生成流水线：检索、组装、生成、解析与模板降级
package plot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"plot-rag-api/internal/domain/entity"
)

var (
	// ErrMissingActs 模型输出中找不到非空的 acts 数组
	ErrMissingActs = errors.New("model response has no acts")
	// ErrMissingSuggestions 模型输出中找不到建议列表
	ErrMissingSuggestions = errors.New("model response has no suggestions")
)

// ParseReason 解析失败原因
type ParseReason string

const (
	ReasonMissingActs        ParseReason = "missing_acts"
	ReasonMissingSuggestions ParseReason = "missing_suggestions"
)

// ParseError 解析失败，唯一的硬错误
type ParseError struct {
	Reason  ParseReason
	Snippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model response: %s (payload snippet: %s)", e.Reason, e.Snippet)
}

func (e *ParseError) Unwrap() error {
	switch e.Reason {
	case ReasonMissingSuggestions:
		return ErrMissingSuggestions
	default:
		return ErrMissingActs
	}
}

const (
	defaultClimax     = "The central conflict reaches its peak."
	defaultResolution = "The story's threads are resolved."
)

// ParsedPlot 解析后的剧情内容
type ParsedPlot struct {
	StructureType string
	Acts          []entity.PlotAct
	Climax        string
	Resolution    string
}

// ParsePlot 去除代码围栏后解析 JSON，失败时回退到第一个括号配平的对象片段
func ParsePlot(raw string) (*ParsedPlot, error) {
	doc, ok := extractJSON(raw, '{')
	if !ok {
		return nil, &ParseError{Reason: ReasonMissingActs, Snippet: summarizeSnippet(raw)}
	}
	root := gjson.Parse(doc)
	acts := firstOf(root, "acts", "plot.acts", "structure.acts")
	if !acts.IsArray() || len(acts.Array()) == 0 {
		return nil, &ParseError{Reason: ReasonMissingActs, Snippet: summarizeSnippet(raw)}
	}

	items := acts.Array()
	out := &ParsedPlot{
		StructureType: strings.TrimSpace(firstOf(root, "structure_type", "structureType", "type").String()),
		Acts:          make([]entity.PlotAct, 0, len(items)),
		Climax:        strings.TrimSpace(firstOf(root, "climax").String()),
		Resolution:    strings.TrimSpace(firstOf(root, "resolution").String()),
	}
	for i, item := range items {
		act := entity.PlotAct{
			Index:        i + 1,
			Title:        strings.TrimSpace(firstOf(item, "title", "name").String()),
			Summary:      strings.TrimSpace(firstOf(item, "summary", "description").String()),
			StartPercent: int(firstOf(item, "start_percent", "startPercent").Int()),
			EndPercent:   int(firstOf(item, "end_percent", "endPercent").Int()),
			TargetLength: int(firstOf(item, "target_length", "targetLength").Int()),
		}
		if item.Type == gjson.String {
			act.Summary = strings.TrimSpace(item.String())
		}
		if act.Title == "" {
			act.Title = fmt.Sprintf("Act %d", i+1)
		}
		for _, ev := range firstOf(item, "key_events", "keyEvents", "events").Array() {
			if s := strings.TrimSpace(ev.String()); s != "" {
				act.KeyEvents = append(act.KeyEvents, s)
			}
		}
		out.Acts = append(out.Acts, act)
	}
	fillPercents(out.Acts)

	if out.Climax == "" {
		out.Climax = defaultClimax
	}
	if out.Resolution == "" {
		out.Resolution = defaultResolution
	}
	return out, nil
}

// ParseSuggestions 接受 {"suggestions":[...]} 或裸数组
func ParseSuggestions(raw string) ([]entity.Suggestion, error) {
	var list gjson.Result
	if doc, ok := extractJSON(raw, '{'); ok {
		list = firstOf(gjson.Parse(doc), "suggestions", "items")
	}
	if !list.IsArray() {
		if doc, ok := extractJSON(raw, '['); ok {
			list = gjson.Parse(doc)
		}
	}
	if !list.IsArray() || len(list.Array()) == 0 {
		return nil, &ParseError{Reason: ReasonMissingSuggestions, Snippet: summarizeSnippet(raw)}
	}

	out := make([]entity.Suggestion, 0, len(list.Array()))
	for i, item := range list.Array() {
		s := entity.Suggestion{
			ID:          strings.TrimSpace(item.Get("id").String()),
			Type:        entity.SuggestionType(strings.ToLower(strings.TrimSpace(item.Get("type").String()))),
			Title:       strings.TrimSpace(item.Get("title").String()),
			Description: strings.TrimSpace(firstOf(item, "description", "detail", "text").String()),
			TargetAct:   int(firstOf(item, "target_act", "targetAct", "act").Int()),
			Priority:    entity.SuggestionPriority(strings.ToLower(strings.TrimSpace(item.Get("priority").String()))),
			Rationale:   strings.TrimSpace(firstOf(item, "rationale", "reason").String()),
		}
		if item.Type == gjson.String {
			s.Description = strings.TrimSpace(item.String())
		}
		if s.Title == "" && s.Description == "" {
			continue
		}
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if s.Title == "" {
			s.Title = fmt.Sprintf("Suggestion %d", i+1)
		}
		if !knownSuggestionType(s.Type) {
			s.Type = entity.SuggestionGeneral
		}
		if !knownPriority(s.Priority) {
			s.Priority = entity.PriorityMedium
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, &ParseError{Reason: ReasonMissingSuggestions, Snippet: summarizeSnippet(raw)}
	}
	return out, nil
}

func knownSuggestionType(t entity.SuggestionType) bool {
	switch t {
	case entity.SuggestionGeneral, entity.SuggestionPacing, entity.SuggestionCharacter,
		entity.SuggestionConflict, entity.SuggestionTheme:
		return true
	}
	return false
}

func knownPriority(p entity.SuggestionPriority) bool {
	switch p {
	case entity.PriorityLow, entity.PriorityMedium, entity.PriorityHigh:
		return true
	}
	return false
}

func firstOf(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// fillPercents 缺失或不合法的百分比区间按幕数均分
func fillPercents(acts []entity.PlotAct) {
	valid := true
	prevEnd := 0
	for _, a := range acts {
		if a.EndPercent <= a.StartPercent || a.StartPercent < prevEnd || a.EndPercent > 100 {
			valid = false
			break
		}
		prevEnd = a.EndPercent
	}
	if valid {
		return
	}
	n := len(acts)
	for i := range acts {
		acts[i].StartPercent = i * 100 / n
		acts[i].EndPercent = (i + 1) * 100 / n
	}
}

// extractJSON 依次尝试：去围栏后整体解析、第一个配平的 open 开头片段
func extractJSON(raw string, open byte) (string, bool) {
	text := stripCodeFence(raw)
	if text == "" {
		return "", false
	}
	if text[0] == open && gjson.Valid(text) {
		return text, true
	}
	return firstBalancedSpan(text, open)
}

// stripCodeFence 去除首尾的 ``` 或 ```json 围栏，对无围栏文本不做改变
func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
	}
	body = strings.TrimLeft(body, " \t\r\n")
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// firstBalancedSpan 扫描字符串感知的括号配平片段，返回第一个合法 JSON
func firstBalancedSpan(s string, open byte) (string, bool) {
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}
	for start := strings.IndexByte(s, open); start >= 0; {
		if end := matchBrace(s, start, open, closeCh); end > start {
			span := s[start : end+1]
			if gjson.Valid(span) {
				return span, true
			}
		}
		next := strings.IndexByte(s[start+1:], open)
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(s string, start int, open, closeCh byte) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func summarizeSnippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	if r := []rune(clean); len(r) > limit {
		clean = string(r[:limit]) + "..."
	}
	return clean
}
