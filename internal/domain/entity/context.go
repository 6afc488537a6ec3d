package entity

import "strings"

// ContextSection 上下文中的一个分组
type ContextSection struct {
	Label  string   `json:"label"`
	Blocks []string `json:"blocks"`
}

// Render 渲染为 "## Label" 标题加逐行条目
func (s ContextSection) Render() string {
	var sb strings.Builder
	sb.WriteString("## ")
	sb.WriteString(s.Label)
	for _, b := range s.Blocks {
		sb.WriteByte('\n')
		sb.WriteString(b)
	}
	return sb.String()
}

// AssembledContext 注入 Prompt 的检索上下文
type AssembledContext struct {
	Sections   []ContextSection `json:"sections"`
	References []string         `json:"references"`
}

// SectionSeparator 分组之间的分隔符
const SectionSeparator = "\n\n"

// Text 返回完整上下文文本
func (c AssembledContext) Text() string {
	parts := make([]string, 0, len(c.Sections))
	for _, s := range c.Sections {
		parts = append(parts, s.Render())
	}
	return strings.Join(parts, SectionSeparator)
}

// IsEmpty 是否没有任何内容
func (c AssembledContext) IsEmpty() bool {
	return len(c.Sections) == 0
}
