package entity

// SuggestionType 建议类型
type SuggestionType string

const (
	SuggestionGeneral   SuggestionType = "general"
	SuggestionPacing    SuggestionType = "pacing"
	SuggestionCharacter SuggestionType = "character"
	SuggestionConflict  SuggestionType = "conflict"
	SuggestionTheme     SuggestionType = "theme"
)

// SuggestionPriority 建议优先级
type SuggestionPriority string

const (
	PriorityLow    SuggestionPriority = "low"
	PriorityMedium SuggestionPriority = "medium"
	PriorityHigh   SuggestionPriority = "high"
)

// Suggestion 剧情改进建议
type Suggestion struct {
	ID          string             `json:"id"`
	Type        SuggestionType     `json:"type"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	TargetAct   int                `json:"target_act,omitempty"`
	Priority    SuggestionPriority `json:"priority"`
	Rationale   string             `json:"rationale,omitempty"`
}
