package types

// TokenUsage tracks token and cost accounting for one answer.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

// Citation is a user-facing reference to a corpus fragment backing an answer.
type Citation struct {
	FragmentID string  `json:"fragment_id"`
	SourceID   string  `json:"source_id"`
	SourceType string  `json:"source_type"` // "document" | "video"
	Page       int     `json:"page,omitempty"`
	Timestamp  float64 `json:"timestamp,omitempty"`
	Section    string  `json:"section,omitempty"`
	Excerpt    string  `json:"excerpt"`
	Relevance  float64 `json:"relevance"`
}

// Answer is the final synthesized answer.
type Answer struct {
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"`
	Disclaimer string     `json:"disclaimer,omitempty"`
	Usage      TokenUsage `json:"usage"`
}
