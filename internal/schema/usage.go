package schema

// Usage mirrors OpenAI's token accounting block. Anthropic's
// input_tokens/output_tokens are mapped onto this by the Anthropic adapter
// (spec.md §4.3).
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum, used when a tool-execution or retry loop
// needs to accumulate usage across multiple upstream calls.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}
