// Package schema defines the canonical, OpenAI-compatible wire types shared
// by the HTTP handlers, the pipeline engine, and every provider adapter.
package schema

import "encoding/json"

// ChatMessage is one entry in a chat completion request's message list.
// Content may be a plain string or an array of content parts; Go has no
// native sum type for this so the raw JSON is kept and decoded on demand
// via ContentText/ContentParts.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
}

// ContentPart is one element of the array-of-parts content form, e.g.
// {"type":"text","text":"..."} or {"type":"image_url","image_url":{...}}.
type ContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL json.RawMessage `json:"image_url,omitempty"`
}

// Text returns the message's content flattened to plain text: the string
// form verbatim, or the array form with text parts joined by single spaces.
// Used by the guardrail subsystem's input/output extractors.
func (m ChatMessage) Text() string {
	if len(m.Content) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(m.Content, &asString); err == nil {
		return asString
	}
	var parts []ContentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return ""
	}
	out := ""
	for i, p := range parts {
		if p.Type != "text" {
			continue
		}
		if out != "" && i > 0 {
			out += " "
		}
		out += p.Text
	}
	return out
}

// Tool describes a function the model may call.
type Tool struct {
	Type     string        `json:"type"`
	Function *ToolFunction `json:"function,omitempty"`
}

type ToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ToolCall is a single tool invocation requested by the model, present on
// an assistant message or a streaming delta.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
	Index    *int             `json:"index,omitempty"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// StreamOptions controls inclusion of usage on the final streaming chunk.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// ChatCompletionRequest is the canonical, decoded form of a
// POST /v1/chat/completions body.
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	TopP           float64         `json:"top_p,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	StreamOptions  *StreamOptions  `json:"stream_options,omitempty"`
	Tools          []Tool          `json:"tools,omitempty"`
	ToolChoice     json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
	Stop           []string        `json:"stop,omitempty"`

	// Guardrails is the optional payload-level opt-in field described in
	// spec.md §6 ("Request JSON extensions"): a list of guard names merged
	// with the X-Traceloop-Guardrails header.
	Guardrails []string `json:"guardrails,omitempty"`
}

// LastUserMessage returns the last message with role "user", or nil.
func (r *ChatCompletionRequest) LastUserMessage() *ChatMessage {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return &r.Messages[i]
		}
	}
	return nil
}

// ChatCompletionMessage is the canonical response message (content is always
// rendered back out as plain text or as an array-of-parts, depending on
// what the provider returned).
type ChatCompletionMessage struct {
	Role      string     `json:"role"`
	Content   any        `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Text flattens the response message's content the same way ChatMessage.Text does.
func (m ChatCompletionMessage) Text() string {
	switch v := m.Content.(type) {
	case string:
		return v
	case []ContentPart:
		out := ""
		for i, p := range v {
			if p.Type != "text" {
				continue
			}
			if out != "" && i > 0 {
				out += " "
			}
			out += p.Text
		}
		return out
	case []any:
		out := ""
		for _, raw := range v {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := part["type"].(string); t == "text" {
				if out != "" {
					out += " "
				}
				if s, _ := part["text"].(string); s != "" {
					out += s
				}
			}
		}
		return out
	default:
		return ""
	}
}

type ChatCompletionChoice struct {
	Index        int                    `json:"index"`
	Message      ChatCompletionMessage  `json:"message"`
	FinishReason string                 `json:"finish_reason,omitempty"`
}

// ChatCompletionResponse is the canonical, non-streaming chat completion
// response. Model is always the gateway's logical ModelDefinition key, never
// the upstream wire model name (spec.md §4.2, §8 property 7).
type ChatCompletionResponse struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Created int64                   `json:"created"`
	Model   string                  `json:"model"`
	Choices []ChatCompletionChoice  `json:"choices"`
	Usage   Usage                   `json:"usage"`
}
