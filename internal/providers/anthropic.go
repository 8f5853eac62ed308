package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ai-gateway/internal/gwconfig"
	"ai-gateway/internal/schema"
)

// AnthropicAdapter speaks Anthropic's Messages API, grounded on the
// teacher's AnthropicProvider (internal/providers/anthropic.go).
type AnthropicAdapter struct {
	http HTTPDoer
}

func NewAnthropicAdapter(client HTTPDoer) *AnthropicAdapter {
	return &AnthropicAdapter{http: client}
}

func (a *AnthropicAdapter) Type() string { return "anthropic" }

func (a *AnthropicAdapter) messagesURL(cfg gwconfig.Provider) string {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.anthropic.com/v1"
	}
	return base + "/messages"
}

func (a *AnthropicAdapter) setHeaders(req *http.Request, cfg gwconfig.Provider) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", "2023-06-01")
	if cfg.APIKey != "" {
		req.Header.Set("x-api-key", cfg.APIKey)
	}
}

// anthropicMessage is Anthropic's own message shape: content is always an
// array of blocks, never a bare string, unlike the canonical schema.
type anthropicMessage struct {
	Role    string                 `json:"role"`
	Content []anthropicContentBlk  `json:"content"`
}

type anthropicContentBlk struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

func (a *AnthropicAdapter) buildRequestBody(model gwconfig.ModelDefinition, req *schema.ChatCompletionRequest, stream bool) ([]byte, error) {
	var system string
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Text()
			continue
		}
		blk := anthropicContentBlk{Type: "text", Text: m.Text()}
		if m.Role == "tool" {
			messages = append(messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContentBlk{{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Text()}},
			})
			continue
		}
		messages = append(messages, anthropicMessage{Role: m.Role, Content: []anthropicContentBlk{blk}})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	body := map[string]any{
		"model":      model.WireModel,
		"messages":   messages,
		"max_tokens": maxTokens,
		"stream":     stream,
	}
	if system != "" {
		body["system"] = system
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, tool := range req.Tools {
			if tool.Function == nil {
				continue
			}
			tools = append(tools, map[string]any{
				"name":         tool.Function.Name,
				"description":  tool.Function.Description,
				"input_schema": tool.Function.Parameters,
			})
		}
		body["tools"] = tools
	}

	return json.Marshal(body)
}

type anthropicResponse struct {
	ID      string                `json:"id"`
	Content []anthropicContentBlk `json:"content"`
	Model   string                `json:"model"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *AnthropicAdapter) ChatCompletion(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.ChatCompletionRequest) (*schema.ChatCompletionResponse, error) {
	body, err := a.buildRequestBody(model, req, false)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.messagesURL(cfg), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	a.setHeaders(httpReq, cfg)

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var ar anthropicResponse
	if err := json.Unmarshal(respBody, &ar); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	text := ""
	var toolCalls []schema.ToolCall
	for _, blk := range ar.Content {
		switch blk.Type {
		case "text":
			text += blk.Text
		case "tool_use":
			toolCalls = append(toolCalls, schema.ToolCall{
				ID:   blk.ID,
				Type: "function",
				Function: schema.ToolCallFunction{
					Name:      blk.Name,
					Arguments: string(blk.Input),
				},
			})
		}
	}

	return &schema.ChatCompletionResponse{
		ID:      ar.ID,
		Object:  "chat.completion",
		Model:   model.Key,
		Choices: []schema.ChatCompletionChoice{{
			Index:        0,
			Message:      schema.ChatCompletionMessage{Role: "assistant", Content: text, ToolCalls: toolCalls},
			FinishReason: "stop",
		}},
		Usage: schema.Usage{
			PromptTokens:     ar.Usage.InputTokens,
			CompletionTokens: ar.Usage.OutputTokens,
			TotalTokens:      ar.Usage.InputTokens + ar.Usage.OutputTokens,
		},
	}, nil
}

func (a *AnthropicAdapter) ChatCompletionStream(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.ChatCompletionRequest) (<-chan schema.ChatCompletionChunk, <-chan error) {
	chunks := make(chan schema.ChatCompletionChunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunks)

		body, err := a.buildRequestBody(model, req, true)
		if err != nil {
			errCh <- fmt.Errorf("marshaling request: %w", err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.messagesURL(cfg), bytes.NewReader(body))
		if err != nil {
			errCh <- fmt.Errorf("building request: %w", err)
			return
		}
		a.setHeaders(httpReq, cfg)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := a.http.Do(httpReq)
		if err != nil {
			errCh <- fmt.Errorf("sending request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(resp.Body)
			errCh <- &UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			var event struct {
				Type  string `json:"type"`
				Delta struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"delta"`
				Usage struct {
					OutputTokens int `json:"output_tokens"`
				} `json:"usage"`
			}
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}

			switch event.Type {
			case "content_block_delta":
				chunk := schema.ChatCompletionChunk{
					Object: "chat.completion.chunk",
					Model:  model.Key,
					Choices: []schema.ChunkChoice{{
						Delta: schema.ChoiceDelta{Content: event.Delta.Text},
					}},
				}
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			case "message_stop":
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- fmt.Errorf("reading stream: %w", err)
		}
	}()

	return chunks, errCh
}

// Completion and Embeddings have no Anthropic Messages API equivalent; they
// return a plain error (not an UpstreamError), which the router treats as
// non-retryable and returns at once, so a pipeline that accidentally
// targets an Anthropic model for one of these operations fails loudly
// instead of silently degrading.
func (a *AnthropicAdapter) Completion(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.CompletionRequest) (*schema.CompletionResponse, error) {
	return nil, fmt.Errorf("anthropic provider '%s' does not support the text completions operation", cfg.Key)
}

func (a *AnthropicAdapter) Embeddings(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.EmbeddingsRequest) (*schema.EmbeddingsResponse, error) {
	return nil, fmt.Errorf("anthropic provider '%s' does not support the embeddings operation", cfg.Key)
}
