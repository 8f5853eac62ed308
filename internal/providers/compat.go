package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"ai-gateway/internal/gwconfig"
	"ai-gateway/internal/schema"
)

// CompatAdapter speaks the OpenAI chat/completions/embeddings wire protocol.
// It backs every provider type that doesn't need its own translation layer
// (openai, mistral, ollama, lmstudio, perplexity, xai, cohere), grounded on
// the teacher's OpenAICompatProvider (internal/providers/openai_compat.go).
type CompatAdapter struct {
	http HTTPDoer
}

func NewCompatAdapter(client HTTPDoer) *CompatAdapter {
	return &CompatAdapter{http: client}
}

func (a *CompatAdapter) Type() string { return "openai-compatible" }

func isDebug() bool {
	return os.Getenv("DEBUG") == "1" || os.Getenv("DEBUG") == "true"
}

// chatURL replicates the teacher's per-backend endpoint quirks: Ollama uses
// its own /api/chat path, LM Studio needs a /v1 suffix appended if the
// configured base URL lacks one, everything else is a plain OpenAI path.
func chatURL(cfg gwconfig.Provider) string {
	switch cfg.Type {
	case "ollama":
		return cfg.BaseURL + "/api/chat"
	case "lmstudio":
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/v1") {
			base = strings.TrimSuffix(base, "/") + "/v1"
		}
		return base + "/chat/completions"
	default:
		return cfg.BaseURL + "/chat/completions"
	}
}

func completionsURL(cfg gwconfig.Provider) string {
	return cfg.BaseURL + "/completions"
}

func embeddingsURL(cfg gwconfig.Provider) string {
	return cfg.BaseURL + "/embeddings"
}

func (a *CompatAdapter) setHeaders(req *http.Request, cfg gwconfig.Provider) {
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
}

func (a *CompatAdapter) doJSON(ctx context.Context, cfg gwconfig.Provider, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	a.setHeaders(httpReq, cfg)

	if isDebug() {
		fmt.Fprintf(os.Stderr, "[%s] request to %s: %s\n", cfg.Type, url, body)
	}

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (a *CompatAdapter) ChatCompletion(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.ChatCompletionRequest) (*schema.ChatCompletionResponse, error) {
	wire := *req
	wire.Model = model.WireModel
	wire.Stream = false

	var resp schema.ChatCompletionResponse
	if err := a.doJSON(ctx, cfg, chatURL(cfg), &wire, &resp); err != nil {
		return nil, err
	}
	resp.Model = model.Key
	return &resp, nil
}

func (a *CompatAdapter) ChatCompletionStream(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.ChatCompletionRequest) (<-chan schema.ChatCompletionChunk, <-chan error) {
	chunks := make(chan schema.ChatCompletionChunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunks)

		wire := *req
		wire.Model = model.WireModel
		wire.Stream = true

		body, err := json.Marshal(&wire)
		if err != nil {
			errCh <- fmt.Errorf("marshaling request: %w", err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL(cfg), bytes.NewReader(body))
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

		scanSSE(ctx, resp.Body, model.Key, chunks, errCh)
	}()

	return chunks, errCh
}

// scanSSE reads an OpenAI-shaped `data: {...}`/`data: [DONE]` event stream
// from r, relabels each chunk's Model to the gateway's logical key, and
// forwards it on chunks. Shared by the compat and Azure adapters, which both
// speak this exact wire format once authenticated. The caller is
// responsible for closing r and chunks.
func scanSSE(ctx context.Context, r io.Reader, modelKey string, chunks chan<- schema.ChatCompletionChunk, errCh chan<- error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		var chunk schema.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		chunk.Model = modelKey

		select {
		case chunks <- chunk:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		errCh <- fmt.Errorf("reading stream: %w", err)
	}
}

func (a *CompatAdapter) Completion(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.CompletionRequest) (*schema.CompletionResponse, error) {
	wire := *req
	wire.Model = model.WireModel
	wire.Stream = false

	var resp schema.CompletionResponse
	if err := a.doJSON(ctx, cfg, completionsURL(cfg), &wire, &resp); err != nil {
		return nil, err
	}
	resp.Model = model.Key
	return &resp, nil
}

func (a *CompatAdapter) Embeddings(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.EmbeddingsRequest) (*schema.EmbeddingsResponse, error) {
	wire := *req
	wire.Model = model.WireModel

	var resp schema.EmbeddingsResponse
	if err := a.doJSON(ctx, cfg, embeddingsURL(cfg), &wire, &resp); err != nil {
		return nil, err
	}
	resp.Model = model.Key
	return &resp, nil
}
