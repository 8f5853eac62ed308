package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"ai-gateway/internal/gwconfig"
	"ai-gateway/internal/schema"
)

// AzureAdapter speaks the Azure OpenAI wire protocol: deployment- and
// api-version-scoped URLs, an api-key header instead of Bearer auth.
// Grounded on the teacher's AzureOpenAIProvider
// (internal/providers/azure_openai.go) for the chat operation's URL/header
// shape, and on original_source/src/providers/azure.rs for extending the
// same adapter to completions and embeddings, which the teacher never
// implements for this backend.
type AzureAdapter struct {
	http HTTPDoer
}

func NewAzureAdapter(client HTTPDoer) *AzureAdapter {
	return &AzureAdapter{http: client}
}

func (a *AzureAdapter) Type() string { return "azure_openai" }

const defaultAzureAPIVersion = "2024-10-21"

// deploymentURL builds {base_url}/openai/deployments/{deployment}/{operation}?api-version=...
// Provider.BaseURL is expected to be the resource root
// (https://{resource}.openai.azure.com); Provider.Params["api_version"]
// overrides the default, and ModelDefinition.Params["deployment"] selects
// which deployment to call (falling back to the model's wire name).
func (a *AzureAdapter) deploymentURL(cfg gwconfig.Provider, model gwconfig.ModelDefinition, operation string) string {
	apiVersion := defaultAzureAPIVersion
	if v, ok := cfg.Params["api_version"]; ok && v != "" {
		apiVersion = v
	}

	deployment := model.WireModel
	if d, ok := model.Params["deployment"]; ok && d != "" {
		deployment = d
	}

	u := fmt.Sprintf("%s/openai/deployments/%s/%s", cfg.BaseURL, deployment, operation)
	q := url.Values{"api-version": {apiVersion}}
	return u + "?" + q.Encode()
}

func (a *AzureAdapter) setHeaders(req *http.Request, cfg gwconfig.Provider) {
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("api-key", cfg.APIKey)
	}
}

// azureChatRequest mirrors schema.ChatCompletionRequest but omits Model,
// since Azure encodes the deployment in the URL path rather than the body.
type azureChatRequest struct {
	Messages      []schema.ChatMessage  `json:"messages"`
	MaxTokens     int                   `json:"max_tokens,omitempty"`
	Temperature   float64               `json:"temperature,omitempty"`
	TopP          float64               `json:"top_p,omitempty"`
	Stream        bool                  `json:"stream,omitempty"`
	StreamOptions *schema.StreamOptions `json:"stream_options,omitempty"`
	Tools         []schema.Tool         `json:"tools,omitempty"`
	Stop          []string              `json:"stop,omitempty"`
}

func (a *AzureAdapter) doJSON(ctx context.Context, cfg gwconfig.Provider, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	a.setHeaders(httpReq, cfg)

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

func (a *AzureAdapter) ChatCompletion(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.ChatCompletionRequest) (*schema.ChatCompletionResponse, error) {
	wire := azureChatRequest{
		Messages: req.Messages, MaxTokens: req.MaxTokens, Temperature: req.Temperature,
		TopP: req.TopP, Tools: req.Tools, Stop: req.Stop,
	}

	var resp schema.ChatCompletionResponse
	if err := a.doJSON(ctx, cfg, a.deploymentURL(cfg, model, "chat/completions"), &wire, &resp); err != nil {
		return nil, err
	}
	resp.Model = model.Key
	return &resp, nil
}

func (a *AzureAdapter) ChatCompletionStream(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.ChatCompletionRequest) (<-chan schema.ChatCompletionChunk, <-chan error) {
	// Azure's streaming wire format is byte-for-byte the OpenAI SSE format;
	// build the request with Azure's URL/header scheme and hand the response
	// body to scanSSE, the same scanner the compat adapter uses.
	chunks := make(chan schema.ChatCompletionChunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunks)

		wire := azureChatRequest{
			Messages: req.Messages, MaxTokens: req.MaxTokens, Temperature: req.Temperature,
			TopP: req.TopP, Tools: req.Tools, Stop: req.Stop, Stream: true,
		}
		body, err := json.Marshal(&wire)
		if err != nil {
			errCh <- fmt.Errorf("marshaling request: %w", err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.deploymentURL(cfg, model, "chat/completions"), bytes.NewReader(body))
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

func (a *AzureAdapter) Completion(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.CompletionRequest) (*schema.CompletionResponse, error) {
	wire := *req
	wire.Model = ""
	wire.Stream = false

	var resp schema.CompletionResponse
	if err := a.doJSON(ctx, cfg, a.deploymentURL(cfg, model, "completions"), &wire, &resp); err != nil {
		return nil, err
	}
	resp.Model = model.Key
	return &resp, nil
}

func (a *AzureAdapter) Embeddings(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.EmbeddingsRequest) (*schema.EmbeddingsResponse, error) {
	wire := *req
	wire.Model = ""

	var resp schema.EmbeddingsResponse
	if err := a.doJSON(ctx, cfg, a.deploymentURL(cfg, model, "embeddings"), &wire, &resp); err != nil {
		return nil, err
	}
	resp.Model = model.Key
	return &resp, nil
}
