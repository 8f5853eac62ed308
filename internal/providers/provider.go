// Package providers implements the upstream adapter layer: one Adapter per
// wire protocol (OpenAI-compatible, Anthropic, Azure OpenAI), each
// translating the canonical schema types to and from that upstream's own
// request/response shape. Grounded on the teacher's
// internal/providers/provider.go Provider interface and Registry, expanded
// to the completions/embeddings operations original_source/src/providers
// defines but the teacher itself never implements for every backend.
package providers

import (
	"context"
	"fmt"
	"net/http"

	"ai-gateway/internal/gwconfig"
	"ai-gateway/internal/schema"
)

// Adapter is implemented once per upstream wire protocol. cfg identifies
// which credential/base-URL pair to use; model identifies which logical
// model is being served and which upstream wire model name it maps to.
type Adapter interface {
	// Type returns a short name for the adapter's wire protocol:
	// "anthropic", "azure_openai", or "openai-compatible".
	Type() string

	ChatCompletion(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.ChatCompletionRequest) (*schema.ChatCompletionResponse, error)

	// ChatCompletionStream returns a channel of canonical chunks and a
	// single-value error channel. The chunk channel is closed when the
	// stream ends, whether that's normal completion or an error; a non-nil
	// value is sent on the error channel only on abnormal termination.
	ChatCompletionStream(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.ChatCompletionRequest) (<-chan schema.ChatCompletionChunk, <-chan error)

	Completion(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.CompletionRequest) (*schema.CompletionResponse, error)

	Embeddings(ctx context.Context, cfg gwconfig.Provider, model gwconfig.ModelDefinition, req *schema.EmbeddingsRequest) (*schema.EmbeddingsResponse, error)
}

// HTTPDoer is the subset of *http.Client every adapter needs; satisfied by
// the client internal/transport builds, and small enough to fake in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// UpstreamError is returned by an adapter when the upstream responded with a
// non-2xx status. Status carries the upstream's own status code so callers
// can apply gwerrors.MapUpstreamHTTPStatus without re-parsing anything.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}

// Registry maps a Provider's Type string onto the Adapter that knows how to
// speak that wire protocol, grounded on the teacher's
// providers.Registry/BuildRegistry.
type Registry struct {
	adapters map[string]Adapter
	fallback Adapter
}

// NewRegistry builds the standard registry: openai, anthropic, and
// azure_openai adapters by name, with the OpenAI-compatible adapter serving
// as the fallback for any other provider type (ollama, lmstudio, mistral,
// perplexity, xai, cohere, or anything unrecognized), matching the teacher's
// BuildSingleProvider default-to-OpenAI-compatible behavior.
func NewRegistry(httpClient HTTPDoer) *Registry {
	compat := NewCompatAdapter(httpClient)
	return &Registry{
		adapters: map[string]Adapter{
			"anthropic":    NewAnthropicAdapter(httpClient),
			"azure_openai": NewAzureAdapter(httpClient),
			"openai":       compat,
			"mistral":      compat,
			"ollama":       compat,
			"lmstudio":     compat,
			"perplexity":   compat,
			"xai":          compat,
			"cohere":       compat,
		},
		fallback: compat,
	}
}

// Get returns the Adapter registered for providerType, falling back to the
// OpenAI-compatible adapter for any unrecognized type.
func (r *Registry) Get(providerType string) Adapter {
	if a, ok := r.adapters[providerType]; ok {
		return a
	}
	return r.fallback
}
