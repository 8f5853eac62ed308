// Package router implements the Model Router: given a pipeline's ordered
// candidate model list, it dispatches to the first candidate whose adapter
// call succeeds, retrying the next candidate on a retryable upstream
// failure. Grounded on spec.md §4.2's failover semantics, with the
// registry-lookup-then-dispatch shape borrowed from the teacher's
// internal/providers/provider.go Registry.Get usage pattern.
package router

import (
	"context"
	"errors"
	"fmt"
	"net"

	"ai-gateway/internal/gwconfig"
	"ai-gateway/internal/metrics"
	"ai-gateway/internal/providers"
	"ai-gateway/internal/schema"
)

// NoCandidatesError means a pipeline has no model_router plugin, or its
// model_router plugin listed no models, or listed only models that don't
// exist in the current config snapshot.
type NoCandidatesError struct {
	Pipeline string
}

func (e *NoCandidatesError) Error() string {
	return fmt.Sprintf("pipeline '%s' has no usable model router candidates", e.Pipeline)
}

// ExhaustedError is returned when every candidate model failed with a
// retryable error; Last is the error from the final candidate tried.
type ExhaustedError struct {
	Pipeline   string
	Candidates []string
	Last       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("pipeline '%s' exhausted all %d model router candidates: %v", e.Pipeline, len(e.Candidates), e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Router dispatches chat/completion/embeddings calls across a pipeline's
// candidate models, resolving each to its provider and adapter out of the
// config snapshot supplied per call (the caller owns snapshot lifetime via
// gwconfig.Manager.Current, so a Router never goes stale).
type Router struct {
	registry *providers.Registry
}

func New(registry *providers.Registry) *Router {
	return &Router{registry: registry}
}

// candidate pairs a resolved model+provider with its logical key, so
// fallback bookkeeping can report readable from/to labels.
type candidate struct {
	model    gwconfig.ModelDefinition
	provider gwconfig.Provider
}

// resolveCandidates maps a model_router plugin's ordered key list onto
// concrete ModelDefinition/Provider pairs, skipping (not failing on) any
// key that no longer resolves — gwconfig.Validate already rejects dangling
// model_router references at config-apply time, but a Router must still
// tolerate being handed a stale snapshot reference during a hot reload.
func resolveCandidates(cfg *gwconfig.GatewayConfig, modelKeys []string) []candidate {
	out := make([]candidate, 0, len(modelKeys))
	for _, key := range modelKeys {
		model, ok := cfg.ModelByKey(key)
		if !ok {
			continue
		}
		provider, ok := cfg.ProviderByKey(model.Provider)
		if !ok {
			continue
		}
		out = append(out, candidate{model: model, provider: provider})
	}
	return out
}

// isRetryable classifies an adapter error as worth trying the next
// candidate for, per spec.md §4.2: 429/5xx upstream statuses and raw
// network errors are retryable; anything else (4xx other than 429, a
// malformed-request error, a context cancellation) propagates immediately.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var upstream *providers.UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Status == 429 || upstream.Status >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

func errorKind(err error) string {
	var upstream *providers.UpstreamError
	if errors.As(err, &upstream) {
		return fmt.Sprintf("status_%d", upstream.Status)
	}
	return "network"
}

func (r *Router) candidates(cfg *gwconfig.GatewayConfig, pipeline gwconfig.Pipeline) ([]candidate, error) {
	for _, p := range pipeline.Plugins {
		if p.Kind == gwconfig.PluginModelRouter && p.ModelRouter != nil {
			cands := resolveCandidates(cfg, p.ModelRouter.Models)
			if len(cands) == 0 {
				return nil, &NoCandidatesError{Pipeline: pipeline.Name}
			}
			return cands, nil
		}
	}
	return nil, &NoCandidatesError{Pipeline: pipeline.Name}
}

// RouteChat tries each candidate model in order, returning the first
// successful response. On a retryable failure it records
// gateway_router_fallback_total and moves to the next candidate.
func (r *Router) RouteChat(ctx context.Context, cfg *gwconfig.GatewayConfig, pipeline gwconfig.Pipeline, req *schema.ChatCompletionRequest) (*schema.ChatCompletionResponse, error) {
	cands, err := r.candidates(cfg, pipeline)
	if err != nil {
		return nil, err
	}
	var keys []string
	var lastErr error
	for i, c := range cands {
		keys = append(keys, c.model.Key)
		adapter := r.registry.Get(c.provider.Type)
		resp, err := adapter.ChatCompletion(ctx, c.provider, c.model, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		metrics.RecordUpstreamError(c.model.Key, errorKind(err))
		if !isRetryable(err) {
			return nil, err
		}
		if i+1 < len(cands) {
			metrics.RecordRouterFallback(c.model.Key, cands[i+1].model.Key)
		}
	}
	return nil, &ExhaustedError{Pipeline: pipeline.Name, Candidates: keys, Last: lastErr}
}

// RouteChatStream tries candidates in order, but can only fall back before
// the first chunk of a successful stream has been observed: once bytes have
// reached the client mid-stream, switching models would produce a
// discontinuous transcript, so a failure after streaming has begun
// propagates immediately rather than retrying.
func (r *Router) RouteChatStream(ctx context.Context, cfg *gwconfig.GatewayConfig, pipeline gwconfig.Pipeline, req *schema.ChatCompletionRequest) (<-chan schema.ChatCompletionChunk, <-chan error) {
	outChunks := make(chan schema.ChatCompletionChunk)
	outErr := make(chan error, 1)

	go func() {
		defer close(outChunks)

		cands, err := r.candidates(cfg, pipeline)
		if err != nil {
			outErr <- err
			return
		}

		var keys []string
		var lastErr error
		for i, c := range cands {
			keys = append(keys, c.model.Key)
			adapter := r.registry.Get(c.provider.Type)
			chunks, errCh := adapter.ChatCompletionStream(ctx, c.provider, c.model, req)

			started := false
			var streamErr error
			for chunk := range chunks {
				started = true
				outChunks <- chunk
			}
			select {
			case streamErr = <-errCh:
			default:
			}

			if streamErr == nil {
				return
			}
			lastErr = streamErr
			metrics.RecordUpstreamError(c.model.Key, errorKind(streamErr))

			if started || !isRetryable(streamErr) {
				outErr <- streamErr
				return
			}
			if i+1 < len(cands) {
				metrics.RecordRouterFallback(c.model.Key, cands[i+1].model.Key)
			}
		}
		outErr <- &ExhaustedError{Pipeline: pipeline.Name, Candidates: keys, Last: lastErr}
	}()

	return outChunks, outErr
}

// RouteCompletion mirrors RouteChat for the legacy completions operation.
func (r *Router) RouteCompletion(ctx context.Context, cfg *gwconfig.GatewayConfig, pipeline gwconfig.Pipeline, req *schema.CompletionRequest) (*schema.CompletionResponse, error) {
	cands, err := r.candidates(cfg, pipeline)
	if err != nil {
		return nil, err
	}
	var keys []string
	var lastErr error
	for i, c := range cands {
		keys = append(keys, c.model.Key)
		adapter := r.registry.Get(c.provider.Type)
		resp, err := adapter.Completion(ctx, c.provider, c.model, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		metrics.RecordUpstreamError(c.model.Key, errorKind(err))
		if !isRetryable(err) {
			return nil, err
		}
		if i+1 < len(cands) {
			metrics.RecordRouterFallback(c.model.Key, cands[i+1].model.Key)
		}
	}
	return nil, &ExhaustedError{Pipeline: pipeline.Name, Candidates: keys, Last: lastErr}
}

// RouteEmbeddings mirrors RouteChat for the embeddings operation.
func (r *Router) RouteEmbeddings(ctx context.Context, cfg *gwconfig.GatewayConfig, pipeline gwconfig.Pipeline, req *schema.EmbeddingsRequest) (*schema.EmbeddingsResponse, error) {
	cands, err := r.candidates(cfg, pipeline)
	if err != nil {
		return nil, err
	}
	var keys []string
	var lastErr error
	for i, c := range cands {
		keys = append(keys, c.model.Key)
		adapter := r.registry.Get(c.provider.Type)
		resp, err := adapter.Embeddings(ctx, c.provider, c.model, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		metrics.RecordUpstreamError(c.model.Key, errorKind(err))
		if !isRetryable(err) {
			return nil, err
		}
		if i+1 < len(cands) {
			metrics.RecordRouterFallback(c.model.Key, cands[i+1].model.Key)
		}
	}
	return nil, &ExhaustedError{Pipeline: pipeline.Name, Candidates: keys, Last: lastErr}
}
