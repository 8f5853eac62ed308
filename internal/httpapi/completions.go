package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ai-gateway/internal/gwconfig"
	"ai-gateway/internal/gwerrors"
	"ai-gateway/internal/schema"
)

// handleCompletions implements POST /v1/completions, the legacy
// text-completion operation (spec.md §4.1/§4.2 cover both request kinds
// uniformly through the same Pipeline Engine/Model Router).
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Current()
	if cfg == nil {
		gwerrors.WriteJSON(w, gwerrors.New(gwerrors.KindConfiguration, "gateway has no published configuration"))
		return
	}

	var req schema.CompletionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		gwerrors.WriteJSON(w, gwerrors.New(gwerrors.KindValidation, err.Error()))
		return
	}
	if req.Prompt == "" {
		gwerrors.WriteJSON(w, gwerrors.New(gwerrors.KindValidation, "prompt must not be empty"))
		return
	}
	req.Guardrails = mergeRequestGuardNames(headerGuardNames(r), req.Guardrails)

	pipeline, err := resolvePipeline(cfg, r, gwconfig.PipelineCompletion)
	if err != nil {
		gwerrors.WriteJSON(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
	defer cancel()

	resp, err := s.engine.DispatchCompletion(ctx, cfg, pipeline, &req)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	if req.Stream {
		s.streamCompletion(w, resp)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// streamCompletion has no streaming model-router path (RouteCompletion is
// always buffered, spec.md §4.2 non-goal for partial completions), so a
// stream=true request gets its single full response as one SSE chunk
// followed by [DONE], matching how OpenAI-compatible clients expect the
// completions endpoint to terminate.
func (s *Server) streamCompletion(w http.ResponseWriter, resp *schema.CompletionResponse) {
	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	chunk := schema.CompletionChunk{
		ID: resp.ID, Object: "text_completion.chunk", Created: resp.Created,
		Model: resp.Model, Choices: resp.Choices, Usage: &resp.Usage,
	}
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
	fmt.Fprint(w, "data: [DONE]\n\n")
	if canFlush {
		flusher.Flush()
	}
}
