package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ai-gateway/internal/gwconfig"
	"ai-gateway/internal/gwerrors"
	"ai-gateway/internal/schema"
)

// handleChatCompletions implements POST /v1/chat/completions, generalizing
// the teacher's OpenAIHandler.ChatCompletions (internal/handlers/openai.go)
// from a single hardcoded backend call to a pipeline.Engine dispatch.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Current()
	if cfg == nil {
		gwerrors.WriteJSON(w, gwerrors.New(gwerrors.KindConfiguration, "gateway has no published configuration"))
		return
	}

	var req schema.ChatCompletionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		gwerrors.WriteJSON(w, gwerrors.New(gwerrors.KindValidation, err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		gwerrors.WriteJSON(w, gwerrors.New(gwerrors.KindValidation, "messages must not be empty"))
		return
	}
	req.Guardrails = mergeRequestGuardNames(headerGuardNames(r), req.Guardrails)

	pipeline, err := resolvePipeline(cfg, r, gwconfig.PipelineChat)
	if err != nil {
		gwerrors.WriteJSON(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
	defer cancel()

	if req.Stream {
		s.streamChat(ctx, w, cfg, pipeline, &req)
		return
	}

	resp, err := s.engine.DispatchChat(ctx, cfg, pipeline, &req)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// streamChat drains pipeline.Engine.DispatchChatStream's channel pair onto an
// SSE response, grounded on the teacher's sendSSEChunk/"data: [DONE]" loop
// (internal/handlers/openai.go).
func (s *Server) streamChat(ctx context.Context, w http.ResponseWriter, cfg *gwconfig.GatewayConfig, pipeline gwconfig.Pipeline, req *schema.ChatCompletionRequest) {
	chunks, errCh := s.engine.DispatchChatStream(ctx, cfg, pipeline, req)

	first, ok := <-chunks
	if !ok {
		if err := <-errCh; err != nil {
			writeDispatchError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSEChunk(w, first)
	if canFlush {
		flusher.Flush()
	}
	for c := range chunks {
		writeSSEChunk(w, c)
		if canFlush {
			flusher.Flush()
		}
	}

	if err := <-errCh; err != nil {
		if s.log != nil {
			s.log.Warnw("chat stream failed mid-transmission", "pipeline", pipeline.Name, "error", err)
		}
		if isPostSendGuardFailure(err) {
			writeGuardrailViolationEvent(w, err)
			if canFlush {
				flusher.Flush()
			}
		}
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	if canFlush {
		flusher.Flush()
	}
}

// isPostSendGuardFailure reports whether err is the kind of failure that can
// only surface once chat bytes are already on the wire — a post-call guard
// block, or the stream-buffer cap tripping before post-call guards could run
// — as opposed to a genuine upstream/transport error.
func isPostSendGuardFailure(err error) bool {
	var gwErr *gwerrors.Error
	if !errors.As(err, &gwErr) {
		return false
	}
	return gwErr.Kind == gwerrors.KindGuardrailBlocked || gwErr.Kind == gwerrors.KindServiceUnavailable
}

// writeGuardrailViolationEvent appends the synthetic SSE frame spec.md §4.4
// documents for this case: since the response already sent to the client
// can't be retracted, the stream closes with a frame naming why instead of
// the usual "data: [DONE]" sentinel.
func writeGuardrailViolationEvent(w http.ResponseWriter, err error) {
	data, marshalErr := json.Marshal(guardrailViolationPayload{Error: err.Error()})
	if marshalErr != nil {
		return
	}
	fmt.Fprintf(w, "event: guardrail-violation\ndata: %s\n\n", data)
}

type guardrailViolationPayload struct {
	Error string `json:"error"`
}

func writeSSEChunk(w http.ResponseWriter, chunk schema.ChatCompletionChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func decodeJSONBody(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("reading request body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON in request body: %w", err)
	}
	return nil
}
