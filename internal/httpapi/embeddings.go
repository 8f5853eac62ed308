package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ai-gateway/internal/gwconfig"
	"ai-gateway/internal/gwerrors"
	"ai-gateway/internal/schema"
)

// handleEmbeddings implements POST /v1/embeddings.
func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Current()
	if cfg == nil {
		gwerrors.WriteJSON(w, gwerrors.New(gwerrors.KindConfiguration, "gateway has no published configuration"))
		return
	}

	var req schema.EmbeddingsRequest
	if err := decodeJSONBody(r, &req); err != nil {
		gwerrors.WriteJSON(w, gwerrors.New(gwerrors.KindValidation, err.Error()))
		return
	}
	if len(req.InputTexts()) == 0 {
		gwerrors.WriteJSON(w, gwerrors.New(gwerrors.KindValidation, "input must not be empty"))
		return
	}

	pipeline, err := resolvePipeline(cfg, r, gwconfig.PipelineEmbeddings)
	if err != nil {
		gwerrors.WriteJSON(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	resp, err := s.engine.DispatchEmbeddings(ctx, cfg, pipeline, &req)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
