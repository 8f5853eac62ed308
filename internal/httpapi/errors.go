package httpapi

import (
	"context"
	"errors"
	"net/http"

	"ai-gateway/internal/gwerrors"
	"ai-gateway/internal/providers"
	"ai-gateway/internal/router"
)

// writeDispatchError classifies an error coming out of internal/pipeline and
// internal/router and writes the matching OpenAI-compatible error response,
// generalizing the teacher's writeOpenAIError/mapUpstreamStatusToHTTP
// (internal/handlers/openai.go) into gwerrors' typed taxonomy so every
// handler shares one mapping instead of repeating status-code switches.
func writeDispatchError(w http.ResponseWriter, err error) {
	var gwErr *gwerrors.Error
	if errors.As(err, &gwErr) {
		gwerrors.WriteJSON(w, gwErr)
		return
	}

	var upstream *providers.UpstreamError
	if errors.As(err, &upstream) {
		status := gwerrors.MapUpstreamHTTPStatus(upstream.Status)
		gwerrors.WriteJSONStatus(w, status, gwerrors.KindUpstream, upstream.Error())
		return
	}

	var noCandidates *router.NoCandidatesError
	if errors.As(err, &noCandidates) {
		gwerrors.WriteJSON(w, gwerrors.New(gwerrors.KindConfiguration, err.Error()))
		return
	}

	var exhausted *router.ExhaustedError
	if errors.As(err, &exhausted) {
		gwerrors.WriteJSON(w, gwerrors.New(gwerrors.KindServiceUnavailable, err.Error()))
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		gwerrors.WriteJSON(w, gwerrors.New(gwerrors.KindTimeout, "upstream request timed out"))
		return
	}

	gwerrors.WriteJSON(w, gwerrors.Wrap(gwerrors.KindInternal, "internal error", err))
}
