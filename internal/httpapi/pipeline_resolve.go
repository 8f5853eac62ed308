package httpapi

import (
	"net/http"
	"strings"

	"ai-gateway/internal/gwconfig"
	"ai-gateway/internal/gwerrors"
)

const (
	headerPipelineOverride = "X-Traceloop-Pipeline"
	headerGuardrails       = "X-Traceloop-Guardrails"
)

// resolvePipeline picks the Pipeline a request runs through: the
// X-Traceloop-Pipeline header override when it names an existing pipeline of
// the right type, otherwise the first enabled pipeline of that type
// (spec.md §6's pipeline selection rule — "unknown names fall through to the
// default").
func resolvePipeline(cfg *gwconfig.GatewayConfig, r *http.Request, kind gwconfig.PipelineType) (gwconfig.Pipeline, error) {
	if name := r.Header.Get(headerPipelineOverride); name != "" {
		if p, ok := cfg.PipelineByName(name); ok && p.Type == kind {
			return p, nil
		}
	}
	p, ok := cfg.PipelineForType(kind)
	if !ok {
		return gwconfig.Pipeline{}, gwerrors.New(gwerrors.KindPipelineNotFound, "no pipeline configured for this request type")
	}
	return p, nil
}

// headerGuardNames parses X-Traceloop-Guardrails into comma-separated,
// trimmed, non-empty guard names (spec.md §5 resolution step).
func headerGuardNames(r *http.Request) []string {
	raw := r.Header.Get(headerGuardrails)
	if raw == "" {
		return nil
	}
	var out []string
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// mergeRequestGuardNames combines header-declared guard names with the
// request payload's own opt-in list, header first, per spec.md §5's
// union(pipeline, header, payload) resolution order — the pipeline's own
// names are merged later, inside internal/pipeline.Engine.
func mergeRequestGuardNames(header, payload []string) []string {
	if len(header) == 0 {
		return payload
	}
	if len(payload) == 0 {
		return header
	}
	return append(append([]string{}, header...), payload...)
}
