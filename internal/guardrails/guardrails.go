// Package guardrails implements guard resolution, mode partitioning, and
// evaluator dispatch. Grounded on original_source/src/guardrails/api_control.rs
// (a todo!() stub naming resolve_guards_by_name/split_guards_by_mode, which
// this package implements for real) and input_extractor.rs for caller-side
// text extraction; the evaluator wire contract itself (URL, request/response
// shape, fail-open policy) follows spec.md §4.4, which is more complete than
// the todo!() stub in original_source/src/guardrails/providers/traceloop.rs.
package guardrails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ai-gateway/internal/gwconfig"
	"ai-gateway/internal/gwerrors"
	"ai-gateway/internal/metrics"
)

// Verdict is an evaluator's judgment of one piece of text (spec.md §4.4):
// Result is an arbitrary JSON object, so it's kept as raw JSON and only
// decoded when a message needs to surface part of it (e.g. a blocked
// response mentioning the matched reason).
type Verdict struct {
	Pass   bool            `json:"pass"`
	Result json.RawMessage `json:"result"`
}

// resultSummary extracts a short human-readable detail from an arbitrary
// result object, for inclusion in a GuardrailBlocked error message. Falls
// back to the raw JSON if it isn't a simple object.
func (v Verdict) resultSummary() string {
	var m map[string]any
	if err := json.Unmarshal(v.Result, &m); err != nil || len(m) == 0 {
		if len(v.Result) == 0 {
			return ""
		}
		return string(v.Result)
	}
	if reason, ok := m["reason"]; ok {
		return fmt.Sprintf("%v", reason)
	}
	b, _ := json.Marshal(m)
	return string(b)
}

// Client evaluates one guard against one piece of text.
type Client interface {
	Evaluate(ctx context.Context, guard gwconfig.Guard, text string) (Verdict, error)
}

// HTTPDoer is the subset of *http.Client TraceloopClient needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TraceloopClient calls the Traceloop-compatible evaluator API:
// POST {api_base}/v2/guardrails/execute/{evaluator_slug}
// body {"input": {"text": "<input>"}, "config": <guard.params>} (spec.md §4.4).
type TraceloopClient struct {
	http HTTPDoer
}

func NewTraceloopClient(client HTTPDoer) *TraceloopClient {
	return &TraceloopClient{http: client}
}

type evaluateInput struct {
	Text string `json:"text"`
}

type evaluateRequest struct {
	Input  evaluateInput     `json:"input"`
	Config map[string]string `json:"config"`
}

func (c *TraceloopClient) Evaluate(ctx context.Context, guard gwconfig.Guard, text string) (Verdict, error) {
	body, err := json.Marshal(evaluateRequest{Input: evaluateInput{Text: text}, Config: guard.Params})
	if err != nil {
		return Verdict{}, err
	}

	url := guard.APIBase + "/v2/guardrails/execute/" + guard.EvaluatorSlug
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if guard.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+guard.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Verdict{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Verdict{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Verdict{}, fmt.Errorf("guardrail evaluator '%s' returned status %d: %s", guard.EvaluatorSlug, resp.StatusCode, string(respBody))
	}

	var verdict Verdict
	if err := json.Unmarshal(respBody, &verdict); err != nil {
		return Verdict{}, fmt.Errorf("parsing evaluator response for guard '%s': %w", guard.Name, err)
	}
	return verdict, nil
}

// resolveGuardsByName is the additive, deduplicated merge named (but never
// implemented) in api_control.rs's resolve_guards_by_name: the caller
// (internal/pipeline's mergedGuardNames, over header and payload names
// already combined by internal/httpapi) merges pipeline/header/payload names
// into one ordered slice before calling in, so this just looks each one up.
func resolveGuardsByName(cfg *gwconfig.GatewayConfig, names []string) []gwconfig.Guard {
	out := make([]gwconfig.Guard, 0, len(names))
	for _, n := range names {
		if g, ok := cfg.GuardByName(n); ok {
			out = append(out, g)
		}
	}
	return out
}

// splitGuardsByMode implements api_control.rs's split_guards_by_mode.
func splitGuardsByMode(guards []gwconfig.Guard) (preCall, postCall []gwconfig.Guard) {
	for _, g := range guards {
		switch g.Mode {
		case gwconfig.GuardPreCall:
			preCall = append(preCall, g)
		case gwconfig.GuardPostCall:
			postCall = append(postCall, g)
		}
	}
	return preCall, postCall
}

// Engine evaluates guard chains, implementing pipeline.GuardrailRunner.
// Evaluator calls run concurrently via golang.org/x/sync/errgroup (spec.md
// §5's concurrent-join primitive), each guarded by a short-TTL response
// cache so an identical (guard, text) pair within the TTL window skips the
// network round trip, grounded on the teacher's use of
// github.com/patrickmn/go-cache for its API-key lookup cache
// (internal/middleware/auth.go).
type Engine struct {
	client Client
	cache  *cache.Cache
	log    *zap.SugaredLogger
}

// New builds an Engine. cacheTTL of zero disables caching.
func New(client Client, cacheTTL time.Duration, log *zap.SugaredLogger) *Engine {
	var c *cache.Cache
	if cacheTTL > 0 {
		c = cache.New(cacheTTL, cacheTTL*2)
	}
	return &Engine{client: client, cache: c, log: log}
}

func cacheKey(guard string, text string) string {
	return guard + "\x00" + text
}

// evaluate runs one guard, consulting the cache first and failing open
// (logging and recording a metric, but treating the call as passed) on any
// transport or evaluator error, per spec.md §5's fail-open policy.
func (e *Engine) evaluate(ctx context.Context, guard gwconfig.Guard, text string) error {
	key := cacheKey(guard.Name, text)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			return e.apply(guard, cached.(Verdict))
		}
	}

	verdict, err := e.client.Evaluate(ctx, guard, text)
	if err != nil {
		metrics.RecordGuardrailEvaluationError(guard.Name)
		if e.log != nil {
			e.log.Warnw("guardrail evaluator call failed, failing open", "guard", guard.Name, "error", err)
		}
		return nil
	}

	if e.cache != nil {
		e.cache.SetDefault(key, verdict)
	}
	return e.apply(guard, verdict)
}

// apply turns a failing verdict into a *gwerrors.Error with Kind
// GuardrailBlocked (422 by default, spec.md §4.4), carrying the guard name
// and a short summary of the evaluator's result so the client can see why.
func (e *Engine) apply(guard gwconfig.Guard, verdict Verdict) error {
	if verdict.Pass {
		metrics.RecordGuardrailEvaluation(guard.Name, "pass")
		return nil
	}
	metrics.RecordGuardrailEvaluation(guard.Name, "fail")
	msg := fmt.Sprintf("request blocked by guardrail '%s'", guard.Name)
	if summary := verdict.resultSummary(); summary != "" {
		msg = fmt.Sprintf("%s: %s", msg, summary)
	}
	return gwerrors.New(gwerrors.KindGuardrailBlocked, msg)
}

func (e *Engine) runConcurrently(ctx context.Context, guards []gwconfig.Guard, text string) error {
	if len(guards) == 0 {
		return nil
	}
	group, gctx := errgroup.WithContext(ctx)
	for _, g := range guards {
		g := g
		group.Go(func() error {
			return e.evaluate(gctx, g, text)
		})
	}
	return group.Wait()
}

// RunPreCall evaluates every named guard whose Mode is pre_call, ignoring
// names with no match in cfg or a post_call mode (that guard still runs via
// RunPostCall once the response exists).
func (e *Engine) RunPreCall(ctx context.Context, cfg *gwconfig.GatewayConfig, guardNames []string, text string) error {
	guards := resolveGuardsByName(cfg, guardNames)
	preCall, _ := splitGuardsByMode(guards)
	return e.runConcurrently(ctx, preCall, text)
}

// RunPostCall evaluates every named guard whose Mode is post_call.
func (e *Engine) RunPostCall(ctx context.Context, cfg *gwconfig.GatewayConfig, guardNames []string, text string) error {
	guards := resolveGuardsByName(cfg, guardNames)
	_, postCall := splitGuardsByMode(guards)
	return e.runConcurrently(ctx, postCall, text)
}

// HasPostCall reports whether any of the named guards run post_call, so
// internal/pipeline's streaming dispatch knows whether it's worth paying to
// buffer a second copy of the generated text at all.
func (e *Engine) HasPostCall(cfg *gwconfig.GatewayConfig, guardNames []string) bool {
	guards := resolveGuardsByName(cfg, guardNames)
	_, postCall := splitGuardsByMode(guards)
	return len(postCall) > 0
}
