package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ai-gateway/internal/guardrails"
	"ai-gateway/internal/gwconfig"
	"ai-gateway/internal/gwerrors"
	"ai-gateway/internal/providers"
	"ai-gateway/internal/router"
	"ai-gateway/internal/schema"
)

// fakeEvaluatorClient always passes, standing in for a remote evaluator
// endpoint so TestDispatchChatStreamSkipsBufferingForPreCallOnlyGuard can
// exercise the real guardrails.Engine's mode partitioning without a server.
type fakeEvaluatorClient struct{}

func (fakeEvaluatorClient) Evaluate(ctx context.Context, guard gwconfig.Guard, text string) (guardrails.Verdict, error) {
	return guardrails.Verdict{Pass: true}, nil
}

type fakeGuardrails struct {
	blockPre    bool
	blockPost   bool
	hasPostCall bool
	preCalls    []string
	postCalls   []string
}

func (g *fakeGuardrails) RunPreCall(ctx context.Context, cfg *gwconfig.GatewayConfig, guards []string, text string) error {
	g.preCalls = append(g.preCalls, text)
	if g.blockPre {
		return errors.New("blocked by guardrail")
	}
	return nil
}

func (g *fakeGuardrails) RunPostCall(ctx context.Context, cfg *gwconfig.GatewayConfig, guards []string, text string) error {
	g.postCalls = append(g.postCalls, text)
	if g.blockPost {
		return errors.New("blocked by guardrail")
	}
	return nil
}

func (g *fakeGuardrails) HasPostCall(cfg *gwconfig.GatewayConfig, guards []string) bool {
	return g.hasPostCall
}

func chatCfg(t *testing.T, status int, text string) (*gwconfig.GatewayConfig, gwconfig.Pipeline, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(schema.ChatCompletionResponse{
			Choices: []schema.ChatCompletionChoice{{Message: schema.ChatCompletionMessage{Role: "assistant", Content: text}}},
		})
	}))
	cfg := &gwconfig.GatewayConfig{
		Providers: []gwconfig.Provider{{Key: "p1", Type: "openai", BaseURL: srv.URL}},
		Models:    []gwconfig.ModelDefinition{{Key: "fast", Provider: "p1", WireModel: "gpt-4o-mini"}},
	}
	pipeline := gwconfig.Pipeline{
		Name: "default-chat",
		Type: gwconfig.PipelineChat,
		Plugins: []gwconfig.PluginConfig{
			{Kind: gwconfig.PluginLogging, Logging: &gwconfig.LoggingPluginConfig{Level: "info"}},
			{Kind: gwconfig.PluginGuardrails, Guardrails: &gwconfig.GuardrailsPluginConfig{Guards: []string{"pii-guard"}}},
			{Kind: gwconfig.PluginModelRouter, ModelRouter: &gwconfig.ModelRouterPluginConfig{Models: []string{"fast"}}},
		},
	}
	return cfg, pipeline, srv.Close
}

func TestDispatchChatSuccess(t *testing.T) {
	cfg, pipeline, closeSrv := chatCfg(t, http.StatusOK, "hello")
	defer closeSrv()

	guards := &fakeGuardrails{}
	eng := New(router.New(providers.NewRegistry(http.DefaultClient)), guards, nil, nil)

	resp, err := eng.DispatchChat(context.Background(), cfg, pipeline, &schema.ChatCompletionRequest{
		Messages: []schema.ChatMessage{{Role: "user", Content: json.RawMessage(`"hi"`)}},
	})
	if err != nil {
		t.Fatalf("DispatchChat() error = %v", err)
	}
	if resp.Choices[0].Message.Text() != "hello" {
		t.Fatalf("text = %q, want hello", resp.Choices[0].Message.Text())
	}
	if len(guards.preCalls) != 1 || guards.preCalls[0] != "hi" {
		t.Fatalf("preCalls = %v, want one call with 'hi'", guards.preCalls)
	}
	if len(guards.postCalls) != 1 || guards.postCalls[0] != "hello" {
		t.Fatalf("postCalls = %v, want one call with 'hello'", guards.postCalls)
	}
}

func TestDispatchChatBlockedPreCallNeverReachesRouter(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_ = json.NewEncoder(w).Encode(schema.ChatCompletionResponse{})
	}))
	defer srv.Close()

	cfg := &gwconfig.GatewayConfig{
		Providers: []gwconfig.Provider{{Key: "p1", Type: "openai", BaseURL: srv.URL}},
		Models:    []gwconfig.ModelDefinition{{Key: "fast", Provider: "p1", WireModel: "gpt-4o-mini"}},
	}
	pipeline := gwconfig.Pipeline{
		Name: "blocked-chat",
		Type: gwconfig.PipelineChat,
		Plugins: []gwconfig.PluginConfig{
			{Kind: gwconfig.PluginGuardrails, Guardrails: &gwconfig.GuardrailsPluginConfig{Guards: []string{"pii-guard"}}},
			{Kind: gwconfig.PluginModelRouter, ModelRouter: &gwconfig.ModelRouterPluginConfig{Models: []string{"fast"}}},
		},
	}

	guards := &fakeGuardrails{blockPre: true}
	eng := New(router.New(providers.NewRegistry(http.DefaultClient)), guards, nil, nil)

	_, err := eng.DispatchChat(context.Background(), cfg, pipeline, &schema.ChatCompletionRequest{
		Messages: []schema.ChatMessage{{Role: "user", Content: json.RawMessage(`"bad input"`)}},
	})
	if err == nil {
		t.Fatal("expected pre-call guardrail block to fail the request")
	}
	if called {
		t.Fatal("router must not be called when the pre-call guardrail blocks")
	}
}

func TestDispatchChatNoGuardrailsPluginSkipsGuardrails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(schema.ChatCompletionResponse{
			Choices: []schema.ChatCompletionChoice{{Message: schema.ChatCompletionMessage{Role: "assistant", Content: "ok"}}},
		})
	}))
	defer srv.Close()

	cfg := &gwconfig.GatewayConfig{
		Providers: []gwconfig.Provider{{Key: "p1", Type: "openai", BaseURL: srv.URL}},
		Models:    []gwconfig.ModelDefinition{{Key: "fast", Provider: "p1", WireModel: "gpt-4o-mini"}},
	}
	pipeline := gwconfig.Pipeline{
		Name:    "no-guards",
		Type:    gwconfig.PipelineChat,
		Plugins: []gwconfig.PluginConfig{{Kind: gwconfig.PluginModelRouter, ModelRouter: &gwconfig.ModelRouterPluginConfig{Models: []string{"fast"}}}},
	}

	guards := &fakeGuardrails{blockPre: true, blockPost: true}
	eng := New(router.New(providers.NewRegistry(http.DefaultClient)), guards, nil, nil)

	resp, err := eng.DispatchChat(context.Background(), cfg, pipeline, &schema.ChatCompletionRequest{})
	if err != nil {
		t.Fatalf("DispatchChat() error = %v, want success since no guardrails plugin is configured", err)
	}
	if resp.Choices[0].Message.Text() != "ok" {
		t.Fatalf("text = %q, want ok", resp.Choices[0].Message.Text())
	}
	if len(guards.preCalls) != 0 || len(guards.postCalls) != 0 {
		t.Fatal("guardrail runner must not be invoked when the pipeline has no guardrails plugin")
	}
}

func TestDispatchChatStreamPassthroughWithoutGuards(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	cfg := &gwconfig.GatewayConfig{
		Providers: []gwconfig.Provider{{Key: "p1", Type: "openai", BaseURL: srv.URL}},
		Models:    []gwconfig.ModelDefinition{{Key: "fast", Provider: "p1", WireModel: "gpt-4o-mini"}},
	}
	pipeline := gwconfig.Pipeline{
		Name:    "stream-passthrough",
		Type:    gwconfig.PipelineChat,
		Plugins: []gwconfig.PluginConfig{{Kind: gwconfig.PluginModelRouter, ModelRouter: &gwconfig.ModelRouterPluginConfig{Models: []string{"fast"}}}},
	}

	eng := New(router.New(providers.NewRegistry(http.DefaultClient)), nil, nil, nil)
	chunks, errCh := eng.DispatchChatStream(context.Background(), cfg, pipeline, &schema.ChatCompletionRequest{})

	var got []schema.ChatCompletionChunk
	for c := range chunks {
		got = append(got, c)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if text := schema.ExtractTextFromChunks(got); text != "hi" {
		t.Fatalf("reconstructed text = %q, want hi", text)
	}
}

// TestDispatchChatStreamSkipsBufferingForPreCallOnlyGuard uses the real
// guardrails.Engine (not fakeGuardrails) to prove a pipeline whose only
// configured guard runs pre_call never pays the buffering cost: HasPostCall
// correctly partitions by mode instead of treating every configured guard
// name as a buffering reason.
func TestDispatchChatStreamSkipsBufferingForPreCallOnlyGuard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	cfg := &gwconfig.GatewayConfig{
		Providers: []gwconfig.Provider{{Key: "p1", Type: "openai", BaseURL: srv.URL}},
		Models:    []gwconfig.ModelDefinition{{Key: "fast", Provider: "p1", WireModel: "gpt-4o-mini"}},
		Guards:    []gwconfig.Guard{{Name: "pii-guard", Mode: gwconfig.GuardPreCall}},
	}
	pipeline := gwconfig.Pipeline{
		Name: "stream-precall-only",
		Type: gwconfig.PipelineChat,
		Plugins: []gwconfig.PluginConfig{
			{Kind: gwconfig.PluginGuardrails, Guardrails: &gwconfig.GuardrailsPluginConfig{Guards: []string{"pii-guard"}}},
			{Kind: gwconfig.PluginModelRouter, ModelRouter: &gwconfig.ModelRouterPluginConfig{Models: []string{"fast"}}},
		},
	}

	guards := guardrails.New(fakeEvaluatorClient{}, 0, nil)
	eng := New(router.New(providers.NewRegistry(http.DefaultClient)), guards, nil, nil)
	chunks, errCh := eng.DispatchChatStream(context.Background(), cfg, pipeline, &schema.ChatCompletionRequest{})

	var got []schema.ChatCompletionChunk
	for c := range chunks {
		got = append(got, c)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if text := schema.ExtractTextFromChunks(got); text != "Hello" {
		t.Fatalf("reconstructed text = %q, want Hello", text)
	}
}

func TestDispatchChatStreamForwardsChunksAndRunsPostCallGuard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	cfg := &gwconfig.GatewayConfig{
		Providers: []gwconfig.Provider{{Key: "p1", Type: "openai", BaseURL: srv.URL}},
		Models:    []gwconfig.ModelDefinition{{Key: "fast", Provider: "p1", WireModel: "gpt-4o-mini"}},
	}
	pipeline := gwconfig.Pipeline{
		Name: "stream-guarded",
		Type: gwconfig.PipelineChat,
		Plugins: []gwconfig.PluginConfig{
			{Kind: gwconfig.PluginGuardrails, Guardrails: &gwconfig.GuardrailsPluginConfig{Guards: []string{"pii-guard"}}},
			{Kind: gwconfig.PluginModelRouter, ModelRouter: &gwconfig.ModelRouterPluginConfig{Models: []string{"fast"}}},
		},
	}

	guards := &fakeGuardrails{hasPostCall: true}
	eng := New(router.New(providers.NewRegistry(http.DefaultClient)), guards, nil, nil)
	chunks, errCh := eng.DispatchChatStream(context.Background(), cfg, pipeline, &schema.ChatCompletionRequest{})

	var got []schema.ChatCompletionChunk
	for c := range chunks {
		got = append(got, c)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if text := schema.ExtractTextFromChunks(got); text != "Hello" {
		t.Fatalf("reconstructed text = %q, want Hello", text)
	}
	if len(guards.postCalls) != 1 || guards.postCalls[0] != "Hello" {
		t.Fatalf("postCalls = %v, want one call with the fully reconstructed text", guards.postCalls)
	}
}

// TestDispatchChatStreamForwardsChunksEvenWhenPostCallGuardBlocks asserts the
// spec.md §4.4 "no retraction" rule: chunks already went out to the caller
// before the post-call guard ever saw the reconstructed text, so a block
// after the fact can only surface as an error alongside the chunks already
// delivered, never as a suppressed, zero-chunk response.
func TestDispatchChatStreamForwardsChunksEvenWhenPostCallGuardBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"secret\"}}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	cfg := &gwconfig.GatewayConfig{
		Providers: []gwconfig.Provider{{Key: "p1", Type: "openai", BaseURL: srv.URL}},
		Models:    []gwconfig.ModelDefinition{{Key: "fast", Provider: "p1", WireModel: "gpt-4o-mini"}},
	}
	pipeline := gwconfig.Pipeline{
		Name: "stream-blocked",
		Type: gwconfig.PipelineChat,
		Plugins: []gwconfig.PluginConfig{
			{Kind: gwconfig.PluginGuardrails, Guardrails: &gwconfig.GuardrailsPluginConfig{Guards: []string{"pii-guard"}}},
			{Kind: gwconfig.PluginModelRouter, ModelRouter: &gwconfig.ModelRouterPluginConfig{Models: []string{"fast"}}},
		},
	}

	guards := &fakeGuardrails{hasPostCall: true, blockPost: true}
	eng := New(router.New(providers.NewRegistry(http.DefaultClient)), guards, nil, nil)
	chunks, errCh := eng.DispatchChatStream(context.Background(), cfg, pipeline, &schema.ChatCompletionRequest{})

	var got []schema.ChatCompletionChunk
	for c := range chunks {
		got = append(got, c)
	}
	if text := schema.ExtractTextFromChunks(got); text != "secret" {
		t.Fatalf("reconstructed text = %q, want secret (chunks are forwarded before the guard can react)", text)
	}
	if err := <-errCh; err == nil {
		t.Fatal("expected an error on the error channel when the post-call guard blocks")
	}
}

func TestDispatchChatStreamFailsClosedWhenBufferCapacityExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"0123456789\"}}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	cfg := &gwconfig.GatewayConfig{
		Providers: []gwconfig.Provider{{Key: "p1", Type: "openai", BaseURL: srv.URL}},
		Models:    []gwconfig.ModelDefinition{{Key: "fast", Provider: "p1", WireModel: "gpt-4o-mini"}},
	}
	pipeline := gwconfig.Pipeline{
		Name: "stream-overflow",
		Type: gwconfig.PipelineChat,
		Plugins: []gwconfig.PluginConfig{
			{Kind: gwconfig.PluginGuardrails, Guardrails: &gwconfig.GuardrailsPluginConfig{Guards: []string{"pii-guard"}}},
			{Kind: gwconfig.PluginModelRouter, ModelRouter: &gwconfig.ModelRouterPluginConfig{Models: []string{"fast"}}},
		},
	}

	guards := &fakeGuardrails{hasPostCall: true}
	eng := New(router.New(providers.NewRegistry(http.DefaultClient)), guards, nil, nil, WithMaxStreamBufferBytes(5))
	chunks, errCh := eng.DispatchChatStream(context.Background(), cfg, pipeline, &schema.ChatCompletionRequest{})

	var got []schema.ChatCompletionChunk
	for c := range chunks {
		got = append(got, c)
	}
	if len(got) != 1 {
		t.Fatalf("got %d chunks, want the one chunk already forwarded before the cap tripped", len(got))
	}

	err := <-errCh
	var gwErr *gwerrors.Error
	if !errors.As(err, &gwErr) || gwErr.Kind != gwerrors.KindServiceUnavailable {
		t.Fatalf("err = %v, want a KindServiceUnavailable gwerrors.Error", err)
	}
	if len(guards.postCalls) != 0 {
		t.Fatalf("postCalls = %v, want none since the buffer overflowed before reconstruction", guards.postCalls)
	}
}

func TestMergedGuardNamesPipelineTakesPrecedence(t *testing.T) {
	pipeline := gwconfig.Pipeline{
		Plugins: []gwconfig.PluginConfig{
			{Kind: gwconfig.PluginGuardrails, Guardrails: &gwconfig.GuardrailsPluginConfig{Guards: []string{"pii-guard"}}},
		},
	}
	got := mergedGuardNames(pipeline, []string{"pii-guard", "toxicity-guard"})
	want := []string{"pii-guard", "toxicity-guard"}
	if len(got) != len(want) {
		t.Fatalf("mergedGuardNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mergedGuardNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
