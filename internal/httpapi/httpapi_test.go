package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ai-gateway/internal/gwconfig"
	"ai-gateway/internal/pipeline"
	"ai-gateway/internal/providers"
	"ai-gateway/internal/router"
	"ai-gateway/internal/schema"
	"ai-gateway/internal/secrets"
)

func stringsReader(s string) *strings.Reader {
	return strings.NewReader(s)
}

// fakeGuardrails is a no-op GuardrailRunner, grounded on
// internal/pipeline/pipeline_test.go's fakeGuardrails.
type fakeGuardrails struct{}

func (fakeGuardrails) RunPreCall(ctx context.Context, cfg *gwconfig.GatewayConfig, names []string, text string) error {
	return nil
}

func (fakeGuardrails) RunPostCall(ctx context.Context, cfg *gwconfig.GatewayConfig, names []string, text string) error {
	return nil
}

func (fakeGuardrails) HasPostCall(cfg *gwconfig.GatewayConfig, names []string) bool {
	return false
}

// newTestServer builds a Server backed by a real pipeline.Engine and router
// pointed at an httptest upstream, so handler tests exercise the full
// decode -> resolve -> dispatch -> encode path without mocking the engine.
func newTestServer(t *testing.T, upstream *httptest.Server) *Server {
	t.Helper()

	raw := gwconfig.RawConfig{
		Providers: []gwconfig.RawProvider{{Key: "p1", Type: "openai", BaseURL: upstream.URL, APIKey: secrets.LiteralSecret("sk-test")}},
		Models:    []gwconfig.ModelDefinition{{Key: "fast", Provider: "p1", WireModel: "gpt-4o-mini"}},
		Pipelines: []gwconfig.Pipeline{
			{
				Name: "default-chat",
				Type: gwconfig.PipelineChat,
				Plugins: []gwconfig.PluginConfig{
					{Kind: gwconfig.PluginModelRouter, ModelRouter: &gwconfig.ModelRouterPluginConfig{Models: []string{"fast"}}},
				},
			},
			{
				Name: "default-completion",
				Type: gwconfig.PipelineCompletion,
				Plugins: []gwconfig.PluginConfig{
					{Kind: gwconfig.PluginModelRouter, ModelRouter: &gwconfig.ModelRouterPluginConfig{Models: []string{"fast"}}},
				},
			},
			{
				Name: "default-embeddings",
				Type: gwconfig.PipelineEmbeddings,
				Plugins: []gwconfig.PluginConfig{
					{Kind: gwconfig.PluginModelRouter, ModelRouter: &gwconfig.ModelRouterPluginConfig{Models: []string{"fast"}}},
				},
			},
		},
	}

	mgr := gwconfig.NewManager(nil)
	if err := mgr.Apply(context.Background(), raw, secrets.New(nil)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	eng := pipeline.New(router.New(providers.NewRegistry(http.DefaultClient)), fakeGuardrails{}, nil, nil)
	return NewServer(mgr, eng, nil, nil)
}

func TestHandleChatCompletionsSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(schema.ChatCompletionResponse{
			Choices: []schema.ChatCompletionChoice{{Message: schema.ChatCompletionMessage{Role: "assistant", Content: json.RawMessage(`"hi there"`)}}},
		})
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream)
	body := `{"model":"fast","messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", stringsReader(body))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp schema.ChatCompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Choices[0].Message.Text() != "hi there" {
		t.Fatalf("text = %q, want 'hi there'", resp.Choices[0].Message.Text())
	}
}

func TestHandleChatCompletionsEmptyMessagesRejected(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be called")
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", stringsReader(`{"model":"fast","messages":[]}`))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleChatCompletionsUpstreamErrorMapped(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", stringsReader(`{"model":"fast","messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleCompletionsSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(schema.CompletionResponse{
			Choices: []schema.CompletionChoice{{Text: "the answer"}},
		})
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream)
	req := httptest.NewRequest(http.MethodPost, "/v1/completions", stringsReader(`{"model":"fast","prompt":"say something"}`))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp schema.CompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Choices[0].Text != "the answer" {
		t.Fatalf("text = %q, want 'the answer'", resp.Choices[0].Text)
	}
}

func TestHandleCompletionsEmptyPromptRejected(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be called")
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream)
	req := httptest.NewRequest(http.MethodPost, "/v1/completions", stringsReader(`{"model":"fast","prompt":""}`))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleEmbeddingsSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(schema.EmbeddingsResponse{
			Data: []schema.Embedding{{Index: 0, Embedding: []float64{0.1, 0.2}}},
		})
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream)
	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", stringsReader(`{"model":"fast","input":"hello world"}`))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp schema.EmbeddingsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("data length = %d, want 1", len(resp.Data))
	}
}

func TestHandleEmbeddingsEmptyInputRejected(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be called")
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream)
	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", stringsReader(`{"model":"fast","input":""}`))
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
}

func TestPipelineOverrideHeaderIgnoredWhenTypeMismatched(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(schema.ChatCompletionResponse{
			Choices: []schema.ChatCompletionChoice{{Message: schema.ChatCompletionMessage{Role: "assistant", Content: json.RawMessage(`"ok"`)}}},
		})
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", stringsReader(`{"model":"fast","messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set(headerPipelineOverride, "default-completion")
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (fallback to default chat pipeline), body = %s", w.Code, w.Body.String())
	}
}

func TestHandleHealthz(t *testing.T) {
	s := newTestServer(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleReadyzWithNoDatabaseConfigured(t *testing.T) {
	s := newTestServer(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleLivez(t *testing.T) {
	s := newTestServer(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleMetricsRequiresAuthWhenConfigured(t *testing.T) {
	s := newTestServer(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	WithMetricsAuth("admin", "secret")(s)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without credentials", w.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req2.SetBasicAuth("admin", "secret")
	w2 := httptest.NewRecorder()
	s.Routes().ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with valid credentials", w2.Code)
	}
}

func TestHandleMetricsOpenWhenNoAuthConfigured(t *testing.T) {
	s := newTestServer(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestMergeRequestGuardNames(t *testing.T) {
	if got := mergeRequestGuardNames(nil, []string{"a"}); len(got) != 1 || got[0] != "a" {
		t.Fatalf("merge with empty header = %v", got)
	}
	if got := mergeRequestGuardNames([]string{"a"}, nil); len(got) != 1 || got[0] != "a" {
		t.Fatalf("merge with empty payload = %v", got)
	}
	got := mergeRequestGuardNames([]string{"a"}, []string{"b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("merge = %v, want [a b]", got)
	}
}

func TestHeaderGuardNamesTrimsAndSkipsEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(headerGuardrails, " pii-check ,, toxicity ")
	got := headerGuardNames(req)
	if len(got) != 2 || got[0] != "pii-check" || got[1] != "toxicity" {
		t.Fatalf("headerGuardNames = %v", got)
	}
}
