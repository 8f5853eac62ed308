// Package gwconfig defines the gateway's configuration model: the immutable
// GatewayConfig snapshot, validation, canonical hashing, and the atomic
// publish/subscribe mechanism the rest of the gateway reads its config
// through. Grounded on original_source/src/config/models.rs, with the
// extended PluginConfig/Guard shapes from spec.md §3.
package gwconfig

// Provider is one upstream credential/base-URL pair a ModelDefinition can
// target. Key is the logical name pipelines and models reference; Type
// selects the adapter (openai, anthropic, azure_openai, or any other string,
// which falls back to the OpenAI-compatible adapter).
type Provider struct {
	Key     string
	Type    string
	BaseURL string
	APIKey  string
	// Params holds adapter-specific extras (e.g. azure_openai's
	// api_version), keyed by name.
	Params map[string]string
}

// ModelDefinition is a logical model name exposed by the gateway, resolving
// to a concrete provider and upstream wire model name.
type ModelDefinition struct {
	Key          string
	Provider     string
	WireModel    string
	MaxTokens    int
	Params       map[string]string
}

// PipelineType selects which request path a Pipeline applies to.
type PipelineType string

const (
	PipelineChat        PipelineType = "chat"
	PipelineCompletion   PipelineType = "completion"
	PipelineEmbeddings  PipelineType = "embeddings"
)

// PluginKind identifies which built-in plugin a PluginConfig configures.
type PluginKind string

const (
	PluginLogging     PluginKind = "logging"
	PluginTracing     PluginKind = "tracing"
	PluginModelRouter PluginKind = "model_router"
	PluginGuardrails  PluginKind = "guardrails"
)

// LoggingPluginConfig is the config body for PluginLogging.
type LoggingPluginConfig struct {
	Level string
}

// TracingPluginConfig is the config body for PluginTracing.
type TracingPluginConfig struct {
	Endpoint string
	APIKey   string
}

// ModelRouterPluginConfig is the config body for PluginModelRouter: the
// ordered list of candidate ModelDefinition keys to try, first to last.
type ModelRouterPluginConfig struct {
	Models []string
}

// GuardrailsPluginConfig is the config body for PluginGuardrails: the guard
// names this pipeline always applies, regardless of what the request asks for.
type GuardrailsPluginConfig struct {
	Guards []string
}

// PluginConfig is one entry in a Pipeline's plugin chain. Exactly one of the
// *Config fields is populated, selected by Kind.
type PluginConfig struct {
	Kind PluginKind

	Logging     *LoggingPluginConfig
	Tracing     *TracingPluginConfig
	ModelRouter *ModelRouterPluginConfig
	Guardrails  *GuardrailsPluginConfig
}

// Pipeline is a named, ordered plugin chain applied to requests of Type. The
// chain always ends with a Model Router dispatch, which takes its candidate
// models from the PluginModelRouter entry; a pipeline without that entry
// fails every request with router.NoCandidatesError, and the request's own
// model name is not used as a fallback.
type Pipeline struct {
	Name    string
	Type    PipelineType
	Plugins []PluginConfig
}

// GuardMode selects whether a Guard runs against the request (before the
// upstream call) or the response (after it).
type GuardMode string

const (
	GuardPreCall  GuardMode = "pre_call"
	GuardPostCall GuardMode = "post_call"
)

// Guard is one remote evaluator a pipeline, request header, or request
// payload can invoke by name. Params is passed through verbatim as the
// evaluator call's "config" field (spec.md §4.4).
type Guard struct {
	Name          string
	EvaluatorSlug string
	Mode          GuardMode
	APIBase       string
	APIKey        string
	Params        map[string]string
}

// GeneralConfig holds gateway-wide switches that don't belong to any one
// provider, model, pipeline, or guard.
type GeneralConfig struct {
	// TraceContentEnabled controls whether plugin trace spans record full
	// request/response bodies or only metadata.
	TraceContentEnabled bool
}

// GatewayConfig is the complete, immutable configuration snapshot every
// request is served against. A new snapshot replaces the old one atomically;
// in-flight requests keep using the snapshot they started with.
type GatewayConfig struct {
	General   GeneralConfig
	Providers []Provider
	Models    []ModelDefinition
	Pipelines []Pipeline
	Guards    []Guard
}

// ProviderByKey returns the Provider with the given key, or false.
func (c *GatewayConfig) ProviderByKey(key string) (Provider, bool) {
	for _, p := range c.Providers {
		if p.Key == key {
			return p, true
		}
	}
	return Provider{}, false
}

// ModelByKey returns the ModelDefinition with the given key, or false.
func (c *GatewayConfig) ModelByKey(key string) (ModelDefinition, bool) {
	for _, m := range c.Models {
		if m.Key == key {
			return m, true
		}
	}
	return ModelDefinition{}, false
}

// PipelineByName returns the Pipeline with the given name, or false.
func (c *GatewayConfig) PipelineByName(name string) (Pipeline, bool) {
	for _, p := range c.Pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return Pipeline{}, false
}

// GuardByName returns the Guard with the given name, or false.
func (c *GatewayConfig) GuardByName(name string) (Guard, bool) {
	for _, g := range c.Guards {
		if g.Name == name {
			return g, true
		}
	}
	return Guard{}, false
}

// PipelineForType returns the first enabled Pipeline matching t, used when a
// request carries no explicit pipeline override.
func (c *GatewayConfig) PipelineForType(t PipelineType) (Pipeline, bool) {
	for _, p := range c.Pipelines {
		if p.Type == t {
			return p, true
		}
	}
	return Pipeline{}, false
}
