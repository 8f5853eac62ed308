package gwconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ai-gateway/internal/secrets"
)

// secretYAML is the YAML shape of a secret reference: either a bare string
// (shorthand for a literal value) or an explicit {kind: ..., ...} object,
// grounded on the teacher's config.Load YAML conventions.
type secretYAML struct {
	Literal string `yaml:"-"`

	Kind       string `yaml:"kind"`
	Value      string `yaml:"value"`
	EnvVar     string `yaml:"env_var"`
	SecretName string `yaml:"secret_name"`
	SecretKey  string `yaml:"secret_key"`
}

func (s *secretYAML) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&s.Literal)
	}
	type alias secretYAML
	var a alias
	if err := value.Decode(&a); err != nil {
		return err
	}
	*s = secretYAML(a)
	return nil
}

func (s secretYAML) toSecret() (secrets.Secret, error) {
	if s.Literal != "" {
		return secrets.LiteralSecret(s.Literal), nil
	}
	switch s.Kind {
	case "", "literal":
		return secrets.LiteralSecret(s.Value), nil
	case "environment":
		return secrets.Secret{Kind: secrets.KindEnvironment, EnvVar: s.EnvVar}, nil
	case "kubernetes":
		return secrets.Secret{Kind: secrets.KindKubernetes, KubernetesSecretName: s.SecretName, KubernetesSecretKey: s.SecretKey}, nil
	default:
		return secrets.Secret{}, fmt.Errorf("unknown secret kind '%s'", s.Kind)
	}
}

type providerYAML struct {
	Key     string            `yaml:"key"`
	Type    string            `yaml:"type"`
	BaseURL string            `yaml:"base_url"`
	APIKey  secretYAML        `yaml:"api_key"`
	Params  map[string]string `yaml:"params"`
}

type modelYAML struct {
	Key       string            `yaml:"key"`
	Provider  string            `yaml:"provider"`
	WireModel string            `yaml:"wire_model"`
	MaxTokens int               `yaml:"max_tokens"`
	Params    map[string]string `yaml:"params"`
}

type guardYAML struct {
	Name          string            `yaml:"name"`
	EvaluatorSlug string            `yaml:"evaluator_slug"`
	Mode          string            `yaml:"mode"`
	APIBase       string            `yaml:"api_base"`
	APIKey        secretYAML        `yaml:"api_key"`
	Params        map[string]string `yaml:"params"`
}

type pluginYAML struct {
	Kind        string                   `yaml:"kind"`
	Logging     *LoggingPluginConfig     `yaml:"logging"`
	Tracing     *TracingPluginConfig     `yaml:"tracing"`
	ModelRouter *ModelRouterPluginConfig `yaml:"model_router"`
	Guardrails  *GuardrailsPluginConfig  `yaml:"guardrails"`
}

type pipelineYAML struct {
	Name    string       `yaml:"name"`
	Type    string       `yaml:"type"`
	Plugins []pluginYAML `yaml:"plugins"`
}

type fileYAML struct {
	General struct {
		TraceContentEnabled bool `yaml:"trace_content_enabled"`
	} `yaml:"general"`
	Providers []providerYAML `yaml:"providers"`
	Models    []modelYAML    `yaml:"models"`
	Guards    []guardYAML    `yaml:"guards"`
	Pipelines []pipelineYAML `yaml:"pipelines"`
}

// LoadFile reads a YAML configuration file into a RawConfig, grounded on the
// teacher's internal/config.Load.
func LoadFile(path string) (RawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RawConfig{}, fmt.Errorf("reading config file '%s': %w", path, err)
	}

	var doc fileYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return RawConfig{}, fmt.Errorf("parsing config file '%s': %w", path, err)
	}

	cfg := RawConfig{General: GeneralConfig{TraceContentEnabled: doc.General.TraceContentEnabled}}

	for _, p := range doc.Providers {
		secret, err := p.APIKey.toSecret()
		if err != nil {
			return RawConfig{}, fmt.Errorf("provider '%s': %w", p.Key, err)
		}
		cfg.Providers = append(cfg.Providers, RawProvider{
			Key: p.Key, Type: p.Type, BaseURL: p.BaseURL, APIKey: secret, Params: p.Params,
		})
	}

	for _, m := range doc.Models {
		cfg.Models = append(cfg.Models, ModelDefinition{
			Key: m.Key, Provider: m.Provider, WireModel: m.WireModel, MaxTokens: m.MaxTokens, Params: m.Params,
		})
	}

	for _, g := range doc.Guards {
		secret, err := g.APIKey.toSecret()
		if err != nil {
			return RawConfig{}, fmt.Errorf("guard '%s': %w", g.Name, err)
		}
		cfg.Guards = append(cfg.Guards, RawGuard{
			Name: g.Name, EvaluatorSlug: g.EvaluatorSlug, Mode: GuardMode(g.Mode), APIBase: g.APIBase, APIKey: secret, Params: g.Params,
		})
	}

	for _, pl := range doc.Pipelines {
		plugins := make([]PluginConfig, 0, len(pl.Plugins))
		for _, pg := range pl.Plugins {
			plugins = append(plugins, PluginConfig{
				Kind:        PluginKind(pg.Kind),
				Logging:     pg.Logging,
				Tracing:     pg.Tracing,
				ModelRouter: pg.ModelRouter,
				Guardrails:  pg.Guardrails,
			})
		}
		cfg.Pipelines = append(cfg.Pipelines, Pipeline{Name: pl.Name, Type: PipelineType(pl.Type), Plugins: plugins})
	}

	return cfg, nil
}
