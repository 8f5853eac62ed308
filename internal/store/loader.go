package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"ai-gateway/internal/gwconfig"
	"ai-gateway/internal/secrets"
)

// AutoMigrate creates or updates the database schema for every model this
// package defines.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ProviderRow{},
		&ModelDefinitionRow{},
		&GuardRow{},
		&PipelineRow{},
		&PipelinePluginRow{},
	)
}

// Loader reads the enabled rows from db and assembles them into a
// gwconfig.RawConfig. It never writes; creating, editing, and disabling rows
// is the out-of-scope management plane's job (spec.md Non-goals).
type Loader struct {
	db *gorm.DB
}

func NewLoader(db *gorm.DB) *Loader {
	return &Loader{db: db}
}

// Load reads every enabled row and returns the assembled RawConfig, ready to
// be handed to a gwconfig.Manager via gwconfig.Resolve.
func (l *Loader) Load() (gwconfig.RawConfig, error) {
	var providerRows []ProviderRow
	if err := l.db.Where("enabled = ?", true).Find(&providerRows).Error; err != nil {
		return gwconfig.RawConfig{}, fmt.Errorf("loading providers: %w", err)
	}

	var modelRows []ModelDefinitionRow
	if err := l.db.Where("enabled = ?", true).Find(&modelRows).Error; err != nil {
		return gwconfig.RawConfig{}, fmt.Errorf("loading model definitions: %w", err)
	}

	var guardRows []GuardRow
	if err := l.db.Where("enabled = ?", true).Find(&guardRows).Error; err != nil {
		return gwconfig.RawConfig{}, fmt.Errorf("loading guards: %w", err)
	}

	var pipelineRows []PipelineRow
	if err := l.db.Where("enabled = ?", true).Find(&pipelineRows).Error; err != nil {
		return gwconfig.RawConfig{}, fmt.Errorf("loading pipelines: %w", err)
	}

	var pluginRows []PipelinePluginRow
	if err := l.db.Order("position asc").Find(&pluginRows).Error; err != nil {
		return gwconfig.RawConfig{}, fmt.Errorf("loading pipeline plugins: %w", err)
	}

	cfg := gwconfig.RawConfig{}

	for _, r := range providerRows {
		secret, err := decodeSecret(r.SecretKind, r.SecretLiteral, r.SecretEnvVar, r.SecretK8sName, r.SecretK8sKey)
		if err != nil {
			return gwconfig.RawConfig{}, fmt.Errorf("provider '%s': %w", r.Key, err)
		}
		params, err := decodeParams(r.ParamsJSON)
		if err != nil {
			return gwconfig.RawConfig{}, fmt.Errorf("provider '%s' params: %w", r.Key, err)
		}
		cfg.Providers = append(cfg.Providers, gwconfig.RawProvider{
			Key:     r.Key,
			Type:    r.Type,
			BaseURL: r.BaseURL,
			APIKey:  secret,
			Params:  params,
		})
	}

	for _, r := range modelRows {
		params, err := decodeParams(r.ParamsJSON)
		if err != nil {
			return gwconfig.RawConfig{}, fmt.Errorf("model '%s' params: %w", r.Key, err)
		}
		cfg.Models = append(cfg.Models, gwconfig.ModelDefinition{
			Key:       r.Key,
			Provider:  r.ProviderKey,
			WireModel: r.WireModel,
			MaxTokens: r.MaxTokens,
			Params:    params,
		})
	}

	for _, r := range guardRows {
		secret, err := decodeSecret(r.SecretKind, r.SecretLiteral, r.SecretEnvVar, r.SecretK8sName, r.SecretK8sKey)
		if err != nil {
			return gwconfig.RawConfig{}, fmt.Errorf("guard '%s': %w", r.Name, err)
		}
		params, err := decodeParams(r.ParamsJSON)
		if err != nil {
			return gwconfig.RawConfig{}, fmt.Errorf("guard '%s' params: %w", r.Name, err)
		}
		cfg.Guards = append(cfg.Guards, gwconfig.RawGuard{
			Name:          r.Name,
			EvaluatorSlug: r.EvaluatorSlug,
			Mode:          gwconfig.GuardMode(r.Mode),
			APIBase:       r.APIBase,
			APIKey:        secret,
			Params:        params,
		})
	}

	pluginsByPipeline := make(map[string][]PipelinePluginRow, len(pipelineRows))
	for _, p := range pluginRows {
		pluginsByPipeline[p.PipelineID] = append(pluginsByPipeline[p.PipelineID], p)
	}

	for _, r := range pipelineRows {
		rows := pluginsByPipeline[r.ID]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Position < rows[j].Position })

		plugins := make([]gwconfig.PluginConfig, 0, len(rows))
		for _, pr := range rows {
			pc, err := decodePlugin(pr)
			if err != nil {
				return gwconfig.RawConfig{}, fmt.Errorf("pipeline '%s' plugin %d: %w", r.Name, pr.Position, err)
			}
			plugins = append(plugins, pc)
		}

		cfg.Pipelines = append(cfg.Pipelines, gwconfig.Pipeline{
			Name:    r.Name,
			Type:    gwconfig.PipelineType(r.Type),
			Plugins: plugins,
		})
	}

	return cfg, nil
}

func decodeSecret(kind, literal, envVar, k8sName, k8sKey string) (secrets.Secret, error) {
	switch secrets.Kind(kind) {
	case secrets.KindLiteral, "":
		return secrets.Secret{Kind: secrets.KindLiteral, Literal: literal}, nil
	case secrets.KindEnvironment:
		return secrets.Secret{Kind: secrets.KindEnvironment, EnvVar: envVar}, nil
	case secrets.KindKubernetes:
		return secrets.Secret{Kind: secrets.KindKubernetes, KubernetesSecretName: k8sName, KubernetesSecretKey: k8sKey}, nil
	default:
		return secrets.Secret{}, fmt.Errorf("unknown secret kind '%s'", kind)
	}
}

func decodeParams(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodePlugin(row PipelinePluginRow) (gwconfig.PluginConfig, error) {
	kind := gwconfig.PluginKind(row.Kind)
	pc := gwconfig.PluginConfig{Kind: kind}

	body := []byte(row.ConfigJSON)
	if len(body) == 0 {
		body = []byte("{}")
	}

	switch kind {
	case gwconfig.PluginLogging:
		var c gwconfig.LoggingPluginConfig
		if err := json.Unmarshal(body, &c); err != nil {
			return pc, err
		}
		pc.Logging = &c
	case gwconfig.PluginTracing:
		var c gwconfig.TracingPluginConfig
		if err := json.Unmarshal(body, &c); err != nil {
			return pc, err
		}
		pc.Tracing = &c
	case gwconfig.PluginModelRouter:
		var c gwconfig.ModelRouterPluginConfig
		if err := json.Unmarshal(body, &c); err != nil {
			return pc, err
		}
		pc.ModelRouter = &c
	case gwconfig.PluginGuardrails:
		var c gwconfig.GuardrailsPluginConfig
		if err := json.Unmarshal(body, &c); err != nil {
			return pc, err
		}
		pc.Guardrails = &c
	default:
		return pc, fmt.Errorf("unknown plugin kind '%s'", row.Kind)
	}

	return pc, nil
}
