// Package store defines the GORM-backed persistence models for the database
// config source and a read-only loader that turns them into a
// gwconfig.RawConfig. Grounded on the teacher's internal/models/models.go
// (UUID primary key + enabled flag + timestamps idiom) and its
// cmd/server/main.go database bootstrap (gorm + sqlite, connection pool
// tuning, AutoMigrate).
package store

import (
	"time"

	"github.com/google/uuid"
)

// ProviderRow is the persisted form of a gwconfig.RawProvider.
type ProviderRow struct {
	ID      string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Key     string `gorm:"type:varchar(100);uniqueIndex" json:"key"`
	Type    string `gorm:"type:varchar(50)" json:"type"`
	BaseURL string `gorm:"type:varchar(500)" json:"base_url"`

	// SecretKind/SecretLiteral/SecretEnvVar/SecretK8sName/SecretK8sKey encode
	// a secrets.Secret as flat columns since GORM has no sum-type support.
	SecretKind      string `gorm:"type:varchar(20)" json:"secret_kind"`
	SecretLiteral   string `gorm:"type:text" json:"secret_literal,omitempty"`
	SecretEnvVar    string `gorm:"type:varchar(255)" json:"secret_env_var,omitempty"`
	SecretK8sName   string `gorm:"type:varchar(255)" json:"secret_k8s_name,omitempty"`
	SecretK8sKey    string `gorm:"type:varchar(255)" json:"secret_k8s_key,omitempty"`

	// ParamsJSON is a JSON object of adapter-specific extras, decoded into
	// Provider.Params by the loader.
	ParamsJSON string `gorm:"type:text" json:"params_json"`

	Enabled   bool      `gorm:"default:true;index" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProviderRow) TableName() string { return "providers" }

// NewProviderRow assembles a ProviderRow for insertion, generating its
// primary key the way the teacher's ClientService.CreateClient does for
// models.Client.
func NewProviderRow(key, typ, baseURL, secretKind, secretLiteral, secretEnvVar, secretK8sName, secretK8sKey, paramsJSON string) ProviderRow {
	return ProviderRow{
		ID:            uuid.New().String(),
		Key:           key,
		Type:          typ,
		BaseURL:       baseURL,
		SecretKind:    secretKind,
		SecretLiteral: secretLiteral,
		SecretEnvVar:  secretEnvVar,
		SecretK8sName: secretK8sName,
		SecretK8sKey:  secretK8sKey,
		ParamsJSON:    paramsJSON,
		Enabled:       true,
	}
}

// ModelDefinitionRow is the persisted form of a gwconfig.ModelDefinition.
type ModelDefinitionRow struct {
	ID           string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Key          string `gorm:"type:varchar(100);uniqueIndex" json:"key"`
	ProviderKey  string `gorm:"type:varchar(100);index" json:"provider_key"`
	WireModel    string `gorm:"type:varchar(200)" json:"wire_model"`
	MaxTokens    int    `gorm:"default:0" json:"max_tokens"`
	ParamsJSON   string `gorm:"type:text" json:"params_json"`

	Enabled   bool      `gorm:"default:true;index" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ModelDefinitionRow) TableName() string { return "model_definitions" }

// NewModelDefinitionRow assembles a ModelDefinitionRow for insertion,
// generating its primary key rather than leaving callers to invent one.
func NewModelDefinitionRow(key, providerKey, wireModel string, maxTokens int, paramsJSON string) ModelDefinitionRow {
	return ModelDefinitionRow{
		ID:          uuid.New().String(),
		Key:         key,
		ProviderKey: providerKey,
		WireModel:   wireModel,
		MaxTokens:   maxTokens,
		ParamsJSON:  paramsJSON,
		Enabled:     true,
	}
}

// GuardRow is the persisted form of a gwconfig.RawGuard.
type GuardRow struct {
	ID            string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name          string `gorm:"type:varchar(100);uniqueIndex" json:"name"`
	EvaluatorSlug string `gorm:"type:varchar(200)" json:"evaluator_slug"`
	Mode          string `gorm:"type:varchar(20)" json:"mode"`
	APIBase       string `gorm:"type:varchar(500)" json:"api_base"`

	SecretKind    string `gorm:"type:varchar(20)" json:"secret_kind"`
	SecretLiteral string `gorm:"type:text" json:"secret_literal,omitempty"`
	SecretEnvVar  string `gorm:"type:varchar(255)" json:"secret_env_var,omitempty"`
	SecretK8sName string `gorm:"type:varchar(255)" json:"secret_k8s_name,omitempty"`
	SecretK8sKey  string `gorm:"type:varchar(255)" json:"secret_k8s_key,omitempty"`

	// ParamsJSON is a JSON object passed through verbatim as the evaluator
	// call's "config" field (spec.md §4.4), decoded into Guard.Params by the
	// loader.
	ParamsJSON string `gorm:"type:text" json:"params_json"`

	Enabled   bool      `gorm:"default:true;index" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (GuardRow) TableName() string { return "guards" }

// NewGuardRow assembles a GuardRow for insertion, generating its primary key.
func NewGuardRow(name, evaluatorSlug, mode, apiBase, secretKind, secretLiteral, secretEnvVar, secretK8sName, secretK8sKey, paramsJSON string) GuardRow {
	return GuardRow{
		ID:            uuid.New().String(),
		Name:          name,
		EvaluatorSlug: evaluatorSlug,
		Mode:          mode,
		APIBase:       apiBase,
		SecretKind:    secretKind,
		SecretLiteral: secretLiteral,
		SecretEnvVar:  secretEnvVar,
		SecretK8sName: secretK8sName,
		SecretK8sKey:  secretK8sKey,
		ParamsJSON:    paramsJSON,
		Enabled:       true,
	}
}

// PipelineRow is the persisted form of a gwconfig.Pipeline, minus its plugin
// chain (see PipelinePluginRow).
type PipelineRow struct {
	ID   string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name string `gorm:"type:varchar(100);uniqueIndex" json:"name"`
	Type string `gorm:"type:varchar(20)" json:"type"`

	Enabled   bool      `gorm:"default:true;index" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PipelineRow) TableName() string { return "pipelines" }

// NewPipelineRow assembles a PipelineRow for insertion, generating its
// primary key so PipelinePluginRow.PipelineID has something to reference
// before the row has ever touched the database.
func NewPipelineRow(name, typ string) PipelineRow {
	return PipelineRow{
		ID:      uuid.New().String(),
		Name:    name,
		Type:    typ,
		Enabled: true,
	}
}

// PipelinePluginRow is one ordered entry in a pipeline's plugin chain.
// ConfigJSON holds the kind-specific body (LoggingPluginConfig,
// ModelRouterPluginConfig, ...) serialized as JSON, since the four plugin
// kinds have unrelated shapes.
type PipelinePluginRow struct {
	ID           string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	PipelineID   string `gorm:"type:varchar(36);index" json:"pipeline_id"`
	Position     int    `gorm:"index" json:"position"`
	Kind         string `gorm:"type:varchar(30)" json:"kind"`
	ConfigJSON   string `gorm:"type:text" json:"config_json"`

	CreatedAt time.Time `json:"created_at"`
}

func (PipelinePluginRow) TableName() string { return "pipeline_plugin_configs" }

// NewPipelinePluginRow assembles a PipelinePluginRow for insertion, generating
// its primary key. pipelineID comes from the PipelineRow it belongs to.
func NewPipelinePluginRow(pipelineID string, position int, kind, configJSON string) PipelinePluginRow {
	return PipelinePluginRow{
		ID:         uuid.New().String(),
		PipelineID: pipelineID,
		Position:   position,
		Kind:       kind,
		ConfigJSON: configJSON,
	}
}
