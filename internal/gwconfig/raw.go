package gwconfig

import (
	"context"
	"fmt"

	"ai-gateway/internal/secrets"
)

// RawProvider is a Provider as loaded from a config source, before its
// api_key secret reference has been resolved to a plain string.
type RawProvider struct {
	Key     string
	Type    string
	BaseURL string
	APIKey  secrets.Secret
	Params  map[string]string
}

// RawGuard is a Guard as loaded from a config source, before its api_key
// secret reference has been resolved.
type RawGuard struct {
	Name          string
	EvaluatorSlug string
	Mode          GuardMode
	APIBase       string
	APIKey        secrets.Secret
	Params        map[string]string
}

// RawConfig is the as-loaded configuration: structurally identical to
// GatewayConfig except that Provider and Guard credentials are still secret
// references. A config source produces a RawConfig; Resolve turns it into
// the immutable GatewayConfig the data plane actually serves requests from.
type RawConfig struct {
	General   GeneralConfig
	Providers []RawProvider
	Models    []ModelDefinition
	Pipelines []Pipeline
	Guards    []RawGuard
}

// Resolve walks every secret reference in raw and resolves it through r,
// producing a fully-materialized GatewayConfig. It fails closed: any
// unresolved secret fails the whole snapshot rather than publishing a config
// with a missing credential (spec.md §4.5).
func Resolve(ctx context.Context, raw RawConfig, r secrets.Resolver) (GatewayConfig, error) {
	providers := make([]Provider, 0, len(raw.Providers))
	for _, rp := range raw.Providers {
		key, err := r.Resolve(ctx, rp.APIKey)
		if err != nil {
			return GatewayConfig{}, fmt.Errorf("resolving api_key for provider '%s': %w", rp.Key, err)
		}
		providers = append(providers, Provider{
			Key:     rp.Key,
			Type:    rp.Type,
			BaseURL: rp.BaseURL,
			APIKey:  key,
			Params:  rp.Params,
		})
	}

	guards := make([]Guard, 0, len(raw.Guards))
	for _, rg := range raw.Guards {
		key, err := r.Resolve(ctx, rg.APIKey)
		if err != nil {
			return GatewayConfig{}, fmt.Errorf("resolving api_key for guard '%s': %w", rg.Name, err)
		}
		guards = append(guards, Guard{
			Name:          rg.Name,
			EvaluatorSlug: rg.EvaluatorSlug,
			Mode:          rg.Mode,
			APIBase:       rg.APIBase,
			APIKey:        key,
			Params:        rg.Params,
		})
	}

	return GatewayConfig{
		General:   raw.General,
		Providers: providers,
		Models:    raw.Models,
		Pipelines: raw.Pipelines,
		Guards:    guards,
	}, nil
}
