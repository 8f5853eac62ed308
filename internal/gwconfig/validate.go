package gwconfig

import "fmt"

// Validate checks every cross-reference in cfg and returns every violation it
// finds, rather than stopping at the first — a config with five broken
// references should report five errors in one rejection, not one error per
// fix-and-resubmit cycle. Grounded on
// original_source/src/config/validation.rs.
func Validate(cfg *GatewayConfig) []error {
	var errs []error

	providerKeys := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if providerKeys[p.Key] {
			errs = append(errs, fmt.Errorf("duplicate provider key '%s'", p.Key))
		}
		providerKeys[p.Key] = true
	}

	modelKeys := make(map[string]bool, len(cfg.Models))
	for _, m := range cfg.Models {
		if modelKeys[m.Key] {
			errs = append(errs, fmt.Errorf("duplicate model key '%s'", m.Key))
		}
		modelKeys[m.Key] = true

		if !providerKeys[m.Provider] {
			errs = append(errs, fmt.Errorf("model '%s' references non-existent provider '%s'.", m.Key, m.Provider))
		}
	}

	guardNames := make(map[string]bool, len(cfg.Guards))
	for _, g := range cfg.Guards {
		if guardNames[g.Name] {
			errs = append(errs, fmt.Errorf("duplicate guard name '%s'", g.Name))
		}
		guardNames[g.Name] = true

		if g.Mode != GuardPreCall && g.Mode != GuardPostCall {
			errs = append(errs, fmt.Errorf("guard '%s' has unknown mode '%s'", g.Name, g.Mode))
		}
	}

	pipelineNames := make(map[string]bool, len(cfg.Pipelines))
	for _, p := range cfg.Pipelines {
		if pipelineNames[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate pipeline name '%s'", p.Name))
		}
		pipelineNames[p.Name] = true

		for _, plugin := range p.Plugins {
			switch plugin.Kind {
			case PluginModelRouter:
				if plugin.ModelRouter == nil || len(plugin.ModelRouter.Models) == 0 {
					errs = append(errs, fmt.Errorf("pipeline '%s' has a model_router plugin with no candidate models", p.Name))
					continue
				}
				for _, modelKey := range plugin.ModelRouter.Models {
					if !modelKeys[modelKey] {
						errs = append(errs, fmt.Errorf("pipeline '%s's ModelRouter references non-existent model '%s'.", p.Name, modelKey))
					}
				}
			case PluginGuardrails:
				if plugin.Guardrails == nil {
					errs = append(errs, fmt.Errorf("pipeline '%s' has a guardrails plugin with no configuration", p.Name))
					continue
				}
				for _, guardName := range plugin.Guardrails.Guards {
					if !guardNames[guardName] {
						errs = append(errs, fmt.Errorf("pipeline '%s' references non-existent guard '%s'", p.Name, guardName))
					}
				}
			case PluginLogging, PluginTracing:
				// no cross-references to check
			default:
				errs = append(errs, fmt.Errorf("pipeline '%s' has a plugin of unknown kind '%s'", p.Name, plugin.Kind))
			}
		}
	}

	return errs
}
