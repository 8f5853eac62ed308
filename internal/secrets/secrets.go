// Package secrets resolves the secret references that appear in provider and
// guard configuration (api keys, evaluator tokens) into plain strings the
// data plane can use, grounded on
// original_source/src/management/services/secret_resolver.rs.
package secrets

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Kind selects which backend a Secret is resolved against.
type Kind string

const (
	KindLiteral     Kind = "literal"
	KindEnvironment Kind = "environment"
	KindKubernetes  Kind = "kubernetes"
)

// Secret is a tagged reference to a value that must be resolved before it can
// be handed to a provider adapter or guard client. Only the fields relevant
// to Kind are populated.
type Secret struct {
	Kind Kind

	// Literal holds the value verbatim when Kind == KindLiteral.
	Literal string

	// EnvVar names the environment variable to read when Kind == KindEnvironment.
	EnvVar string

	// KubernetesSecretName/KubernetesSecretKey identify the secret when
	// Kind == KindKubernetes.
	KubernetesSecretName string
	KubernetesSecretKey  string
}

// LiteralSecret builds a Secret that resolves to the given value verbatim.
func LiteralSecret(value string) Secret {
	return Secret{Kind: KindLiteral, Literal: value}
}

// Resolver turns a Secret reference into its plain-text value.
type Resolver interface {
	Resolve(ctx context.Context, s Secret) (string, error)
}

// EnvResolver resolves Literal and Environment secrets directly; Kubernetes
// secrets are not yet implemented and always fail, matching the upstream
// behavior this package was ported from.
type EnvResolver struct {
	log *zap.SugaredLogger
}

// New builds an EnvResolver. log may be nil, in which case resolution
// proceeds silently.
func New(log *zap.SugaredLogger) *EnvResolver {
	return &EnvResolver{log: log}
}

func (r *EnvResolver) Resolve(ctx context.Context, s Secret) (string, error) {
	switch s.Kind {
	case KindLiteral:
		if r.log != nil {
			r.log.Warn("resolving literal secret: values are stored and logged in plaintext, encryption at rest is not yet implemented")
		}
		return s.Literal, nil
	case KindEnvironment:
		v, ok := os.LookupEnv(s.EnvVar)
		if !ok {
			return "", fmt.Errorf("environment variable '%s' not found", s.EnvVar)
		}
		return v, nil
	case KindKubernetes:
		return "", fmt.Errorf("kubernetes secret resolution not yet implemented for secret '%s' key '%s'", s.KubernetesSecretName, s.KubernetesSecretKey)
	default:
		return "", fmt.Errorf("unknown secret kind '%s'", s.Kind)
	}
}
