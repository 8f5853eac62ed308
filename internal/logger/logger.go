// Package logger wraps zap the way the teacher's cmd/server/main.go does:
// a package-level global set up once at startup and handed down to every
// component as a *zap.SugaredLogger constructor argument, rather than a
// context-threaded logger.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger
)

// Init builds the global logger, stamping every line with service/version
// fields so gateway logs are identifiable once they're mixed in with every
// other service's output in a shared log store. debug switches between a
// colorized, human-oriented development encoder and a production JSON one.
func Init(debug bool, service, version string) error {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
	}
	cfg.InitialFields = map[string]interface{}{
		"service": service,
		"version": version,
	}

	built, err := cfg.Build()
	if err != nil {
		return err
	}

	Logger = built
	Sugar = built.Sugar()
	return nil
}

// InitSilent is the fallback used when Init fails (e.g. an invalid encoder
// config): the gateway should still start and serve traffic, just without
// logging, rather than refuse to boot over a logging misconfiguration.
func InitSilent() {
	Logger = zap.NewNop()
	Sugar = Logger.Sugar()
}

// Named returns a sub-logger scoped to component, so log lines from the
// pipeline engine, guardrail engine, and HTTP server can be told apart
// without every caller repeating a "component" key by hand.
func Named(component string) *zap.SugaredLogger {
	return Sugar.Named(component)
}

func Sync() {
	if Logger != nil {
		Logger.Sync()
	}
}
