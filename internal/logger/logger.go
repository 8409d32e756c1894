// Package logger configures the process-wide slog logger.
package logger

import (
	"log/slog"
	"time"
)

var def *slog.Logger

// Init installs the default slog logger for the configured environment
func Init(cfg Config) {
	if cfg.Env == "" {
		cfg.Env = DetectEnv()
	}
	if cfg.Service == "" {
		cfg.Service = "rollcall"
	}
	cfg.InstanceID = instanceID(cfg)

	if cfg.Backend == "" {
		if cfg.Env == EnvDev {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	var h slog.Handler
	switch cfg.Backend {
	case BackendZap:
		h = newZapHandler(cfg)
	default:
		h = newStdHandler(cfg)
	}

	h = h.WithAttrs(commonAttr(cfg, time.Now()))

	base := slog.New(h)
	slog.SetDefault(base)
	def = base
}

// L returns the configured logger, initialising a default one on first use
func L() *slog.Logger {
	if def != nil {
		return def
	}

	Init(Config{})
	return def
}

// Component returns L() tagged with a component name
func Component(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}
