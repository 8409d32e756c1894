package logger

import (
	"os"
	"strings"
)

type Env string

const (
	EnvDev   Env = "dev"
	EnvStage Env = "stage"
	EnvProd  Env = "prod"
)

// ParseEnv maps free-form names ("production", "staging", ...) onto an Env.
// Anything unknown is dev.
func ParseEnv(raw string) Env {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production":
		return EnvProd
	case "stage", "staging", "preprod":
		return EnvStage
	default:
		return EnvDev
	}
}

// DetectEnv prefers ROLLCALL_ENV and falls back to APP_ENV
func DetectEnv() Env {
	if v, ok := os.LookupEnv("ROLLCALL_ENV"); ok {
		return ParseEnv(v)
	}
	return ParseEnv(os.Getenv("APP_ENV"))
}
