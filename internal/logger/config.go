package logger

import "log/slog"

type Backend string

const (
	BackendStd Backend = "std" // text handler
	BackendZap Backend = "zap" // slog-zap, JSON
)

type Config struct {
	Service    string
	Version    string
	InstanceID string
	Room       string // agents only

	Level   slog.Level
	Env     Env
	Backend Backend // default: zap outside dev
	Debug   bool

	SampleInitial    int
	SampleThereafter int

	AddSource bool
}
