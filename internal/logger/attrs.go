package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// instanceID is "<room>@<host>-<short uuid>" for agents and
// "<host>-<short uuid>" for the relay.
func instanceID(cfg Config) string {
	if cfg.InstanceID != "" {
		return cfg.InstanceID
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	id := host + "-" + uuid.NewString()[:8]
	if cfg.Room != "" {
		id = cfg.Room + "@" + id
	}
	return id
}

// commonAttr is attached to every record. room is only set for agents.
func commonAttr(cfg Config, started time.Time) []slog.Attr {
	attrs := make([]slog.Attr, 0, 6)
	attrs = append(attrs,
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("instance_id", cfg.InstanceID),
	)
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	if cfg.Room != "" {
		attrs = append(attrs, slog.String("room", cfg.Room))
	}
	return append(attrs, slog.Time("started_at", started))
}
