package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"rollcall/internal/logger"
)

// Bus drivers
const (
	BusMemory = "memory"
	BusRedis  = "redis"
	BusNATS   = "nats"
	BusWS     = "ws"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

type Logging struct {
	Env       string `mapstructure:"env"`     // dev|stage|prod
	Service   string `mapstructure:"service"` // agent|relay
	Version   string `mapstructure:"version"`
	Backend   string `mapstructure:"backend"` // std|zap
	AddSource bool   `mapstructure:"addSource"`
	Debug     bool   `mapstructure:"debug"`
}

type HTTP struct {
	Addr string `mapstructure:"addr"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Mongo struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type Postgres struct {
	DSN string `mapstructure:"dsn"`
}

type NATS struct {
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type Auth struct {
	HostUsername string        `mapstructure:"hostUsername"`
	HostPassword string        `mapstructure:"hostPassword"`
	JWTSecret    string        `mapstructure:"jwtSecret"`
	TokenTTL     time.Duration `mapstructure:"tokenTTL"`
}

type CORS struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// Relay is where the ws bus driver connects
type Relay struct {
	URL   string `mapstructure:"url"` // ws://host:port/v1/ws/rooms
	Token string `mapstructure:"token"`
}

type Agent struct {
	Room      string `mapstructure:"room"`
	Identity  string `mapstructure:"identity"`
	Name      string `mapstructure:"name"`
	Role      string `mapstructure:"role"`
	Authority bool   `mapstructure:"authority"`

	Bus   string `mapstructure:"bus"`
	Store string `mapstructure:"store"`

	TickInterval time.Duration `mapstructure:"tickInterval"`
	OrphanWindow time.Duration `mapstructure:"orphanWindow"`
	StoreTimeout time.Duration `mapstructure:"storeTimeout"`

	// sync requests are re-sent from SyncRetryInitial, doubling up to SyncRetryMax
	SyncRetry        bool          `mapstructure:"syncRetry"`
	SyncRetryInitial time.Duration `mapstructure:"syncRetryInitial"`
	SyncRetryMax     time.Duration `mapstructure:"syncRetryMax"`
}

type Config struct {
	Logging  Logging  `mapstructure:"logging"`
	HTTP     HTTP     `mapstructure:"http"`
	Redis    Redis    `mapstructure:"redis"`
	Mongo    Mongo    `mapstructure:"mongo"`
	Postgres Postgres `mapstructure:"postgres"`
	NATS     NATS     `mapstructure:"nats"`
	Auth     Auth     `mapstructure:"auth"`
	CORS     CORS     `mapstructure:"cors"`
	Relay    Relay    `mapstructure:"relay"`
	Agent    Agent    `mapstructure:"agent"`
}

// Load reads defaults, an optional .env file, the YAML config file and
// ROLLCALL_* environment overrides, in that order of precedence (last wins).
// An empty path falls back to CONFIG_PATH, then ./config/config.yaml.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ROLLCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = filepath.Join("config", "config.yaml")
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.env", "")
	v.SetDefault("logging.service", "")
	v.SetDefault("logging.version", "v0.1.0")
	v.SetDefault("logging.backend", "")
	v.SetDefault("logging.addSource", false)
	v.SetDefault("logging.debug", false)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "rollcall")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.user", "")
	v.SetDefault("nats.password", "")

	v.SetDefault("auth.hostUsername", "admin")
	v.SetDefault("auth.hostPassword", "")
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenTTL", 12*time.Hour)

	v.SetDefault("cors.allowedOrigins", []string{"*"})

	v.SetDefault("relay.url", "ws://localhost:8080/v1/ws/rooms")
	v.SetDefault("relay.token", "")

	v.SetDefault("agent.room", "")
	v.SetDefault("agent.identity", "")
	v.SetDefault("agent.name", "")
	v.SetDefault("agent.role", "student")
	v.SetDefault("agent.authority", false)
	v.SetDefault("agent.bus", BusMemory)
	v.SetDefault("agent.store", StoreMemory)
	v.SetDefault("agent.tickInterval", 60*time.Second)
	v.SetDefault("agent.orphanWindow", 30*time.Second)
	v.SetDefault("agent.storeTimeout", 2*time.Second)
	v.SetDefault("agent.syncRetry", false)
	v.SetDefault("agent.syncRetryInitial", time.Second)
	v.SetDefault("agent.syncRetryMax", 2*time.Minute)
}

func (c *Config) applyDefaults() {
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Agent.TickInterval <= 0 {
		c.Agent.TickInterval = 60 * time.Second
	}
	if c.Agent.OrphanWindow <= 0 {
		c.Agent.OrphanWindow = 30 * time.Second
	}
	if c.Agent.StoreTimeout <= 0 {
		c.Agent.StoreTimeout = 2 * time.Second
	}
	if c.Agent.Name == "" {
		c.Agent.Name = c.Agent.Identity
	}
}

// ValidateAgent checks the settings cmd/agent needs
func (c *Config) ValidateAgent() error {
	if c.Agent.Room == "" {
		return errors.New("agent.room is required")
	}
	if c.Agent.Identity == "" {
		return errors.New("agent.identity is required")
	}
	switch c.Agent.Bus {
	case BusMemory, BusRedis, BusNATS:
	case BusWS:
		if c.Relay.URL == "" {
			return errors.New("relay.url is required for the ws bus")
		}
	default:
		return fmt.Errorf("agent.bus: unknown driver %q", c.Agent.Bus)
	}
	switch c.Agent.Store {
	case StoreMemory, StoreRedis, StoreMongo:
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("agent.store: unknown driver %q", c.Agent.Store)
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "rollcall-agent"
	}
	return nil
}

// ValidateRelay checks the settings cmd/server needs
func (c *Config) ValidateRelay() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret is required")
	}
	if c.Auth.HostPassword == "" {
		return errors.New("auth.hostPassword is required")
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "rollcall-relay"
	}
	return nil
}

// loadDotEnv loads config/.env.<APP_ENV> when present
func loadDotEnv() error {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if env == "" {
		env = "dev"
	}
	p := filepath.Join("config", ".env."+env)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", p, err)
	}
	if err := godotenv.Load(p); err != nil {
		return fmt.Errorf("load %s: %w", p, err)
	}
	return nil
}

// LoggerConfig maps the logging section onto logger.Init's options
func (l Logging) LoggerConfig() logger.Config {
	lc := logger.Config{
		Service:   l.Service,
		Version:   l.Version,
		Backend:   logger.Backend(l.Backend),
		Debug:     l.Debug,
		AddSource: l.AddSource,
		Level:     slog.LevelInfo,
	}
	if l.Env != "" {
		lc.Env = logger.ParseEnv(l.Env)
	}
	if l.Debug {
		lc.Level = slog.LevelDebug
	}
	return lc
}
