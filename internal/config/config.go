// Package config loads the server configuration from defaults, an optional
// YAML file, MEDGATE_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/and161185/medgate/internal/model"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverLevelDB  = "leveldb"
)

const envPrefix = "MEDGATE"

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type StoreConfig struct {
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	Path    string `mapstructure:"path"`
	Migrate bool   `mapstructure:"migrate"`
}

type AuthConfig struct {
	JWTKey string `mapstructure:"jwt_key"`
}

type TLSConfig struct {
	Cert string `mapstructure:"cert"`
	Key  string `mapstructure:"key"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type AuditConfig struct {
	Stream   string        `mapstructure:"stream"`
	Interval time.Duration `mapstructure:"interval"`
	Batch    int           `mapstructure:"batch"`
	MaxLen   int64         `mapstructure:"max_len"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the complete server configuration.
type Config struct {
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Store     StoreConfig     `mapstructure:"store"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Owner     string          `mapstructure:"owner"`
	TLS       TLSConfig       `mapstructure:"tls"`
	Dev       bool            `mapstructure:"dev"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Audit     AuditConfig     `mapstructure:"audit"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Log       LogConfig       `mapstructure:"log"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"grpc-addr":       "grpc.addr",
	"http-addr":       "http.addr",
	"store":           "store.driver",
	"dsn":             "store.dsn",
	"path":            "store.path",
	"migrate":         "store.migrate",
	"jwt-key":         "auth.jwt_key",
	"owner":           "owner",
	"tls-cert":        "tls.cert",
	"tls-key":         "tls.key",
	"dev":             "dev",
	"redis-url":       "redis.url",
	"audit-stream":    "audit.stream",
	"audit-interval":  "audit.interval",
	"audit-batch":     "audit.batch",
	"audit-max-len":   "audit.max_len",
	"ratelimit-rps":   "ratelimit.rps",
	"ratelimit-burst": "ratelimit.burst",
	"log-level":       "log.level",
}

// Flags returns the server flag set. Defaults live in viper, not here.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("medgate-server", pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.String("grpc-addr", "", "gRPC listen address")
	fs.String("http-addr", "", "REST listen address (empty disables)")
	fs.String("store", "", "store driver: memory, postgres or leveldb")
	fs.String("dsn", "", "PostgreSQL DSN")
	fs.String("path", "", "LevelDB directory")
	fs.Bool("migrate", false, "apply migrations on start (postgres)")
	fs.String("jwt-key", "", "HS256 signing key (required)")
	fs.String("owner", "", "platform owner identity (required)")
	fs.String("tls-cert", "", "TLS certificate (PEM)")
	fs.String("tls-key", "", "TLS private key (PEM)")
	fs.Bool("dev", false, "development logging and server reflection")
	fs.String("redis-url", "", "Redis URL for the audit relay (empty disables)")
	fs.String("audit-stream", "", "Redis stream receiving audit events")
	fs.Duration("audit-interval", 0, "audit relay poll interval")
	fs.Int("audit-batch", 0, "audit relay batch size")
	fs.Int64("audit-max-len", 0, "approximate stream length cap (0 keeps everything)")
	fs.Float64("ratelimit-rps", 0, "requests per second per caller (0 disables)")
	fs.Int("ratelimit-burst", 0, "rate limiter burst")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("grpc.addr", ":8443")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.migrate", true)
	v.SetDefault("audit.stream", "medgate:audit")
	v.SetDefault("audit.interval", time.Second)
	v.SetDefault("audit.batch", 100)
	v.SetDefault("audit.max_len", 100000)
	v.SetDefault("ratelimit.rps", 50)
	v.SetDefault("ratelimit.burst", 100)
	v.SetDefault("log.level", "info")
}

// Load parses args and resolves the configuration. It does not validate.
func Load(args []string) (*Config, error) {
	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return FromFlags(fs)
}

// FromFlags resolves the configuration from an already parsed flag set.
func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind %s: %w", name, err)
			}
		}
	}

	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var problems []error
	if c.Auth.JWTKey == "" {
		problems = append(problems, errors.New("auth.jwt_key is required"))
	}
	if c.Owner == "" {
		problems = append(problems, errors.New("owner is required"))
	} else if _, err := c.OwnerID(); err != nil {
		problems = append(problems, err)
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			problems = append(problems, errors.New("store.dsn is required for postgres"))
		}
	case DriverLevelDB:
		if c.Store.Path == "" {
			problems = append(problems, errors.New("store.path is required for leveldb"))
		}
	default:
		problems = append(problems, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		problems = append(problems, errors.New("tls.cert and tls.key must be set together"))
	}
	if c.Redis.URL != "" {
		if c.Audit.Batch <= 0 {
			problems = append(problems, errors.New("audit.batch must be positive"))
		}
		if c.Audit.Interval <= 0 {
			problems = append(problems, errors.New("audit.interval must be positive"))
		}
	}
	return errors.Join(problems...)
}

// OwnerID parses the owner identity.
func (c *Config) OwnerID() (model.Identity, error) {
	id, err := model.ParseIdentity(c.Owner)
	if err != nil || id == model.NilIdentity {
		return model.NilIdentity, fmt.Errorf("owner %q is not a valid identity", c.Owner)
	}
	return id, nil
}

// TLSEnabled reports whether both TLS files are configured.
func (c *Config) TLSEnabled() bool { return c.TLS.Cert != "" && c.TLS.Key != "" }
