package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Store   StoreConfig   `mapstructure:"store"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Log     LogConfig     `mapstructure:"log"`
	Flows   FlowsConfig   `mapstructure:"flows"`
	UI      UIConfig      `mapstructure:"ui"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// BackendConfig locates the RPC backend. An empty URL selects the in-memory backend.
type BackendConfig struct {
	URL         string        `mapstructure:"url"`
	APIKey      string        `mapstructure:"api_key"`
	AccessToken string        `mapstructure:"access_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// RedisConfig holds the snapshot cache settings. An empty Addr keeps snapshots in memory.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
	Lock     bool          `mapstructure:"lock"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// StoreConfig selects a snapshot directory when Redis is not configured and the keys
// sealing snapshots at rest. Keys are base64-encoded 32-byte AES keys.
type StoreConfig struct {
	Dir           string   `mapstructure:"dir"`
	EncryptionKey string   `mapstructure:"encryption_key"`
	FallbackKeys  []string `mapstructure:"fallback_keys"`
}

// HTTPConfig holds the server settings.
type HTTPConfig struct {
	Addr        string `mapstructure:"addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FlowsConfig locates flow definition files loaded next to the built-in flows.
type FlowsConfig struct {
	Dir string `mapstructure:"dir"`
}

// UIConfig holds terminal runner settings.
type UIConfig struct {
	AutoAdvanceDelay time.Duration `mapstructure:"auto_advance_delay"`
	Color            bool          `mapstructure:"color"`
}

// TracingConfig enables the stdout span exporter.
type TracingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Output  string `mapstructure:"output"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":   "log.level",
	"log-format":  "log.format",
	"flows":       "flows.dir",
	"addr":        "http.addr",
	"backend-url": "backend.url",
	"redis-addr":  "redis.addr",
	"store-dir":   "store.dir",
	"trace":       "tracing.enabled",
}

// Load reads configuration from defaults, an optional file, env and flags, in increasing
// precedence. Env var overrides use prefix STEPFLOW_ (e.g. STEPFLOW_BACKEND_URL).
// With an empty path, stepflow.yaml is looked up in the working directory and in
// ~/.config/stepflow; a missing file is not an error there.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()

	v.SetDefault("backend.url", "")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.access_token", "")
	v.SetDefault("backend.timeout", 10*time.Second)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "stepflow:instance:")
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("redis.lock", false)
	v.SetDefault("redis.lock_ttl", 30*time.Second)
	v.SetDefault("store.dir", "")
	v.SetDefault("store.encryption_key", "")
	v.SetDefault("store.fallback_keys", []string{})
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.metrics_addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("flows.dir", "")
	v.SetDefault("ui.auto_advance_delay", 400*time.Millisecond)
	v.SetDefault("ui.color", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.output", "")

	v.SetConfigType("yaml")
	if path == "" {
		path = os.Getenv("STEPFLOW_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "stepflow"))
		}
		v.SetConfigName("stepflow")
	}

	v.SetEnvPrefix("STEPFLOW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}
