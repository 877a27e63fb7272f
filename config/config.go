package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/viper"

	"github.com/zhikook/chililog-server/engine"
	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/pkg/retry"
	"github.com/zhikook/chililog-server/pkg/security"
	"github.com/zhikook/chililog-server/queue"
)

// EnvPrefix prefixes environment overrides: nats.url is read from CHILILOG_NATS_URL
const EnvPrefix = "CHILILOG"

// Storage backends
const (
	BackendKV     = "kv"
	BackendSQLite = "sqlite"
)

// Config is the process configuration. Repository configs are data and live
// in the repositories bucket instead.
type Config struct {
	NATS         NATSConfig         `mapstructure:"nats" json:"nats"`
	Storage      StorageConfig      `mapstructure:"storage" json:"storage"`
	Auth         AuthConfig         `mapstructure:"auth" json:"auth"`
	HTTP         HTTPConfig         `mapstructure:"http" json:"http"`
	Repositories RepositoriesConfig `mapstructure:"repositories" json:"repositories"`
	Queue        QueueConfig        `mapstructure:"queue" json:"queue"`
	Log          LogConfig          `mapstructure:"log" json:"log"`
}

// NATSConfig defines the broker connection
type NATSConfig struct {
	URL            string        `mapstructure:"url" json:"url"`
	Username       string        `mapstructure:"username" json:"username,omitempty"`
	Password       string        `mapstructure:"password" json:"password,omitempty"`
	Token          string        `mapstructure:"token" json:"token,omitempty"`
	ClientName     string        `mapstructure:"client_name" json:"client_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects" json:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait" json:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout" json:"drain_timeout"`
	Replicas       int           `mapstructure:"replicas" json:"replicas"`

	TLS security.ClientTLSConfig `mapstructure:"tls" json:"tls"`
}

// StorageConfig selects the entry store
type StorageConfig struct {
	Backend    string `mapstructure:"backend" json:"backend"`
	SQLitePath string `mapstructure:"sqlite_path" json:"sqlite_path,omitempty"`
	// PoolSize bounds concurrent store operations across all workers
	PoolSize int `mapstructure:"pool_size" json:"pool_size"`
}

// AuthConfig tunes credential checks
type AuthConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	// TokenSecret signs token credentials; tokens are refused when empty
	TokenSecret string `mapstructure:"token_secret" json:"token_secret,omitempty"`
	UsersBucket string `mapstructure:"users_bucket" json:"users_bucket"`
}

// HTTPConfig defines the publish/subscribe listener
type HTTPConfig struct {
	ListenAddress   string        `mapstructure:"listen_address" json:"listen_address"`
	PublishPath     string        `mapstructure:"publish_path" json:"publish_path"`
	WebSocketPath   string        `mapstructure:"websocket_path" json:"websocket_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	TLS security.ServerTLSConfig `mapstructure:"tls" json:"tls"`
}

// RepositoriesConfig locates repository configs
type RepositoriesConfig struct {
	Bucket   string `mapstructure:"bucket" json:"bucket"`
	SeedFile string `mapstructure:"seed_file" json:"seed_file,omitempty"`
	// Watch reloads repositories when the bucket changes
	Watch bool `mapstructure:"watch" json:"watch"`
}

// QueueConfig tunes storage workers and redelivery
type QueueConfig struct {
	PollTimeout           time.Duration `mapstructure:"poll_timeout" json:"poll_timeout"`
	RedeliveryMaxAttempts int           `mapstructure:"redelivery_max_attempts" json:"redelivery_max_attempts"`
	RedeliveryDelay       time.Duration `mapstructure:"redelivery_delay" json:"redelivery_delay"`
	AckWait               time.Duration `mapstructure:"ack_wait" json:"ack_wait"`
	DeadLetterRetention   time.Duration `mapstructure:"dead_letter_retention" json:"dead_letter_retention"`
}

// LogConfig selects the process logger
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	qs := queue.DefaultSettings()
	es := engine.DefaultSettings()
	return &Config{
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			ClientName:     "chililog-server",
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
			ConnectTimeout: 5 * time.Second,
			DrainTimeout:   30 * time.Second,
			Replicas:       1,
		},
		Storage: StorageConfig{
			Backend:    BackendKV,
			SQLitePath: "chililog.db",
			PoolSize:   8,
		},
		Auth: AuthConfig{
			CacheTTL:    30 * time.Second,
			UsersBucket: "chililog_users",
		},
		HTTP: HTTPConfig{
			ListenAddress:   ":61615",
			PublishPath:     "/publish",
			WebSocketPath:   "/websocket",
			ShutdownTimeout: 10 * time.Second,
		},
		Repositories: RepositoriesConfig{
			Bucket: "chililog_repositories",
			Watch:  true,
		},
		Queue: QueueConfig{
			PollTimeout:           es.PollTimeout,
			RedeliveryMaxAttempts: qs.RedeliveryMaxAttempts,
			RedeliveryDelay:       qs.RedeliveryDelay,
			AckWait:               qs.AckWait,
			DeadLetterRetention:   qs.DeadLetterRetention,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (YAML or JSON, optional) over the defaults and applies
// CHILILOG_* environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		data, err := safeReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read "+path)
		}
		v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse "+path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.username", d.NATS.Username)
	v.SetDefault("nats.password", d.NATS.Password)
	v.SetDefault("nats.token", d.NATS.Token)
	v.SetDefault("nats.client_name", d.NATS.ClientName)
	v.SetDefault("nats.max_reconnects", d.NATS.MaxReconnects)
	v.SetDefault("nats.reconnect_wait", d.NATS.ReconnectWait)
	v.SetDefault("nats.connect_timeout", d.NATS.ConnectTimeout)
	v.SetDefault("nats.drain_timeout", d.NATS.DrainTimeout)
	v.SetDefault("nats.replicas", d.NATS.Replicas)
	v.SetDefault("nats.tls.enabled", d.NATS.TLS.Enabled)
	v.SetDefault("nats.tls.insecure_skip_verify", d.NATS.TLS.InsecureSkipVerify)
	v.SetDefault("nats.tls.min_version", d.NATS.TLS.MinVersion)
	v.SetDefault("nats.tls.cert_file", d.NATS.TLS.CertFile)
	v.SetDefault("nats.tls.key_file", d.NATS.TLS.KeyFile)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.pool_size", d.Storage.PoolSize)

	v.SetDefault("auth.cache_ttl", d.Auth.CacheTTL)
	v.SetDefault("auth.token_secret", d.Auth.TokenSecret)
	v.SetDefault("auth.users_bucket", d.Auth.UsersBucket)

	v.SetDefault("http.listen_address", d.HTTP.ListenAddress)
	v.SetDefault("http.publish_path", d.HTTP.PublishPath)
	v.SetDefault("http.websocket_path", d.HTTP.WebSocketPath)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)
	v.SetDefault("http.tls.enabled", d.HTTP.TLS.Enabled)
	v.SetDefault("http.tls.cert_file", d.HTTP.TLS.CertFile)
	v.SetDefault("http.tls.key_file", d.HTTP.TLS.KeyFile)
	v.SetDefault("http.tls.min_version", d.HTTP.TLS.MinVersion)
	v.SetDefault("http.tls.require_client_cert", d.HTTP.TLS.RequireClientCert)

	v.SetDefault("repositories.bucket", d.Repositories.Bucket)
	v.SetDefault("repositories.seed_file", d.Repositories.SeedFile)
	v.SetDefault("repositories.watch", d.Repositories.Watch)

	v.SetDefault("queue.poll_timeout", d.Queue.PollTimeout)
	v.SetDefault("queue.redelivery_max_attempts", d.Queue.RedeliveryMaxAttempts)
	v.SetDefault("queue.redelivery_delay", d.Queue.RedeliveryDelay)
	v.SetDefault("queue.ack_wait", d.Queue.AckWait)
	v.SetDefault("queue.dead_letter_retention", d.Queue.DeadLetterRetention)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate checks the configuration. Failures wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.NATS.URL == "":
		return invalid("nats.url is required")
	case c.NATS.Replicas < 1:
		return invalid("nats.replicas must be at least 1")
	case c.Storage.Backend != BackendKV && c.Storage.Backend != BackendSQLite:
		return invalid(fmt.Sprintf("storage.backend %q must be %q or %q", c.Storage.Backend, BackendKV, BackendSQLite))
	case c.Storage.Backend == BackendSQLite && c.Storage.SQLitePath == "":
		return invalid("storage.sqlite_path is required for the sqlite backend")
	case c.Storage.PoolSize < 1:
		return invalid("storage.pool_size must be at least 1")
	case c.Auth.CacheTTL < 0:
		return invalid("auth.cache_ttl cannot be negative")
	case c.Auth.TokenSecret != "" && len(c.Auth.TokenSecret) < 16:
		return invalid("auth.token_secret must be at least 16 characters")
	case c.Auth.UsersBucket == "":
		return invalid("auth.users_bucket is required")
	case c.HTTP.ListenAddress == "":
		return invalid("http.listen_address is required")
	case !strings.HasPrefix(c.HTTP.PublishPath, "/"), !strings.HasPrefix(c.HTTP.WebSocketPath, "/"):
		return invalid("http paths must start with '/'")
	case c.HTTP.PublishPath == c.HTTP.WebSocketPath:
		return invalid("http.publish_path and http.websocket_path must differ")
	case c.HTTP.TLS.Enabled && (c.HTTP.TLS.CertFile == "" || c.HTTP.TLS.KeyFile == ""):
		return invalid("http.tls requires cert_file and key_file")
	case !validTLSVersion(c.HTTP.TLS.MinVersion), !validTLSVersion(c.NATS.TLS.MinVersion):
		return invalid("tls min_version must be 1.2 or 1.3")
	case c.Repositories.Bucket == "":
		return invalid("repositories.bucket is required")
	case c.Queue.PollTimeout <= 0:
		return invalid("queue.poll_timeout must be positive")
	case c.Queue.RedeliveryMaxAttempts == 0 || c.Queue.RedeliveryMaxAttempts < -1:
		return invalid("queue.redelivery_max_attempts must be positive or -1")
	case c.Queue.RedeliveryDelay < 0:
		return invalid("queue.redelivery_delay cannot be negative")
	case c.Queue.AckWait <= 0:
		return invalid("queue.ack_wait must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid(fmt.Sprintf("log.format %q must be json or text", c.Log.Format))
	}
	return nil
}

func validTLSVersion(v string) bool {
	return v == "" || v == "1.2" || v == "1.3"
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "check configuration")
}

// QueueSettings converts the queue section for the broker
func (c *Config) QueueSettings() queue.Settings {
	s := queue.DefaultSettings()
	s.RedeliveryMaxAttempts = c.Queue.RedeliveryMaxAttempts
	s.RedeliveryDelay = c.Queue.RedeliveryDelay
	s.AckWait = c.Queue.AckWait
	s.DeadLetterRetention = c.Queue.DeadLetterRetention
	s.Replicas = c.NATS.Replicas
	s.ProvisionRetry = retry.Persistent()
	return s
}

// EngineSettings converts the queue section for storage workers
func (c *Config) EngineSettings() engine.Settings {
	return engine.Settings{
		PollTimeout:     c.Queue.PollTimeout,
		RedeliveryDelay: c.Queue.RedeliveryDelay,
	}
}

// String renders the configuration as JSON with secrets masked
func (c *Config) String() string {
	masked := *c
	for _, s := range []*string{&masked.NATS.Password, &masked.NATS.Token, &masked.Auth.TokenSecret} {
		if *s != "" {
			*s = "[REDACTED]"
		}
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}
