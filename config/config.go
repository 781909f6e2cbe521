package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "DELIVERY"

// Cursor and source backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Reader start positions used when no cursor has been persisted yet.
const (
	StartFromLatest    = "latest"
	StartFromBeginning = "beginning"
)

type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Log      LogConfig      `mapstructure:"log"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Source   SourceConfig   `mapstructure:"source"`
	Cursor   CursorConfig   `mapstructure:"cursor"`
	Reader   ReaderConfig   `mapstructure:"reader"`
	Channel  ChannelConfig  `mapstructure:"channel"`
	Pusher   PusherConfig   `mapstructure:"pusher"`
	Registry RegistryConfig `mapstructure:"registry"`
	WS       WSConfig       `mapstructure:"ws"`
	Job      JobConfig      `mapstructure:"job"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

type ServiceConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	RecipientHeader string        `mapstructure:"recipient_header"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
}

type DatabaseConfig struct {
	URL         string `mapstructure:"url"`
	EventsTable string `mapstructure:"events_table"`
	CursorTable string `mapstructure:"cursor_table"`
	Migrate     bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SourceConfig struct {
	Backend string        `mapstructure:"backend"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

type CursorConfig struct {
	Backend string `mapstructure:"backend"`
	Key     string `mapstructure:"key"`
}

type ReaderConfig struct {
	Tick      time.Duration `mapstructure:"tick"`
	Cycles    int           `mapstructure:"cycles"`
	BatchSize int           `mapstructure:"batch_size"`
	StartFrom string        `mapstructure:"start_from"`
}

type ChannelConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type PusherConfig struct {
	Workers    int `mapstructure:"workers"`
	DedupeSize int `mapstructure:"dedupe_size"`
}

type RegistryConfig struct {
	SessionCapacity int `mapstructure:"session_capacity"`
}

type WSConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
}

type JobConfig struct {
	Name     string        `mapstructure:"name"`
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
	RetryMax int           `mapstructure:"retry_max"`
	Breaker  BreakerConfig `mapstructure:"breaker"`
}

type ShutdownConfig struct {
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	StopGrace    time.Duration `mapstructure:"stop_grace"`
}

type PubSubConfig struct {
	AMQPURL     string `mapstructure:"amqp_url"`
	ReportTopic string `mapstructure:"report_topic"`
}

// StopTimeout is the fx stop budget: the job drain plus a grace period for the rest.
func (c *Config) StopTimeout() time.Duration {
	return c.Shutdown.DrainTimeout + c.Shutdown.StopGrace
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "delivery-service")
	v.SetDefault("service.version", "0.0.0")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.recipient_header", "X-Recipient-Id")
	v.SetDefault("http.read_timeout", 10*time.Second)

	// Keys without a meaningful default are still registered so env overrides reach Unmarshal.
	v.SetDefault("database.url", "")
	v.SetDefault("database.events_table", "notifications")
	v.SetDefault("database.cursor_table", "delivery_cursors")
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("source.backend", BackendMemory)
	v.SetDefault("source.breaker.max_failures", 5)
	v.SetDefault("source.breaker.open_timeout", 30*time.Second)

	v.SetDefault("cursor.backend", BackendMemory)
	v.SetDefault("cursor.key", "notifications")

	v.SetDefault("reader.tick", 5*time.Second)
	v.SetDefault("reader.cycles", 30)
	v.SetDefault("reader.batch_size", 1000)
	v.SetDefault("reader.start_from", StartFromLatest)

	v.SetDefault("channel.capacity", 50_000)

	v.SetDefault("pusher.workers", 1)
	v.SetDefault("pusher.dedupe_size", 10_000)

	v.SetDefault("registry.session_capacity", 2)

	v.SetDefault("ws.ping_interval", 30*time.Second)
	v.SetDefault("ws.pong_wait", 60*time.Second)
	v.SetDefault("ws.write_wait", 10*time.Second)
	v.SetDefault("ws.poll_timeout", 30*time.Second)

	v.SetDefault("job.name", "external-sync")
	v.SetDefault("job.enabled", true)
	v.SetDefault("job.schedule", "@every 1m")
	v.SetDefault("job.endpoint", "")
	v.SetDefault("job.timeout", 0)
	v.SetDefault("job.retry_max", 2)
	v.SetDefault("job.breaker.max_failures", 3)
	v.SetDefault("job.breaker.open_timeout", time.Minute)

	v.SetDefault("shutdown.drain_timeout", 5*time.Minute)
	v.SetDefault("shutdown.stop_grace", 30*time.Second)

	v.SetDefault("pubsub.amqp_url", "")
	v.SetDefault("pubsub.report_topic", "marketplace.sync.reports")
}

// Loader keeps the viper instance alive so the file can be watched after load.
type Loader struct {
	v *viper.Viper
}

// LoadConfig reads defaults, an optional .env, an optional config file and
// DELIVERY_* environment overrides, in increasing priority.
func LoadConfig(path string) (*Config, *Loader, error) {
	// Optional: load local .env for development. Missing file is fine.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, &Loader{v: v}, nil
}

// BindFlags lets command line flags override file and env values.
func (l *Loader) BindFlags(flags *pflag.FlagSet) error {
	return l.v.BindPFlags(flags)
}

// Reload decodes the current viper state again.
func (l *Loader) Reload() (*Config, error) {
	return decode(l.v)
}

// Watch calls fn with the freshly decoded config on every config file change.
// It is a no-op when no file was loaded.
func (l *Loader) Watch(logger *slog.Logger, fn func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(l.v)
		if err != nil {
			logger.Warn("[CONFIG] reload rejected", slog.String("file", e.Name), slog.Any("err", err))
			return
		}
		logger.Info("[CONFIG] reloaded", slog.String("file", e.Name))
		fn(cfg)
	})
	l.v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Source.Backend {
	case BackendMemory, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("source.backend: unsupported %q", c.Source.Backend))
	}
	switch c.Cursor.Backend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("cursor.backend: unsupported %q", c.Cursor.Backend))
	}
	if (c.Source.Backend == BackendPostgres || c.Cursor.Backend == BackendPostgres) && c.Database.URL == "" {
		errs = append(errs, errors.New("database.url: required by the postgres backend"))
	}
	switch c.Reader.StartFrom {
	case StartFromLatest, StartFromBeginning:
	default:
		errs = append(errs, fmt.Errorf("reader.start_from: unsupported %q", c.Reader.StartFrom))
	}
	if c.Reader.Tick <= 0 {
		errs = append(errs, errors.New("reader.tick: must be positive"))
	}
	if c.Reader.Cycles < 1 {
		errs = append(errs, errors.New("reader.cycles: must be at least 1"))
	}
	if c.Reader.BatchSize < 1 {
		errs = append(errs, errors.New("reader.batch_size: must be at least 1"))
	}
	if c.Channel.Capacity < 1 {
		errs = append(errs, errors.New("channel.capacity: must be at least 1"))
	}
	// A batch that cannot fit the channel commits only if pushers happen to keep up mid-batch.
	if c.Reader.BatchSize > c.Channel.Capacity {
		errs = append(errs, fmt.Errorf("reader.batch_size: %d exceeds channel.capacity %d", c.Reader.BatchSize, c.Channel.Capacity))
	}
	if c.Pusher.Workers < 1 {
		errs = append(errs, errors.New("pusher.workers: must be at least 1"))
	}
	if c.WS.PongWait <= c.WS.PingInterval {
		errs = append(errs, errors.New("ws.pong_wait: must exceed ws.ping_interval"))
	}
	if c.Job.Enabled && c.Job.Schedule == "" {
		errs = append(errs, errors.New("job.schedule: required when the job is enabled"))
	}
	if c.Shutdown.DrainTimeout <= 0 {
		errs = append(errs, errors.New("shutdown.drain_timeout: must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps the textual level to slog; unknown values fall back to info.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
