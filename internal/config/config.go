package config

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/viper"
)

// Config is loaded from an optional .env file and the environment.
// Tags used:
// - mapstructure: the environment key
// - default: value set when the key is missing
// - required: "true" fails Load when the value is zero
type Config struct {
	Environment string `mapstructure:"APP_ENV" default:"development"`
	LogLevel    string `mapstructure:"LOG_LEVEL" default:"info"`

	Log      LogConfig      `mapstructure:",squash"`
	Database DatabaseConfig `mapstructure:",squash"`
	Auth     AuthConfig     `mapstructure:",squash"`
	Servers  ServerConfig   `mapstructure:",squash"`
	Outbox   OutboxConfig   `mapstructure:",squash"`
	Ingest   IngestConfig   `mapstructure:",squash"`
	Session  SessionConfig  `mapstructure:",squash"`
	Tracing  TracingConfig  `mapstructure:",squash"`
}

type LogConfig struct {
	FilePath   string `mapstructure:"LOG_FILE_PATH"`
	MaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB" default:"100"`
	MaxBackups int    `mapstructure:"LOG_MAX_BACKUPS" default:"5"`
	MaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS" default:"14"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"DATABASE_URL" required:"true"`
	MigrateOnStart bool   `mapstructure:"MIGRATE_ON_START" default:"true"`
	MigrationsDir  string `mapstructure:"MIGRATIONS_DIR" default:"migrations"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"JWT_SECRET"`
	JWTTTL    time.Duration `mapstructure:"JWT_TTL" default:"1h"`
}

type ServerConfig struct {
	HTTPAddr   string `mapstructure:"HTTP_ADDR" default:":8080"`
	GRPCAddr   string `mapstructure:"GRPC_ADDR" default:":9090"`
	ThriftAddr string `mapstructure:"THRIFT_ADDR" default:":9091"`
}

type OutboxConfig struct {
	Enabled      bool          `mapstructure:"OUTBOX_ENABLED" default:"true"`
	PollInterval time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL" default:"1s"`
	BatchSize    int           `mapstructure:"OUTBOX_BATCH_SIZE" default:"50"`
	NATSURL      string        `mapstructure:"NATS_URL" default:"nats://127.0.0.1:4222"`
	NATSSubject  string        `mapstructure:"NATS_SUBJECT" default:"fleet.events"`
}

// IngestConfig drives the validation filter and the ingestion coordinator.
type IngestConfig struct {
	MaxAccuracyMeters            float64       `mapstructure:"MAX_ACCURACY_METERS" default:"50"`
	MaxSpeedKmh                  float64       `mapstructure:"MAX_SPEED_KMH" default:"150"`
	RejectNullIsland             bool          `mapstructure:"REJECT_NULL_ISLAND" default:"true"`
	MaxGPSAge                    time.Duration `mapstructure:"MAX_GPS_AGE" default:"5m"`
	LocationUpdateCooldown       time.Duration `mapstructure:"LOCATION_UPDATE_COOLDOWN" default:"5s"`
	BatchSize                    int           `mapstructure:"BATCH_SIZE" default:"100"`
	CommandTimeout               time.Duration `mapstructure:"COMMAND_TIMEOUT" default:"30s"`
	MaxConcurrentLocationUpdates int           `mapstructure:"MAX_CONCURRENT_LOCATION_UPDATES" default:"20"`
	MaxConcurrentBatches         int           `mapstructure:"MAX_CONCURRENT_BATCHES" default:"4"`
	MaxConcurrentStatusChanges   int           `mapstructure:"MAX_CONCURRENT_STATUS_CHANGES" default:"10"`
	Enabled                      bool          `mapstructure:"INGEST_ENABLED" default:"true"`
	Interval                     time.Duration `mapstructure:"INGEST_INTERVAL" default:"30s"`
	ProvidersFile                string        `mapstructure:"PROVIDERS_FILE" default:"providers.yaml"`
	CooldownBackend              string        `mapstructure:"COOLDOWN_BACKEND" default:"memory"`
	RedisURL                     string        `mapstructure:"REDIS_URL" default:"redis://127.0.0.1:6379/0"`
}

// MaxSessionDuration is the ceiling SESSION_MAX_DURATION is clamped to.
const MaxSessionDuration = 24 * time.Hour

// SessionConfig holds the tracking session limits. MaxFixAge is independent of the
// ingestion filter's MAX_GPS_AGE.
type SessionConfig struct {
	MaxPoints   int           `mapstructure:"SESSION_MAX_POINTS" default:"1000"`
	MaxDuration time.Duration `mapstructure:"SESSION_MAX_DURATION" default:"24h"`
	MaxFixAge   time.Duration `mapstructure:"SESSION_MAX_FIX_AGE" default:"10m"`
}

// TracingConfig enables span export. An empty endpoint keeps tracing off.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"OTEL_ENABLED" default:"true"`
	Endpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME" default:"transit-tracker"`
}

// Load reads the configuration for the API server, which also needs a JWT secret.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("missing required configuration: JWT_SECRET")
	}
	return cfg, nil
}

// LoadWorker reads the configuration for processes that serve no authenticated traffic.
func LoadWorker(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	processTags(v, &cfg)

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validateRequired(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Ingest.CooldownBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("COOLDOWN_BACKEND must be memory or redis, got %q", c.Ingest.CooldownBackend)
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive")
	}
	if c.Ingest.MaxConcurrentLocationUpdates <= 0 || c.Ingest.MaxConcurrentBatches <= 0 || c.Ingest.MaxConcurrentStatusChanges <= 0 {
		return fmt.Errorf("concurrency limits must be positive")
	}
	if c.Session.MaxDuration <= 0 || c.Session.MaxDuration > MaxSessionDuration {
		c.Session.MaxDuration = MaxSessionDuration
	}
	return nil
}

// processTags binds every tagged key to the environment and registers its default.
func processTags(v *viper.Viper, target interface{}) {
	val := reflect.ValueOf(target).Elem()
	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type.Kind() == reflect.Struct {
			processTags(v, val.Field(i).Addr().Interface())
			continue
		}

		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		_ = v.BindEnv(key)
		if def := field.Tag.Get("default"); def != "" {
			v.SetDefault(key, def)
		}
	}
}

func validateRequired(target interface{}) error {
	val := reflect.ValueOf(target).Elem()
	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type.Kind() == reflect.Struct {
			if err := validateRequired(val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}
		if field.Tag.Get("required") == "true" && val.Field(i).IsZero() {
			return fmt.Errorf("missing required configuration: %s", field.Tag.Get("mapstructure"))
		}
	}
	return nil
}
