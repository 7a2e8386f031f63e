package config

import (
	"errors"
	"fmt"
	"go-exchange-rate-gateway/domain"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// PathEnv names the variable holding the YAML config path
const PathEnv = "GATEWAY_CONFIG_PATH"

// Config of the gateway process. Every value can be overridden from the environment.
type Config struct {
	Env         string      `yaml:"env" env:"GATEWAY_ENV" env-default:"local"`
	HTTP        HTTP        `yaml:"http"`
	GRPC        GRPC        `yaml:"grpc"`
	Upstream    Upstream    `yaml:"upstream"`
	RateLimiter RateLimiter `yaml:"rate_limiter"`
	Cache       Cache       `yaml:"cache"`
	Refresh     Refresh     `yaml:"refresh"`
	History     History     `yaml:"history"`
	Kafka       Kafka       `yaml:"kafka"`
	Log         Log         `yaml:"log"`
}

type HTTP struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"5s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"15s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	// ClientIDHeader identifies the caller for rate limiting instead of the remote address.
	// Only set it behind a trusted proxy that overwrites the header.
	ClientIDHeader string `yaml:"client_id_header" env:"HTTP_CLIENT_ID_HEADER"`
}

type GRPC struct {
	// Addr of the gRPC health service, empty disables it
	Addr string `yaml:"addr" env:"GRPC_ADDR" env-default:":9090"`
}

type Upstream struct {
	URL       string        `yaml:"url" env:"UPSTREAM_URL" env-default:"https://api.exchangerate.host"`
	AccessKey string        `yaml:"access_key" env:"UPSTREAM_ACCESS_KEY"`
	Timeout   time.Duration `yaml:"timeout" env:"UPSTREAM_TIMEOUT" env-default:"5s"`
}

type RateLimiter struct {
	Capacity       int64         `yaml:"capacity" env:"RATE_LIMITER_CAPACITY" env-default:"100"`
	RefillInterval time.Duration `yaml:"refill_interval" env:"RATE_LIMITER_REFILL_INTERVAL" env-default:"60s"`
	SweepInterval  time.Duration `yaml:"sweep_interval" env:"RATE_LIMITER_SWEEP_INTERVAL" env-default:"5m"`
	// IdleAfter zero means ten refill intervals
	IdleAfter time.Duration `yaml:"idle_after" env:"RATE_LIMITER_IDLE_AFTER"`
}

type Cache struct {
	Name       string        `yaml:"name" env:"CACHE_NAME" env-default:"exchangeRateCache"`
	TTL        time.Duration `yaml:"ttl" env:"CACHE_TTL" env-default:"60s"`
	MaxEntries int           `yaml:"max_entries" env:"CACHE_MAX_ENTRIES" env-default:"100"`
}

type Refresh struct {
	Enabled  bool          `yaml:"enabled" env:"REFRESH_ENABLED" env-default:"false"`
	Interval time.Duration `yaml:"interval" env:"REFRESH_INTERVAL" env-default:"5m"`
	// Pairs like "USD:EUR"
	Pairs []string `yaml:"pairs" env:"REFRESH_PAIRS" env-separator:","`
}

type History struct {
	// DSN empty disables the history store
	DSN            string `yaml:"dsn" env:"HISTORY_DSN"`
	MigrationsPath string `yaml:"migrations_path" env:"HISTORY_MIGRATIONS_PATH" env-default:"history/migrations"`
}

type Kafka struct {
	// Brokers empty disables rate events
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"exchange-rates"`
}

type Log struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"logfmt"`
}

// Load reads the YAML file at path, then applies environment overrides and
// defaults. An empty path reads the environment only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read config from env: %w", err)
		}
	} else {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("find config file: %w", err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad loads the file named by GATEWAY_CONFIG_PATH and exits on failure.
func MustLoad() *Config {
	cfg, err := Load(os.Getenv(PathEnv))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.RateLimiter.Capacity <= 0 {
		errs = append(errs, errors.New("rate_limiter.capacity must be positive"))
	}
	if c.RateLimiter.RefillInterval <= 0 {
		errs = append(errs, errors.New("rate_limiter.refill_interval must be positive"))
	}
	if c.RateLimiter.SweepInterval < 0 || c.RateLimiter.IdleAfter < 0 {
		errs = append(errs, errors.New("rate_limiter sweep settings must not be negative"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache.max_entries must be positive"))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, errors.New("upstream.timeout must be positive"))
	}
	if c.Refresh.Enabled {
		if c.Refresh.Interval <= 0 {
			errs = append(errs, errors.New("refresh.interval must be positive"))
		}
		if _, err := c.Refresh.ParsePairs(); err != nil {
			errs = append(errs, fmt.Errorf("refresh.pairs: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ParsePairs parses the configured popular pairs.
func (r Refresh) ParsePairs() ([]domain.Pair, error) {
	pairs := make([]domain.Pair, 0, len(r.Pairs))
	for _, s := range r.Pairs {
		pair, err := domain.ParsePair(s)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// IdleAfterOrDefault how long a client bucket may stay unused before it is swept
func (r RateLimiter) IdleAfterOrDefault() time.Duration {
	if r.IdleAfter > 0 {
		return r.IdleAfter
	}
	return 10 * r.RefillInterval
}
