// Package config loads service configuration from the environment, optionally
// layered over a YAML file named by GATEHOUSE_CONFIG.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "GATEHOUSE_"

// Config holds all application configuration
type Config struct {
	Server   ServerConfig `yaml:"server"`
	Public   PublicConfig `yaml:"public"`
	Token    TokenConfig  `yaml:"token"`
	Store    StoreConfig  `yaml:"store"`
	Redis    RedisConfig  `yaml:"redis"`
	Mail     MailConfig   `yaml:"mail"`
	Limits   LimitsConfig `yaml:"limits"`
	Trace    TraceConfig  `yaml:"trace"`
	LogLevel string       `yaml:"log_level"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// PublicConfig describes the externally visible base used in email links.
type PublicConfig struct {
	Scheme      string `yaml:"scheme"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	RedirectURL string `yaml:"redirect_url"`
}

// TokenConfig holds signing and hashing parameters.
type TokenConfig struct {
	Secret     string        `yaml:"secret"`
	Issuer     string        `yaml:"issuer"`
	TTL        time.Duration `yaml:"ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

type StoreConfig struct {
	Driver  string        `yaml:"driver"`
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// MailConfig selects the email handoff transport: nats, redis or log.
type MailConfig struct {
	Transport string `yaml:"transport"`
	NATSURL   string `yaml:"nats_url"`
	Subject   string `yaml:"subject"`
	Queue     string `yaml:"queue"`
	Buffer    int    `yaml:"buffer"`
}

// LimitsConfig holds the per-IP throttles.
type LimitsConfig struct {
	LoginLimit    int           `yaml:"login_limit"`
	LoginWindow   time.Duration `yaml:"login_window"`
	RateBurst     int           `yaml:"rate_burst"`
	RatePerSecond int           `yaml:"rate_per_second"`
}

// TraceConfig selects the span exporter: otlp, stdout or none.
type TraceConfig struct {
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Public: PublicConfig{Scheme: "http", Host: "localhost", Port: 8080},
		Token: TokenConfig{
			Issuer:     "gatehouse",
			TTL:        1800 * time.Second,
			BcryptCost: 10,
		},
		Store: StoreConfig{Driver: "pgx", Timeout: 3 * time.Second},
		Mail: MailConfig{
			Transport: "log",
			Subject:   "gatehouse.mail.send",
			Queue:     "gatehouse:mail",
			Buffer:    256,
		},
		Limits: LimitsConfig{
			LoginLimit:    5,
			LoginWindow:   time.Minute,
			RateBurst:     20,
			RatePerSecond: 10,
		},
		Trace:    TraceConfig{Exporter: "none", SampleRatio: 1},
		LogLevel: "info",
	}
}

// Load builds the configuration: defaults, then the YAML file if
// GATEHOUSE_CONFIG names one, then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if cfg.Public.RedirectURL == "" {
		cfg.Public.RedirectURL = fmt.Sprintf("%s://%s:%d/", cfg.Public.Scheme, cfg.Public.Host, cfg.Public.Port)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("ADDR", c.Server.Addr)
	c.Server.ReadTimeout = getEnvDuration("READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.MaxBodyBytes = int64(getEnvInt("MAX_BODY_BYTES", int(c.Server.MaxBodyBytes)))

	c.Public.Scheme = getEnv("PUBLIC_SCHEME", c.Public.Scheme)
	c.Public.Host = getEnv("PUBLIC_HOST", c.Public.Host)
	c.Public.Port = getEnvInt("PUBLIC_PORT", c.Public.Port)
	c.Public.RedirectURL = getEnv("REDIRECT_URL", c.Public.RedirectURL)

	c.Token.Secret = getEnv("JWT_SECRET", c.Token.Secret)
	c.Token.Issuer = getEnv("JWT_ISSUER", c.Token.Issuer)
	c.Token.TTL = getEnvDuration("TOKEN_TTL", c.Token.TTL)
	c.Token.BcryptCost = getEnvInt("BCRYPT_COST", c.Token.BcryptCost)

	c.Store.Driver = getEnv("DB_DRIVER", c.Store.Driver)
	c.Store.DSN = getEnv("PG_DSN", c.Store.DSN)
	c.Store.Timeout = getEnvDuration("STORE_TIMEOUT", c.Store.Timeout)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)

	c.Mail.Transport = strings.ToLower(getEnv("MAIL_TRANSPORT", c.Mail.Transport))
	c.Mail.NATSURL = getEnv("NATS_URL", c.Mail.NATSURL)
	c.Mail.Subject = getEnv("MAIL_SUBJECT", c.Mail.Subject)
	c.Mail.Queue = getEnv("MAIL_QUEUE", c.Mail.Queue)
	c.Mail.Buffer = getEnvInt("MAIL_BUFFER", c.Mail.Buffer)

	c.Limits.LoginLimit = getEnvInt("LOGIN_LIMIT", c.Limits.LoginLimit)
	c.Limits.LoginWindow = getEnvDuration("LOGIN_WINDOW", c.Limits.LoginWindow)
	c.Limits.RateBurst = getEnvInt("RATE_BURST", c.Limits.RateBurst)
	c.Limits.RatePerSecond = getEnvInt("RATE_PER_SECOND", c.Limits.RatePerSecond)

	c.Trace.Exporter = strings.ToLower(getEnv("TRACE_EXPORTER", c.Trace.Exporter))
	c.Trace.SampleRatio = getEnvFloat("TRACE_SAMPLE_RATIO", c.Trace.SampleRatio)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server address is required"))
	}
	if len(c.Token.Secret) < 32 {
		errs = append(errs, errors.New("jwt secret must be at least 32 bytes"))
	}
	if c.Token.TTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	if c.Token.BcryptCost < 4 || c.Token.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("bcrypt cost %d outside [4,31]", c.Token.BcryptCost))
	}
	switch c.Store.Driver {
	case "pgx", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown db driver %q", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("postgres dsn is required"))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, errors.New("store timeout must be positive"))
	}
	switch c.Mail.Transport {
	case "log":
	case "nats":
		if c.Mail.NATSURL == "" {
			errs = append(errs, errors.New("nats url is required for the nats mail transport"))
		}
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis url is required for the redis mail transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mail transport %q", c.Mail.Transport))
	}
	if c.Limits.LoginLimit <= 0 || c.Limits.LoginWindow <= 0 {
		errs = append(errs, errors.New("login limit and window must be positive"))
	}
	switch c.Trace.Exporter {
	case "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("unknown trace exporter %q", c.Trace.Exporter))
	}
	if c.Trace.SampleRatio < 0 || c.Trace.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("trace sample ratio %v outside [0,1]", c.Trace.SampleRatio))
	}
	if c.Public.Port <= 0 || c.Public.Port > 65535 {
		errs = append(errs, fmt.Errorf("public port %d out of range", c.Public.Port))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(envPrefix + key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := getEnv(key, ""); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := getEnv(key, ""); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("3s") or bare seconds ("1800").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
