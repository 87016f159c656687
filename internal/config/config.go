package config // package config loads application configuration from a YAML file and environment variables

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration values.  It is built once at
// startup by Load and passed by value to the components that need it.
type Config struct {
	Env    string       `yaml:"-"` // selected environment (local, sandbox, production)
	Server ServerConfig `yaml:"server"`
	MySQL  MySQLConfig  `yaml:"mysql"`
	Redis  RedisConfig  `yaml:"redis"`
	JWT    JWTConfig    `yaml:"jwt"`
	SMTP   SMTPConfig   `yaml:"smtp"`
	Paths  PathsConfig  `yaml:"paths"`
	Log    LogConfig    `yaml:"log"`
	Broker BrokerConfig `yaml:"broker"`
	Sweep  SweepConfig  `yaml:"sweep"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	BaseURL         string        `yaml:"base_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string { return s.Host + ":" + s.Port }

type MySQLConfig struct {
	Host          string `yaml:"host"`
	Port          string `yaml:"port"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	Name          string `yaml:"name"`
	AutoMigrate   bool   `yaml:"auto_migrate"`
	MigrationsDir string `yaml:"migrations_dir"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
}

// Addr returns host:port for the Redis server.
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

type JWTConfig struct {
	Secret        string        `yaml:"secret"`
	TokenLifetime time.Duration `yaml:"token_lifetime"` // nominally 24h
}

type SMTPConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	FromEmail string        `yaml:"from_email"`
	FromName  string        `yaml:"from_name"`
	Timeout   time.Duration `yaml:"timeout"`
}

type PathsConfig struct {
	Uploads string `yaml:"uploads"` // audio files
	Images  string `yaml:"images"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"` // empty disables file output
	Dev   bool   `yaml:"dev"`
}

type BrokerConfig struct {
	URL string `yaml:"url"` // empty disables event publishing
}

type SweepConfig struct {
	Schedule string `yaml:"schedule"` // cron expression for the expiry sweep
}

// Load reads config/<APP_ENV>.yaml (APP_ENV defaults to "local"),
// applies environment overrides and validates required values.
func Load() (Config, error) {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if env == "" {
		env = "local"
	}
	dir := envStr("CONFIG_DIR", "config")
	return LoadFile(env, filepath.Join(dir, env+".yaml"))
}

// LoadFile is Load with an explicit file path.  A missing file is not an
// error; defaults and environment variables are used instead.
func LoadFile(env, path string) (Config, error) {
	cfg := defaults()
	cfg.Env = env

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: "8080", ShutdownTimeout: 15 * time.Second},
		MySQL:  MySQLConfig{Host: "127.0.0.1", Port: "3306", MigrationsDir: "migrations"},
		Redis:  RedisConfig{Host: "localhost", Port: "6379"},
		JWT:    JWTConfig{TokenLifetime: 24 * time.Hour},
		SMTP:   SMTPConfig{Port: 587, FromName: "Muryar Sunnah", Timeout: 10 * time.Second},
		Paths:  PathsConfig{Uploads: "uploads", Images: "images"},
		Log:    LogConfig{Level: "info"},
		Sweep:  SweepConfig{Schedule: "@every 1h"},
	}
}

// applyEnv overlays environment variables on top of file values.
func applyEnv(c *Config) {
	c.Server.Host = envStr("APP_HOST", c.Server.Host)
	c.Server.Port = envStr("APP_PORT", c.Server.Port)
	c.Server.BaseURL = envStr("APP_BASE_URL", c.Server.BaseURL)

	c.MySQL.Host = envStr("DB_HOST", c.MySQL.Host)
	c.MySQL.Port = envStr("DB_PORT", c.MySQL.Port)
	c.MySQL.User = envStr("DB_USER", c.MySQL.User)
	c.MySQL.Password = envStr("DB_PASS", c.MySQL.Password)
	c.MySQL.Name = envStr("DB_NAME", c.MySQL.Name)
	c.MySQL.AutoMigrate = envBool("DB_AUTO_MIGRATE", c.MySQL.AutoMigrate)

	c.Redis.Host = envStr("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = envStr("REDIS_PORT", c.Redis.Port)
	if addr := os.Getenv("REDIS_ADDR"); addr != "" && os.Getenv("REDIS_HOST") == "" {
		if h, p, ok := strings.Cut(addr, ":"); ok {
			c.Redis.Host, c.Redis.Port = h, p
		}
	}
	c.Redis.Password = envStr("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = envInt("REDIS_DB", c.Redis.DB)
	c.Redis.TLS = envBool("REDIS_TLS", c.Redis.TLS)

	c.JWT.Secret = envStr("JWT_SECRET", c.JWT.Secret)
	c.JWT.TokenLifetime = envDur("JWT_TTL", c.JWT.TokenLifetime)

	c.SMTP.Host = envStr("SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = envInt("SMTP_PORT", c.SMTP.Port)
	c.SMTP.Username = envStr("SMTP_USERNAME", c.SMTP.Username)
	c.SMTP.Password = envStr("SMTP_PASSWORD", c.SMTP.Password)
	c.SMTP.FromEmail = envStr("SMTP_FROM_EMAIL", c.SMTP.FromEmail)
	c.SMTP.FromName = envStr("SMTP_FROM_NAME", c.SMTP.FromName)

	c.Paths.Uploads = envStr("UPLOADS_DIR", c.Paths.Uploads)
	c.Paths.Images = envStr("IMAGES_DIR", c.Paths.Images)

	c.Log.Level = envStr("LOG_LEVEL", c.Log.Level)
	c.Log.Dir = envStr("LOG_DIR", c.Log.Dir)
	c.Log.Dev = envBool("LOG_DEV", c.Log.Dev)

	c.Broker.URL = envStr("RABBITMQ_URL", envStr("AMQP_URL", c.Broker.URL))
	c.Sweep.Schedule = envStr("SWEEP_SCHEDULE", c.Sweep.Schedule)
}

func (c Config) validate() error {
	var missing []string
	if c.JWT.Secret == "" {
		missing = append(missing, "jwt.secret")
	}
	if c.MySQL.Host == "" {
		missing = append(missing, "mysql.host")
	}
	if c.MySQL.User == "" {
		missing = append(missing, "mysql.user")
	}
	if c.MySQL.Name == "" {
		missing = append(missing, "mysql.name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if c.JWT.TokenLifetime <= 0 {
		return fmt.Errorf("jwt.token_lifetime must be positive, got %s", c.JWT.TokenLifetime)
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("invalid server.port %q", c.Server.Port)
	}
	return nil
}
