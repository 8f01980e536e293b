package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"selfcare/internal/platform"
)

const EnvConfigPath = "SELFCARE_CONFIG"

type Config struct {
	Env      string  `yaml:"env" env:"SELFCARE_ENV" env-default:"prod"`
	Platform string  `yaml:"platform" env:"SELFCARE_PLATFORM"`
	LogLevel string  `yaml:"log_level" env:"SELFCARE_LOG_LEVEL"`
	API      API     `yaml:"api"`
	Store    Store   `yaml:"store"`
	Daemon   Daemon  `yaml:"daemon"`
	Promise  Promise `yaml:"promise"`
}

type API struct {
	// BaseURL overrides the billing origin for this run only.
	BaseURL       string        `yaml:"base_url" env:"SELFCARE_API_BASE_URL"`
	Timeout       time.Duration `yaml:"timeout" env:"SELFCARE_API_TIMEOUT" env-default:"12s"`
	ClientVersion string        `yaml:"client_version" env:"SELFCARE_API_CLIENT_VERSION" env-default:"1.0.0"`
}

type Store struct {
	Backend string `yaml:"backend" env:"SELFCARE_STORE_BACKEND" env-default:"file"`
	Path    string `yaml:"path" env:"SELFCARE_STORE_PATH"`
	Redis   Redis  `yaml:"redis"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"SELFCARE_REDIS_ADDR"`
	Password string `yaml:"password" env:"SELFCARE_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"SELFCARE_REDIS_DB" env-default:"0"`
	Prefix   string `yaml:"prefix" env:"SELFCARE_REDIS_PREFIX" env-default:"selfcare:"`
}

// Daemon.RefreshSchedule is a cron spec; "off" disables scheduled refresh.
type Daemon struct {
	Addr            string  `yaml:"addr" env:"SELFCARE_DAEMON_ADDR" env-default:"127.0.0.1:7788"`
	RefreshSchedule string  `yaml:"refresh_schedule" env:"SELFCARE_REFRESH_SCHEDULE" env-default:"@every 10m"`
	RefreshRate     float64 `yaml:"refresh_rate" env:"SELFCARE_REFRESH_RATE" env-default:"1"`
	RefreshBurst    int     `yaml:"refresh_burst" env:"SELFCARE_REFRESH_BURST" env-default:"3"`
	DisableMetrics  bool    `yaml:"disable_metrics" env:"SELFCARE_DISABLE_METRICS"`
}

type Promise struct {
	Min           float64 `yaml:"min" env:"SELFCARE_PROMISE_MIN" env-default:"50"`
	Max           float64 `yaml:"max" env:"SELFCARE_PROMISE_MAX" env-default:"100"`
	InitialAmount string  `yaml:"initial_amount" env:"SELFCARE_PROMISE_INITIAL_AMOUNT" env-default:"75"`
}

// Load reads path when it names an existing file and overlays the
// environment. With no file only the environment and defaults apply.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = os.Getenv(EnvConfigPath)
	}

	var cfg Config
	var err error
	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			err = cleanenv.ReadConfig(path, &cfg)
		} else if errors.Is(statErr, os.ErrNotExist) {
			err = cleanenv.ReadEnv(&cfg)
		} else {
			return Config{}, statErr
		}
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func MustLoad(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

func (c *Config) finish() error {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	switch c.Env {
	case "local", "dev", "prod":
	default:
		return fmt.Errorf("env must be one of local, dev, prod: %q", c.Env)
	}
	if strings.TrimSpace(c.Platform) == "" {
		c.Platform = runtime.GOOS
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		path, err := platform.StoreFilePath()
		if err != nil {
			return err
		}
		c.Store.Path = path
	}
	if c.Promise.Min > 0 && c.Promise.Max > 0 && c.Promise.Min > c.Promise.Max {
		return fmt.Errorf("promise.min %g exceeds promise.max %g", c.Promise.Min, c.Promise.Max)
	}
	if strings.EqualFold(strings.TrimSpace(c.Daemon.RefreshSchedule), "off") {
		c.Daemon.RefreshSchedule = ""
	}
	if c.Daemon.RefreshRate <= 0 {
		return fmt.Errorf("daemon.refresh_rate must be positive")
	}
	if c.Daemon.RefreshBurst < 1 {
		c.Daemon.RefreshBurst = 1
	}
	return nil
}
