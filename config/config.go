// Package config loads launcher settings from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given. It may be absent.
const DefaultPath = "library.yaml"

// Config represents configuration loaded from YAML.
type Config struct {
	DataFile  string      `yaml:"dataFile"`
	LogLevel  string      `yaml:"logLevel"`
	LogFormat string      `yaml:"logFormat"`
	Autosave  bool        `yaml:"autosave"`
	Admin     AdminConfig `yaml:"admin"`
	Loans     LoanConfig  `yaml:"loans"`
	Login     LoginConfig `yaml:"login"`
}

// AdminConfig is the credential installed when a new data file is created.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LoanConfig struct {
	MaxPerUser  int `yaml:"maxPerUser"`
	DefaultDays int `yaml:"defaultDays"`
}

type LoginConfig struct {
	MaxAttempts int    `yaml:"maxAttempts"`
	Window      string `yaml:"window"`
	BcryptCost  int    `yaml:"bcryptCost"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		DataFile:  "library.db",
		LogLevel:  "info",
		LogFormat: "text",
		Autosave:  true,
		Admin:     AdminConfig{Username: "admin"},
		Loans:     LoanConfig{MaxPerUser: 3, DefaultDays: 30},
		Login:     LoginConfig{MaxAttempts: 5, Window: "1m", BcryptCost: 12},
	}
}

// Load reads config from path. When path is empty DefaultPath is tried and may
// be missing; an explicit path must exist. Environment variables (optionally
// from a .env file) override the file.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	// .env is optional
	_ = godotenv.Load()
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("LIBRARY_DATA_FILE"); v != "" {
		cfg.DataFile = v
	}
	if v := os.Getenv("LIBRARY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LIBRARY_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("LIBRARY_ADMIN_USER"); v != "" {
		cfg.Admin.Username = v
	}
	if v := os.Getenv("LIBRARY_ADMIN_PASSWORD"); v != "" {
		cfg.Admin.Password = v
	}
	for name, dst := range map[string]*int{
		"LIBRARY_MAX_LOANS": &cfg.Loans.MaxPerUser,
		"LIBRARY_LOAN_DAYS": &cfg.Loans.DefaultDays,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s must be an integer: %w", name, err)
		}
		*dst = n
	}
	return nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.DataFile) == "" {
		return errors.New("config: dataFile is required")
	}
	if strings.TrimSpace(cfg.Admin.Username) == "" {
		return errors.New("config: admin.username is required")
	}
	if cfg.Loans.MaxPerUser < 0 {
		return errors.New("config: loans.maxPerUser must be >= 0")
	}
	if cfg.Loans.DefaultDays < 1 {
		return errors.New("config: loans.defaultDays must be >= 1")
	}
	if cfg.Login.MaxAttempts < 0 {
		return errors.New("config: login.maxAttempts must be >= 0")
	}
	if c := cfg.Login.BcryptCost; c != 0 && (c < 4 || c > 31) {
		return fmt.Errorf("config: login.bcryptCost %d out of range 4..31", c)
	}
	if _, err := cfg.LoginWindow(); err != nil {
		return err
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: logFormat %q must be text or json", cfg.LogFormat)
	}
	return nil
}

// LoginWindow parses the throttling window duration.
func (c Config) LoginWindow() (time.Duration, error) {
	if c.Login.Window == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Login.Window)
	if err != nil {
		return 0, fmt.Errorf("invalid login.window duration: %w", err)
	}
	return d, nil
}
