// Package config loads memobank configuration: compiled defaults, then a
// JSON config file, then MEMOBANK_* environment variables, each layer
// overriding the previous one.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	Oracle  OracleConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port  int
	Token string // optional bearer token for the HTTP API
}

type OracleConfig struct {
	APIKey  string // empty disables the oracle; every path falls back
	BaseURL string // empty means api.openai.com
	Model   string
	Timeout time.Duration
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Oracle: OracleConfig{
			Model:   "gpt-4o",
			Timeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "memobank-data"
		}
	}
	return filepath.Join(dir, "memobank")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "memobank", "config.json")
}

// Load reads configuration from the config file and environment.
func Load() (Config, error) {
	return loadWith(configFilePath(), os.Getenv)
}

func loadWith(path string, getenv func(string) string) (Config, error) {
	cfg := defaults()

	if err := applyFile(&cfg, path); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fileValues is the flat key set accepted in the config file.
type fileValues struct {
	Port          *int    `json:"server.port"`
	Token         *string `json:"server.token"`
	OracleAPIKey  *string `json:"oracle.api_key"`
	OracleBaseURL *string `json:"oracle.base_url"`
	OracleModel   *string `json:"oracle.model"`
	OracleTimeout *string `json:"oracle.timeout"`
	DataDir       *string `json:"storage.data_dir"`
	LogLevel      *string `json:"log.level"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var vals fileValues
	if err := json.Unmarshal(data, &vals); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if vals.Port != nil {
		cfg.Server.Port = *vals.Port
	}
	if vals.Token != nil {
		cfg.Server.Token = *vals.Token
	}
	if vals.OracleAPIKey != nil {
		cfg.Oracle.APIKey = *vals.OracleAPIKey
	}
	if vals.OracleBaseURL != nil {
		cfg.Oracle.BaseURL = *vals.OracleBaseURL
	}
	if vals.OracleModel != nil {
		cfg.Oracle.Model = *vals.OracleModel
	}
	if vals.OracleTimeout != nil {
		d, err := time.ParseDuration(*vals.OracleTimeout)
		if err != nil {
			return fmt.Errorf("config file %s: invalid oracle.timeout %q: %w", path, *vals.OracleTimeout, err)
		}
		cfg.Oracle.Timeout = d
	}
	if vals.DataDir != nil {
		cfg.Storage.DataDir = *vals.DataDir
	}
	if vals.LogLevel != nil {
		cfg.Log.Level = *vals.LogLevel
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("MEMOBANK_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MEMOBANK_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := getenv("MEMOBANK_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := getenv("MEMOBANK_OPENAI_API_KEY"); v != "" {
		cfg.Oracle.APIKey = v
	} else if v := getenv("OPENAI_API_KEY"); v != "" && cfg.Oracle.APIKey == "" {
		cfg.Oracle.APIKey = v
	}
	if v := getenv("MEMOBANK_OPENAI_BASE_URL"); v != "" {
		cfg.Oracle.BaseURL = v
	}
	if v := getenv("MEMOBANK_ORACLE_MODEL"); v != "" {
		cfg.Oracle.Model = v
	}
	if v := getenv("MEMOBANK_ORACLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid MEMOBANK_ORACLE_TIMEOUT %q: %w", v, err)
		}
		cfg.Oracle.Timeout = d
	}
	if v := getenv("MEMOBANK_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := getenv("MEMOBANK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}
