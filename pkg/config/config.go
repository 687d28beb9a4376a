package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// FileName is the name of the configuration files merged while walking up
const FileName = "fbs.conf.yaml"

// EnvPrefix prefixes every environment variable read as configuration
const EnvPrefix = "FBS_"

// Config represents the merged configuration from defaults, all fbs.conf.yaml
// files and the environment
type Config struct {
	// CacheDir holds the execution history
	CacheDir string `koanf:"cache_dir"`
	// Parallel is the number of workers executing tasks
	Parallel int `koanf:"parallel"`
	// Strict rejects output declarations made after a task has started
	Strict bool `koanf:"strict"`
	Log    Log  `koanf:"log"`

	// Files lists the configuration files that were merged, root first
	Files []string `koanf:"-"`
}

// Log configures the logger
type Log struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// Default returns the built-in configuration
func Default() *Config {
	cacheDir := filepath.Join(".fbs", "cache")
	if home, err := os.UserHomeDir(); err == nil {
		cacheDir = filepath.Join(home, ".fbs", "cache")
	}
	return &Config{
		CacheDir: cacheDir,
		Parallel: 8,
		Log: Log{
			Level: "info",
		},
	}
}

// envKeys maps environment variables (without prefix) to configuration keys
var envKeys = map[string]string{
	"CACHE_DIR": "cache_dir",
	"PARALLEL":  "parallel",
	"STRICT":    "strict",
	"LOG_LEVEL": "log.level",
	"LOG_JSON":  "log.json",
}

// LoadConfiguration loads the defaults, merges every fbs.conf.yaml found from the
// filesystem root down to startDir and applies FBS_* environment variables last
func LoadConfiguration(startDir string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configFiles := findConfigFiles(startDir)

	// Process config files from root to leaf (so leaf configs override parent configs)
	for _, path := range configFiles {
		if err := mergeConfigFile(k, path); err != nil {
			return nil, fmt.Errorf("failed to merge config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKeys[strings.TrimPrefix(key, EnvPrefix)], value
		},
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.Files = configFiles

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that cannot be defaulted
func (c *Config) Validate() error {
	if c.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1, got %d", c.Parallel)
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir must not be empty")
	}
	return nil
}

// HistoryDir is where execution records are kept
func (c *Config) HistoryDir() string {
	return filepath.Join(c.CacheDir, "history")
}

// findConfigFiles walks up from startDir and returns the config files root first
func findConfigFiles(startDir string) []string {
	var found []string
	currentDir := startDir
	for {
		configPath := filepath.Join(currentDir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			found = append(found, configPath)
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			break
		}
		currentDir = parentDir
	}

	for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
		found[i], found[j] = found[j], found[i]
	}
	return found
}

func mergeConfigFile(k *koanf.Koanf, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(values) == 0 {
		return nil
	}
	return k.Load(rawMap(values), nil)
}

// rawMap is a koanf.Provider adapter for already decoded data
type rawMap map[string]any

func (r rawMap) Read() (map[string]any, error) {
	return r, nil
}

func (r rawMap) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("ReadBytes not implemented")
}
