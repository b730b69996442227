package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	General       GeneralConfig       `toml:"general"`
	Orchestration OrchestrationConfig `toml:"orchestration"`
	Modeling      ModelingConfig      `toml:"modeling"`
	Optimization  OptimizationConfig  `toml:"optimization"`
	Logging       LoggingConfig       `toml:"logging"`
}

type GeneralConfig struct {
	DataDir string `toml:"data_dir"`
}

type OrchestrationConfig struct {
	// StoreBackend selects run persistence: "sqlite" (default) or "memory".
	StoreBackend string `toml:"store_backend"`
	DBPath       string `toml:"db_path"`
	// GatedStages lists stage names that pause for human approval.
	GatedStages []string `toml:"gated_stages"`
}

type ModelingConfig struct {
	// Lambda is the default ridge penalty when a plan omits one.
	Lambda     float64 `toml:"lambda"`
	TrainSplit float64 `toml:"train_split"`
	// MaxSpendFactor scales peak observed spend into the response-curve
	// grid limit.
	MaxSpendFactor float64 `toml:"max_spend_factor"`
}

type OptimizationConfig struct {
	Restarts      int     `toml:"restarts"`
	MaxIterations int     `toml:"max_iterations"`
	Tolerance     float64 `toml:"tolerance"`
	RelaxFactor   float64 `toml:"relax_factor"`
	Seed          int64   `toml:"seed"`
	MaxParallel   int     `toml:"max_parallel"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".mmx")

	return &Config{
		General: GeneralConfig{
			DataDir: dataDir,
		},
		Orchestration: OrchestrationConfig{
			StoreBackend: "sqlite",
			DBPath:       filepath.Join(dataDir, "mmx.db"),
			GatedStages:  []string{"train_model"},
		},
		Modeling: ModelingConfig{
			Lambda:         1.0,
			TrainSplit:     0.8,
			MaxSpendFactor: 2.0,
		},
		Optimization: OptimizationConfig{
			Restarts:      5,
			MaxIterations: 1000,
			Tolerance:     1e-6,
			RelaxFactor:   100,
			Seed:          42,
			MaxParallel:   0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			File:   "",
		},
	}
}

func LoadFromFile(path string) (*Config, error) {
	expandedPath, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}

	data, err := os.ReadFile(expandedPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("decode TOML: %w", err)
	}

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	return cfg, nil
}

func (c *Config) postProcess() error {
	var err error

	c.General.DataDir, err = expandPath(c.General.DataDir)
	if err != nil {
		return fmt.Errorf("expand general.data_dir: %w", err)
	}

	c.Orchestration.DBPath, err = expandPath(c.Orchestration.DBPath)
	if err != nil {
		return fmt.Errorf("expand orchestration.db_path: %w", err)
	}

	c.Logging.File, err = expandPath(c.Logging.File)
	if err != nil {
		return fmt.Errorf("expand logging.file: %w", err)
	}

	return nil
}

func (c *Config) Validate() error {
	switch c.Orchestration.StoreBackend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid store backend: %s (valid: sqlite, memory)", c.Orchestration.StoreBackend)
	}

	if c.Orchestration.StoreBackend == "sqlite" && c.Orchestration.DBPath == "" {
		return fmt.Errorf("db_path is required for the sqlite store backend")
	}

	if c.Modeling.Lambda <= 0 {
		return fmt.Errorf("modeling lambda must be positive, got %g", c.Modeling.Lambda)
	}

	if c.Modeling.TrainSplit <= 0 || c.Modeling.TrainSplit > 1 {
		return fmt.Errorf("train_split must be in (0, 1], got %g", c.Modeling.TrainSplit)
	}

	if c.Modeling.MaxSpendFactor <= 0 {
		return fmt.Errorf("max_spend_factor must be positive, got %g", c.Modeling.MaxSpendFactor)
	}

	if c.Optimization.Restarts < 1 {
		return fmt.Errorf("restarts must be at least 1, got %d", c.Optimization.Restarts)
	}

	if c.Optimization.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", c.Optimization.MaxIterations)
	}

	if c.Optimization.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %g", c.Optimization.Tolerance)
	}

	if c.Optimization.RelaxFactor <= 1 {
		return fmt.Errorf("relax_factor must exceed 1, got %g", c.Optimization.RelaxFactor)
	}

	if c.Optimization.MaxParallel < 0 {
		return fmt.Errorf("max_parallel cannot be negative, got %d", c.Optimization.MaxParallel)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid logging format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MMX_DATA_DIR"); v != "" {
		cfg.General.DataDir = v
	}
	if v := os.Getenv("MMX_STORE_BACKEND"); v != "" {
		cfg.Orchestration.StoreBackend = v
	}
	if v := os.Getenv("MMX_DB_PATH"); v != "" {
		cfg.Orchestration.DBPath = v
	}
	if v := os.Getenv("MMX_GATED_STAGES"); v != "" {
		cfg.Orchestration.GatedStages = splitStages(v)
	}
	if v := os.Getenv("MMX_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Optimization.Seed = seed
		}
	}
	if v := os.Getenv("MMX_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Optimization.MaxParallel = n
		}
	}
	if v := os.Getenv("MMX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MMX_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("MMX_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
}

func splitStages(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get user home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	return path, nil
}

func Load(configPath string) (*Config, error) {
	var cfg *Config
	var err error

	if configPath != "" {
		cfg, err = LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", configPath, err)
		}
	} else {
		cfg = Default()
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
