package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.General.DataDir == "" {
		t.Error("General.DataDir should not be empty")
	}
	if cfg.Orchestration.StoreBackend != "sqlite" {
		t.Errorf("Orchestration.StoreBackend = %q, want %q", cfg.Orchestration.StoreBackend, "sqlite")
	}
	if len(cfg.Orchestration.GatedStages) != 1 || cfg.Orchestration.GatedStages[0] != "train_model" {
		t.Errorf("Orchestration.GatedStages = %v, want [train_model]", cfg.Orchestration.GatedStages)
	}
	if cfg.Modeling.Lambda != 1.0 {
		t.Errorf("Modeling.Lambda = %g, want 1.0", cfg.Modeling.Lambda)
	}
	if cfg.Optimization.Restarts != 5 {
		t.Errorf("Optimization.Restarts = %d, want 5", cfg.Optimization.Restarts)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
[general]
data_dir = "/custom/data"

[orchestration]
store_backend = "memory"
gated_stages = ["train_model", "optimize_budget"]

[optimization]
restarts = 10
seed = 7
`

	tmpFile, err := os.CreateTemp("", "config-*.toml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	_ = tmpFile.Close()

	cfg, err := LoadFromFile(tmpFile.Name())
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.General.DataDir != "/custom/data" {
		t.Errorf("General.DataDir = %q, want %q", cfg.General.DataDir, "/custom/data")
	}
	if cfg.Orchestration.StoreBackend != "memory" {
		t.Errorf("Orchestration.StoreBackend = %q, want %q", cfg.Orchestration.StoreBackend, "memory")
	}
	if len(cfg.Orchestration.GatedStages) != 2 {
		t.Errorf("Orchestration.GatedStages = %v, want two stages", cfg.Orchestration.GatedStages)
	}
	if cfg.Optimization.Restarts != 10 {
		t.Errorf("Optimization.Restarts = %d, want 10", cfg.Optimization.Restarts)
	}
	if cfg.Optimization.Seed != 7 {
		t.Errorf("Optimization.Seed = %d, want 7", cfg.Optimization.Seed)
	}
	// Unset sections keep their defaults.
	if cfg.Modeling.TrainSplit != 0.8 {
		t.Errorf("Modeling.TrainSplit = %g, want 0.8", cfg.Modeling.TrainSplit)
	}
}

func TestLoadFromFile_ExpandHome(t *testing.T) {
	homeDir, _ := os.UserHomeDir()
	content := `
[general]
data_dir = "~/test-data"

[orchestration]
db_path = "~/test-data/mmx.db"
`
	tmpFile, err := os.CreateTemp("", "config-*.toml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	_ = tmpFile.Close()

	cfg, err := LoadFromFile(tmpFile.Name())
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	want := filepath.Join(homeDir, "test-data")
	if cfg.General.DataDir != want {
		t.Errorf("General.DataDir = %q, want %q", cfg.General.DataDir, want)
	}
	wantDB := filepath.Join(homeDir, "test-data", "mmx.db")
	if cfg.Orchestration.DBPath != wantDB {
		t.Errorf("Orchestration.DBPath = %q, want %q", cfg.Orchestration.DBPath, wantDB)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"bad backend", func(c *Config) { c.Orchestration.StoreBackend = "postgres" }, true},
		{"sqlite without path", func(c *Config) { c.Orchestration.DBPath = "" }, true},
		{"memory without path", func(c *Config) {
			c.Orchestration.StoreBackend = "memory"
			c.Orchestration.DBPath = ""
		}, false},
		{"zero lambda", func(c *Config) { c.Modeling.Lambda = 0 }, true},
		{"split above one", func(c *Config) { c.Modeling.TrainSplit = 1.5 }, true},
		{"zero restarts", func(c *Config) { c.Optimization.Restarts = 0 }, true},
		{"relax factor one", func(c *Config) { c.Optimization.RelaxFactor = 1 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("MMX_DATA_DIR", "/env/data")
	t.Setenv("MMX_STORE_BACKEND", "memory")
	t.Setenv("MMX_GATED_STAGES", "train_model, optimize_budget")
	t.Setenv("MMX_SEED", "99")
	t.Setenv("MMX_LOG_LEVEL", "debug")

	cfg := Default()
	ApplyEnvOverrides(cfg)

	if cfg.General.DataDir != "/env/data" {
		t.Errorf("General.DataDir = %q, want %q", cfg.General.DataDir, "/env/data")
	}
	if cfg.Orchestration.StoreBackend != "memory" {
		t.Errorf("Orchestration.StoreBackend = %q, want %q", cfg.Orchestration.StoreBackend, "memory")
	}
	if len(cfg.Orchestration.GatedStages) != 2 || cfg.Orchestration.GatedStages[1] != "optimize_budget" {
		t.Errorf("Orchestration.GatedStages = %v", cfg.Orchestration.GatedStages)
	}
	if cfg.Optimization.Seed != 99 {
		t.Errorf("Optimization.Seed = %d, want 99", cfg.Optimization.Seed)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}
