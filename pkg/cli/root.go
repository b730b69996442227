// Package cli implements the mmx command tree: submitting pipeline runs,
// advancing them stage by stage, recording checkpoint decisions, and the
// one-shot optimize shortcut.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jguan/mmx-optimizer/pkg/config"
	"github.com/jguan/mmx-optimizer/pkg/infra/logger"
	"github.com/jguan/mmx-optimizer/pkg/infra/store"
	"github.com/jguan/mmx-optimizer/pkg/optimizer"
	"github.com/jguan/mmx-optimizer/pkg/pipeline"
)

var (
	cliVersion   = "dev"
	cliBuildDate = "unknown"
	cliGitCommit = "unknown"
)

type RootCommand struct {
	cmd       *cobra.Command
	cfg       *config.Config
	orc       *pipeline.Orchestrator
	closer    func() error
	opts      *OutputOptions
	formatStr string
}

func NewRootCommand() *RootCommand {
	root := &RootCommand{
		opts: NewOutputOptions(),
	}

	cmd := &cobra.Command{
		Use:   "mmx",
		Short: "mmx - marketing-mix budget optimization pipeline",
		Long: `mmx runs the marketing-mix modeling pipeline: ingest spend data,
build adstock and saturation features, fit the regression model, and
solve constrained budget-allocation scenarios.

Runs advance through checkpointed stages; gated stages pause for human
approval before the pipeline proceeds.`,
		PersistentPreRunE: root.persistentPreRunE,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return root.Close()
		},
	}

	pflags := cmd.PersistentFlags()

	pflags.StringVarP(&root.formatStr, "output", "o", "table", "Output format (table, json, yaml)")
	pflags.BoolVarP(&root.opts.Quiet, "quiet", "q", false, "Suppress output")
	pflags.String("config", "", "Config file path (default: built-in defaults)")

	viper.BindPFlag("output", pflags.Lookup("output"))
	viper.BindPFlag("quiet", pflags.Lookup("quiet"))
	viper.BindPFlag("config", pflags.Lookup("config"))

	root.cmd = cmd

	root.addSubCommands()

	return root
}

func (r *RootCommand) persistentPreRunE(cmd *cobra.Command, args []string) error {
	r.opts.Format = OutputFormat(r.formatStr)

	cfgPath := viper.GetString("config")
	var err error
	r.cfg, err = config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOutput := os.Stderr
	if r.cfg.Logging.File != "" {
		if f, err := os.OpenFile(r.cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			logOutput = f
		}
	}
	logger.Init(logger.Config{
		Level:  r.cfg.Logging.Level,
		Format: r.cfg.Logging.Format,
		Output: logOutput,
	})

	st, closer, err := openStore(r.cfg)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	r.closer = closer

	gate := pipeline.NewGate(r.cfg.Orchestration.GatedStages, st)
	reg := pipeline.DefaultRegistry(solverConfig(r.cfg))
	r.orc = pipeline.New(st, gate, reg)

	return nil
}

// openStore opens the configured store backend, falling back to memory
// when the SQLite file cannot be opened.
func openStore(cfg *config.Config) (pipeline.Store, func() error, error) {
	if cfg.Orchestration.StoreBackend == "memory" {
		return pipeline.NewMemoryStore(), nil, nil
	}

	if dir := filepath.Dir(cfg.Orchestration.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	sqliteStore, err := store.NewSQLiteStore(cfg.Orchestration.DBPath)
	if err != nil {
		logger.Warn("failed to open SQLite store, using memory store", "error", err)
		return pipeline.NewMemoryStore(), nil, nil
	}
	return sqliteStore, sqliteStore.Close, nil
}

func solverConfig(cfg *config.Config) optimizer.Config {
	return optimizer.Config{
		Restarts:      cfg.Optimization.Restarts,
		MaxIterations: cfg.Optimization.MaxIterations,
		Tolerance:     cfg.Optimization.Tolerance,
		RelaxFactor:   cfg.Optimization.RelaxFactor,
		Seed:          cfg.Optimization.Seed,
		MaxParallel:   cfg.Optimization.MaxParallel,
	}
}

func (r *RootCommand) addSubCommands() {
	r.cmd.AddCommand(NewVersionCommand(r))
	r.cmd.AddCommand(NewRunCommand(r))
	r.cmd.AddCommand(NewCheckpointCommand(r))
	r.cmd.AddCommand(NewOptimizeCommand(r))
}

func (r *RootCommand) Command() *cobra.Command {
	return r.cmd
}

func (r *RootCommand) Orchestrator() *pipeline.Orchestrator {
	return r.orc
}

func (r *RootCommand) Config() *config.Config {
	return r.cfg
}

func (r *RootCommand) OutputOptions() *OutputOptions {
	return r.opts
}

func (r *RootCommand) SetOutputWriter(w interface{ Write([]byte) (int, error) }) {
	r.opts.Writer = w
}

// Close releases the run store, if one was opened.
func (r *RootCommand) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}

func (r *RootCommand) Execute() error {
	return r.cmd.Execute()
}

func (r *RootCommand) ExecuteContext(ctx context.Context) error {
	return r.cmd.ExecuteContext(ctx)
}

func Execute() {
	root := NewRootCommand()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func SetVersion(version, buildDate, gitCommit string) {
	cliVersion = version
	cliBuildDate = buildDate
	cliGitCommit = gitCommit
}

func GetVersion() string {
	return cliVersion
}

func GetBuildDate() string {
	return cliBuildDate
}

func GetGitCommit() string {
	return cliGitCommit
}
