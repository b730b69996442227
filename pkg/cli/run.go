package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jguan/mmx-optimizer/pkg/pipeline"
)

func NewRunCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage pipeline runs",
		Long: `Manage marketing-mix pipeline runs.

A run advances through its stage sequence one Advance at a time. Gated
stages suspend the run until a checkpoint decision is recorded with
"mmx checkpoint approve" or "mmx checkpoint reject".`,
		Example: `  # Submit a run
  mmx run submit --plan plan.yaml --data spend.csv

  # Advance the run one stage
  mmx run advance 3f2a…

  # Advance until it suspends or finishes
  mmx run advance 3f2a… --all

  # Inspect a run
  mmx run status 3f2a…`,
	}

	cmd.AddCommand(newRunSubmitCommand(root))
	cmd.AddCommand(newRunAdvanceCommand(root))
	cmd.AddCommand(newRunStatusCommand(root))
	cmd.AddCommand(newRunResumeCommand(root))
	cmd.AddCommand(newRunListCommand(root))
	cmd.AddCommand(newRunArtifactCommand(root))

	return cmd
}

func newRunSubmitCommand(root *RootCommand) *cobra.Command {
	var planPath, dataPath string
	var stages []string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new pipeline run",
		Long: `Submit a new run from a YAML plan and a CSV feature table.

The run is created in the pending state; use "mmx run advance" to
execute its stages.`,
		Example: `  # Submit with the default stage sequence
  mmx run submit --plan plan.yaml --data spend.csv

  # Submit with a custom stage subset
  mmx run submit --plan plan.yaml --data spend.csv \
    --stages ingest_data,transform_features,train_model`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), root, planPath, dataPath, stages)
		},
	}

	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "YAML plan file (required)")
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "CSV feature table (required)")
	cmd.Flags().StringSliceVar(&stages, "stages", nil, "Stage sequence (default: the full pipeline)")
	cmd.MarkFlagRequired("plan")
	cmd.MarkFlagRequired("data")

	return cmd
}

func newRunAdvanceCommand(root *RootCommand) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "advance <run-id>",
		Short: "Execute the run's next stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdvance(cmd.Context(), root, args[0], all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Keep advancing until the run suspends or finishes")

	return cmd
}

func newRunStatusCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show run status and completed stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := root.Orchestrator().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return PrintOutput(summary, root.OutputOptions())
		},
	}
}

func newRunResumeCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Reposition an interrupted run from its persisted artifacts",
		Long: `Reposition a run after a crash or restart.

The run's next stage is recomputed as the first stage without a
persisted artifact; an undecided checkpoint keeps the run suspended.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := root.Orchestrator().Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			PrintSuccess(fmt.Sprintf("run %s resumed at stage %q (%s)",
				run.ID, run.CurrentStageName(), run.Status), root.OutputOptions())
			return nil
		},
	}
}

func newRunListCommand(root *RootCommand) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), root, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")

	return cmd
}

func newRunArtifactCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "artifact <run-id> <stage>",
		Short: "Show one stage's persisted artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.Orchestrator().Artifact(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			var payload any
			if err := a.Decode(&payload); err != nil {
				return err
			}
			return PrintOutput(payload, root.OutputOptions())
		},
	}
}

func runSubmit(ctx context.Context, root *RootCommand, planPath, dataPath string, stages []string) error {
	plan, err := pipeline.LoadPlan(planPath)
	if err != nil {
		return err
	}
	applyPlanDefaults(plan, root)

	if len(stages) == 0 {
		stages = pipeline.DefaultStages()
	}

	runID, err := root.Orchestrator().Submit(ctx, stages, &pipeline.SubmitInput{
		Plan:     plan,
		DataPath: dataPath,
	})
	if err != nil {
		return err
	}

	opts := root.OutputOptions()
	if opts.Format == OutputJSON || opts.Format == OutputYAML {
		return PrintOutput(map[string]string{"run_id": runID}, opts)
	}
	PrintSuccess(fmt.Sprintf("run submitted: %s", runID), opts)
	return nil
}

// applyPlanDefaults fills trainer settings the plan omits from config.
func applyPlanDefaults(plan *pipeline.Plan, root *RootCommand) {
	cfg := root.Config()
	if plan.Trainer.Lambda == 0 {
		plan.Trainer.Lambda = cfg.Modeling.Lambda
	}
	if plan.Trainer.TrainSplit == 0 {
		plan.Trainer.TrainSplit = cfg.Modeling.TrainSplit
	}
	if plan.MaxSpendFactor == 0 {
		plan.MaxSpendFactor = cfg.Modeling.MaxSpendFactor
	}
}

func runAdvance(ctx context.Context, root *RootCommand, runID string, all bool) error {
	orc := root.Orchestrator()
	opts := root.OutputOptions()

	if all {
		summary, err := orc.AdvanceAll(ctx, runID)
		if err != nil {
			return err
		}
		return PrintOutput(summary, opts)
	}

	outcome, err := orc.Advance(ctx, runID)
	if err != nil {
		return err
	}
	if outcome.Gated {
		PrintSuccess(fmt.Sprintf("stage %q completed; run awaits a checkpoint decision", outcome.Stage), opts)
		return nil
	}
	return PrintOutput(outcome, opts)
}

func runList(ctx context.Context, root *RootCommand, limit int) error {
	runs, err := root.Orchestrator().ListRuns(ctx, limit)
	if err != nil {
		return err
	}

	rows := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, map[string]any{
			"run_id":        run.ID,
			"status":        string(run.Status),
			"current_stage": run.CurrentStageName(),
			"created_at":    run.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	return PrintOutput(map[string]any{
		"runs":  rows,
		"total": len(rows),
	}, root.OutputOptions())
}
