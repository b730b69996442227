package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func NewCheckpointCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoint",
		Aliases: []string{"cp"},
		Short:   "Review and decide pipeline checkpoints",
		Long: `Review pending checkpoints and record approve/reject decisions.

A gated stage suspends its run until a decision is recorded. Approval
lets the run continue; rejection aborts it while keeping every artifact
already produced. Each checkpoint accepts exactly one decision.`,
		Example: `  # List a run's checkpoints
  mmx checkpoint list 3f2a…

  # Approve the model-training checkpoint
  mmx checkpoint approve 3f2a… train_model --note "metrics acceptable"

  # Reject it instead
  mmx checkpoint reject 3f2a… train_model --note "R² too low"`,
	}

	cmd.AddCommand(newCheckpointListCommand(root))
	cmd.AddCommand(newCheckpointDecideCommand(root, true))
	cmd.AddCommand(newCheckpointDecideCommand(root, false))

	return cmd
}

func newCheckpointListCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:     "list <run-id>",
		Aliases: []string{"ls"},
		Short:   "List a run's checkpoints",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkpointList(cmd.Context(), root, args[0])
		},
	}
}

func newCheckpointDecideCommand(root *RootCommand, approve bool) *cobra.Command {
	use, short := "approve", "Approve a pending checkpoint"
	if !approve {
		use, short = "reject", "Reject a pending checkpoint and abort the run"
	}

	var note string

	cmd := &cobra.Command{
		Use:   use + " <run-id> <stage>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkpointDecide(cmd.Context(), root, args[0], args[1], approve, note)
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Reviewer note attached to the decision")

	return cmd
}

func checkpointList(ctx context.Context, root *RootCommand, runID string) error {
	cps, err := root.Orchestrator().Checkpoints(ctx, runID)
	if err != nil {
		return err
	}

	rows := make([]map[string]any, 0, len(cps))
	for _, cp := range cps {
		row := map[string]any{
			"stage":      cp.Stage,
			"decision":   string(cp.Decision),
			"note":       cp.Note,
			"created_at": cp.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if cp.DecidedAt != nil {
			row["decided_at"] = cp.DecidedAt.Format("2006-01-02 15:04:05")
		}
		rows = append(rows, row)
	}

	return PrintOutput(map[string]any{
		"checkpoints": rows,
		"total":       len(rows),
	}, root.OutputOptions())
}

func checkpointDecide(ctx context.Context, root *RootCommand, runID, stage string, approve bool, note string) error {
	if err := root.Orchestrator().Gate().RecordDecision(ctx, runID, stage, approve, note); err != nil {
		return err
	}

	verb := "approved"
	if !approve {
		verb = "rejected; run aborted"
	}
	PrintSuccess(fmt.Sprintf("checkpoint %q %s", stage, verb), root.OutputOptions())
	return nil
}
