package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jguan/mmx-optimizer/pkg/pipeline"
)

func NewOptimizeCommand(root *RootCommand) *cobra.Command {
	var planPath, dataPath string

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run the full pipeline end to end and print the allocations",
		Long: `Run the full pipeline in one shot, without checkpoint gates, and
print the optimized budget allocations.

This is the exploratory shortcut; for reviewed production runs use
"mmx run submit" with gated stages instead.`,
		Example: `  mmx optimize --plan plan.yaml --data spend.csv -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(cmd.Context(), root, planPath, dataPath)
		},
	}

	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "YAML plan file (required)")
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "CSV feature table (required)")
	cmd.MarkFlagRequired("plan")
	cmd.MarkFlagRequired("data")

	return cmd
}

func runOptimize(ctx context.Context, root *RootCommand, planPath, dataPath string) error {
	plan, err := pipeline.LoadPlan(planPath)
	if err != nil {
		return err
	}
	applyPlanDefaults(plan, root)

	// One-shot runs are ephemeral and ungated.
	store := pipeline.NewMemoryStore()
	gate := pipeline.NewGate(nil, store)
	reg := pipeline.DefaultRegistry(solverConfig(root.Config()))
	orc := pipeline.New(store, gate, reg)

	runID, err := orc.Submit(ctx, pipeline.DefaultStages(), &pipeline.SubmitInput{
		Plan:     plan,
		DataPath: dataPath,
	})
	if err != nil {
		return err
	}
	if _, err := orc.AdvanceAll(ctx, runID); err != nil {
		return err
	}

	a, err := orc.Artifact(ctx, runID, pipeline.StageOptimize)
	if err != nil {
		return err
	}
	var payload pipeline.OptimizePayload
	if err := a.Decode(&payload); err != nil {
		return err
	}

	return PrintOutput(&payload, root.OutputOptions())
}
