package commands

import (
	"github.com/dyluth/diffuse/internal/partition"
	"github.com/dyluth/diffuse/internal/printer"
	"github.com/dyluth/diffuse/internal/report"
	"github.com/spf13/cobra"
)

var (
	planWidth   int
	planHeight  int
	planWorkers int
	planOutput  string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show how an image is split across workers",
	Long: `Print the row band, effective rows, receive count and displacement of
every worker for an image of the given size.

Use --output jsonl for one JSON object per worker.

Examples:
  diffuse plan --width 640 --height 480 --workers 4
  diffuse plan --width 640 --height 480 --workers 4 --output jsonl | jq .count`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().IntVar(&planWidth, "width", 0, "Image width in pixels")
	planCmd.Flags().IntVar(&planHeight, "height", 0, "Image height in pixels")
	planCmd.Flags().IntVarP(&planWorkers, "workers", "w", 1, "Number of workers")
	planCmd.Flags().StringVarP(&planOutput, "output", "o", string(report.OutputFormatDefault), "Output format (default or jsonl)")
	_ = planCmd.MarkFlagRequired("width")
	_ = planCmd.MarkFlagRequired("height")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	format, err := report.ParseOutputFormat(planOutput)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Use --output default or --output jsonl"})
	}

	table, err := partition.BuildTable(planWidth, planHeight, planWorkers)
	if err != nil {
		return printer.Error(
			"invalid plan",
			err.Error(),
			[]string{"Width and height must be positive", "Use at most one worker per image row"},
		)
	}

	return report.WritePlan(cmd.OutOrStdout(), table, format)
}
