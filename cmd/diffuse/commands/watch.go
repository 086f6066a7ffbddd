package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/diffuse/internal/printer"
	"github.com/dyluth/diffuse/internal/report"
	"github.com/dyluth/diffuse/pkg/rendezvous"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	watchRedisURL  string
	watchRunID     string
	watchWorldSize int
	watchOutput    string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream round progress of a distributed run",
	Long: `Subscribe to the round events published by 'rank' processes and print
them as they arrive.

With --world-size the command exits once every rank has reported its last
round. Otherwise it streams until interrupted.

Examples:
  diffuse watch --redis-url redis://localhost:6379 --run <run-id> --world-size 4
  diffuse watch --redis-url redis://localhost:6379 --run <run-id> --output jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchRedisURL, "redis-url", "", "Redis URL of the run's broker")
	watchCmd.Flags().StringVar(&watchRunID, "run", "", "Run ID shared by the ranks")
	watchCmd.Flags().IntVar(&watchWorldSize, "world-size", 0, "Number of ranks; exit when all have finished")
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", string(report.OutputFormatDefault), "Output format (default or jsonl)")
	_ = watchCmd.MarkFlagRequired("redis-url")
	_ = watchCmd.MarkFlagRequired("run")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := report.ParseOutputFormat(watchOutput)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Use --output default or --output jsonl"})
	}
	formatter, err := report.NewRoundFormatter(format, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	opts, err := redis.ParseURL(watchRedisURL)
	if err != nil {
		return printer.Error("invalid Redis URL", err.Error(), []string{"Use the URL printed by 'diffuse up', e.g. redis://localhost:6379"})
	}
	client, err := rendezvous.NewClient(opts, watchRunID)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		return printer.ErrorWithContext(
			"cannot reach broker",
			err.Error(),
			map[string]string{"Redis URL": watchRedisURL, "Run": watchRunID},
			[]string{"Check the broker is running: diffuse list"},
		)
	}

	sub, err := client.SubscribeRoundEvents(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	if format == report.OutputFormatDefault {
		printer.Info("Watching run '%s'...\n", watchRunID)
	}

	err = report.StreamRounds(ctx, sub, formatter, watchWorldSize, cmd.ErrOrStderr())
	if err != nil && ctx.Err() != nil {
		// Interrupted by the user.
		return nil
	}
	return err
}
