package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/diffuse/internal/broker"
	dockerpkg "github.com/dyluth/diffuse/internal/docker"
	"github.com/dyluth/diffuse/internal/printer"
	"github.com/spf13/cobra"
)

var (
	upRunName string
	upTimeout time.Duration
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start a Redis broker for distributed ranks",
	Long: `Start a Redis container that 'rank' processes use to exchange rows.

The container is labelled with the run name and bound to 127.0.0.1 on the
first free port in the 6379-6478 range. The run name is auto-generated
(run-N) unless specified with --name.

Examples:
  diffuse up
  diffuse up --name nightly`,
	Args: cobra.NoArgs,
	RunE: runUp,
}

func init() {
	upCmd.Flags().StringVarP(&upRunName, "name", "n", "", "Run name (auto-generated if omitted)")
	upCmd.Flags().DurationVar(&upTimeout, "timeout", 30*time.Second, "How long to wait for the broker to accept connections")
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), []string{fmt.Sprintf("Check %s or pass --config <path>", configPath)})
	}

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return printer.Error("Docker is not available", err.Error(), []string{"Start the Docker daemon and retry: diffuse up"})
	}
	defer cli.Close()

	runName := upRunName
	if runName == "" {
		runName, err = broker.GenerateDefaultName(ctx, cli)
		if err != nil {
			return fmt.Errorf("failed to generate run name: %w", err)
		}
	}

	b, err := broker.Up(ctx, cli, runName, cfg.Broker.Image)
	if err != nil {
		if errors.Is(err, broker.ErrNameInUse) {
			return printer.Error(
				fmt.Sprintf("run '%s' already exists", runName),
				"Found an existing broker container with this run name.",
				[]string{
					fmt.Sprintf("Stop the existing broker: diffuse down --name %s", runName),
					"Choose a different name: diffuse up --name other-name",
				},
			)
		}
		return fmt.Errorf("failed to start broker: %w", err)
	}
	printer.Step("Started broker container %s on port %d\n", dockerpkg.BrokerContainerName(runName), b.Port)

	if err := broker.WaitReady(ctx, b.URL(), upTimeout); err != nil {
		printer.Warning("%v\n", err)
	}

	printer.Success("\nBroker for run '%s' is up\n", runName)
	printer.Println()
	printer.Info("Start each rank with:\n")
	printer.Printf("  DIFFUSE_RUN_ID=%s REDIS_URL=%s DIFFUSE_WORLD_SIZE=<n> DIFFUSE_RANK=<i> \\\n", b.RunID, b.URL())
	printer.Printf("    rank <input.ppm> <output.ppm> <alpha> <iterations>\n")
	printer.Println()
	printer.Info("Follow progress with:\n")
	printer.Printf("  diffuse watch --redis-url %s --run %s --world-size <n>\n", b.URL(), b.RunID)

	return nil
}
