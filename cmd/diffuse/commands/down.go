package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/diffuse/internal/broker"
	dockerpkg "github.com/dyluth/diffuse/internal/docker"
	"github.com/dyluth/diffuse/internal/printer"
	"github.com/spf13/cobra"
)

var downRunName string

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop a Redis broker",
	Long: `Stop and remove the broker container of a run.

The command does not prompt for confirmation and executes immediately.

Examples:
  diffuse down --name run-1`,
	Args: cobra.NoArgs,
	RunE: runDown,
}

func init() {
	downCmd.Flags().StringVarP(&downRunName, "name", "n", "", "Run name of the broker to stop")
	_ = downCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return printer.Error("Docker is not available", err.Error(), []string{"Start the Docker daemon and retry"})
	}
	defer cli.Close()

	removed, err := broker.Down(ctx, cli, downRunName)
	if err != nil {
		if errors.Is(err, broker.ErrNotFound) {
			return printer.Error(
				fmt.Sprintf("run '%s' not found", downRunName),
				fmt.Sprintf("No broker containers found with run name '%s'.", downRunName),
				[]string{"Run 'diffuse list' to see available brokers"},
			)
		}
		return err
	}

	for _, name := range removed {
		printer.Step("Removed %s\n", name)
	}
	printer.Success("\nBroker for run '%s' removed successfully\n", downRunName)

	return nil
}
