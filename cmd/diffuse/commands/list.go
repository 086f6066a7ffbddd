package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/dyluth/diffuse/internal/broker"
	dockerpkg "github.com/dyluth/diffuse/internal/docker"
	"github.com/dyluth/diffuse/internal/printer"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List Redis brokers",
	Long: `List every broker container started by 'diffuse up'.

Use --json for machine-readable output.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(listCmd)
}

// brokerInfo is the JSON shape of one listed broker.
type brokerInfo struct {
	Name  string `json:"name"`
	RunID string `json:"run_id"`
	State string `json:"state"`
	URL   string `json:"url"`
	Image string `json:"image"`
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return printer.Error("Docker is not available", err.Error(), []string{"Start the Docker daemon and retry"})
	}
	defer cli.Close()

	brokers, err := broker.List(ctx, cli)
	if err != nil {
		return err
	}
	sort.Slice(brokers, func(i, j int) bool { return brokers[i].Name < brokers[j].Name })

	if listJSON {
		return writeBrokersJSON(cmd.OutOrStdout(), brokers)
	}
	if len(brokers) == 0 {
		printer.Info("No brokers found\n")
		return nil
	}
	return writeBrokersTable(cmd.OutOrStdout(), brokers)
}

func writeBrokersJSON(w io.Writer, brokers []broker.Broker) error {
	infos := make([]brokerInfo, 0, len(brokers))
	for _, b := range brokers {
		infos = append(infos, brokerInfo{Name: b.Name, RunID: b.RunID, State: b.State, URL: b.URL(), Image: b.Image})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(infos); err != nil {
		return fmt.Errorf("failed to encode brokers: %w", err)
	}
	return nil
}

func writeBrokersTable(w io.Writer, brokers []broker.Broker) error {
	table := tablewriter.NewWriter(w)
	table.Header("NAME", "STATE", "PORT", "RUN ID")
	for _, b := range brokers {
		if err := table.Append([]string{b.Name, b.State, strconv.Itoa(b.Port), b.RunID}); err != nil {
			return err
		}
	}
	return table.Render()
}
