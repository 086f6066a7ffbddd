package commands

import (
	"fmt"

	"github.com/dyluth/diffuse/internal/config"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "diffuse",
	Short: "Diffuse - distributed edge-aware image denoiser",
	Long: `Diffuse smooths noise out of PPM images with an edge-aware diffusion
stencil while leaving strong edges intact.

Rows of the image are split across workers which exchange their results
after every iteration. Workers run in-process with 'diffuse run', or as
separate 'rank' processes meeting on a Redis broker started with 'diffuse up'.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultFile, "Path to the diffuse configuration file")
}

// loadConfig reads the configuration file, falling back to defaults when the
// default file is absent.
func loadConfig() (*config.DiffuseConfig, error) {
	if configPath == config.DefaultFile {
		return config.LoadOptional(configPath)
	}
	return config.Load(configPath)
}
