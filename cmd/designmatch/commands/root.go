package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/haivivi/designmatch/cmd/designmatch/internal/config"
	"github.com/haivivi/designmatch/pkg/cli"
)

const appName = "designmatch"

var (
	// Global flags
	cfgFile      string
	verbose      bool
	formatOutput string

	// Global configuration (loaded on first use)
	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "designmatch",
	Short: "Image matching and catalog engine",
	Long: `designmatch - match customer photos against a design catalog.

The catalog is built from a private S3 bucket of design images and an
optional storefront product feed. Colour descriptors are cached on disk so
restarts do not download every image again.

Configuration is read from the OS config directory:
  macOS:   ~/Library/Application Support/designmatch/config.yaml
  Linux:   ~/.config/designmatch/config.yaml
  Windows: %AppData%/designmatch/config.yaml

Examples:
  # Build the catalog from the bucket and the product feed
  designmatch ingest all

  # Match a photo against the cached catalog
  designmatch match https://example.com/photo.jpg

  # Inspect the cache
  designmatch cache info`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(cli.NewLogger(cmd.ErrOrStderr(), verbose))
	},
}

// Execute runs the root command. An interrupt cancels the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <config dir>/designmatch/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&formatOutput, "format", "table", "output format: table, yaml or json")
}

// GetConfig loads and validates the configuration once.
func GetConfig() (*config.Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}
	path := cfgFile
	if path == "" {
		paths, err := cli.NewPaths(appName)
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		path = paths.ConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", path, err)
	}
	globalConfig = cfg
	return cfg, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// output writes result to the command's stdout in the selected format.
func output(cmd *cobra.Command, result any) error {
	return cli.Output(result, cli.OutputOptions{
		Format: cli.OutputFormat(formatOutput),
		Writer: cmd.OutOrStdout(),
	})
}
