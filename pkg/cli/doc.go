// Package cli provides the terminal plumbing shared by designmatch
// commands.
//
// This package includes:
//   - Per-user directories for config, cache and memo data
//   - Output formatting (YAML, JSON, styled tables)
//   - Logger setup for command-line runs
//
// Example usage:
//
//	paths, err := cli.NewPaths("designmatch")
//	cfgFile := paths.ConfigFile()
//
//	cli.Output(rows, cli.OutputOptions{
//	    Format: cli.FormatTable,
//	})
package cli
