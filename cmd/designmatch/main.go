// Package main is the entry point for the designmatch operator CLI.
//
// Usage:
//
//	designmatch [flags] <command> [subcommand] [args]
//
// Commands:
//
//	ingest     - Rebuild the catalog from the bucket or the product feed
//	match      - Match images against the catalog
//	cache      - Inspect or clear the descriptor cache
//	feed       - List products from the configured feed
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/designmatch/cmd/designmatch/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
