package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/designmatch/pkg/catalog"
	"github.com/haivivi/designmatch/pkg/cli"
	"github.com/haivivi/designmatch/pkg/engine"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Rebuild catalog entries and persist the cache",
	Long: `Rebuild catalog entries from their sources and persist the cache.

  bucket  re-describe every design image in the bucket
  feed    re-describe every product of the configured feed
  all     both, starting from an empty catalog

bucket and feed keep the other half of the cached catalog as it is.`,
}

var ingestBucketCmd = &cobra.Command{
	Use:   "bucket",
	Short: "Re-ingest the design bucket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd, true, func(ctx context.Context, e *engine.Engine) error {
			return e.RefreshBucket(ctx)
		})
	},
}

var ingestFeedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Re-ingest the product feed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd, true, func(ctx context.Context, e *engine.Engine) error {
			return e.RefreshFeed(ctx)
		})
	},
}

var ingestAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Rebuild the whole catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd, false, func(ctx context.Context, e *engine.Engine) error {
			if err := e.RefreshBucket(ctx); err != nil {
				return err
			}
			if err := e.RefreshFeed(ctx); err != nil && !errors.Is(err, engine.ErrNoFeed) {
				return err
			}
			return nil
		})
	},
}

// runIngest optionally seeds the engine from the cache, runs refresh and
// prints a summary of the published snapshot.
func runIngest(cmd *cobra.Command, fromCache bool, refresh func(context.Context, *engine.Engine) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if fromCache {
		if _, err := a.engine.LoadCache(ctx); err != nil {
			return err
		}
	}
	start := time.Now()
	if err := refresh(ctx, a.engine); err != nil {
		return err
	}
	snap, ok := a.engine.Current()
	if !ok {
		return fmt.Errorf("no catalog published")
	}

	w := cmd.OutOrStdout()
	cli.PrintSuccess(w, "published %d entries in %s", snap.Len(), cli.FormatDuration(time.Since(start)))
	fmt.Fprintln(w, cli.NewStyles(cli.DefaultTheme).KeyValues(
		[2]string{"internal", fmt.Sprint(len(snap.Catalog.ByProvenance(catalog.Internal)))},
		[2]string{"external", fmt.Sprint(len(snap.Catalog.ByProvenance(catalog.External)))},
		[2]string{"snapshot", snap.ID.String()},
		[2]string{"cache", a.where},
	))
	if snap.Len() == 0 {
		cli.PrintWarning(w, "catalog is empty; matches will report it as not ready")
	}
	return nil
}

func init() {
	ingestCmd.AddCommand(ingestBucketCmd, ingestFeedCmd, ingestAllCmd)
	rootCmd.AddCommand(ingestCmd)
}
