package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/designmatch/pkg/catalog"
	"github.com/haivivi/designmatch/pkg/cli"
	"github.com/haivivi/designmatch/pkg/kv"
)

// memoPrefix is the key prefix of memoized descriptors.
var memoPrefix = kv.Key{"desc"}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the descriptor cache",
}

type cacheInfo struct {
	Location  string    `json:"location" yaml:"location"`
	Entries   int       `json:"entries" yaml:"entries"`
	Dim       int       `json:"dim" yaml:"dim"`
	Signature string    `json:"signature" yaml:"signature"`
	WrittenAt time.Time `json:"written_at" yaml:"written_at"`
	Memo      int       `json:"memo_entries" yaml:"memo_entries"`
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show what the cache holds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		info := cacheInfo{Location: a.where}
		st, err := a.cache.Stat(ctx)
		switch {
		case errors.Is(err, catalog.ErrCacheMiss):
		case err != nil:
			return err
		default:
			info.Entries, info.Dim, info.Signature, info.WrittenAt = st.Count, st.Dim, st.Signature, st.WrittenAt
		}
		if a.memo != nil {
			for _, err := range a.memo.List(ctx, memoPrefix) {
				if err != nil {
					return err
				}
				info.Memo++
			}
		}

		if formatOutput != "table" {
			return output(cmd, info)
		}
		w := cmd.OutOrStdout()
		if info.WrittenAt.IsZero() {
			cli.PrintWarning(w, "no cache at %s", info.Location)
		}
		fmt.Fprintln(w, cli.NewStyles(cli.DefaultTheme).KeyValues(
			[2]string{"location", info.Location},
			[2]string{"entries", fmt.Sprint(info.Entries)},
			[2]string{"dim", fmt.Sprint(info.Dim)},
			[2]string{"signature", info.Signature},
			[2]string{"written", cli.FormatAge(info.WrittenAt, time.Now())},
			[2]string{"memo", fmt.Sprint(info.Memo)},
		))
		return nil
	},
}

var keepMemo bool

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the cache files and memoized descriptors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.cache.Clear(ctx); err != nil {
			return err
		}
		purged := 0
		if a.memo != nil && !keepMemo {
			if purged, err = kv.Purge(ctx, a.memo, memoPrefix); err != nil {
				return err
			}
		}
		cli.PrintSuccess(cmd.OutOrStdout(), "cleared cache at %s (%d memoized descriptors removed)", a.where, purged)
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().BoolVar(&keepMemo, "keep-memo", false, "keep memoized descriptors")
	cacheCmd.AddCommand(cacheInfoCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
