package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/haivivi/designmatch/pkg/match"
)

var matchReply bool

var matchCmd = &cobra.Command{
	Use:   "match <image-url>...",
	Short: "Match images against the catalog",
	Long: `Match one or more image URLs against the catalog.

The catalog is loaded from the cache, or ingested first when there is no
usable cache. With --reply the conversational reply is printed exactly as a
customer would receive it; otherwise the ranked results are rendered in the
selected --format.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.engine.Open(ctx); err != nil {
			return err
		}
		if matchReply {
			fmt.Fprintln(cmd.OutOrStdout(), a.service.Match(ctx, "cli", args...))
			return nil
		}

		var rows matchRows
		for _, u := range args {
			results, err := a.service.Query(ctx, u)
			if err != nil {
				return fmt.Errorf("%s: %w", u, err)
			}
			for _, r := range results {
				rows = append(rows, matchRow{
					Image:      u,
					Rank:       r.Rank,
					ID:         r.Entry.ID,
					Name:       r.Entry.Name,
					Price:      r.Entry.Price,
					Similarity: r.Similarity,
					Source:     string(r.Entry.Provenance),
					Link:       r.Link,
				})
			}
		}
		return output(cmd, rows)
	},
}

type matchRow struct {
	Image      string  `json:"image" yaml:"image"`
	Rank       int     `json:"rank" yaml:"rank"`
	ID         string  `json:"id" yaml:"id"`
	Name       string  `json:"name" yaml:"name"`
	Price      float64 `json:"price" yaml:"price"`
	Similarity float32 `json:"similarity" yaml:"similarity"`
	Source     string  `json:"source" yaml:"source"`
	Link       string  `json:"link,omitempty" yaml:"link,omitempty"`
}

type matchRows []matchRow

func (r matchRows) Header() []string {
	return []string{"Image", "#", "Name", "Price", "Similarity", "Source"}
}

func (r matchRows) Rows() [][]string {
	out := make([][]string, len(r))
	for i, m := range r {
		out[i] = []string{
			m.Image,
			strconv.Itoa(m.Rank),
			m.Name,
			match.FormatPrice(m.Price),
			strconv.FormatFloat(float64(m.Similarity), 'f', 2, 32),
			m.Source,
		}
	}
	return out
}

func init() {
	matchCmd.Flags().BoolVar(&matchReply, "reply", false, "print the customer-facing reply text")
	rootCmd.AddCommand(matchCmd)
}
