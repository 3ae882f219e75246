package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/haivivi/designmatch/pkg/match"
	"github.com/haivivi/designmatch/pkg/productfeed"
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Work with the external product feed",
}

var feedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List products from the configured feed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.feed == nil {
			return errors.New("no feed configured (set feed.kind)")
		}
		products, err := a.feed.Products(ctx)
		if err != nil {
			return err
		}
		return output(cmd, productRows(products))
	},
}

type productRows []productfeed.Product

func (r productRows) Header() []string { return []string{"ID", "Name", "Price", "Image"} }

func (r productRows) Rows() [][]string {
	out := make([][]string, len(r))
	for i, p := range r {
		out[i] = []string{p.ID, p.Name, match.FormatPrice(p.Price), p.ImageURL}
	}
	return out
}

func init() {
	feedCmd.AddCommand(feedListCmd)
	rootCmd.AddCommand(feedCmd)
}
