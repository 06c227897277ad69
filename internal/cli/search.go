package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"imagesearch/internal/gallery"
)

var (
	searchTopK    int
	searchTrashed bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find images matching a text query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		query := strings.Join(args, " ")
		results, err := a.gal.Search(cmd.Context(), query, gallery.SearchOptions{
			TopK:           searchTopK,
			IncludeTrashed: searchTrashed,
		})
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%2d. %-40s  score=%.4f  id=%s\n", i+1, r.Record.Filename, r.Score, r.Record.ID)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top", "k", gallery.DefaultTopK, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchTrashed, "include-trashed", false, "also search trashed images")
}
