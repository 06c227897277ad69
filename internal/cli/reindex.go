package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-embed images missing from the vector index",
	Long: `Walks every stored image and re-embeds those without a vector entry.
Use after switching vector index backends or recovering from index
data loss. Already-indexed images are skipped, so the command is safe
to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.gal.Reindex(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("scanned %d, indexed %d, skipped %d, failed %d\n",
			report.Scanned, report.Indexed, report.Skipped, report.Failures)
		return nil
	},
}
