// Package cli implements the imagesearch command tree.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"imagesearch/internal/config"
	"imagesearch/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "imagesearch",
	Short: "Personal text-to-image search engine",
	Long: `imagesearch ingests your images, embeds them with CLIP and lets you
find them again with plain-language queries.

Example usage:
  imagesearch serve                      # Start the HTTP server
  imagesearch search "red car at night"  # Query from the command line
  imagesearch reindex                    # Rebuild missing vector entries`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		log = logger.New(
			logger.WithDebug(cfg.Log.Debug),
			logger.WithJSON(cfg.Log.Format == "json"),
			logger.WithPretty(cfg.Log.Format == "pretty"),
		)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./imagesearch.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(reindexCmd)
}
