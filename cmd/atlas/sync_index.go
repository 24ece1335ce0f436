package main

import (
	"github.com/spf13/cobra"
)

var syncIndexCollection string

var syncIndexCmd = &cobra.Command{
	Use:   "sync-index",
	Short: "Rebuild the ingest index from the sources stored in the vector store",
	Long: `Lists every distinct source in the collection and rewrites the ingest index
with each file's current digest, so unchanged files are skipped on the next run.
Sources whose file no longer exists are left out of the index.`,
	Args: cobra.NoArgs,
	RunE: runSyncIndex,
}

func init() {
	syncIndexCmd.Flags().StringVar(&syncIndexCollection, "collection", "", "collection to read sources from (default from config)")
	rootCmd.AddCommand(syncIndexCmd)
}

func runSyncIndex(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Ingest.SyncIndex(ctx, syncIndexCollection)
	if err != nil {
		return err
	}
	cmd.Printf("Wrote %d documents into %s (%d sources missing on disk)\n",
		res.Recorded, a.Config.Ingest.IndexPath, res.Missing)
	return nil
}
