package main

import (
	"github.com/spf13/cobra"

	"product-atlas/internal/config"
)

var (
	ingestCollection string
	ingestAsync      bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Ingest new or changed documents from a directory",
	Long: `Walks the directory recursively and indexes .md, .txt and .pdf files.
Files already ingested with the same content are skipped.
In-process runs use [dir] as the data directory; with --async it must lie
inside the configured data directory the consumer ingests from.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCollection, "collection", "", "target collection (default from config)")
	ingestCmd.Flags().BoolVar(&ingestAsync, "async", false, "publish a Kafka task instead of ingesting in-process")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var dir string
	if len(args) == 1 {
		dir = args[0]
	}

	var overrides []func(*config.Config)
	if dir != "" && !ingestAsync {
		// 本地运行时由操作者指定数据目录
		dataDir := dir
		overrides = append(overrides, func(cfg *config.Config) { cfg.Ingest.DataDir = dataDir })
		dir = ""
	}
	a, err := bootstrap(ctx, overrides...)
	if err != nil {
		return err
	}
	defer a.Close()

	if ingestAsync {
		task, err := a.Ingest.Enqueue(ctx, dir, ingestCollection)
		if err != nil {
			return err
		}
		cmd.Printf("Queued ingest task %s\n", task.TaskID)
		return nil
	}

	res, err := a.Ingest.Ingest(ctx, dir, ingestCollection)
	if err != nil {
		return err
	}
	cmd.Printf("Ingested %d chunks from %d files (skipped %d, unsupported %d, empty %d, failed %d)\n",
		res.ChunksIngested, res.FilesIngested, res.FilesSkipped, res.FilesUnsupported, res.FilesEmpty, res.FilesFailed)
	return nil
}
