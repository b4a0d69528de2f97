package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tripdesk/tripdesk/internal/agent"
	"github.com/tripdesk/tripdesk/internal/app"
	"github.com/tripdesk/tripdesk/internal/config"
)

var (
	ingestDir   string
	ingestScope string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index reference documents into the context store",
	Long: `Ingest reads .txt documents from a directory, splits them into
overlapping chunks, embeds each chunk, and upserts the result into the
vector store. A file's "#agent:" metadata header selects its agent scope;
--scope sets the default for files without one.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runIngest(cmd.Context())
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "data/knowledge", "directory of .txt documents to index")
	ingestCmd.Flags().StringVar(&ingestScope, "scope", string(agent.TravelSupport), "default agent scope for untagged documents")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(parent context.Context) error {
	if _, err := agent.ParseType(ingestScope); err != nil {
		return fmt.Errorf("invalid --scope: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	res, err := a.Indexer.IndexDir(ctx, ingestDir, ingestScope)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", ingestDir, err)
	}

	fmt.Printf("Indexed %d files (%d chunks, %d skipped) in %s\n",
		res.FilesIndexed, res.ChunksAdded, res.FilesSkipped, res.Duration.Round(time.Millisecond))
	return nil
}
