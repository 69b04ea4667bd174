package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reppyfit/reppy/internal/app"
	"github.com/reppyfit/reppy/internal/rag"
)

var indexBatchSize int

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the exercise catalog into the vector store",
	Long: `Fetches the full exercise catalog from the Express API, embeds each
exercise and upserts it into the Qdrant exercises collection. Point IDs
are derived from the exercise identity, so re-running updates in place.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runIndex(cmd.Context())
	},
}

func init() {
	indexCmd.Flags().IntVar(&indexBatchSize, "batch-size", 0, "embedding batch size (0 uses the default)")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	start := time.Now()
	rows, err := a.Express.ExerciseCatalog(ctx)
	if err != nil {
		return fmt.Errorf("fetching exercise catalog: %w", err)
	}
	entries, err := rag.DecodeCatalog(rows)
	if err != nil {
		return fmt.Errorf("decoding exercise catalog: %w", err)
	}
	logger.Info("fetched exercise catalog", "exercises", len(entries))

	indexer, err := rag.NewIndexer(a.Embedder, a.Qdrant, rag.IndexerConfig{
		Collection: cfg.Qdrant.Collection,
		VectorSize: cfg.Qdrant.VectorSize,
		Distance:   cfg.Qdrant.Distance,
		BatchSize:  indexBatchSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating indexer: %w", err)
	}

	indexed, err := indexer.Index(ctx, entries)
	if err != nil {
		return fmt.Errorf("indexing exercises: %w", err)
	}

	fmt.Printf("Indexed %d of %d exercises in %s\n", indexed, len(entries), time.Since(start).Round(time.Millisecond))
	return nil
}
