package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/reppyfit/reppy/internal/log"
	"github.com/reppyfit/reppy/internal/qdrant"
)

// CatalogEntry is one exercise from the catalog, as ingested into the
// vector store.
type CatalogEntry struct {
	SourceID        string `json:"source_id,omitempty"`
	ExerciseCode    string `json:"exercise_code"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	MainMuscleID    int    `json:"main_muscle_id,omitempty"`
	EquipmentID     int    `json:"equipment_id,omitempty"`
	DifficultyLevel int    `json:"difficulty_level,omitempty"`
}

// embeddingText is the string the entry's vector is computed from.
func (e CatalogEntry) embeddingText() string {
	if e.Description == "" {
		return e.Name
	}
	return e.Name + "\n" + e.Description
}

// pointID derives a stable point ID so re-indexing overwrites in place.
func (e CatalogEntry) pointID() string {
	key := e.SourceID
	if key == "" {
		key = e.ExerciseCode
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("reppy:exercise:"+key)).String()
}

// IndexerStore is the vector store surface the indexer needs.
type IndexerStore interface {
	EnsureCollection(ctx context.Context, name string, vectorSize int, distance string) error
	Upsert(ctx context.Context, collection string, points []qdrant.Point) error
}

// IndexerConfig configures catalog ingestion.
type IndexerConfig struct {
	Collection string // default "exercises"
	VectorSize int    // default 768
	Distance   string // similarity metric for the collection (default Cosine)
	BatchSize  int    // entries embedded and upserted per round trip (default 64)
}

// Indexer embeds catalog entries and upserts them into the vector store.
type Indexer struct {
	embedder ai.Embedder
	store    IndexerStore
	cfg      IndexerConfig
	logger   log.Logger
}

// NewIndexer creates an Indexer. The embedder and store are required.
func NewIndexer(embedder ai.Embedder, store IndexerStore, cfg IndexerConfig, logger log.Logger) (*Indexer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "exercises"
	}
	if cfg.VectorSize <= 0 {
		cfg.VectorSize = 768
	}
	if cfg.Distance == "" {
		cfg.Distance = qdrant.DistanceCosine
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	return &Indexer{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Index ingests the catalog entries and returns how many were written.
// Entries without an exercise code or name are skipped with a warning.
func (ix *Indexer) Index(ctx context.Context, entries []CatalogEntry) (int, error) {
	if err := ix.store.EnsureCollection(ctx, ix.cfg.Collection, ix.cfg.VectorSize, ix.cfg.Distance); err != nil {
		return 0, fmt.Errorf("ensure collection: %w", err)
	}

	valid := make([]CatalogEntry, 0, len(entries))
	for _, entry := range entries {
		entry.ExerciseCode = strings.ToUpper(strings.TrimSpace(entry.ExerciseCode))
		if entry.ExerciseCode == "" || strings.TrimSpace(entry.Name) == "" {
			ix.logger.Warn("skipping catalog entry without code or name",
				"exercise_code", entry.ExerciseCode)
			continue
		}
		valid = append(valid, entry)
	}

	indexed := 0
	for start := 0; start < len(valid); start += ix.cfg.BatchSize {
		end := min(start+ix.cfg.BatchSize, len(valid))
		batch := valid[start:end]

		points, err := ix.embedBatch(ctx, batch)
		if err != nil {
			return indexed, err
		}
		if err := ix.store.Upsert(ctx, ix.cfg.Collection, points); err != nil {
			return indexed, fmt.Errorf("upsert batch: %w", err)
		}
		indexed += len(points)
	}

	ix.logger.Info("catalog indexed",
		"collection", ix.cfg.Collection,
		"entries", indexed,
		"skipped", len(entries)-indexed,
	)
	return indexed, nil
}

func (ix *Indexer) embedBatch(ctx context.Context, batch []CatalogEntry) ([]qdrant.Point, error) {
	input := make([]*ai.Document, len(batch))
	for i, entry := range batch {
		input[i] = ai.DocumentFromText(entry.embeddingText(), nil)
	}

	resp, err := ix.embedder.Embed(ctx, &ai.EmbedRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(resp.Embeddings) != len(batch) {
		return nil, fmt.Errorf("embed batch: got %d embeddings for %d entries",
			len(resp.Embeddings), len(batch))
	}

	points := make([]qdrant.Point, len(batch))
	for i, entry := range batch {
		points[i] = qdrant.Point{
			ID:     entry.pointID(),
			Vector: resp.Embeddings[i].Embedding,
			Payload: map[string]any{
				"source_id":        entry.SourceID,
				"exercise_code":    entry.ExerciseCode,
				"name":             entry.Name,
				"main_muscle_id":   entry.MainMuscleID,
				"equipment_id":     entry.EquipmentID,
				"difficulty_level": entry.DifficultyLevel,
			},
		}
	}
	return points, nil
}

// DecodeCatalog converts generic API rows into catalog entries.
func DecodeCatalog(rows []map[string]any) ([]CatalogEntry, error) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode catalog rows: %w", err)
	}
	var entries []CatalogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode catalog rows: %w", err)
	}
	return entries, nil
}
