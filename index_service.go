package archivist

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goblincore/archivist/internal/hnsw"
)

const timeWeightHalfLife = 30 * 24 * time.Hour

// IndexService is C3: the single-writer owner of the HNSW graph and the
// embedded-record table. It generalizes the teacher's Engram — a
// sync.RWMutex-guarded struct wrapping a store and an embedder — to the
// spec's update/search/delete/stats contract. Embedding calls happen
// before the lock is taken; the KV write and the graph mutation run
// under it.
type IndexService struct {
	mu       sync.Mutex
	index    *hnsw.Index
	store    *embeddingStore
	embedder EmbeddingProvider
	log      zerolog.Logger

	warmupOnce sync.Once
	warmupErr  error
}

// NewIndexService constructs the service but does not yet rebuild the
// graph; the rebuild happens lazily on first Warmup call (triggered
// internally by Update/Search/Stats), matching the teacher's
// ensure-then-rebuild pattern.
func NewIndexService(dbPath string, embedder EmbeddingProvider, log zerolog.Logger) (*IndexService, error) {
	store, err := newEmbeddingStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("archivist: index service init: %w", err)
	}
	return &IndexService{
		index:    hnsw.New(embedder.Dimension()),
		store:    store,
		embedder: embedder,
		log:      log.With().Str("component", "index").Logger(),
	}, nil
}

// Warmup rebuilds the in-memory graph from the embeddings table exactly
// once; the table itself is created when the store is opened. Rows with
// the wrong vector dimension, or that the graph rejects, are logged and
// skipped. If the table cannot be read, the warmup error is kept and
// returned on every later call.
func (s *IndexService) Warmup(ctx context.Context) error {
	s.warmupOnce.Do(func() {
		records, err := s.store.all(ctx)
		if err != nil {
			s.warmupErr = fmt.Errorf("archivist: warmup: %w", err)
			return
		}
		for _, rec := range records {
			if len(rec.Vector) != s.index.Dimension() {
				s.log.Warn().Str("id", rec.ID).Msg("skipping record with wrong dimension during warmup")
				continue
			}
			if err := s.index.Insert(rec.ID, rec.Vector); err != nil {
				s.log.Warn().Err(err).Str("id", rec.ID).Msg("skipping record during warmup")
				continue
			}
		}
		s.log.Info().Int("loaded", len(records)).Msg("warmup complete")
	})
	return s.warmupErr
}

// Update embeds content, upserts the persistent row, and re-inserts the
// vector into the graph (delete-then-insert so HNSW invariants hold
// even on a duplicate id).
func (s *IndexService) Update(ctx context.Context, id, content string) error {
	if err := s.Warmup(ctx); err != nil {
		return err
	}

	v, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("archivist: indexing failed: %w", err)
	}
	v = normalize(v)
	now := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.upsert(ctx, EmbeddedRecord{ID: id, Vector: v, UpdatedAt: now}); err != nil {
		return fmt.Errorf("archivist: indexing failed: %w", err)
	}
	_ = s.index.Delete(id) // tolerates absence
	if err := s.index.Insert(id, v); err != nil {
		return fmt.Errorf("archivist: indexing failed: %w", err)
	}
	return nil
}

// UpdateMany embeds and upserts a batch of (id, content) pairs, in
// input order, grouping embedding calls via embedMany instead of
// issuing one Update per item. ids and contents must be the same
// length and index-aligned.
func (s *IndexService) UpdateMany(ctx context.Context, ids, contents []string) error {
	if len(ids) != len(contents) {
		return fmt.Errorf("archivist: update many: ids/contents length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.Warmup(ctx); err != nil {
		return err
	}

	vectors, err := embedMany(ctx, s.embedder, contents)
	if err != nil {
		return fmt.Errorf("archivist: indexing failed: %w", err)
	}
	now := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range ids {
		v := normalize(vectors[i])
		if err := s.store.upsert(ctx, EmbeddedRecord{ID: id, Vector: v, UpdatedAt: now}); err != nil {
			return fmt.Errorf("archivist: indexing failed: %w", err)
		}
		_ = s.index.Delete(id) // tolerates absence
		if err := s.index.Insert(id, v); err != nil {
			return fmt.Errorf("archivist: indexing failed: %w", err)
		}
	}
	return nil
}

// Delete removes the persistent row and the graph node.
func (s *IndexService) Delete(ctx context.Context, id string) error {
	if err := s.Warmup(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.delete(ctx, id); err != nil {
		return fmt.Errorf("archivist: delete failed: %w", err)
	}
	_ = s.index.Delete(id)
	return nil
}

// Search embeds q, searches the graph, optionally re-ranks by
// time-weighted recency, and returns the top k hits.
func (s *IndexService) Search(ctx context.Context, q string, k int, timeWeight bool) ([]SearchHit, error) {
	if err := s.Warmup(ctx); err != nil {
		return nil, err
	}

	v, err := s.embedder.Embed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("archivist: search failed: %w", err)
	}
	v = normalize(v)

	searchK := k
	if timeWeight {
		searchK = k * 3
	}

	s.mu.Lock()
	results, err := s.index.Search(v, searchK, 0)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("archivist: search failed: %w", err)
	}
	if len(results) == 0 {
		return []SearchHit{}, nil
	}

	hits := make([]SearchHit, len(results))
	for i, r := range results {
		hits[i] = SearchHit{ID: r.ID, Score: r.Score}
	}

	if timeWeight {
		hits = s.applyTimeWeight(ctx, hits)
	}

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// applyTimeWeight blends cosine similarity with exponential recency
// decay: decay = 0.5^(age/H); adjusted = score * (0.3 + 0.7*decay).
// Re-sorts by adjusted score descending. Unknown updated_at is treated
// as age=0.
func (s *IndexService) applyTimeWeight(ctx context.Context, hits []SearchHit) []SearchHit {
	now := time.Now()
	type scored struct {
		hit      SearchHit
		adjusted float64
	}
	out := make([]scored, len(hits))

	s.mu.Lock()
	records, err := s.store.all(ctx)
	s.mu.Unlock()

	updatedAt := make(map[string]int64, len(records))
	if err == nil {
		for _, rec := range records {
			updatedAt[rec.ID] = rec.UpdatedAt
		}
	}

	for i, h := range hits {
		var age time.Duration
		if ms, ok := updatedAt[h.ID]; ok {
			age = now.Sub(time.UnixMilli(ms))
			if age < 0 {
				age = 0
			}
		}
		decay := math.Pow(0.5, float64(age)/float64(timeWeightHalfLife))
		out[i] = scored{hit: h, adjusted: h.Score * (0.3 + 0.7*decay)}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].adjusted > out[j].adjusted })

	result := make([]SearchHit, len(out))
	for i, o := range out {
		result[i] = SearchHit{ID: o.hit.ID, Score: o.adjusted}
	}
	return result
}

// Stats reports the current table/graph size.
func (s *IndexService) Stats(ctx context.Context) (IndexStats, error) {
	if err := s.Warmup(ctx); err != nil {
		return IndexStats{}, err
	}
	n, err := s.store.count(ctx)
	if err != nil {
		return IndexStats{}, fmt.Errorf("archivist: stats failed: %w", err)
	}
	return IndexStats{IndexedFiles: n, IndexSize: n}, nil
}

// Close releases the underlying database handle.
func (s *IndexService) Close() error {
	return s.store.Close()
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}
