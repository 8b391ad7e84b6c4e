package archivist

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// embeddingStore is the durable KV table backing C3: one row per
// indexed id, holding its serialized vector and last-write timestamp.
// Adapted from the teacher's store.go: same pure-Go sqlite driver, same
// WAL + single-connection tuning, collapsed to the single table the
// spec names instead of the teacher's sector/waypoint/decay schema.
type embeddingStore struct {
	db *sql.DB
}

func newEmbeddingStore(path string) (*embeddingStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("archivist: create db dir: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("archivist: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &embeddingStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archivist: migrate: %w", err)
	}
	return s, nil
}

func (s *embeddingStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS embeddings (
			path TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	return err
}

// encodeVector serializes a float32 slice as a little-endian byte
// array, matching the teacher's EncodeVector/DecodeVector convention.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
	}
	return v
}

func (s *embeddingStore) upsert(ctx context.Context, rec EmbeddedRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (path, embedding, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET embedding = excluded.embedding, updated_at = excluded.updated_at
	`, rec.ID, encodeVector(rec.Vector), rec.UpdatedAt)
	return err
}

func (s *embeddingStore) delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE path = ?`, id)
	return err
}

func (s *embeddingStore) all(ctx context.Context) ([]EmbeddedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, embedding, updated_at FROM embeddings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EmbeddedRecord
	for rows.Next() {
		var rec EmbeddedRecord
		var blob []byte
		if err := rows.Scan(&rec.ID, &blob, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Vector = decodeVector(blob)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *embeddingStore) count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n)
	return n, err
}

func (s *embeddingStore) Close() error {
	return s.db.Close()
}
