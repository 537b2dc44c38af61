package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cierra-ai/cierra/internal/store"
)

// PutDoc implements [store.DocStore] with upsert semantics.
func (s *Store) PutDoc(ctx context.Context, collection, key string, doc []byte) error {
	const q = `
		INSERT INTO docs (collection, key, doc, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, key)
		DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, collection, key, doc); err != nil {
		return fmt.Errorf("doc store: put %s/%s: %w", collection, key, err)
	}
	return nil
}

// GetDoc implements [store.DocStore].
func (s *Store) GetDoc(ctx context.Context, collection, key string) ([]byte, error) {
	const q = `SELECT doc FROM docs WHERE collection = $1 AND key = $2`

	var doc []byte
	if err := s.pool.QueryRow(ctx, q, collection, key).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("doc store: get %s/%s: %w", collection, key, err)
	}
	return doc, nil
}

// ListDocs implements [store.DocStore].
func (s *Store) ListDocs(ctx context.Context, collection string) (map[string][]byte, error) {
	const q = `SELECT key, doc FROM docs WHERE collection = $1`

	rows, err := s.pool.Query(ctx, q, collection)
	if err != nil {
		return nil, fmt.Errorf("doc store: list %s: %w", collection, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var (
			key string
			doc []byte
		)
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, fmt.Errorf("doc store: scan %s: %w", collection, err)
		}
		out[key] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("doc store: list %s: %w", collection, err)
	}
	return out, nil
}
