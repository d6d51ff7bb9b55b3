package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/owlet/pkg/model"
)

var (
	// ErrStore tags read/write failures against the backing document store
	ErrStore = goerr.New("vector store failure")
)

// VectorStore persists embedding records across sessions. Writes are
// keyed upserts, so concurrent identical writes are safe.
type VectorStore interface {
	// Upsert saves a record, replacing any existing record with the same ID
	Upsert(ctx context.Context, record *model.EmbeddingRecord) error

	// Get retrieves a record by ID. Absence is not an error: it returns
	// (nil, nil) when no record exists.
	Get(ctx context.Context, id string) (*model.EmbeddingRecord, error)

	// ScanAll returns every stored record. This is the basis for
	// brute-force similarity search.
	ScanAll(ctx context.Context) ([]*model.EmbeddingRecord, error)
}
