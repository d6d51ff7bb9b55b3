package repository

import (
	"context"
	"sync"

	"github.com/m-mizutani/owlet/pkg/model"
)

// Memory implements VectorStore in process memory. It preserves
// insertion order on ScanAll, which keeps local search results
// deterministic. Useful for tests and for running without GCP access.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*model.EmbeddingRecord
	order   []string
}

// NewMemory creates an in-memory vector store
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*model.EmbeddingRecord),
	}
}

func (r *Memory) Upsert(ctx context.Context, record *model.EmbeddingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[record.ID]; !ok {
		r.order = append(r.order, record.ID)
	}

	clone := *record
	r.records[record.ID] = &clone
	return nil
}

func (r *Memory) Get(ctx context.Context, id string) (*model.EmbeddingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return nil, nil
	}

	clone := *record
	return &clone, nil
}

func (r *Memory) ScanAll(ctx context.Context) ([]*model.EmbeddingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*model.EmbeddingRecord, 0, len(r.order))
	for _, id := range r.order {
		clone := *r.records[id]
		records = append(records, &clone)
	}
	return records, nil
}

// Len returns the number of stored records
func (r *Memory) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
