package repository_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/owlet/pkg/model"
	"github.com/m-mizutani/owlet/pkg/repository"
)

func TestMemoryUpsertIdempotent(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()

	record := &model.EmbeddingRecord{
		ID:        "speech-translator",
		Vector:    firestore.Vector32{0.1, 0.2, 0.3},
		Text:      "translate lecture audio",
		UpdatedAt: time.Now(),
	}

	gt.NoError(t, store.Upsert(ctx, record))
	gt.NoError(t, store.Upsert(ctx, record))

	gt.Equal(t, store.Len(), 1)

	records, err := store.ScanAll(ctx)
	gt.NoError(t, err)
	gt.A(t, records).Length(1)
	gt.Equal(t, records[0].ID, "speech-translator")
	gt.Equal(t, records[0].Vector, record.Vector)
}

func TestMemoryGetAbsent(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()

	record, err := store.Get(ctx, "no-such-entity")
	gt.NoError(t, err)
	gt.V(t, record).Nil()
}

func TestMemoryScanOrder(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()

	ids := []string{"charlie", "alpha", "bravo"}
	for _, id := range ids {
		gt.NoError(t, store.Upsert(ctx, &model.EmbeddingRecord{
			ID:     id,
			Vector: firestore.Vector32{1},
		}))
	}

	// Re-upsert must not change insertion order
	gt.NoError(t, store.Upsert(ctx, &model.EmbeddingRecord{
		ID:     "alpha",
		Vector: firestore.Vector32{2},
	}))

	records, err := store.ScanAll(ctx)
	gt.NoError(t, err)
	gt.A(t, records).Length(3)
	for i, id := range ids {
		gt.Equal(t, records[i].ID, id)
	}
	gt.Equal(t, records[1].Vector, firestore.Vector32{2})
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()

	gt.NoError(t, store.Upsert(ctx, &model.EmbeddingRecord{
		ID:   "alpha",
		Text: "original",
	}))

	record, err := store.Get(ctx, "alpha")
	gt.NoError(t, err)
	record.Text = "mutated"

	again, err := store.Get(ctx, "alpha")
	gt.NoError(t, err)
	gt.Equal(t, again.Text, "original")
}
