package repository_test

import (
	"context"
	"math/rand"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/owlet/pkg/model"
	"github.com/m-mizutani/owlet/pkg/repository"
)

func setupFirestore(t *testing.T) *repository.Firestore {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	store, err := repository.NewFirestore(context.Background(), projectID, databaseID)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func randomVector(n int) firestore.Vector32 {
	vec := make(firestore.Vector32, n)
	for i := range vec {
		vec[i] = rand.Float32()
	}
	return vec
}

func TestFirestoreUpsertAndGet(t *testing.T) {
	store := setupFirestore(t)
	ctx := context.Background()

	record := &model.EmbeddingRecord{
		ID:        "test-" + uuid.New().String(),
		Vector:    randomVector(768),
		Text:      "transcribe and translate a recorded lecture",
		UpdatedAt: time.Now(),
	}

	gt.NoError(t, store.Upsert(ctx, record))

	got, err := store.Get(ctx, record.ID)
	gt.NoError(t, err)
	gt.V(t, got).NotNil()
	gt.Equal(t, got.ID, record.ID)
	gt.Equal(t, len(got.Vector), 768)
	gt.Equal(t, got.Text, record.Text)
}

func TestFirestoreGetAbsent(t *testing.T) {
	store := setupFirestore(t)
	ctx := context.Background()

	got, err := store.Get(ctx, "absent-"+uuid.New().String())
	gt.NoError(t, err)
	gt.V(t, got).Nil()
}

func TestFirestoreScanAll(t *testing.T) {
	store := setupFirestore(t)
	ctx := context.Background()

	id := "scan-" + uuid.New().String()
	gt.NoError(t, store.Upsert(ctx, &model.EmbeddingRecord{
		ID:        id,
		Vector:    randomVector(768),
		UpdatedAt: time.Now(),
	}))

	records, err := store.ScanAll(ctx)
	gt.NoError(t, err)

	found := false
	for _, r := range records {
		if r.ID == id {
			found = true
		}
	}
	gt.True(t, found)
}
