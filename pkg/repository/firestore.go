package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/owlet/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const embeddingCollection = "embeddings"

// Firestore implements VectorStore using Cloud Firestore
type Firestore struct {
	client *firestore.Client
}

// NewFirestore creates a Firestore backed vector store
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	return &Firestore{client: client}, nil
}

// Close releases the underlying client
func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) Upsert(ctx context.Context, record *model.EmbeddingRecord) error {
	doc := r.client.Collection(embeddingCollection).Doc(record.ID)
	if _, err := doc.Set(ctx, record); err != nil {
		return goerr.Wrap(ErrStore, "failed to upsert embedding record",
			goerr.V("id", record.ID), goerr.V("cause", err.Error()))
	}
	return nil
}

func (r *Firestore) Get(ctx context.Context, id string) (*model.EmbeddingRecord, error) {
	snap, err := r.client.Collection(embeddingCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, goerr.Wrap(ErrStore, "failed to get embedding record",
			goerr.V("id", id), goerr.V("cause", err.Error()))
	}

	var record model.EmbeddingRecord
	if err := snap.DataTo(&record); err != nil {
		return nil, goerr.Wrap(ErrStore, "failed to decode embedding record", goerr.V("id", id))
	}

	return &record, nil
}

func (r *Firestore) ScanAll(ctx context.Context) ([]*model.EmbeddingRecord, error) {
	iter := r.client.Collection(embeddingCollection).Documents(ctx)
	defer iter.Stop()

	var records []*model.EmbeddingRecord
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(ErrStore, "failed to scan embedding records",
				goerr.V("cause", err.Error()))
		}

		var record model.EmbeddingRecord
		if err := snap.DataTo(&record); err != nil {
			return nil, goerr.Wrap(ErrStore, "failed to decode embedding record",
				goerr.V("id", snap.Ref.ID))
		}
		records = append(records, &record)
	}

	return records, nil
}
