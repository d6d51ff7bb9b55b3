package model

import (
	"time"

	"cloud.google.com/go/firestore"
)

// EmbeddingRecord is one stored vector for a catalog entity. The record
// ID equals the descriptor Name; the store keeps exactly one record per
// ID (upsert semantics) and all vectors in a store share one length.
type EmbeddingRecord struct {
	ID        string             `firestore:"id"`
	Vector    firestore.Vector32 `firestore:"vector"`
	Text      string             `firestore:"text"`
	UpdatedAt time.Time          `firestore:"updated_at"`
}
