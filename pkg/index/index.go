package index

import (
	"context"
	"math"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/owlet/pkg/adapter"
	"github.com/m-mizutani/owlet/pkg/model"
	"github.com/m-mizutani/owlet/pkg/repository"
	"github.com/m-mizutani/owlet/pkg/utils/logging"
)

// Entry is one catalog entity to rank: its ID (descriptor name) and the
// descriptive text to embed.
type Entry struct {
	ID   string
	Text string
}

// Match is one search hit
type Match struct {
	ID    string
	Score float64
}

// Index ranks catalog entries against a query vector by brute-force
// cosine similarity over all stored records. No approximate-NN
// structure; the expected catalog holds tens to low hundreds of
// entries, where a linear scan is both exact and fast enough.
type Index struct {
	embedder adapter.EmbeddingClient
	store    repository.VectorStore

	// catalog insertion order, used for similarity tie-breaks
	order []string
	pos   map[string]int
	texts map[string]string
}

// New creates an index over the given catalog entries. Entries keep
// their given order for deterministic tie-breaking.
func New(embedder adapter.EmbeddingClient, store repository.VectorStore, entries []Entry) *Index {
	idx := &Index{
		embedder: embedder,
		store:    store,
		pos:      make(map[string]int, len(entries)),
		texts:    make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		if _, ok := idx.pos[e.ID]; ok {
			continue
		}
		idx.pos[e.ID] = len(idx.order)
		idx.order = append(idx.order, e.ID)
		idx.texts[e.ID] = e.Text
	}
	return idx
}

// Embed converts text to a vector via the embedding provider
func (x *Index) Embed(ctx context.Context, text string) (firestore.Vector32, error) {
	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed text")
	}
	if len(vec) == 0 {
		return nil, goerr.Wrap(adapter.ErrEmptyEmbedding, "embed text")
	}
	return firestore.Vector32(vec), nil
}

// Store upserts a record. Repeated identical calls leave the store
// state unchanged.
func (x *Index) Store(ctx context.Context, id string, vector firestore.Vector32, text string) error {
	record := &model.EmbeddingRecord{
		ID:        id,
		Vector:    vector,
		Text:      text,
		UpdatedAt: time.Now(),
	}
	if err := x.store.Upsert(ctx, record); err != nil {
		return goerr.Wrap(err, "failed to store embedding", goerr.V("id", id))
	}
	return nil
}

// Retrieve returns the stored vector for id. Absence is reported via
// ok=false, never as an error.
func (x *Index) Retrieve(ctx context.Context, id string) (firestore.Vector32, bool, error) {
	record, err := x.store.Get(ctx, id)
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to retrieve embedding", goerr.V("id", id))
	}
	if record == nil {
		return nil, false, nil
	}
	return record.Vector, true, nil
}

// Warm computes and stores embeddings for every catalog entry that has
// no record yet. Search calls this implicitly, so the index converges
// without a separate batch job.
func (x *Index) Warm(ctx context.Context) error {
	for _, id := range x.order {
		_, ok, err := x.Retrieve(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			continue
		}

		logging.From(ctx).Debug("computing missing embedding", "id", id)
		vec, err := x.Embed(ctx, x.texts[id])
		if err != nil {
			return goerr.Wrap(err, "failed to embed catalog entry", goerr.V("id", id))
		}
		if err := x.Store(ctx, id, vec, x.texts[id]); err != nil {
			return err
		}
	}
	return nil
}

// Search returns up to topK catalog IDs ordered by non-increasing
// cosine similarity to the query vector. Ties break by catalog
// insertion order. Records in the store that no longer belong to the
// catalog are ignored.
func (x *Index) Search(ctx context.Context, query firestore.Vector32, topK int) ([]Match, error) {
	if err := x.Warm(ctx); err != nil {
		return nil, err
	}

	records, err := x.store.ScanAll(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to scan vector store")
	}

	matches := make([]Match, 0, len(x.order))
	for _, record := range records {
		if _, ok := x.pos[record.ID]; !ok {
			continue
		}
		matches = append(matches, Match{
			ID:    record.ID,
			Score: CosineSimilarity(query, record.Vector),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return x.pos[matches[i].ID] < x.pos[matches[j].ID]
	})

	if topK >= 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// SearchText embeds the query text and searches with the result
func (x *Index) SearchText(ctx context.Context, query string, topK int) ([]Match, error) {
	vec, err := x.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return x.Search(ctx, vec, topK)
}

// CosineSimilarity is dot(a,b)/(|a|*|b|), defined as 0 (not NaN) when
// either vector has zero magnitude or the lengths differ.
func CosineSimilarity(a, b firestore.Vector32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
