package repository

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

type memCollection struct {
	order []model.ID
	docs  map[model.ID]*model.Map
}

type chunkKey struct {
	blobID model.ID
	seq    int
}

// Memory is an in-process Repository. Every mutation runs in one lock scope.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	blobs       map[model.ID]*model.BlobMeta
	chunks      map[chunkKey]*model.Chunk
}

var _ Repository = &Memory{}

// NewMemory creates an empty in-memory repository
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]*memCollection),
		blobs:       make(map[model.ID]*model.BlobMeta),
		chunks:      make(map[chunkKey]*model.Chunk),
	}
}

func (r *Memory) Find(ctx context.Context, collection string, filter model.Filter) iter.Seq2[*model.Document, error] {
	// Matches are snapshotted so that callers can mutate the repository
	// while iterating.
	r.mu.RLock()
	var matched []*model.Document
	if c, ok := r.collections[collection]; ok {
		for _, id := range c.order {
			doc := model.NewDocument(id, c.docs[id])
			if filter.Match(doc) {
				matched = append(matched, doc.Clone())
			}
		}
	}
	r.mu.RUnlock()

	return func(yield func(*model.Document, error) bool) {
		for _, doc := range matched {
			if err := ctx.Err(); err != nil {
				yield(nil, goerr.Wrap(err, "find interrupted", goerr.V("collection", collection)))
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

func (r *Memory) Insert(ctx context.Context, collection string, fields *model.Map) (model.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := model.NewID()
	c := r.collection(collection)
	c.order = append(c.order, id)
	c.docs[id] = fields.Clone()
	return id, nil
}

func (r *Memory) DeleteMany(ctx context.Context, collection string, filter model.Filter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.collections[collection]
	if !ok {
		return 0, nil
	}

	var deleted int64
	kept := c.order[:0]
	for _, id := range c.order {
		if filter.Match(model.NewDocument(id, c.docs[id])) {
			delete(c.docs, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	return deleted, nil
}

func (r *Memory) Get(ctx context.Context, collection string, id model.ID) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.collections[collection]; ok {
		if fields, ok := c.docs[id]; ok {
			return model.NewDocument(id, fields.Clone()), nil
		}
	}
	return nil, goerr.Wrap(model.ErrNotFound, "document not found",
		goerr.V("collection", collection), goerr.V("id", id.String()))
}

func (r *Memory) Upsert(ctx context.Context, collection string, id model.ID, fields *model.Map) (*model.UpsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.collection(collection)
	cur, ok := c.docs[id]
	if !ok {
		c.order = append(c.order, id)
		c.docs[id] = fields.Clone()
		return &model.UpsertResult{Created: true}, nil
	}

	result := &model.UpsertResult{}
	if cur.Merge(fields) {
		result.ModifiedCount = 1
	}
	return result, nil
}

func (r *Memory) collection(name string) *memCollection {
	c, ok := r.collections[name]
	if !ok {
		c = &memCollection{docs: make(map[model.ID]*model.Map)}
		r.collections[name] = c
	}
	return c
}

func (r *Memory) PutBlobMeta(ctx context.Context, meta *model.BlobMeta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *meta
	r.blobs[meta.ID] = &copied
	return nil
}

func (r *Memory) GetBlobMeta(ctx context.Context, id model.ID) (*model.BlobMeta, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.blobs[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "blob not found", goerr.V("id", id.String()))
	}
	copied := *meta
	return &copied, nil
}

func (r *Memory) DeleteBlobMeta(ctx context.Context, id model.ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.blobs[id]; !ok {
		return false, nil
	}
	delete(r.blobs, id)
	return true, nil
}

func (r *Memory) PutChunk(ctx context.Context, chunk *model.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *chunk
	copied.Data = slices.Clone(chunk.Data)
	r.chunks[chunkKey{chunk.BlobID, chunk.Seq}] = &copied
	return nil
}

func (r *Memory) GetChunk(ctx context.Context, blobID model.ID, seq int) (*model.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chunk, ok := r.chunks[chunkKey{blobID, seq}]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "chunk not found",
			goerr.V("blob_id", blobID.String()), goerr.V("seq", seq))
	}
	copied := *chunk
	copied.Data = slices.Clone(chunk.Data)
	return &copied, nil
}

func (r *Memory) DeleteChunks(ctx context.Context, blobID model.ID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for key := range r.chunks {
		if key.blobID == blobID {
			delete(r.chunks, key)
			n++
		}
	}
	return n, nil
}

func (r *Memory) Close() error {
	return nil
}
