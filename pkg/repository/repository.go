package repository

import (
	"context"
	"iter"

	"github.com/m-mizutani/burrow/pkg/model"
)

// Repository defines the interface for document and blob persistence
type Repository interface {
	ChunkStore

	// Find streams documents of collection that satisfy filter in storage
	// order. An unknown collection yields nothing.
	Find(ctx context.Context, collection string, filter model.Filter) iter.Seq2[*model.Document, error]

	// Insert stores fields as a new document and returns its fresh ID
	Insert(ctx context.Context, collection string, fields *model.Map) (model.ID, error)

	// DeleteMany removes every document matching filter in one atomic call
	DeleteMany(ctx context.Context, collection string, filter model.Filter) (int64, error)

	// Get retrieves a document by ID. It returns model.ErrNotFound if absent.
	Get(ctx context.Context, collection string, id model.ID) (*model.Document, error)

	// Upsert creates the document if absent, otherwise overwrites only the
	// named top-level fields
	Upsert(ctx context.Context, collection string, id model.ID, fields *model.Map) (*model.UpsertResult, error)

	// PutBlobMeta saves blob metadata. A blob becomes visible here.
	PutBlobMeta(ctx context.Context, meta *model.BlobMeta) error

	// GetBlobMeta retrieves blob metadata. It returns model.ErrNotFound if absent.
	GetBlobMeta(ctx context.Context, id model.ID) (*model.BlobMeta, error)

	// DeleteBlobMeta removes blob metadata and reports whether it existed
	DeleteBlobMeta(ctx context.Context, id model.ID) (bool, error)

	// Close releases backend resources
	Close() error
}

// ChunkStore persists the ordered chunks of a blob
type ChunkStore interface {
	// PutChunk saves one chunk
	PutChunk(ctx context.Context, chunk *model.Chunk) error

	// GetChunk retrieves a chunk. It returns model.ErrNotFound if absent.
	GetChunk(ctx context.Context, blobID model.ID, seq int) (*model.Chunk, error)

	// DeleteChunks removes all chunks of a blob and returns how many were removed
	DeleteChunks(ctx context.Context, blobID model.ID) (int, error)
}

// single wraps one error as a sequence
func single(err error) iter.Seq2[*model.Document, error] {
	return func(yield func(*model.Document, error) bool) {
		yield(nil, err)
	}
}
