package blob

import (
	"time"

	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultChunkSize is 255 KiB, which keeps each chunk well under common
// per-document size limits
const DefaultChunkSize = 255 * 1024

// ErrCorrupted is returned by a blob reader when the streamed bytes do not
// match the size or digest recorded in metadata
var ErrCorrupted = goerr.New("blob content is corrupted")

// UseCase stores binary payloads as ordered chunks plus one metadata record
type UseCase struct {
	repo        repository.Repository
	chunks      repository.ChunkStore
	chunkSize   int
	compression CompressionMode
	now         func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithChunkStore stores chunks outside the repository, e.g. in Cloud Storage
func WithChunkStore(store repository.ChunkStore) Option {
	return func(uc *UseCase) {
		uc.chunks = store
	}
}

// WithChunkSize sets the maximum raw bytes per chunk
func WithChunkSize(size int) Option {
	return func(uc *UseCase) {
		if size > 0 {
			uc.chunkSize = size
		}
	}
}

// WithCompression sets how chunks are compressed
func WithCompression(mode CompressionMode) Option {
	return func(uc *UseCase) {
		uc.compression = mode
	}
}

// WithClock replaces the time source of blob creation timestamps
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a new blob UseCase instance. Chunks are kept in repo unless
// WithChunkStore is given.
func New(repo repository.Repository, opts ...Option) *UseCase {
	uc := &UseCase{
		repo:        repo,
		chunks:      repo,
		chunkSize:   DefaultChunkSize,
		compression: CompressionAuto,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}
