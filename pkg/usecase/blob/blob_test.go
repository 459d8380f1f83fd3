package blob_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/burrow/pkg/usecase/blob"
	"github.com/m-mizutani/gt"
)

func randomBytes(n int) []byte {
	r := rand.New(rand.NewPCG(1, 2))
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(r.UintN(256))
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name        string
		data        []byte
		contentType string
		mode        blob.CompressionMode
	}{
		{"random auto", randomBytes(600000), "application/octet-stream", blob.CompressionAuto},
		{"random zstd falls back", randomBytes(600000), "application/octet-stream", blob.CompressionZstd},
		{"text auto", []byte(strings.Repeat("burrow stores documents. ", 24000)), "text/plain", blob.CompressionAuto},
		{"text lz4", []byte(strings.Repeat("burrow stores documents. ", 24000)), "text/plain", blob.CompressionLZ4},
		{"text none", []byte(strings.Repeat("burrow stores documents. ", 24000)), "text/plain", blob.CompressionNone},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			uc := blob.New(repository.NewMemory(), blob.WithChunkSize(255000), blob.WithCompression(tc.mode))

			meta, err := uc.Put(ctx, bytes.NewReader(tc.data), "a.bin", tc.contentType)
			gt.NoError(t, err)
			gt.Equal(t, meta.Size, int64(len(tc.data)))
			gt.Equal(t, meta.ChunkCount, 3)
			gt.Equal(t, meta.ChunkSize, 255000)
			gt.Equal(t, len(meta.Digest), 64)

			got, r, err := uc.Get(ctx, meta.ID)
			gt.NoError(t, err)
			defer r.Close()
			gt.Equal(t, got.Filename, "a.bin")
			gt.Equal(t, got.ContentType, tc.contentType)

			out, err := io.ReadAll(r)
			gt.NoError(t, err)
			gt.True(t, bytes.Equal(out, tc.data))
		})
	}
}

func TestEmptyBlob(t *testing.T) {
	ctx := context.Background()
	uc := blob.New(repository.NewMemory())

	meta, err := uc.Put(ctx, bytes.NewReader(nil), "empty.txt", "text/plain")
	gt.NoError(t, err)
	gt.Equal(t, meta.Size, int64(0))
	gt.Equal(t, meta.ChunkCount, 0)

	_, r, err := uc.Get(ctx, meta.ID)
	gt.NoError(t, err)
	out, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.Equal(t, len(out), 0)
}

func TestClock(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	uc := blob.New(repository.NewMemory(), blob.WithClock(func() time.Time { return now }))

	meta, err := uc.Put(context.Background(), strings.NewReader("x"), "x.txt", "text/plain")
	gt.NoError(t, err)
	gt.True(t, meta.CreatedAt.Equal(now))
}

func TestGetNotFound(t *testing.T) {
	uc := blob.New(repository.NewMemory())
	_, _, err := uc.Get(context.Background(), model.NewID())
	gt.True(t, errors.Is(err, model.ErrNotFound))
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	uc := blob.New(repo, blob.WithChunkSize(4))

	meta, err := uc.Put(ctx, strings.NewReader("0123456789"), "d.txt", "text/plain")
	gt.NoError(t, err)

	deleted, err := uc.Delete(ctx, meta.ID)
	gt.NoError(t, err)
	gt.True(t, deleted)

	_, _, err = uc.Get(ctx, meta.ID)
	gt.True(t, errors.Is(err, model.ErrNotFound))
	_, err = repo.GetChunk(ctx, meta.ID, 0)
	gt.True(t, errors.Is(err, model.ErrNotFound))

	deleted, err = uc.Delete(ctx, meta.ID)
	gt.NoError(t, err)
	gt.False(t, deleted)
}

func TestCorruptionDetected(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	uc := blob.New(repo, blob.WithChunkSize(4), blob.WithCompression(blob.CompressionNone))

	meta, err := uc.Put(ctx, strings.NewReader("0123456789"), "c.txt", "text/plain")
	gt.NoError(t, err)

	gt.NoError(t, repo.PutChunk(ctx, &model.Chunk{
		BlobID:  meta.ID,
		Seq:     1,
		Data:    []byte("XXXX"),
		RawSize: 4,
	}))

	_, r, err := uc.Get(ctx, meta.ID)
	gt.NoError(t, err)
	_, err = io.ReadAll(r)
	gt.True(t, errors.Is(err, blob.ErrCorrupted))
}

// recordingStore keeps chunks in memory and fails PutChunk at failAt
type recordingStore struct {
	live   map[int]bool
	failAt int
}

func newRecordingStore(failAt int) *recordingStore {
	return &recordingStore{live: map[int]bool{}, failAt: failAt}
}

func (s *recordingStore) PutChunk(ctx context.Context, chunk *model.Chunk) error {
	if chunk.Seq == s.failAt {
		return errors.New("disk full")
	}
	s.live[chunk.Seq] = true
	return nil
}

func (s *recordingStore) GetChunk(ctx context.Context, blobID model.ID, seq int) (*model.Chunk, error) {
	return nil, model.ErrNotFound
}

func (s *recordingStore) DeleteChunks(ctx context.Context, blobID model.ID) (int, error) {
	n := len(s.live)
	clear(s.live)
	return n, nil
}

type failingReader struct {
	data []byte
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, errors.New("connection reset")
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestPutCleansUpOnFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("chunk store failure", func(t *testing.T) {
		repo := repository.NewMemory()
		store := newRecordingStore(2)
		uc := blob.New(repo, blob.WithChunkStore(store), blob.WithChunkSize(4))

		_, err := uc.Put(ctx, strings.NewReader("0123456789ab"), "f.txt", "text/plain")
		gt.Error(t, err)
		gt.Equal(t, len(store.live), 0)
	})

	t.Run("reader failure", func(t *testing.T) {
		repo := repository.NewMemory()
		store := newRecordingStore(-1)
		uc := blob.New(repo, blob.WithChunkStore(store), blob.WithChunkSize(4))

		_, err := uc.Put(ctx, &failingReader{data: []byte("0123456789")}, "r.txt", "text/plain")
		gt.Error(t, err)
		gt.Equal(t, len(store.live), 0)
	})
}
