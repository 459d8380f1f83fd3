package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const (
	metaCompression = "compression"
	metaRawSize     = "raw_size"

	// deleteConcurrency bounds parallel object deletions of one blob
	deleteConcurrency = 10
)

// Storage keeps blob chunks as immutable Cloud Storage objects named
// "<prefix><blobID>/<seq>". Blob metadata stays in the repository.
type Storage struct {
	client *storage.Client
	bucket string
	prefix string
}

type StorageOption func(*Storage)

// WithStoragePrefix sets an object name prefix such as "chunks/"
func WithStoragePrefix(prefix string) StorageOption {
	return func(s *Storage) {
		s.prefix = prefix
	}
}

// NewStorage creates a new Cloud Storage chunk store
func NewStorage(ctx context.Context, bucketName string, opts ...StorageOption) (*Storage, error) {
	if bucketName == "" {
		return nil, goerr.New("storage bucket is required")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	s := &Storage{
		client: client,
		bucket: bucketName,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Storage) blobPrefix(blobID model.ID) string {
	return s.prefix + blobID.String() + "/"
}

func (s *Storage) objectName(blobID model.ID, seq int) string {
	return s.blobPrefix(blobID) + fmt.Sprintf("%08d", seq)
}

// PutChunk writes a chunk object. Objects are never overwritten; writing an
// existing chunk fails.
func (s *Storage) PutChunk(ctx context.Context, chunk *model.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}

	name := s.objectName(chunk.BlobID, chunk.Seq)
	w := s.client.Bucket(s.bucket).Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = map[string]string{
		metaCompression: chunk.Compression.String(),
		metaRawSize:     strconv.Itoa(chunk.RawSize),
	}

	if _, err := w.Write(chunk.Data); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write chunk object", goerr.V("object", name))
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return goerr.Wrap(err, "chunk object already exists", goerr.V("object", name))
		}
		return goerr.Wrap(err, "failed to finalize chunk object", goerr.V("object", name))
	}
	return nil
}

func (s *Storage) GetChunk(ctx context.Context, blobID model.ID, seq int) (*model.Chunk, error) {
	name := s.objectName(blobID, seq)
	obj := s.client.Bucket(s.bucket).Object(name)

	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, goerr.Wrap(model.ErrNotFound, "chunk not found", goerr.V("object", name))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get chunk attributes", goerr.V("object", name))
	}

	compression, err := model.ParseCompressionTag(attrs.Metadata[metaCompression])
	if err != nil {
		return nil, goerr.Wrap(err, "chunk object has unknown compression", goerr.V("object", name))
	}
	rawSize, err := strconv.Atoi(attrs.Metadata[metaRawSize])
	if err != nil {
		return nil, goerr.Wrap(err, "chunk object has malformed raw size", goerr.V("object", name))
	}

	// Pin the generation so the bytes match the attributes read above
	r, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read chunk object", goerr.V("object", name))
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read chunk object", goerr.V("object", name))
	}

	return &model.Chunk{
		BlobID:      blobID,
		Seq:         seq,
		Data:        data,
		Compression: compression,
		RawSize:     rawSize,
	}, nil
}

// DeleteChunks removes every chunk object of a blob in parallel
func (s *Storage) DeleteChunks(ctx context.Context, blobID model.ID) (int, error) {
	bucket := s.client.Bucket(s.bucket)
	prefix := s.blobPrefix(blobID)

	var names []string
	it := bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return 0, goerr.Wrap(err, "failed to list chunk objects", goerr.V("prefix", prefix))
		}
		if strings.HasPrefix(attrs.Name, prefix) {
			names = append(names, attrs.Name)
		}
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(deleteConcurrency)
	for _, name := range names {
		eg.Go(func() error {
			err := bucket.Object(name).Delete(gctx)
			if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
				return goerr.Wrap(err, "failed to delete chunk object", goerr.V("object", name))
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}
	return len(names), nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}
