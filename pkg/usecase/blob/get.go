package blob

import (
	"context"
	"encoding/hex"
	"io"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/goerr/v2"
	"github.com/zeebo/blake3"
)

// Get returns the blob metadata and a reader that fetches chunks lazily in
// sequence order. The reader reports ErrCorrupted instead of io.EOF when the
// content does not match the recorded size or digest.
func (u *UseCase) Get(
	ctx context.Context,
	id model.ID,
) (*model.BlobMeta, io.ReadCloser, error) {
	meta, err := u.repo.GetBlobMeta(ctx, id)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to get blob metadata", goerr.V("blob_id", id.String()))
	}

	return meta, &reader{
		ctx:    ctx,
		chunks: u.chunks,
		meta:   meta,
		hasher: blake3.New(),
	}, nil
}

type reader struct {
	ctx    context.Context
	chunks repository.ChunkStore
	meta   *model.BlobMeta
	hasher *blake3.Hasher

	next int
	buf  []byte
	read int64
	err  error
}

func (r *reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}

	for len(r.buf) == 0 {
		if r.next >= r.meta.ChunkCount {
			r.err = r.verify()
			return 0, r.err
		}
		if err := r.load(); err != nil {
			r.err = err
			return 0, err
		}
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *reader) load() error {
	chunk, err := r.chunks.GetChunk(r.ctx, r.meta.ID, r.next)
	if err != nil {
		return goerr.Wrap(err, "failed to get chunk", goerr.V("blob_id", r.meta.ID.String()), goerr.V("seq", r.next))
	}
	if chunk.Seq != r.next {
		return goerr.Wrap(ErrCorrupted, "chunk out of sequence",
			goerr.V("blob_id", r.meta.ID.String()), goerr.V("want", r.next), goerr.V("got", chunk.Seq))
	}

	data, err := decodeChunk(chunk)
	if err != nil {
		return goerr.Wrap(err, "failed to decode chunk", goerr.V("blob_id", r.meta.ID.String()))
	}

	_, _ = r.hasher.Write(data)
	r.read += int64(len(data))
	r.buf = data
	r.next++
	return nil
}

func (r *reader) verify() error {
	if r.read != r.meta.Size {
		return goerr.Wrap(ErrCorrupted, "blob size mismatch",
			goerr.V("blob_id", r.meta.ID.String()), goerr.V("want", r.meta.Size), goerr.V("got", r.read))
	}
	if digest := hex.EncodeToString(r.hasher.Sum(nil)); digest != r.meta.Digest {
		return goerr.Wrap(ErrCorrupted, "blob digest mismatch",
			goerr.V("blob_id", r.meta.ID.String()), goerr.V("want", r.meta.Digest), goerr.V("got", digest))
	}
	return io.EOF
}

func (r *reader) Close() error {
	r.buf = nil
	if r.err == nil {
		r.err = goerr.New("read on closed blob reader")
	}
	return nil
}
