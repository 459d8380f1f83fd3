package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"io"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/zeebo/blake3"
)

// Put streams r into chunks and records the blob metadata last. When any
// step fails the chunks written so far are removed and no metadata exists.
func (u *UseCase) Put(
	ctx context.Context,
	r io.Reader,
	filename, contentType string,
) (*model.BlobMeta, error) {
	id := model.NewID()
	logger := logging.From(ctx).With("blob_id", id.String())

	var (
		hasher = blake3.New()
		buf    = make([]byte, u.chunkSize)
		size   int64
		seq    int
		tag    model.CompressionTag
	)

	cleanup := func() {
		if seq == 0 {
			return
		}
		// The request context may already be canceled
		if _, err := u.chunks.DeleteChunks(context.WithoutCancel(ctx), id); err != nil {
			logger.Warn("failed to clean up chunks of incomplete blob", "error", err)
		}
	}

	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			data := buf[:n]
			if seq == 0 {
				tag = selectTag(u.compression, contentType, data)
			}

			_, _ = hasher.Write(data)
			encoded, used, err := encodeChunk(data, tag)
			if err != nil {
				cleanup()
				return nil, goerr.Wrap(err, "failed to encode chunk", goerr.V("seq", seq))
			}

			chunk := &model.Chunk{
				BlobID:      id,
				Seq:         seq,
				Data:        encoded,
				Compression: used,
				RawSize:     n,
			}
			if err := u.chunks.PutChunk(ctx, chunk); err != nil {
				cleanup()
				return nil, goerr.Wrap(err, "failed to store chunk", goerr.V("blob_id", id.String()), goerr.V("seq", seq))
			}
			seq++
			size += int64(n)
		}

		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			cleanup()
			return nil, goerr.Wrap(readErr, "failed to read blob content", goerr.V("blob_id", id.String()))
		}
	}

	meta := &model.BlobMeta{
		ID:          id,
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
		ChunkSize:   u.chunkSize,
		ChunkCount:  seq,
		Digest:      hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt:   u.now().UTC(),
	}
	if err := u.repo.PutBlobMeta(ctx, meta); err != nil {
		cleanup()
		return nil, goerr.Wrap(err, "failed to store blob metadata", goerr.V("blob_id", id.String()))
	}

	logger.Info("blob stored",
		"filename", filename,
		"size", size,
		"chunks", seq,
		"compression", tag.String(),
	)
	return meta, nil
}
