package blob

import (
	"errors"

	"github.com/klauspost/compress/zstd"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pierrec/lz4/v4"
)

// CompressionMode selects chunk compression for new blobs
type CompressionMode string

const (
	// CompressionAuto picks zstd, lz4 or none per blob from its content
	// type and a probe of the first chunk
	CompressionAuto CompressionMode = "auto"
	CompressionNone CompressionMode = "none"
	CompressionLZ4  CompressionMode = "lz4"
	CompressionZstd CompressionMode = "zstd"
)

func ParseCompressionMode(s string) (CompressionMode, error) {
	switch m := CompressionMode(s); m {
	case CompressionAuto, CompressionNone, CompressionLZ4, CompressionZstd:
		return m, nil
	}
	return "", goerr.Wrap(model.ErrInvalidRequest, "unknown compression mode", goerr.V("mode", s))
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder

	errIncompressible = errors.New("data is incompressible")
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blob: failed to initialize zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blob: failed to initialize zstd decoder: " + err.Error())
	}
}

// textLike content types always use zstd
var textLike = map[string]bool{
	"text/plain":           true,
	"text/html":            true,
	"text/css":             true,
	"text/csv":             true,
	"text/markdown":        true,
	"text/xml":             true,
	"application/json":     true,
	"application/x-ndjson": true,
	"application/xml":      true,
}

// selectTag resolves the tag used for every chunk of one blob
func selectTag(mode CompressionMode, contentType string, probe []byte) model.CompressionTag {
	switch mode {
	case CompressionNone:
		return model.CompressionNone
	case CompressionLZ4:
		return model.CompressionLZ4
	case CompressionZstd:
		return model.CompressionZstd
	}

	if textLike[contentType] {
		return model.CompressionZstd
	}
	if len(probe) == 0 {
		return model.CompressionNone
	}

	ratio := float64(len(probe)) / float64(len(zstdEncoder.EncodeAll(probe, nil)))
	switch {
	case ratio >= 1.5:
		return model.CompressionZstd
	case ratio >= 1.1:
		return model.CompressionLZ4
	default:
		return model.CompressionNone
	}
}

// encodeChunk compresses data with tag. Data that does not shrink is stored
// uncompressed. The returned slice never aliases data.
func encodeChunk(data []byte, tag model.CompressionTag) ([]byte, model.CompressionTag, error) {
	var (
		out []byte
		err error
	)
	switch tag {
	case model.CompressionNone:
		err = errIncompressible
	case model.CompressionLZ4:
		out, err = compressLZ4(data)
	case model.CompressionZstd:
		out, err = compressZstd(data)
	default:
		return nil, 0, goerr.New("unsupported compression tag", goerr.V("tag", tag))
	}

	if errors.Is(err, errIncompressible) {
		raw := make([]byte, len(data))
		copy(raw, data)
		return raw, model.CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return out, tag, nil
}

func decodeChunk(chunk *model.Chunk) ([]byte, error) {
	switch chunk.Compression {
	case model.CompressionNone:
		if len(chunk.Data) != chunk.RawSize {
			return nil, goerr.Wrap(ErrCorrupted, "uncompressed chunk size mismatch",
				goerr.V("seq", chunk.Seq), goerr.V("size", len(chunk.Data)), goerr.V("raw_size", chunk.RawSize))
		}
		return chunk.Data, nil

	case model.CompressionLZ4:
		out := make([]byte, chunk.RawSize)
		n, err := lz4.UncompressBlock(chunk.Data, out)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to decompress lz4 chunk", goerr.V("seq", chunk.Seq))
		}
		if n != chunk.RawSize {
			return nil, goerr.Wrap(ErrCorrupted, "lz4 chunk size mismatch",
				goerr.V("seq", chunk.Seq), goerr.V("size", n), goerr.V("raw_size", chunk.RawSize))
		}
		return out, nil

	case model.CompressionZstd:
		out, err := zstdDecoder.DecodeAll(chunk.Data, make([]byte, 0, chunk.RawSize))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to decompress zstd chunk", goerr.V("seq", chunk.Seq))
		}
		if len(out) != chunk.RawSize {
			return nil, goerr.Wrap(ErrCorrupted, "zstd chunk size mismatch",
				goerr.V("seq", chunk.Seq), goerr.V("size", len(out)), goerr.V("raw_size", chunk.RawSize))
		}
		return out, nil
	}

	return nil, goerr.New("unsupported compression tag", goerr.V("tag", chunk.Compression))
}

func compressLZ4(data []byte) ([]byte, error) {
	out := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, out, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to compress lz4 chunk")
	}
	// zero means lz4 found nothing to compress
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return out[:n], nil
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}
