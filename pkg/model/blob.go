package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// CompressionTag identifies the algorithm applied to one stored chunk
type CompressionTag uint8

const (
	CompressionNone CompressionTag = iota
	CompressionLZ4
	CompressionZstd
)

func (c CompressionTag) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompressionTag is the inverse of CompressionTag.String
func ParseCompressionTag(s string) (CompressionTag, error) {
	switch s {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, goerr.Wrap(ErrInvalidRequest, "unknown compression tag", goerr.V("tag", s))
	}
}

// BlobMeta is the metadata record of a chunked binary object. A blob is
// visible only once its metadata exists.
type BlobMeta struct {
	ID          ID        `json:"_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"length"`
	ChunkSize   int       `json:"chunk_size"`
	ChunkCount  int       `json:"chunk_count"`
	Digest      string    `json:"digest"`
	CreatedAt   time.Time `json:"upload_date"`
}

// Chunk is one stored slice of a blob. Data holds the encoded bytes and
// RawSize the length before compression.
type Chunk struct {
	BlobID      ID
	Seq         int
	Data        []byte
	Compression CompressionTag
	RawSize     int
}

// Validate checks chunk header consistency before it is persisted
func (c *Chunk) Validate() error {
	if c.BlobID.IsZero() {
		return goerr.Wrap(ErrInvalidRequest, "chunk has no blob id")
	}
	if c.Seq < 0 {
		return goerr.Wrap(ErrInvalidRequest, "chunk sequence must not be negative", goerr.V("seq", c.Seq))
	}
	if c.RawSize < 0 {
		return goerr.Wrap(ErrInvalidRequest, "chunk raw size must not be negative", goerr.V("raw_size", c.RawSize))
	}
	if c.Compression == CompressionNone && c.RawSize != len(c.Data) {
		return goerr.Wrap(ErrInvalidRequest, "uncompressed chunk size mismatch",
			goerr.V("raw_size", c.RawSize), goerr.V("data_size", len(c.Data)))
	}
	return nil
}
