package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"iter"
	"time"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// SQLite stores documents as ordered JSON text in a single-file database.
// Filters are evaluated with model.Filter.Match while rows stream.
type SQLite struct {
	db   *sql.DB
	path string
}

var _ Repository = &SQLite{}

// NewSQLite opens (or creates) the database file at path
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, goerr.New("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", path))
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to apply sqlite schema", goerr.V("path", path))
	}

	return &SQLite{db: db, path: path}, nil
}

func (r *SQLite) Find(ctx context.Context, collection string, filter model.Filter) iter.Seq2[*model.Document, error] {
	return func(yield func(*model.Document, error) bool) {
		rows, err := r.db.QueryContext(ctx,
			`SELECT id, body FROM documents WHERE collection = ? ORDER BY seq`, collection)
		if err != nil {
			yield(nil, goerr.Wrap(err, "failed to query documents", goerr.V("collection", collection)))
			return
		}
		defer rows.Close()

		for rows.Next() {
			doc, err := scanDocument(rows)
			if err != nil {
				yield(nil, goerr.Wrap(err, "failed to scan document", goerr.V("collection", collection)))
				return
			}
			if !filter.Match(doc) {
				continue
			}
			if !yield(doc, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, goerr.Wrap(err, "failed to iterate documents", goerr.V("collection", collection)))
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var rawID, body string
	if err := row.Scan(&rawID, &body); err != nil {
		return nil, err
	}
	id, err := model.ParseID(rawID)
	if err != nil {
		return nil, err
	}
	fields := model.NewMap()
	if err := fields.UnmarshalJSON([]byte(body)); err != nil {
		return nil, goerr.Wrap(err, "stored document is corrupted", goerr.V("id", rawID))
	}
	return model.NewDocument(id, fields), nil
}

func (r *SQLite) Insert(ctx context.Context, collection string, fields *model.Map) (model.ID, error) {
	body, err := fields.MarshalJSON()
	if err != nil {
		return model.NilID, goerr.Wrap(err, "failed to encode document")
	}

	id := model.NewID()
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`,
		collection, id.String(), string(body)); err != nil {
		return model.NilID, goerr.Wrap(err, "failed to insert document", goerr.V("collection", collection))
	}
	return id, nil
}

func (r *SQLite) DeleteMany(ctx context.Context, collection string, filter model.Filter) (int64, error) {
	var deleted int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, body FROM documents WHERE collection = ? ORDER BY seq`, collection)
		if err != nil {
			return goerr.Wrap(err, "failed to query documents")
		}

		var targets []string
		for rows.Next() {
			doc, err := scanDocument(rows)
			if err != nil {
				rows.Close()
				return goerr.Wrap(err, "failed to scan document")
			}
			if filter.Match(doc) {
				targets = append(targets, doc.ID.String())
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return goerr.Wrap(err, "failed to iterate documents")
		}
		rows.Close()

		for _, id := range targets {
			res, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
			if err != nil {
				return goerr.Wrap(err, "failed to delete document", goerr.V("id", id))
			}
			n, err := res.RowsAffected()
			if err != nil {
				return goerr.Wrap(err, "failed to count deleted rows")
			}
			deleted += n
		}
		return nil
	})
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete documents", goerr.V("collection", collection))
	}
	return deleted, nil
}

func (r *SQLite) Get(ctx context.Context, collection string, id model.ID) (*model.Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, body FROM documents WHERE collection = ? AND id = ?`, collection, id.String())
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(model.ErrNotFound, "document not found",
			goerr.V("collection", collection), goerr.V("id", id.String()))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get document",
			goerr.V("collection", collection), goerr.V("id", id.String()))
	}
	return doc, nil
}

func (r *SQLite) Upsert(ctx context.Context, collection string, id model.ID, fields *model.Map) (*model.UpsertResult, error) {
	result := &model.UpsertResult{}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id, body FROM documents WHERE collection = ? AND id = ?`, collection, id.String())
		cur, err := scanDocument(row)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			body, err := fields.MarshalJSON()
			if err != nil {
				return goerr.Wrap(err, "failed to encode document")
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`,
				collection, id.String(), string(body)); err != nil {
				return goerr.Wrap(err, "failed to insert document")
			}
			result.Created = true
			return nil

		case err != nil:
			return goerr.Wrap(err, "failed to read document")
		}

		if !cur.Fields.Merge(fields) {
			return nil
		}
		body, err := cur.Fields.MarshalJSON()
		if err != nil {
			return goerr.Wrap(err, "failed to encode document")
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET body = ? WHERE collection = ? AND id = ?`,
			string(body), collection, id.String()); err != nil {
			return goerr.Wrap(err, "failed to update document")
		}
		result.ModifiedCount = 1
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to upsert document",
			goerr.V("collection", collection), goerr.V("id", id.String()))
	}
	return result, nil
}

func (r *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit transaction")
	}
	return nil
}

func (r *SQLite) PutBlobMeta(ctx context.Context, meta *model.BlobMeta) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO blobs (id, filename, content_type, size, chunk_size, chunk_count, digest, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID.String(), meta.Filename, meta.ContentType, meta.Size, meta.ChunkSize, meta.ChunkCount,
		meta.Digest, meta.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return goerr.Wrap(err, "failed to put blob metadata", goerr.V("id", meta.ID.String()))
	}
	return nil
}

func (r *SQLite) GetBlobMeta(ctx context.Context, id model.ID) (*model.BlobMeta, error) {
	var (
		meta      = model.BlobMeta{ID: id}
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT filename, content_type, size, chunk_size, chunk_count, digest, created_at FROM blobs WHERE id = ?`,
		id.String()).Scan(&meta.Filename, &meta.ContentType, &meta.Size, &meta.ChunkSize, &meta.ChunkCount,
		&meta.Digest, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(model.ErrNotFound, "blob not found", goerr.V("id", id.String()))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get blob metadata", goerr.V("id", id.String()))
	}

	meta.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, goerr.Wrap(err, "stored blob timestamp is corrupted", goerr.V("id", id.String()))
	}
	return &meta, nil
}

func (r *SQLite) DeleteBlobMeta(ctx context.Context, id model.ID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, id.String())
	if err != nil {
		return false, goerr.Wrap(err, "failed to delete blob metadata", goerr.V("id", id.String()))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, goerr.Wrap(err, "failed to count deleted rows")
	}
	return n > 0, nil
}

func (r *SQLite) PutChunk(ctx context.Context, chunk *model.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO chunks (blob_id, seq, compression, raw_size, data) VALUES (?, ?, ?, ?, ?)`,
		chunk.BlobID.String(), chunk.Seq, int(chunk.Compression), chunk.RawSize, chunk.Data); err != nil {
		return goerr.Wrap(err, "failed to put chunk",
			goerr.V("blob_id", chunk.BlobID.String()), goerr.V("seq", chunk.Seq))
	}
	return nil
}

func (r *SQLite) GetChunk(ctx context.Context, blobID model.ID, seq int) (*model.Chunk, error) {
	var (
		chunk       = model.Chunk{BlobID: blobID, Seq: seq}
		compression int
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT compression, raw_size, data FROM chunks WHERE blob_id = ? AND seq = ?`,
		blobID.String(), seq).Scan(&compression, &chunk.RawSize, &chunk.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(model.ErrNotFound, "chunk not found",
			goerr.V("blob_id", blobID.String()), goerr.V("seq", seq))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get chunk",
			goerr.V("blob_id", blobID.String()), goerr.V("seq", seq))
	}
	chunk.Compression = model.CompressionTag(compression)
	return &chunk, nil
}

func (r *SQLite) DeleteChunks(ctx context.Context, blobID model.ID) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE blob_id = ?`, blobID.String())
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete chunks", goerr.V("blob_id", blobID.String()))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count deleted rows")
	}
	return int(n), nil
}

func (r *SQLite) Close() error {
	return r.db.Close()
}
