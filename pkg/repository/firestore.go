package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore implements Repository on Cloud Firestore. Each burrow
// collection maps to a Firestore collection and the hex ID is the Firestore
// document ID. Blob metadata and chunks live in "<prefix>.files" and
// "<prefix>.chunks".
type Firestore struct {
	client     *firestore.Client
	blobPrefix string
	pushdown   bool
}

var _ Repository = &Firestore{}

type FirestoreOption func(*Firestore)

// WithFirestoreBlobPrefix sets the collection prefix for blob data (default "fs")
func WithFirestoreBlobPrefix(prefix string) FirestoreOption {
	return func(r *Firestore) {
		r.blobPrefix = prefix
	}
}

// WithFirestorePushdown translates filters into Firestore queries. Firestore
// compares array fields as whole values, so pushed down equality, "in" and
// range comparisons do not match single array elements. "$ne" is never
// pushed down because Firestore drops documents lacking the field. Without
// pushdown every query is a collection scan evaluated in process.
func WithFirestorePushdown(enabled bool) FirestoreOption {
	return func(r *Firestore) {
		r.pushdown = enabled
	}
}

// NewFirestore creates a new Firestore repository
func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("firestore project ID is required")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID), goerr.V("database_id", databaseID))
	}

	r := &Firestore{client: client, blobPrefix: defaultBlobPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

const defaultBlobPrefix = "fs"

func (r *Firestore) Find(ctx context.Context, collection string, filter model.Filter) iter.Seq2[*model.Document, error] {
	query := r.client.Collection(collection).Query
	if r.pushdown {
		if ef, ok := toEntityFilter(filter); ok {
			query = query.WhereEntity(ef)
		}
	}

	return func(yield func(*model.Document, error) bool) {
		it := query.Documents(ctx)
		defer it.Stop()

		for {
			snap, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(nil, goerr.Wrap(err, "failed to iterate documents", goerr.V("collection", collection)))
				return
			}

			doc, err := snapshotToDocument(snap)
			if err != nil {
				yield(nil, err)
				return
			}
			// Match is re-applied so results follow document-store semantics
			// even when a translated query is looser.
			if !filter.Match(doc) {
				continue
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

func (r *Firestore) Insert(ctx context.Context, collection string, fields *model.Map) (model.ID, error) {
	id := model.NewID()
	if _, err := r.client.Collection(collection).Doc(id.String()).Create(ctx, mapToFirestore(fields)); err != nil {
		return model.NilID, goerr.Wrap(err, "failed to insert document",
			goerr.V("collection", collection), goerr.V("id", id.String()))
	}
	return id, nil
}

func (r *Firestore) DeleteMany(ctx context.Context, collection string, filter model.Filter) (int64, error) {
	var deleted int64
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deleted = 0
		snaps, err := tx.Documents(r.client.Collection(collection)).GetAll()
		if err != nil {
			return goerr.Wrap(err, "failed to read documents")
		}

		for _, snap := range snaps {
			doc, err := snapshotToDocument(snap)
			if err != nil {
				return err
			}
			if !filter.Match(doc) {
				continue
			}
			if err := tx.Delete(snap.Ref); err != nil {
				return goerr.Wrap(err, "failed to delete document", goerr.V("id", snap.Ref.ID))
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete documents", goerr.V("collection", collection))
	}
	return deleted, nil
}

func (r *Firestore) Get(ctx context.Context, collection string, id model.ID) (*model.Document, error) {
	snap, err := r.client.Collection(collection).Doc(id.String()).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, goerr.Wrap(model.ErrNotFound, "document not found",
			goerr.V("collection", collection), goerr.V("id", id.String()))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get document",
			goerr.V("collection", collection), goerr.V("id", id.String()))
	}
	return snapshotToDocument(snap)
}

func (r *Firestore) Upsert(ctx context.Context, collection string, id model.ID, fields *model.Map) (*model.UpsertResult, error) {
	ref := r.client.Collection(collection).Doc(id.String())

	var result model.UpsertResult
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = model.UpsertResult{}

		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			result.Created = true
			return tx.Create(ref, mapToFirestore(fields))
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read document")
		}

		cur, err := snapshotToDocument(snap)
		if err != nil {
			return err
		}

		changed := model.NewMap()
		for _, k := range fields.Keys() {
			v, _ := fields.Get(k)
			if old, ok := cur.Fields.Get(k); ok && old.Equal(v) {
				continue
			}
			changed.Set(k, v)
		}
		if changed.Len() == 0 {
			return nil
		}

		paths := make([]firestore.FieldPath, 0, changed.Len())
		for _, k := range changed.Keys() {
			paths = append(paths, firestore.FieldPath{k})
		}
		result.ModifiedCount = 1
		return tx.Set(ref, mapToFirestore(changed), firestore.Merge(paths...))
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to upsert document",
			goerr.V("collection", collection), goerr.V("id", id.String()))
	}
	return &result, nil
}

func (r *Firestore) filesCollection() *firestore.CollectionRef {
	return r.client.Collection(r.blobPrefix + ".files")
}

func (r *Firestore) chunksCollection() *firestore.CollectionRef {
	return r.client.Collection(r.blobPrefix + ".chunks")
}

type firestoreBlobMeta struct {
	Filename    string    `firestore:"filename"`
	ContentType string    `firestore:"contentType"`
	Length      int64     `firestore:"length"`
	ChunkSize   int64     `firestore:"chunkSize"`
	ChunkCount  int64     `firestore:"chunkCount"`
	Digest      string    `firestore:"digest"`
	UploadDate  time.Time `firestore:"uploadDate"`
}

type firestoreChunk struct {
	FilesID     string `firestore:"files_id"`
	N           int64  `firestore:"n"`
	Data        []byte `firestore:"data"`
	Compression int64  `firestore:"compression"`
	RawSize     int64  `firestore:"raw_size"`
}

func (r *Firestore) PutBlobMeta(ctx context.Context, meta *model.BlobMeta) error {
	rec := firestoreBlobMeta{
		Filename:    meta.Filename,
		ContentType: meta.ContentType,
		Length:      meta.Size,
		ChunkSize:   int64(meta.ChunkSize),
		ChunkCount:  int64(meta.ChunkCount),
		Digest:      meta.Digest,
		UploadDate:  meta.CreatedAt,
	}
	if _, err := r.filesCollection().Doc(meta.ID.String()).Set(ctx, rec); err != nil {
		return goerr.Wrap(err, "failed to put blob metadata", goerr.V("id", meta.ID.String()))
	}
	return nil
}

func (r *Firestore) GetBlobMeta(ctx context.Context, id model.ID) (*model.BlobMeta, error) {
	snap, err := r.filesCollection().Doc(id.String()).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, goerr.Wrap(model.ErrNotFound, "blob not found", goerr.V("id", id.String()))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get blob metadata", goerr.V("id", id.String()))
	}

	var rec firestoreBlobMeta
	if err := snap.DataTo(&rec); err != nil {
		return nil, goerr.Wrap(err, "failed to decode blob metadata", goerr.V("id", id.String()))
	}
	return &model.BlobMeta{
		ID:          id,
		Filename:    rec.Filename,
		ContentType: rec.ContentType,
		Size:        rec.Length,
		ChunkSize:   int(rec.ChunkSize),
		ChunkCount:  int(rec.ChunkCount),
		Digest:      rec.Digest,
		CreatedAt:   rec.UploadDate,
	}, nil
}

func (r *Firestore) DeleteBlobMeta(ctx context.Context, id model.ID) (bool, error) {
	ref := r.filesCollection().Doc(id.String())

	var existed bool
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			existed = false
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read blob metadata")
		}
		existed = true
		return tx.Delete(ref)
	})
	if err != nil {
		return false, goerr.Wrap(err, "failed to delete blob metadata", goerr.V("id", id.String()))
	}
	return existed, nil
}

func chunkDocID(blobID model.ID, seq int) string {
	return fmt.Sprintf("%s-%08d", blobID.String(), seq)
}

func (r *Firestore) PutChunk(ctx context.Context, chunk *model.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}
	rec := firestoreChunk{
		FilesID:     chunk.BlobID.String(),
		N:           int64(chunk.Seq),
		Data:        chunk.Data,
		Compression: int64(chunk.Compression),
		RawSize:     int64(chunk.RawSize),
	}
	if _, err := r.chunksCollection().Doc(chunkDocID(chunk.BlobID, chunk.Seq)).Create(ctx, rec); err != nil {
		return goerr.Wrap(err, "failed to put chunk",
			goerr.V("blob_id", chunk.BlobID.String()), goerr.V("seq", chunk.Seq))
	}
	return nil
}

func (r *Firestore) GetChunk(ctx context.Context, blobID model.ID, seq int) (*model.Chunk, error) {
	snap, err := r.chunksCollection().Doc(chunkDocID(blobID, seq)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, goerr.Wrap(model.ErrNotFound, "chunk not found",
			goerr.V("blob_id", blobID.String()), goerr.V("seq", seq))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get chunk",
			goerr.V("blob_id", blobID.String()), goerr.V("seq", seq))
	}

	var rec firestoreChunk
	if err := snap.DataTo(&rec); err != nil {
		return nil, goerr.Wrap(err, "failed to decode chunk", goerr.V("blob_id", blobID.String()), goerr.V("seq", seq))
	}
	return &model.Chunk{
		BlobID:      blobID,
		Seq:         int(rec.N),
		Data:        rec.Data,
		Compression: model.CompressionTag(rec.Compression),
		RawSize:     int(rec.RawSize),
	}, nil
}

func (r *Firestore) DeleteChunks(ctx context.Context, blobID model.ID) (int, error) {
	it := r.chunksCollection().Where("files_id", "==", blobID.String()).Documents(ctx)
	defer it.Stop()

	bw := r.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			bw.End()
			return 0, goerr.Wrap(err, "failed to list chunks", goerr.V("blob_id", blobID.String()))
		}
		job, err := bw.Delete(snap.Ref)
		if err != nil {
			bw.End()
			return 0, goerr.Wrap(err, "failed to enqueue chunk deletion", goerr.V("blob_id", blobID.String()))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var n int
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return n, goerr.Wrap(err, "failed to delete chunk", goerr.V("blob_id", blobID.String()))
		}
		n++
	}
	return n, nil
}

func (r *Firestore) Close() error {
	return r.client.Close()
}

func snapshotToDocument(snap *firestore.DocumentSnapshot) (*model.Document, error) {
	id, err := model.ParseID(snap.Ref.ID)
	if err != nil {
		return nil, goerr.Wrap(err, "document id is not a burrow identifier", goerr.V("ref", snap.Ref.Path))
	}
	v, err := model.FromAny(snap.Data())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to convert firestore document", goerr.V("ref", snap.Ref.Path))
	}
	return model.NewDocument(id, v.AsMap()), nil
}

func mapToFirestore(m *model.Map) map[string]any {
	out := make(map[string]any, m.Len())
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		out[k] = valueToFirestore(v)
	}
	return out
}

func valueToFirestore(v model.Value) any {
	switch v.Kind() {
	case model.KindMap:
		return mapToFirestore(v.AsMap())
	case model.KindArray:
		out := make([]any, len(v.AsArray()))
		for i, e := range v.AsArray() {
			out[i] = valueToFirestore(e)
		}
		return out
	default:
		return v.Any()
	}
}

var firestoreOps = map[model.Op]string{
	model.OpEq:  "==",
	model.OpGt:  ">",
	model.OpGte: ">=",
	model.OpLt:  "<",
	model.OpLte: "<=",
}

// firestoreInLimit is the maximum number of values of an "in" clause
const firestoreInLimit = 30

// toEntityFilter translates filter into a Firestore filter. It returns false
// when some part has no Firestore equivalent, in which case the caller scans.
func toEntityFilter(filter model.Filter) (firestore.EntityFilter, bool) {
	switch f := filter.(type) {
	case model.Compare:
		op, ok := firestoreOps[f.Op]
		if !ok || !pushableField(f.Field) || !pushableScalar(f.Value) {
			return nil, false
		}
		// null equality also matches missing fields, which Firestore cannot express
		if f.Value.IsNull() {
			return nil, false
		}
		return firestore.PropertyPathFilter{
			Path:     firestore.FieldPath(strings.Split(f.Field, ".")),
			Operator: op,
			Value:    f.Value.Any(),
		}, true

	case model.In:
		if !pushableField(f.Field) || len(f.Values) == 0 || len(f.Values) > firestoreInLimit {
			return nil, false
		}
		values := make([]any, 0, len(f.Values))
		for _, v := range f.Values {
			if !pushableScalar(v) || v.IsNull() {
				return nil, false
			}
			values = append(values, v.Any())
		}
		return firestore.PropertyPathFilter{
			Path:     firestore.FieldPath(strings.Split(f.Field, ".")),
			Operator: "in",
			Value:    values,
		}, true

	case model.And:
		subs, ok := toEntityFilters(f.Filters)
		if !ok {
			return nil, false
		}
		return firestore.AndFilter{Filters: subs}, true

	case model.Or:
		subs, ok := toEntityFilters(f.Filters)
		if !ok {
			return nil, false
		}
		return firestore.OrFilter{Filters: subs}, true
	}
	return nil, false
}

func toEntityFilters(filters []model.Filter) ([]firestore.EntityFilter, bool) {
	out := make([]firestore.EntityFilter, 0, len(filters))
	for _, f := range filters {
		ef, ok := toEntityFilter(f)
		if !ok {
			return nil, false
		}
		out = append(out, ef)
	}
	return out, true
}

func pushableField(field string) bool {
	return field != model.IDField && field != ""
}

func pushableScalar(v model.Value) bool {
	switch v.Kind() {
	case model.KindNull, model.KindBool, model.KindNumber, model.KindString, model.KindTime:
		return true
	}
	return false
}
