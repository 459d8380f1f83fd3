package repository

import (
	"context"
	"encoding/base64"
	"errors"
	"iter"
	"time"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo implements Repository on MongoDB. Blob data uses the GridFS
// collection layout ("<prefix>.files", "<prefix>.chunks") so that existing
// GridFS tooling can inspect it.
type Mongo struct {
	client     *mongo.Client
	db         *mongo.Database
	blobPrefix string
}

var _ Repository = &Mongo{}

type MongoOption func(*Mongo)

// WithMongoBlobPrefix sets the GridFS bucket prefix (default "fs")
func WithMongoBlobPrefix(prefix string) MongoOption {
	return func(r *Mongo) {
		r.blobPrefix = prefix
	}
}

// NewMongo connects to uri and uses database
func NewMongo(ctx context.Context, uri, database string, opts ...MongoOption) (*Mongo, error) {
	if uri == "" {
		return nil, goerr.New("mongodb uri is required")
	}
	if database == "" {
		return nil, goerr.New("mongodb database is required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect mongodb", goerr.V("database", database))
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, goerr.Wrap(err, "failed to ping mongodb", goerr.V("database", database))
	}

	r := &Mongo{client: client, db: client.Database(database), blobPrefix: defaultBlobPrefix}
	for _, opt := range opts {
		opt(r)
	}

	if _, err := r.chunks().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "files_id", Value: 1}, {Key: "n", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		_ = client.Disconnect(ctx)
		return nil, goerr.Wrap(err, "failed to create chunk index")
	}

	return r, nil
}

func (r *Mongo) Find(ctx context.Context, collection string, filter model.Filter) iter.Seq2[*model.Document, error] {
	query, err := filterToBSON(filter)
	if err != nil {
		return single(err)
	}

	return func(yield func(*model.Document, error) bool) {
		cur, err := r.db.Collection(collection).Find(ctx, query)
		if err != nil {
			yield(nil, goerr.Wrap(err, "failed to find documents", goerr.V("collection", collection)))
			return
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			var raw bson.D
			if err := cur.Decode(&raw); err != nil {
				yield(nil, goerr.Wrap(err, "failed to decode document", goerr.V("collection", collection)))
				return
			}
			doc, err := bsonToDocument(raw)
			if err != nil {
				yield(nil, err)
				return
			}
			if !filter.Match(doc) {
				continue
			}
			if !yield(doc, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(nil, goerr.Wrap(err, "failed to iterate documents", goerr.V("collection", collection)))
		}
	}
}

func (r *Mongo) Insert(ctx context.Context, collection string, fields *model.Map) (model.ID, error) {
	id := model.NewID()
	doc := append(bson.D{{Key: "_id", Value: id.ObjectID()}}, mapToBSON(fields)...)

	if _, err := r.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return model.NilID, goerr.Wrap(err, "failed to insert document", goerr.V("collection", collection))
	}
	return id, nil
}

func (r *Mongo) DeleteMany(ctx context.Context, collection string, filter model.Filter) (int64, error) {
	query, err := filterToBSON(filter)
	if err != nil {
		return 0, err
	}

	res, err := r.db.Collection(collection).DeleteMany(ctx, query)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete documents", goerr.V("collection", collection))
	}
	return res.DeletedCount, nil
}

func (r *Mongo) Get(ctx context.Context, collection string, id model.ID) (*model.Document, error) {
	var raw bson.D
	err := r.db.Collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: id.ObjectID()}}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, goerr.Wrap(model.ErrNotFound, "document not found",
			goerr.V("collection", collection), goerr.V("id", id.String()))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get document",
			goerr.V("collection", collection), goerr.V("id", id.String()))
	}
	return bsonToDocument(raw)
}

func (r *Mongo) Upsert(ctx context.Context, collection string, id model.ID, fields *model.Map) (*model.UpsertResult, error) {
	res, err := r.db.Collection(collection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id.ObjectID()}},
		bson.D{{Key: "$set", Value: mapToBSON(fields)}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to upsert document",
			goerr.V("collection", collection), goerr.V("id", id.String()))
	}

	if res.UpsertedCount > 0 {
		return &model.UpsertResult{Created: true}, nil
	}
	return &model.UpsertResult{ModifiedCount: res.ModifiedCount}, nil
}

func (r *Mongo) files() *mongo.Collection {
	return r.db.Collection(r.blobPrefix + ".files")
}

func (r *Mongo) chunks() *mongo.Collection {
	return r.db.Collection(r.blobPrefix + ".chunks")
}

type gridFile struct {
	ID         primitive.ObjectID `bson:"_id"`
	Length     int64              `bson:"length"`
	ChunkSize  int32              `bson:"chunkSize"`
	UploadDate time.Time          `bson:"uploadDate"`
	Filename   string             `bson:"filename"`
	Metadata   gridFileMetadata   `bson:"metadata"`
}

type gridFileMetadata struct {
	ContentType string `bson:"contentType"`
	ChunkCount  int32  `bson:"chunkCount"`
	Digest      string `bson:"digest"`
}

type gridChunk struct {
	ID          primitive.ObjectID `bson:"_id"`
	FilesID     primitive.ObjectID `bson:"files_id"`
	N           int32              `bson:"n"`
	Data        []byte             `bson:"data"`
	Compression int32              `bson:"compression"`
	RawSize     int32              `bson:"raw_size"`
}

func (r *Mongo) PutBlobMeta(ctx context.Context, meta *model.BlobMeta) error {
	rec := gridFile{
		ID:         meta.ID.ObjectID(),
		Length:     meta.Size,
		ChunkSize:  int32(meta.ChunkSize),
		UploadDate: meta.CreatedAt,
		Filename:   meta.Filename,
		Metadata: gridFileMetadata{
			ContentType: meta.ContentType,
			ChunkCount:  int32(meta.ChunkCount),
			Digest:      meta.Digest,
		},
	}
	if _, err := r.files().ReplaceOne(ctx, bson.D{{Key: "_id", Value: rec.ID}}, rec,
		options.Replace().SetUpsert(true)); err != nil {
		return goerr.Wrap(err, "failed to put blob metadata", goerr.V("id", meta.ID.String()))
	}
	return nil
}

func (r *Mongo) GetBlobMeta(ctx context.Context, id model.ID) (*model.BlobMeta, error) {
	var rec gridFile
	err := r.files().FindOne(ctx, bson.D{{Key: "_id", Value: id.ObjectID()}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, goerr.Wrap(model.ErrNotFound, "blob not found", goerr.V("id", id.String()))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get blob metadata", goerr.V("id", id.String()))
	}

	return &model.BlobMeta{
		ID:          id,
		Filename:    rec.Filename,
		ContentType: rec.Metadata.ContentType,
		Size:        rec.Length,
		ChunkSize:   int(rec.ChunkSize),
		ChunkCount:  int(rec.Metadata.ChunkCount),
		Digest:      rec.Metadata.Digest,
		CreatedAt:   rec.UploadDate.UTC(),
	}, nil
}

func (r *Mongo) DeleteBlobMeta(ctx context.Context, id model.ID) (bool, error) {
	res, err := r.files().DeleteOne(ctx, bson.D{{Key: "_id", Value: id.ObjectID()}})
	if err != nil {
		return false, goerr.Wrap(err, "failed to delete blob metadata", goerr.V("id", id.String()))
	}
	return res.DeletedCount > 0, nil
}

func (r *Mongo) PutChunk(ctx context.Context, chunk *model.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}
	rec := gridChunk{
		ID:          primitive.NewObjectID(),
		FilesID:     chunk.BlobID.ObjectID(),
		N:           int32(chunk.Seq),
		Data:        chunk.Data,
		Compression: int32(chunk.Compression),
		RawSize:     int32(chunk.RawSize),
	}
	if _, err := r.chunks().InsertOne(ctx, rec); err != nil {
		return goerr.Wrap(err, "failed to put chunk",
			goerr.V("blob_id", chunk.BlobID.String()), goerr.V("seq", chunk.Seq))
	}
	return nil
}

func (r *Mongo) GetChunk(ctx context.Context, blobID model.ID, seq int) (*model.Chunk, error) {
	var rec gridChunk
	err := r.chunks().FindOne(ctx, bson.D{
		{Key: "files_id", Value: blobID.ObjectID()},
		{Key: "n", Value: seq},
	}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, goerr.Wrap(model.ErrNotFound, "chunk not found",
			goerr.V("blob_id", blobID.String()), goerr.V("seq", seq))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get chunk",
			goerr.V("blob_id", blobID.String()), goerr.V("seq", seq))
	}

	return &model.Chunk{
		BlobID:      blobID,
		Seq:         int(rec.N),
		Data:        rec.Data,
		Compression: model.CompressionTag(rec.Compression),
		RawSize:     int(rec.RawSize),
	}, nil
}

func (r *Mongo) DeleteChunks(ctx context.Context, blobID model.ID) (int, error) {
	res, err := r.chunks().DeleteMany(ctx, bson.D{{Key: "files_id", Value: blobID.ObjectID()}})
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete chunks", goerr.V("blob_id", blobID.String()))
	}
	return int(res.DeletedCount), nil
}

func (r *Mongo) Close() error {
	return r.client.Disconnect(context.Background())
}

func filterToBSON(filter model.Filter) (bson.D, error) {
	switch f := filter.(type) {
	case model.All:
		return bson.D{}, nil

	case model.Compare:
		return bson.D{{Key: f.Field, Value: bson.D{{Key: string(f.Op), Value: fieldValueToBSON(f.Field, f.Value)}}}}, nil

	case model.In:
		values := make(bson.A, 0, len(f.Values))
		for _, v := range f.Values {
			values = append(values, fieldValueToBSON(f.Field, v))
		}
		return bson.D{{Key: f.Field, Value: bson.D{{Key: "$in", Value: values}}}}, nil

	case model.Exists:
		return bson.D{{Key: f.Field, Value: bson.D{{Key: "$exists", Value: f.Want}}}}, nil

	case model.And, model.Or:
		op, subs := "$and", []model.Filter(nil)
		if and, ok := f.(model.And); ok {
			subs = and.Filters
		} else {
			op, subs = "$or", f.(model.Or).Filters
		}
		clauses := make(bson.A, 0, len(subs))
		for _, sub := range subs {
			clause, err := filterToBSON(sub)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, clause)
		}
		return bson.D{{Key: op, Value: clauses}}, nil
	}

	return nil, goerr.Wrap(model.ErrInvalidQuery, "unsupported filter type")
}

// fieldValueToBSON converts an operand. "_id" operands given as hex strings
// are compared against the stored ObjectID.
func fieldValueToBSON(field string, v model.Value) any {
	if field == model.IDField && v.Kind() == model.KindString {
		if id, err := model.ParseID(v.AsString()); err == nil {
			return id.ObjectID()
		}
	}
	return valueToBSON(v)
}

func mapToBSON(m *model.Map) bson.D {
	out := make(bson.D, 0, m.Len())
	for _, k := range m.Keys() {
		if k == model.IDField {
			continue
		}
		v, _ := m.Get(k)
		out = append(out, bson.E{Key: k, Value: valueToBSON(v)})
	}
	return out
}

func valueToBSON(v model.Value) any {
	switch v.Kind() {
	case model.KindNull:
		return nil
	case model.KindTime:
		return primitive.NewDateTimeFromTime(v.AsTime())
	case model.KindMap:
		return mapToBSON(v.AsMap())
	case model.KindArray:
		out := make(bson.A, len(v.AsArray()))
		for i, e := range v.AsArray() {
			out[i] = valueToBSON(e)
		}
		return out
	default:
		return v.Any()
	}
}

func bsonToDocument(raw bson.D) (*model.Document, error) {
	var id model.ID
	fields := model.NewMap()

	for _, e := range raw {
		if e.Key == model.IDField {
			oid, ok := e.Value.(primitive.ObjectID)
			if !ok {
				return nil, goerr.New("document _id is not an ObjectID", goerr.V("id", e.Value))
			}
			id = model.ID(oid)
			continue
		}
		v, err := bsonToValue(e.Value)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert field", goerr.V("key", e.Key))
		}
		fields.Set(e.Key, v)
	}
	return model.NewDocument(id, fields), nil
}

func bsonToValue(x any) (model.Value, error) {
	switch t := x.(type) {
	case bson.D:
		m := model.NewMap()
		for _, e := range t {
			v, err := bsonToValue(e.Value)
			if err != nil {
				return model.Null(), goerr.Wrap(err, "failed to convert nested field", goerr.V("key", e.Key))
			}
			m.Set(e.Key, v)
		}
		return model.MapValue(m), nil
	case bson.A:
		out := make([]model.Value, len(t))
		for i, e := range t {
			v, err := bsonToValue(e)
			if err != nil {
				return model.Null(), err
			}
			out[i] = v
		}
		return model.Array(out...), nil
	case primitive.DateTime:
		return model.Time(t.Time()), nil
	case primitive.ObjectID:
		return model.String(t.Hex()), nil
	case primitive.Binary:
		return model.String(base64.StdEncoding.EncodeToString(t.Data)), nil
	case primitive.Decimal128:
		return model.String(t.String()), nil
	case primitive.Timestamp:
		return model.Time(time.Unix(int64(t.T), 0)), nil
	default:
		return model.FromAny(x)
	}
}
