package repository_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/gt"
)

func TestMemory(t *testing.T) {
	runConformance(t, func(t *testing.T) repository.Repository {
		return repository.NewMemory()
	})
}

func TestSQLite(t *testing.T) {
	runConformance(t, func(t *testing.T) repository.Repository {
		repo, err := repository.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "burrow.db"))
		gt.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		return repo
	})
}

func TestSQLiteReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "burrow.db")

	repo, err := repository.NewSQLite(ctx, path)
	gt.NoError(t, err)
	id, err := repo.Insert(ctx, "content", model.MapOf("content_text", "persisted"))
	gt.NoError(t, err)
	gt.NoError(t, repo.Close())

	repo, err = repository.NewSQLite(ctx, path)
	gt.NoError(t, err)
	defer repo.Close()

	doc, err := repo.Get(ctx, "content", id)
	gt.NoError(t, err)
	v, _ := doc.Fields.Get("content_text")
	gt.Equal(t, v.AsString(), "persisted")
}

func setupFirestore(t *testing.T, opts ...repository.FirestoreOption) *repository.Firestore {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	opts = append([]repository.FirestoreOption{
		repository.WithFirestoreBlobPrefix("test_" + model.NewID().String()),
	}, opts...)
	repo, err := repository.NewFirestore(context.Background(), projectID, databaseID, opts...)
	gt.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestFirestore(t *testing.T) {
	runConformance(t, func(t *testing.T) repository.Repository {
		return setupFirestore(t)
	})
}

// Pushed down queries follow Firestore semantics, so only scalar fields are
// checked here.
func TestFirestorePushdown(t *testing.T) {
	repo := setupFirestore(t, repository.WithFirestorePushdown(true))
	ctx := context.Background()
	coll := "test_" + model.NewID().String()

	for i, name := range []string{"a", "b", "c"} {
		_, err := repo.Insert(ctx, coll, model.MapOf("name", name, "score", i))
		gt.NoError(t, err)
	}
	_, err := repo.Insert(ctx, coll, model.MapOf("score", 9))
	gt.NoError(t, err)

	for _, tc := range []struct {
		filter string
		want   int
	}{
		{`{"name": "b"}`, 1},
		{`{"score": {"$gte": 1}}`, 3},
		{`{"name": {"$in": ["a", "c"]}}`, 2},
		{`{"$or": [{"name": "a"}, {"name": "b"}]}`, 2},
		{`{"name": {"$exists": true}}`, 3},
		{`{"name": {"$ne": "a"}}`, 3},
		{`{"$or": [{"name": {"$ne": "b"}}, {"score": 0}]}`, 3},
	} {
		t.Run(tc.filter, func(t *testing.T) {
			f, err := model.ParseFilter([]byte(tc.filter))
			gt.NoError(t, err)

			var n int
			for _, err := range repo.Find(ctx, coll, f) {
				gt.NoError(t, err)
				n++
			}
			gt.Equal(t, n, tc.want)
		})
	}
}

func TestMongo(t *testing.T) {
	uri := os.Getenv("TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("TEST_MONGODB_URI must be set to run MongoDB tests")
	}
	database := os.Getenv("TEST_MONGODB_DATABASE")
	if database == "" {
		database = "burrow_test"
	}

	runConformance(t, func(t *testing.T) repository.Repository {
		repo, err := repository.NewMongo(context.Background(), uri, database,
			repository.WithMongoBlobPrefix("test_"+model.NewID().String()))
		gt.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		return repo
	})
}

// runConformance checks behavior that every Repository backend shares.
// Collection names are unique per run so that cloud backends can share a
// database between runs.
func runConformance(t *testing.T, newRepo func(t *testing.T) repository.Repository) {
	ctx := context.Background()
	uniq := func(prefix string) string {
		return prefix + "_" + model.NewID().String()
	}

	collect := func(t *testing.T, repo repository.Repository, coll string, filter model.Filter) []*model.Document {
		t.Helper()
		var docs []*model.Document
		for doc, err := range repo.Find(ctx, coll, filter) {
			gt.NoError(t, err)
			docs = append(docs, doc)
		}
		return docs
	}

	t.Run("find on unknown collection is empty", func(t *testing.T) {
		repo := newRepo(t)
		gt.A(t, collect(t, repo, uniq("nothing"), model.All{})).Length(0)
	})

	t.Run("insert then get", func(t *testing.T) {
		repo := newRepo(t)
		coll := uniq("content")
		at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

		fields := model.MapOf(
			"content_text", "hello world",
			"count", 3,
			"tags", []any{"a", "b"},
			"meta", map[string]any{"author": "bob"},
			"at", at,
		)
		id, err := repo.Insert(ctx, coll, fields)
		gt.NoError(t, err)
		gt.False(t, id.IsZero())

		doc, err := repo.Get(ctx, coll, id)
		gt.NoError(t, err)
		gt.Equal(t, doc.ID, id)
		gt.True(t, doc.Fields.Equal(fields))

		v, ok := doc.Fields.Get("at")
		gt.True(t, ok)
		gt.True(t, v.AsTime().Equal(at))
	})

	t.Run("insert assigns distinct ids without dedup", func(t *testing.T) {
		repo := newRepo(t)
		coll := uniq("content")
		fields := model.MapOf("x", 1)

		id1, err := repo.Insert(ctx, coll, fields)
		gt.NoError(t, err)
		id2, err := repo.Insert(ctx, coll, fields)
		gt.NoError(t, err)
		gt.NotEqual(t, id1, id2)
		gt.A(t, collect(t, repo, coll, model.All{})).Length(2)
	})

	t.Run("get missing document", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Get(ctx, uniq("content"), model.NewID())
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("find with filter", func(t *testing.T) {
		repo := newRepo(t)
		coll := uniq("review")

		_, err := repo.Insert(ctx, coll, model.MapOf("name", "a", "score", 1, "tags", []any{"x"}))
		gt.NoError(t, err)
		_, err = repo.Insert(ctx, coll, model.MapOf("name", "b", "score", 5, "tags", []any{"x", "y"}))
		gt.NoError(t, err)

		testCases := []struct {
			name   string
			filter string
			want   []string
		}{
			{"all", `{}`, []string{"a", "b"}},
			{"eq", `{"name": "b"}`, []string{"b"}},
			{"gt", `{"score": {"$gt": 2}}`, []string{"b"}},
			{"array element", `{"tags": "y"}`, []string{"b"}},
			{"in", `{"name": {"$in": ["a", "z"]}}`, []string{"a"}},
			{"or", `{"$or": [{"name": "a"}, {"score": 5}]}`, []string{"a", "b"}},
			{"no match", `{"name": "zzz"}`, nil},
			{"exists", `{"missing": {"$exists": true}}`, nil},
			{"ne on missing field", `{"missing": {"$ne": "x"}}`, []string{"a", "b"}},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				f, err := model.ParseFilter([]byte(tc.filter))
				gt.NoError(t, err)

				var names []string
				for _, doc := range collect(t, repo, coll, f) {
					v, _ := doc.Fields.Get("name")
					names = append(names, v.AsString())
				}
				gt.Equal(t, len(names), len(tc.want))
				for _, w := range tc.want {
					gt.True(t, slices.Contains(names, w))
				}
			})
		}
	})

	t.Run("find by id", func(t *testing.T) {
		repo := newRepo(t)
		coll := uniq("content")
		id, err := repo.Insert(ctx, coll, model.MapOf("k", "v"))
		gt.NoError(t, err)
		_, err = repo.Insert(ctx, coll, model.MapOf("k", "w"))
		gt.NoError(t, err)

		docs := collect(t, repo, coll, model.Eq(model.IDField, model.String(id.String())))
		gt.A(t, docs).Length(1)
		gt.Equal(t, docs[0].ID, id)
	})

	t.Run("early break stops iteration", func(t *testing.T) {
		repo := newRepo(t)
		coll := uniq("content")
		for i := 0; i < 3; i++ {
			_, err := repo.Insert(ctx, coll, model.MapOf("i", i))
			gt.NoError(t, err)
		}

		var n int
		for _, err := range repo.Find(ctx, coll, model.All{}) {
			gt.NoError(t, err)
			n++
			break
		}
		gt.Equal(t, n, 1)
	})

	t.Run("delete many", func(t *testing.T) {
		repo := newRepo(t)
		coll := uniq("content")
		_, err := repo.Insert(ctx, coll, model.MapOf("status", "old"))
		gt.NoError(t, err)
		_, err = repo.Insert(ctx, coll, model.MapOf("status", "old"))
		gt.NoError(t, err)
		keep, err := repo.Insert(ctx, coll, model.MapOf("status", "new"))
		gt.NoError(t, err)

		n, err := repo.DeleteMany(ctx, coll, model.Eq("status", model.String("old")))
		gt.NoError(t, err)
		gt.Equal(t, n, int64(2))

		docs := collect(t, repo, coll, model.All{})
		gt.A(t, docs).Length(1)
		gt.Equal(t, docs[0].ID, keep)

		n, err = repo.DeleteMany(ctx, coll, model.Eq("status", model.String("old")))
		gt.NoError(t, err)
		gt.Equal(t, n, int64(0))
	})

	t.Run("upsert creates", func(t *testing.T) {
		repo := newRepo(t)
		coll := uniq("content")
		id := model.NewID()

		res, err := repo.Upsert(ctx, coll, id, model.MapOf("title", "x"))
		gt.NoError(t, err)
		gt.True(t, res.Created)
		gt.Equal(t, res.ModifiedCount, int64(0))

		doc, err := repo.Get(ctx, coll, id)
		gt.NoError(t, err)
		v, _ := doc.Fields.Get("title")
		gt.Equal(t, v.AsString(), "x")
	})

	t.Run("upsert preserves unrelated fields", func(t *testing.T) {
		repo := newRepo(t)
		coll := uniq("review")
		id, err := repo.Insert(ctx, coll, model.MapOf("review_text", "great", "y", "1"))
		gt.NoError(t, err)

		res, err := repo.Upsert(ctx, coll, id, model.MapOf("y_pred", "1", "y_proba", 0.9))
		gt.NoError(t, err)
		gt.False(t, res.Created)
		gt.Equal(t, res.ModifiedCount, int64(1))

		doc, err := repo.Get(ctx, coll, id)
		gt.NoError(t, err)
		gt.True(t, doc.Fields.Equal(model.MapOf("review_text", "great", "y", "1", "y_pred", "1", "y_proba", 0.9)))

		res, err = repo.Upsert(ctx, coll, id, model.MapOf("y_pred", "1"))
		gt.NoError(t, err)
		gt.Equal(t, res.ModifiedCount, int64(0))
	})

	t.Run("blob metadata", func(t *testing.T) {
		repo := newRepo(t)
		meta := &model.BlobMeta{
			ID:          model.NewID(),
			Filename:    "a.txt",
			ContentType: "text/plain",
			Size:        11,
			ChunkSize:   261120,
			ChunkCount:  1,
			Digest:      "abc",
			CreatedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		}

		_, err := repo.GetBlobMeta(ctx, meta.ID)
		gt.True(t, errors.Is(err, model.ErrNotFound))

		gt.NoError(t, repo.PutBlobMeta(ctx, meta))
		got, err := repo.GetBlobMeta(ctx, meta.ID)
		gt.NoError(t, err)
		gt.Equal(t, got.Filename, meta.Filename)
		gt.Equal(t, got.ContentType, meta.ContentType)
		gt.Equal(t, got.Size, meta.Size)
		gt.Equal(t, got.ChunkCount, meta.ChunkCount)
		gt.Equal(t, got.Digest, meta.Digest)
		gt.True(t, got.CreatedAt.Equal(meta.CreatedAt))

		deleted, err := repo.DeleteBlobMeta(ctx, meta.ID)
		gt.NoError(t, err)
		gt.True(t, deleted)

		deleted, err = repo.DeleteBlobMeta(ctx, meta.ID)
		gt.NoError(t, err)
		gt.False(t, deleted)
	})

	t.Run("chunks", func(t *testing.T) {
		repo := newRepo(t)
		blobID := model.NewID()

		for seq, data := range []string{"first", "second", "third"} {
			gt.NoError(t, repo.PutChunk(ctx, &model.Chunk{
				BlobID:  blobID,
				Seq:     seq,
				Data:    []byte(data),
				RawSize: len(data),
			}))
		}

		chunk, err := repo.GetChunk(ctx, blobID, 1)
		gt.NoError(t, err)
		gt.Equal(t, string(chunk.Data), "second")
		gt.Equal(t, chunk.Seq, 1)
		gt.Equal(t, chunk.Compression, model.CompressionNone)

		_, err = repo.GetChunk(ctx, blobID, 3)
		gt.True(t, errors.Is(err, model.ErrNotFound))

		n, err := repo.DeleteChunks(ctx, blobID)
		gt.NoError(t, err)
		gt.Equal(t, n, 3)

		_, err = repo.GetChunk(ctx, blobID, 0)
		gt.True(t, errors.Is(err, model.ErrNotFound))
	})
}
