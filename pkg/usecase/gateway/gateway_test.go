package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/burrow/pkg/usecase/gateway"
	"github.com/m-mizutani/gt"
)

func collect(t *testing.T, uc *gateway.UseCase, coll string, filter model.Filter) []*model.Document {
	t.Helper()
	var docs []*model.Document
	for doc, err := range uc.List(context.Background(), coll, filter) {
		gt.NoError(t, err)
		docs = append(docs, doc)
	}
	return docs
}

func TestValidateCollection(t *testing.T) {
	for _, name := range []string{"", "$cmd", "a/b", "nul\x00"} {
		err := gateway.ValidateCollection(name)
		gt.True(t, errors.Is(err, model.ErrInvalidRequest))
	}
	gt.NoError(t, gateway.ValidateCollection("content"))
}

func TestListFilter(t *testing.T) {
	ctx := context.Background()
	uc := gateway.New(repository.NewMemory())

	t.Run("empty collection", func(t *testing.T) {
		gt.A(t, collect(t, uc, "content", nil)).Length(0)
		gt.A(t, collect(t, uc, "content", model.Eq("x", model.Number(1)))).Length(0)
	})

	idA, err := uc.Insert(ctx, "content", model.MapOf("name", "a"))
	gt.NoError(t, err)
	idB, err := uc.Insert(ctx, "content", model.MapOf("name", "b"))
	gt.NoError(t, err)

	t.Run("all", func(t *testing.T) {
		docs := collect(t, uc, "content", nil)
		gt.A(t, docs).Length(2)
		gt.Equal(t, docs[0].ID, idA)
		gt.Equal(t, docs[1].ID, idB)
	})

	t.Run("exactly one match", func(t *testing.T) {
		docs := collect(t, uc, "content", model.Eq("name", model.String("b")))
		gt.A(t, docs).Length(1)
		gt.Equal(t, docs[0].ID, idB)
	})

	t.Run("invalid collection", func(t *testing.T) {
		for _, err := range uc.List(ctx, "$bad", nil) {
			gt.True(t, errors.Is(err, model.ErrInvalidRequest))
		}
	})
}

func TestInsertIgnoresID(t *testing.T) {
	ctx := context.Background()
	uc := gateway.New(repository.NewMemory())

	given := model.NewID()
	fields := model.MapOf(model.IDField, given.String(), "title", "x")

	id, err := uc.Insert(ctx, "content", fields)
	gt.NoError(t, err)
	gt.NotEqual(t, id, given)

	doc, err := uc.Get(ctx, "content", id)
	gt.NoError(t, err)
	gt.False(t, doc.Fields.Has(model.IDField))
	gt.True(t, fields.Has(model.IDField))
}

func TestDeleteMany(t *testing.T) {
	ctx := context.Background()
	uc := gateway.New(repository.NewMemory())

	_, err := uc.DeleteMany(ctx, "content", nil)
	gt.True(t, errors.Is(err, model.ErrInvalidRequest))

	for _, s := range []string{"old", "old", "new"} {
		_, err := uc.Insert(ctx, "content", model.MapOf("status", s))
		gt.NoError(t, err)
	}

	n, err := uc.DeleteMany(ctx, "content", model.Eq("status", model.String("old")))
	gt.NoError(t, err)
	gt.Equal(t, n, int64(2))
	gt.A(t, collect(t, uc, "content", nil)).Length(1)

	n, err = uc.DeleteMany(ctx, "content", model.All{})
	gt.NoError(t, err)
	gt.Equal(t, n, int64(1))
}

func TestGetNotFound(t *testing.T) {
	uc := gateway.New(repository.NewMemory())
	_, err := uc.Get(context.Background(), "content", model.NewID())
	gt.True(t, errors.Is(err, model.ErrNotFound))
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	uc := gateway.New(repository.NewMemory())

	t.Run("creates when absent", func(t *testing.T) {
		id := model.NewID()
		res, err := uc.Upsert(ctx, "content", id, model.MapOf("title", "x"))
		gt.NoError(t, err)
		gt.True(t, res.Created)
		gt.Equal(t, res.ModifiedCount, int64(0))

		doc, err := uc.Get(ctx, "content", id)
		gt.NoError(t, err)
		gt.True(t, doc.Fields.Equal(model.MapOf("title", "x")))
	})

	t.Run("preserves unrelated fields", func(t *testing.T) {
		id, err := uc.Insert(ctx, "content", model.MapOf("a", 1, "b", 2))
		gt.NoError(t, err)

		res, err := uc.Upsert(ctx, "content", id, model.MapOf("b", 3))
		gt.NoError(t, err)
		gt.False(t, res.Created)
		gt.Equal(t, res.ModifiedCount, int64(1))

		doc, err := uc.Get(ctx, "content", id)
		gt.NoError(t, err)
		gt.True(t, doc.Fields.Equal(model.MapOf("a", 1, "b", 3)))
	})

	t.Run("empty body", func(t *testing.T) {
		_, err := uc.Upsert(ctx, "content", model.NewID(), model.NewMap())
		gt.True(t, errors.Is(err, model.ErrInvalidRequest))

		_, err = uc.Upsert(ctx, "content", model.NewID(), model.MapOf(model.IDField, "x"))
		gt.True(t, errors.Is(err, model.ErrInvalidRequest))
	})
}

func TestDistinct(t *testing.T) {
	ctx := context.Background()
	uc := gateway.New(repository.NewMemory())

	for _, fields := range []*model.Map{
		model.MapOf("color", "red"),
		model.MapOf("color", "blue"),
		model.MapOf("color", "red"),
		model.MapOf("size", 3),
		model.MapOf("color", []any{"green", "blue"}),
	} {
		_, err := uc.Insert(ctx, "items", fields)
		gt.NoError(t, err)
	}

	values, err := uc.Distinct(ctx, "items", "color")
	gt.NoError(t, err)
	gt.A(t, values).Length(3)
	for i, want := range []string{"red", "blue", "green"} {
		gt.Equal(t, values[i].AsString(), want)
	}

	values, err = uc.Distinct(ctx, "nothing", "color")
	gt.NoError(t, err)
	gt.A(t, values).Length(0)

	_, err = uc.Distinct(ctx, "items", "")
	gt.True(t, errors.Is(err, model.ErrInvalidRequest))
}

func TestDistinctManyValues(t *testing.T) {
	ctx := context.Background()
	uc := gateway.New(repository.NewMemory())

	const n = 50000
	for i := range n {
		_, err := uc.Insert(ctx, "items", model.MapOf("code", fmt.Sprintf("c%d", i%(n/2))))
		gt.NoError(t, err)
	}
	_, err := uc.Insert(ctx, "items", model.MapOf("code", model.MapOf("b", 1, "a", 2)))
	gt.NoError(t, err)
	_, err = uc.Insert(ctx, "items", model.MapOf("code", model.MapOf("a", 2, "b", 1)))
	gt.NoError(t, err)

	values, err := uc.Distinct(ctx, "items", "code")
	gt.NoError(t, err)
	gt.A(t, values).Length(n/2 + 1)
}
