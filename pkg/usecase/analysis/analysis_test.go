package analysis_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/burrow/pkg/usecase/analysis"
	"github.com/m-mizutani/gt"
)

type fakeModel struct {
	calls  int
	params model.Params
	text   string
	invoke func(text string, params model.Params) (*model.Map, error)
}

func (m *fakeModel) Invoke(ctx context.Context, id model.ID, text string, params model.Params) (*model.Map, error) {
	m.calls++
	m.text = text
	m.params = params
	return m.invoke(text, params)
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	summarizer := &fakeModel{
		invoke: func(text string, params model.Params) (*model.Map, error) {
			limit, err := params.Int(model.ParamWordLimit)
			if err != nil {
				return nil, err
			}
			return model.MapOf("summary", "short", "summary_word_limit", float64(limit)), nil
		},
	}
	uc := analysis.New(repo, analysis.WithSummarizer(summarizer))

	id, err := repo.Insert(ctx, "content", model.MapOf("title", "t", "content_text", "a long body of text"))
	gt.NoError(t, err)

	t.Run("persists summary", func(t *testing.T) {
		result, err := uc.Summarize(ctx, id, 50)
		gt.NoError(t, err)
		v, ok := result.Get("summary")
		gt.True(t, ok)
		gt.Equal(t, v.AsString(), "short")
		gt.Equal(t, summarizer.text, "a long body of text")
		gt.Equal(t, summarizer.params[model.ParamWordLimit], strconv.Itoa(50))

		doc, err := repo.Get(ctx, "content", id)
		gt.NoError(t, err)
		v, ok = doc.Lookup("summary")
		gt.True(t, ok)
		gt.Equal(t, v.AsString(), "short")
		v, ok = doc.Lookup("title")
		gt.True(t, ok)
		gt.Equal(t, v.AsString(), "t")
	})

	t.Run("rejects non-positive word limit", func(t *testing.T) {
		before := summarizer.calls
		_, err := uc.Summarize(ctx, id, 0)
		gt.True(t, errors.Is(err, model.ErrInvalidRequest))
		gt.Equal(t, summarizer.calls, before)
	})

	t.Run("unknown document", func(t *testing.T) {
		_, err := uc.Summarize(ctx, model.NewID(), 10)
		gt.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("missing text field", func(t *testing.T) {
		other, err := repo.Insert(ctx, "content", model.MapOf("title", "no body"))
		gt.NoError(t, err)
		_, err = uc.Summarize(ctx, other, 10)
		gt.True(t, errors.Is(err, model.ErrInvalidRequest))
	})

	t.Run("text field with wrong kind", func(t *testing.T) {
		other, err := repo.Insert(ctx, "content", model.MapOf("content_text", float64(3)))
		gt.NoError(t, err)
		_, err = uc.Summarize(ctx, other, 10)
		gt.True(t, errors.Is(err, model.ErrInvalidRequest))
	})
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()

	t.Run("keeps review text", func(t *testing.T) {
		classifier := &fakeModel{
			invoke: func(text string, params model.Params) (*model.Map, error) {
				return model.MapOf("y_pred", "1", "y_proba", 0.9), nil
			},
		}
		uc := analysis.New(repo, analysis.WithClassifier(classifier))
		id, err := repo.Insert(ctx, "review", model.MapOf("review_text", "great"))
		gt.NoError(t, err)

		result, err := uc.Classify(ctx, id)
		gt.NoError(t, err)
		gt.Equal(t, result.Len(), 2)

		doc, err := repo.Get(ctx, "review", id)
		gt.NoError(t, err)
		v, ok := doc.Lookup("review_text")
		gt.True(t, ok)
		gt.Equal(t, v.AsString(), "great")
		v, ok = doc.Lookup("y_pred")
		gt.True(t, ok)
		gt.Equal(t, v.AsString(), "1")
	})

	t.Run("model failure is upstream error", func(t *testing.T) {
		classifier := &fakeModel{
			invoke: func(text string, params model.Params) (*model.Map, error) {
				return nil, errors.New("boom")
			},
		}
		uc := analysis.New(repo, analysis.WithClassifier(classifier))
		id, err := repo.Insert(ctx, "review", model.MapOf("review_text", "meh"))
		gt.NoError(t, err)

		_, err = uc.Classify(ctx, id)
		gt.True(t, errors.Is(err, model.ErrUpstreamModel))

		doc, err := repo.Get(ctx, "review", id)
		gt.NoError(t, err)
		gt.False(t, doc.Fields.Has("y_pred"))
	})

	t.Run("unconfigured model", func(t *testing.T) {
		uc := analysis.New(repo)
		_, err := uc.Classify(ctx, model.NewID())
		gt.True(t, errors.Is(err, model.ErrUpstreamModel))
	})

	t.Run("custom task", func(t *testing.T) {
		classifier := &fakeModel{
			invoke: func(text string, params model.Params) (*model.Map, error) {
				return model.MapOf("y_pred", "0"), nil
			},
		}
		uc := analysis.New(repo,
			analysis.WithClassifier(classifier),
			analysis.WithClassifyTask(analysis.Task{Collection: "tickets", TextField: "body"}),
		)
		id, err := repo.Insert(ctx, "tickets", model.MapOf("body", "printer on fire"))
		gt.NoError(t, err)
		_, err = uc.Classify(ctx, id)
		gt.NoError(t, err)
		gt.Equal(t, classifier.text, "printer on fire")
	})
}

func TestTrain(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	classifier := &fakeModel{
		invoke: func(text string, params model.Params) (*model.Map, error) {
			return model.MapOf("y_pred", "1"), nil
		},
	}
	uc := analysis.New(repo, analysis.WithClassifier(classifier))

	id, err := repo.Insert(ctx, "review", model.MapOf("review_text", "fine"))
	gt.NoError(t, err)

	t.Run("persists label verbatim without invoking model", func(t *testing.T) {
		result, err := uc.Train(ctx, id, "0")
		gt.NoError(t, err)
		gt.Equal(t, result.Len(), 0)
		gt.Equal(t, classifier.calls, 0)

		doc, err := repo.Get(ctx, "review", id)
		gt.NoError(t, err)
		v, ok := doc.Lookup(analysis.LabelField)
		gt.True(t, ok)
		gt.Equal(t, v.Kind(), model.KindString)
		gt.Equal(t, v.AsString(), "0")
	})

	t.Run("empty label", func(t *testing.T) {
		_, err := uc.Train(ctx, id, "")
		gt.True(t, errors.Is(err, model.ErrInvalidRequest))
	})

	t.Run("unknown document", func(t *testing.T) {
		_, err := uc.Train(ctx, model.NewID(), "1")
		gt.True(t, errors.Is(err, model.ErrNotFound))
	})
}
