package analysis

import (
	"context"
	"errors"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Model computes a result mapping from the text of one document
type Model interface {
	Invoke(ctx context.Context, id model.ID, text string, params model.Params) (*model.Map, error)
}

// Task names where an analysis reads its source text
type Task struct {
	Collection string `yaml:"collection"`
	TextField  string `yaml:"text_field"`
}

var (
	DefaultSummarizeTask = Task{Collection: "content", TextField: "content_text"}
	DefaultReviewTask    = Task{Collection: "review", TextField: "review_text"}
)

// LabelField receives the caller supplied training label
const LabelField = "y"

// UseCase runs fetch, compute and persist cycles keyed by document ID
type UseCase struct {
	repo       repository.Repository
	summarizer Model
	classifier Model

	summarizeTask Task
	classifyTask  Task
	trainTask     Task
}

// Option is a functional option for UseCase
type Option func(*UseCase)

func WithSummarizer(m Model) Option {
	return func(uc *UseCase) {
		uc.summarizer = m
	}
}

func WithClassifier(m Model) Option {
	return func(uc *UseCase) {
		uc.classifier = m
	}
}

func WithSummarizeTask(t Task) Option {
	return func(uc *UseCase) {
		uc.summarizeTask = t
	}
}

func WithClassifyTask(t Task) Option {
	return func(uc *UseCase) {
		uc.classifyTask = t
	}
}

func WithTrainTask(t Task) Option {
	return func(uc *UseCase) {
		uc.trainTask = t
	}
}

// New creates a new analysis UseCase instance
func New(repo repository.Repository, opts ...Option) *UseCase {
	uc := &UseCase{
		repo:          repo,
		summarizeTask: DefaultSummarizeTask,
		classifyTask:  DefaultReviewTask,
		trainTask:     DefaultReviewTask,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// fetchText loads the source document and extracts its text field
func (u *UseCase) fetchText(ctx context.Context, task Task, id model.ID) (string, error) {
	doc, err := u.repo.Get(ctx, task.Collection, id)
	if err != nil {
		return "", goerr.Wrap(err, "failed to get source document",
			goerr.V("collection", task.Collection), goerr.V("id", id.String()))
	}

	v, ok := doc.Lookup(task.TextField)
	if !ok {
		return "", goerr.Wrap(model.ErrInvalidRequest, "source document lacks text field",
			goerr.V("collection", task.Collection), goerr.V("id", id.String()), goerr.V("field", task.TextField))
	}
	if v.Kind() != model.KindString {
		return "", goerr.Wrap(model.ErrInvalidRequest, "text field is not a string",
			goerr.V("collection", task.Collection), goerr.V("id", id.String()),
			goerr.V("field", task.TextField), goerr.V("kind", v.Kind().String()))
	}
	return v.AsString(), nil
}

// run executes the shared pattern: fetch, invoke, persist, return
func (u *UseCase) run(ctx context.Context, name string, task Task, m Model, id model.ID, params model.Params) (*model.Map, error) {
	logger := logging.From(ctx).With("analysis", name, "id", id.String())
	logger.Debug("analysis started", "collection", task.Collection)

	if m == nil {
		return nil, goerr.Wrap(model.ErrUpstreamModel, "model is not configured", goerr.V("analysis", name))
	}

	text, err := u.fetchText(ctx, task, id)
	if err != nil {
		return nil, err
	}

	result, err := m.Invoke(ctx, id, text, params)
	if err != nil {
		if errors.Is(err, model.ErrUpstreamModel) {
			return nil, goerr.Wrap(err, "model invocation failed", goerr.V("analysis", name))
		}
		return nil, goerr.Wrap(model.ErrUpstreamModel, "model invocation failed",
			goerr.V("analysis", name), goerr.V("error", err.Error()))
	}
	if result == nil {
		result = model.NewMap()
	}

	if result.Len() > 0 {
		if _, err := u.repo.Upsert(ctx, task.Collection, id, result); err != nil {
			return nil, goerr.Wrap(err, "failed to persist analysis result",
				goerr.V("collection", task.Collection), goerr.V("id", id.String()))
		}
	}

	logger.Info("analysis persisted", "fields", result.Keys())
	return result, nil
}
