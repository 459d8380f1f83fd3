package analysis

import (
	"context"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Train records a caller supplied label on a review document. The label is
// stored verbatim and no model is consulted.
func (u *UseCase) Train(
	ctx context.Context,
	id model.ID,
	label string,
) (*model.Map, error) {
	if label == "" {
		return nil, goerr.Wrap(model.ErrInvalidRequest, "label is required")
	}

	if _, err := u.fetchText(ctx, u.trainTask, id); err != nil {
		return nil, err
	}

	fields := model.NewMap()
	fields.Set(LabelField, model.String(label))
	if _, err := u.repo.Upsert(ctx, u.trainTask.Collection, id, fields); err != nil {
		return nil, goerr.Wrap(err, "failed to persist label",
			goerr.V("collection", u.trainTask.Collection), goerr.V("id", id.String()))
	}

	logging.From(ctx).Info("label recorded", "collection", u.trainTask.Collection, "id", id.String())
	return model.NewMap(), nil
}
