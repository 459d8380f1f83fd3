package gateway

import (
	"context"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Upsert creates the document at id or overwrites the given top-level
// fields, leaving every other field untouched
func (u *UseCase) Upsert(
	ctx context.Context,
	collection string,
	id model.ID,
	fields *model.Map,
) (*model.UpsertResult, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	if id.IsZero() {
		return nil, goerr.Wrap(model.ErrInvalidRequest, "document id is required")
	}

	body := fields.Clone()
	body.Delete(model.IDField)
	if body.Len() == 0 {
		return nil, goerr.Wrap(model.ErrInvalidRequest, "upsert requires at least one field",
			goerr.V("collection", collection), goerr.V("id", id.String()))
	}

	result, err := u.repo.Upsert(ctx, collection, id, body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to upsert document",
			goerr.V("collection", collection), goerr.V("id", id.String()))
	}

	logging.From(ctx).Info("document upserted",
		"collection", collection,
		"id", id.String(),
		"created", result.Created,
		"modified", result.ModifiedCount,
	)
	return result, nil
}
