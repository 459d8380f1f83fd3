package gateway

import (
	"context"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Insert stores fields as a new document. A "_id" key in fields is ignored
// because identifiers are assigned by the repository.
func (u *UseCase) Insert(
	ctx context.Context,
	collection string,
	fields *model.Map,
) (model.ID, error) {
	if err := ValidateCollection(collection); err != nil {
		return model.NilID, err
	}
	if fields == nil {
		return model.NilID, goerr.Wrap(model.ErrInvalidRequest, "document body is required")
	}

	body := fields.Clone()
	body.Delete(model.IDField)

	id, err := u.repo.Insert(ctx, collection, body)
	if err != nil {
		return model.NilID, goerr.Wrap(err, "failed to insert document", goerr.V("collection", collection))
	}

	logging.From(ctx).Info("document inserted", "collection", collection, "id", id.String())
	return id, nil
}
