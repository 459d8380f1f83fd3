package gateway

import (
	"context"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// DeleteMany removes every document matching filter and returns the count.
// A nil filter is rejected so that a missing query never wipes a collection.
func (u *UseCase) DeleteMany(
	ctx context.Context,
	collection string,
	filter model.Filter,
) (int64, error) {
	if err := ValidateCollection(collection); err != nil {
		return 0, err
	}
	if filter == nil {
		return 0, goerr.Wrap(model.ErrInvalidRequest, "filter is required for delete", goerr.V("collection", collection))
	}

	n, err := u.repo.DeleteMany(ctx, collection, filter)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete documents", goerr.V("collection", collection))
	}

	logging.From(ctx).Info("documents deleted", "collection", collection, "count", n)
	return n, nil
}
