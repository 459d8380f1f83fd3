package gateway

import (
	"context"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Get retrieves one document by its identifier
func (u *UseCase) Get(
	ctx context.Context,
	collection string,
	id model.ID,
) (*model.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}

	doc, err := u.repo.Get(ctx, collection, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get document",
			goerr.V("collection", collection), goerr.V("id", id.String()))
	}
	return doc, nil
}
