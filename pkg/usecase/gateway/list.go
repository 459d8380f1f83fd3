package gateway

import (
	"context"
	"iter"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
)

// List streams every document of collection that satisfies filter. A nil
// filter matches all documents.
func (u *UseCase) List(
	ctx context.Context,
	collection string,
	filter model.Filter,
) iter.Seq2[*model.Document, error] {
	if err := ValidateCollection(collection); err != nil {
		return func(yield func(*model.Document, error) bool) {
			yield(nil, err)
		}
	}
	if filter == nil {
		filter = model.All{}
	}

	logging.From(ctx).Debug("list documents", "collection", collection)
	return u.repo.Find(ctx, collection, filter)
}
