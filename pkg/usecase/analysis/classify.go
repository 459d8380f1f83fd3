package analysis

import (
	"context"

	"github.com/m-mizutani/burrow/pkg/model"
)

// Classify recomputes the predicted label of a review document and merges
// it into the document
func (u *UseCase) Classify(
	ctx context.Context,
	id model.ID,
) (*model.Map, error) {
	return u.run(ctx, "classify", u.classifyTask, u.classifier, id, model.Params{})
}
