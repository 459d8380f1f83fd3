package analysis

import (
	"context"
	"strconv"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Summarize recomputes the summary of a content document, limited to
// wordLimit words, and merges it into the document
func (u *UseCase) Summarize(
	ctx context.Context,
	id model.ID,
	wordLimit int,
) (*model.Map, error) {
	if wordLimit <= 0 {
		return nil, goerr.Wrap(model.ErrInvalidRequest, "word limit must be positive", goerr.V("word_limit", wordLimit))
	}

	params := model.Params{model.ParamWordLimit: strconv.Itoa(wordLimit)}
	return u.run(ctx, "summarize", u.summarizeTask, u.summarizer, id, params)
}
