package gateway

import (
	"context"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Distinct returns the unique values of field across collection in first
// seen order. Documents lacking the field are skipped and array values
// contribute their elements.
func (u *UseCase) Distinct(
	ctx context.Context,
	collection, field string,
) ([]model.Value, error) {
	if field == "" {
		return nil, goerr.Wrap(model.ErrInvalidRequest, "field name is required")
	}

	values := []model.Value{}
	buckets := map[string][]int{}
	add := func(v model.Value) {
		key := v.HashKey()
		for _, i := range buckets[key] {
			if values[i].Equal(v) {
				return
			}
		}
		buckets[key] = append(buckets[key], len(values))
		values = append(values, v)
	}

	for doc, err := range u.List(ctx, collection, model.All{}) {
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan collection",
				goerr.V("collection", collection), goerr.V("field", field))
		}

		v, ok := doc.Lookup(field)
		if !ok {
			continue
		}
		if v.Kind() == model.KindArray {
			for _, e := range v.AsArray() {
				add(e)
			}
			continue
		}
		add(v)
	}

	return values, nil
}
