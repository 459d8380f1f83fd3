package server

import (
	"net/http"
	"strconv"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// query returns the first non-empty value among the given parameter names
func query(r *http.Request, names ...string) string {
	q := r.URL.Query()
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func idParam(r *http.Request) (model.ID, error) {
	raw := query(r, "id", "_id")
	if raw == "" {
		return model.NilID, goerr.Wrap(model.ErrInvalidRequest, "id is required")
	}
	return model.ParseID(raw)
}

func pathID(r *http.Request) (model.ID, error) {
	return model.ParseID(r.PathValue("id"))
}

func intParam(r *http.Request, names ...string) (int, error) {
	raw := query(r, names...)
	if raw == "" {
		return 0, goerr.Wrap(model.ErrInvalidRequest, "parameter is required", goerr.V("name", names[0]))
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, goerr.Wrap(model.ErrInvalidRequest, "parameter must be an integer",
			goerr.V("name", names[0]), goerr.V("value", raw))
	}
	return n, nil
}

// boolParam parses an optional boolean, returning def when absent
func boolParam(r *http.Request, name string, def bool) (bool, error) {
	raw := query(r, name)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, goerr.Wrap(model.ErrInvalidRequest, "parameter must be a boolean",
			goerr.V("name", name), goerr.V("value", raw))
	}
	return b, nil
}
