package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

func filterParam(r *http.Request) (model.Filter, bool, error) {
	if !r.URL.Query().Has("q") {
		return nil, false, nil
	}
	filter, err := model.ParseFilter([]byte(r.URL.Query().Get("q")))
	if err != nil {
		return nil, true, err
	}
	return filter, true, nil
}

func (s *Server) readDocument(w http.ResponseWriter, r *http.Request) (*model.Map, error) {
	body := http.MaxBytesReader(w, r.Body, s.maxDocumentBytes)
	fields, err := model.DecodeMap(body)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) || errors.Is(err, model.ErrInvalidRequest) {
			return nil, err
		}
		return nil, goerr.Wrap(model.ErrInvalidRequest, "malformed JSON body", goerr.V("error", err.Error()))
	}
	return fields, nil
}

// handleList streams {"<collection>": [docs...]}. Errors after the first
// byte is written can only be logged.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	filter, _, err := filterParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	key, err := json.Marshal(collection)
	if err != nil {
		writeError(w, r, goerr.Wrap(err, "failed to encode collection name"))
		return
	}

	started := false
	start := func() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{"))
		_, _ = w.Write(key)
		_, _ = w.Write([]byte(":["))
		started = true
	}

	n := 0
	for doc, err := range s.gateway.List(r.Context(), collection, filter) {
		if err != nil {
			if !started {
				writeError(w, r, err)
				return
			}
			logging.From(r.Context()).Error("list aborted", "error", err, "collection", collection, "written", n)
			return
		}

		data, err := doc.MarshalJSON()
		if err != nil {
			if !started {
				writeError(w, r, goerr.Wrap(err, "failed to encode document"))
				return
			}
			logging.From(r.Context()).Error("list aborted", "error", err, "collection", collection, "written", n)
			return
		}

		if !started {
			start()
		} else {
			_, _ = w.Write([]byte(","))
		}
		if _, err := w.Write(data); err != nil {
			return
		}
		n++
	}

	if !started {
		start()
	}
	_, _ = w.Write([]byte("]}\n"))
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	fields, err := s.readDocument(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := s.gateway.Insert(r.Context(), r.PathValue("collection"), fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{model.IDField: id.String()})
}

func (s *Server) handleDeleteMany(w http.ResponseWriter, r *http.Request) {
	filter, ok, err := filterParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, goerr.Wrap(model.ErrInvalidRequest, "q is required to delete documents"))
		return
	}

	n, err := s.gateway.DeleteMany(r.Context(), r.PathValue("collection"), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted_count": n})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := s.gateway.Get(r.Context(), r.PathValue("collection"), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, err := doc.MarshalJSON()
	if err != nil {
		writeError(w, r, goerr.Wrap(err, "failed to encode document"))
		return
	}
	writeRawJSON(w, http.StatusOK, data)
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	fields, err := s.readDocument(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.gateway.Upsert(r.Context(), r.PathValue("collection"), id, fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDistinct(w http.ResponseWriter, r *http.Request) {
	values, err := s.gateway.Distinct(r.Context(), r.PathValue("collection"), r.PathValue("field"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if values == nil {
		values = []model.Value{}
	}
	writeJSON(w, http.StatusOK, values)
}
