package server

import (
	"net/http"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, result *model.Map) {
	data, err := result.MarshalJSON()
	if err != nil {
		writeError(w, r, goerr.Wrap(err, "failed to encode result"))
		return
	}
	writeRawJSON(w, http.StatusOK, data)
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := intParam(r, "wordLimit", "word_limit")
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.analysis.Summarize(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeResult(w, r, result)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.analysis.Classify(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeResult(w, r, result)
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.analysis.Train(r.Context(), id, query(r, "label", "y"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeResult(w, r, result)
}
