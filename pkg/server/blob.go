package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const uploadField = "file"

// handleUpload streams the "file" part of a multipart form into the blob
// store without buffering the whole body
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, goerr.Wrap(model.ErrInvalidRequest, "multipart form is required", goerr.V("error", err.Error())))
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, r, goerr.Wrap(model.ErrInvalidRequest, "file part is missing"))
			return
		}
		if err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				writeError(w, r, err)
				return
			}
			writeError(w, r, goerr.Wrap(model.ErrInvalidRequest, "malformed multipart form", goerr.V("error", err.Error())))
			return
		}
		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}

		contentType := part.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		meta, err := s.blob.Put(r.Context(), part, part.FileName(), contentType)
		_ = part.Close()
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{model.IDField: meta.ID.String()})
		return
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	attachment, err := boolParam(r, "attachment", true)
	if err != nil {
		writeError(w, r, err)
		return
	}

	meta, body, err := s.blob.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()

	h := w.Header()
	h.Set("Content-Type", meta.ContentType)
	h.Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	if attachment {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": meta.Filename}))
	}
	w.WriteHeader(http.StatusOK)

	if n, err := copyVerified(w, body); err != nil {
		logging.From(r.Context()).Error("download aborted", "error", err, "blob_id", id.String(), "written", n)
		// Status is already sent; dropping the connection leaves the body
		// short of Content-Length so the client sees the failure.
		panic(http.ErrAbortHandler)
	}
}

// copyVerified copies body to w but holds back the last byte until body
// reports a clean EOF, which the blob reader only does once the size and
// digest check out.
func copyVerified(w io.Writer, body io.Reader) (int64, error) {
	var (
		buf     = make([]byte, 32<<10)
		held    [1]byte
		holding bool
		written int64
	)
	write := func(p []byte) error {
		n, err := w.Write(p)
		written += int64(n)
		return err
	}

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if holding {
				if err := write(held[:]); err != nil {
					return written, err
				}
			}
			if err := write(buf[:n-1]); err != nil {
				return written, err
			}
			held[0] = buf[n-1]
			holding = true
		}

		if errors.Is(readErr, io.EOF) {
			if holding {
				if err := write(held[:]); err != nil {
					return written, err
				}
			}
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func (s *Server) handleDeleteBlob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	deleted, err := s.blob.Delete(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}
