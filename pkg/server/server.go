package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/m-mizutani/burrow/pkg/usecase/analysis"
	"github.com/m-mizutani/burrow/pkg/usecase/blob"
	"github.com/m-mizutani/burrow/pkg/usecase/gateway"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultMaxUploadBytes   int64 = 32 << 20
	DefaultMaxDocumentBytes int64 = 16 << 20
)

// Server exposes the document gateway, blob store and analyses over HTTP
type Server struct {
	gateway  *gateway.UseCase
	blob     *blob.UseCase
	analysis *analysis.UseCase

	mcp              http.Handler
	maxUploadBytes   int64
	maxDocumentBytes int64

	handler http.Handler
}

type Option func(*Server)

// WithMCP mounts an MCP streamable HTTP handler at /mcp
func WithMCP(h http.Handler) Option {
	return func(s *Server) {
		s.mcp = h
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		s.maxUploadBytes = n
	}
}

func WithMaxDocumentBytes(n int64) Option {
	return func(s *Server) {
		s.maxDocumentBytes = n
	}
}

func New(gw *gateway.UseCase, bl *blob.UseCase, an *analysis.UseCase, opts ...Option) *Server {
	s := &Server{
		gateway:          gw,
		blob:             bl,
		analysis:         an,
		maxUploadBytes:   DefaultMaxUploadBytes,
		maxDocumentBytes: DefaultMaxDocumentBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)

	mux.HandleFunc("GET /summarize_text", s.handleSummarize)
	mux.HandleFunc("GET /classify_review", s.handleClassify)
	mux.HandleFunc("GET /train_review", s.handleTrain)

	mux.HandleFunc("POST /file", s.handleUpload)
	mux.HandleFunc("GET /file/{id}", s.handleDownload)
	mux.HandleFunc("DELETE /file/{id}", s.handleDeleteBlob)

	mux.HandleFunc("GET /distinct/{collection}/{field}", s.handleDistinct)

	if s.mcp != nil {
		// methods are spelled out so the routes do not overlap the
		// collection patterns below
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
			mux.Handle(method+" /mcp", s.mcp)
		}
	}

	mux.HandleFunc("GET /{collection}", s.handleList)
	mux.HandleFunc("POST /{collection}", s.handleInsert)
	mux.HandleFunc("DELETE /{collection}", s.handleDeleteMany)
	mux.HandleFunc("GET /{collection}/{id}", s.handleGet)
	mux.HandleFunc("POST /{collection}/{id}", s.handleUpsert)

	s.handler = withRequestID(withAccessLog(withRecovery(withCORS(mux))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Run listens on addr until ctx is canceled, then drains in-flight requests
func (s *Server) Run(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return goerr.Wrap(err, "failed to listen", goerr.V("addr", addr))
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled. Requests already
// running at that point keep their context and finish before Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx := context.WithoutCancel(ctx)
	httpServer := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return baseCtx
		},
	}

	addr := ln.Addr().String()
	logger := logging.From(ctx)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", "addr", addr)
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "http server stopped", goerr.V("addr", addr))

	case <-ctx.Done():
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(baseCtx, 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shutdown http server")
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"root": "api is working!"})
}
