package mcp

import (
	"context"
	"net/http"

	"github.com/m-mizutani/burrow/pkg/usecase/analysis"
	"github.com/m-mizutani/burrow/pkg/usecase/gateway"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "burrow"
	serverVersion = "0.1.0"

	defaultListLimit = 100
)

// Server exposes the document gateway and analyses as MCP tools
type Server struct {
	gateway  *gateway.UseCase
	analysis *analysis.UseCase
	server   *mcp.Server
}

func New(gw *gateway.UseCase, an *analysis.UseCase) *Server {
	s := &Server{
		gateway:  gw,
		analysis: an,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, nil),
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until ctx is canceled or the peer disconnects
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "mcp stdio server stopped")
	}
	return nil
}

// Handler returns a streamable HTTP handler serving the same tools
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// Connect attaches the server to an arbitrary transport
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	session, err := s.server.Connect(ctx, t, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect mcp transport")
	}
	return session, nil
}
