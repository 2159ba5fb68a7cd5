package rpc

import (
	"context"
	"log"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Options configures a Server.
type Options struct {
	// Name and Version identify the server in the handshake.
	Name    string
	Version string
	// Instructions are sent to the client on initialize.
	Instructions string
	// KeepAlive pings the client at this interval when positive.
	KeepAlive time.Duration
}

// Server exposes a Registry as MCP tools.
type Server struct {
	mcp      *mcp.Server
	registry *Registry
}

// NewServer creates a Server and installs every procedure of registry.
func NewServer(registry *Registry, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "shepherd"
	}
	s := mcp.NewServer(&mcp.Implementation{Name: opts.Name, Version: opts.Version}, &mcp.ServerOptions{
		Instructions: opts.Instructions,
		KeepAlive:    opts.KeepAlive,
		InitializedHandler: func(_ context.Context, req *mcp.InitializedRequest) {
			params := req.Session.InitializeParams()
			if params == nil || params.ClientInfo == nil {
				return
			}
			log.Printf("[rpc] client %s %s connected (protocol %s)",
				params.ClientInfo.Name, params.ClientInfo.Version, params.ProtocolVersion)
		},
	})
	registry.install(s)
	return &Server{mcp: s, registry: registry}
}

// Serve runs one session over t until the client disconnects or ctx ends.
func (s *Server) Serve(ctx context.Context, t mcp.Transport) error {
	return s.mcp.Run(ctx, t)
}

// Connect starts a session over t without blocking.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
