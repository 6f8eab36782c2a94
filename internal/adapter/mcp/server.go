// Package mcp exposes the contract review tasks as Model Context Protocol
// tools, served over streamable HTTP next to the A2A endpoint.
package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/contractreview/internal/domain/task"
	"github.com/Strob0t/contractreview/internal/service"
)

// TaskService is the part of the lifecycle manager the tools use.
type TaskService interface {
	Submit(ctx context.Context, id string, in task.Input) (task.Task, error)
	GetStatus(ctx context.Context, id string) (task.Task, error)
	Cancel(ctx context.Context, id string) (service.CancelAck, error)
	Subscribe(ctx context.Context, id string) (*service.Subscription, error)
	Unsubscribe(sub *service.Subscription)
	List(state task.State, limit int) []task.Task
	Counts() map[task.State]int
}

// ServerConfig names the server in the MCP handshake.
type ServerConfig struct {
	Name    string
	Version string
}

// Server wraps an mcp-go server with the task tools registered.
type Server struct {
	cfg       ServerConfig
	tasks     TaskService
	mcpServer *mcpserver.MCPServer
	http      *mcpserver.StreamableHTTPServer
}

// NewServer creates the MCP server and registers tools and resources.
func NewServer(cfg ServerConfig, tasks TaskService) *Server {
	s := &Server{cfg: cfg, tasks: tasks}
	s.mcpServer = mcpserver.NewMCPServer(cfg.Name, cfg.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions("Submit contracts for clause and risk review, then poll or wait for the result."),
	)
	s.registerTools()
	s.registerResources()
	s.http = mcpserver.NewStreamableHTTPServer(s.mcpServer, mcpserver.WithStateLess(true))
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the streamable HTTP handler to mount on the router.
func (s *Server) Handler() http.Handler {
	return s.http
}

// Shutdown closes open MCP streams.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
