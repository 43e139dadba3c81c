// Package localctl exposes the running daemon's session registry over a
// Unix domain socket so sshmcpctl (the CLI/TUI) can introspect it without
// going through the MCP stdio channel, which is normally owned by the
// agent's client process. The request/response shape is a minimal
// newline-delimited JSON protocol, deliberately smaller than the MCP
// wire format since this is a local, single-purpose control channel.
package localctl

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/nullstream/sshmcp/internal/registry"
)

// Request is one control-channel call. Command is currently always
// "list_sessions"; the shape leaves room for future commands without a
// wire break.
type Request struct {
	Command string `json:"command"`
}

// Response carries either a session list or an error string.
type Response struct {
	Sessions []registry.Info `json:"sessions,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Server listens on a Unix socket and answers Requests using reg.
type Server struct {
	log      *slog.Logger
	reg      *registry.Registry
	listener net.Listener
}

// Listen binds the control socket at path, removing any stale socket file
// left behind by a prior unclean shutdown.
func Listen(log *slog.Logger, reg *registry.Registry, path string) (*Server, error) {
	if path == "" {
		return nil, nil
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &Server{log: log, reg: reg, listener: ln}, nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() {
	if s == nil {
		return
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("localctl accept error", "error", err)
			continue
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		return
	}

	var resp Response
	switch req.Command {
	case "list_sessions":
		resp.Sessions = s.reg.List()
	default:
		resp.Error = "unknown command: " + req.Command
	}

	_ = json.NewEncoder(conn).Encode(resp)
}

// Close stops accepting new connections and removes the socket file.
func (s *Server) Close() {
	if s == nil {
		return
	}
	_ = s.listener.Close()
	if addr, ok := s.listener.Addr().(*net.UnixAddr); ok {
		_ = os.Remove(addr.Name)
	}
}

// Client dials an already-running daemon's control socket.
type Client struct {
	path string
}

// NewClient builds a Client bound to path; Dial is attempted lazily on
// every call, since the daemon may not be running yet.
func NewClient(path string) *Client {
	return &Client{path: path}
}

// ListSessions asks the daemon for its current session list.
func (c *Client) ListSessions() ([]registry.Info, error) {
	conn, err := net.DialTimeout("unix", c.path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(Request{Command: "list_sessions"}); err != nil {
		return nil, err
	}

	var resp Response
	reader := bufio.NewReader(conn)
	if err := json.NewDecoder(reader).Decode(&resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.Sessions, nil
}

// DefaultSocketPath mirrors config.DefaultConfigPath's per-user layout.
func DefaultSocketPath() string {
	if v := os.Getenv("MCP_SSH_CONTROL_SOCKET"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/sshmcpd.sock"
	}
	return home + "/.sshmcp/control.sock"
}
