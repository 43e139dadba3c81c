package localctl

import (
	"encoding/json"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstream/sshmcp/internal/config"
	"github.com/nullstream/sshmcp/internal/policy"
	"github.com/nullstream/sshmcp/internal/prompt"
	"github.com/nullstream/sshmcp/internal/registry"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	tables, err := policy.DefaultTables()
	require.NoError(t, err)
	cfg := config.Config{MaxSessions: 5, IdleTTL: time.Minute}
	pending := prompt.NewPendingTable(time.Minute)
	reg := registry.New(slog.Default(), cfg, tables, pending)
	t.Cleanup(reg.Close)

	sock := filepath.Join(t.TempDir(), "control.sock")
	srv, err := Listen(slog.Default(), reg, sock)
	require.NoError(t, err)
	require.NotNil(t, srv)
	go srv.Serve()
	t.Cleanup(srv.Close)
	return srv, sock
}

func TestListSessionsRoundTrip(t *testing.T) {
	_, sock := newTestServer(t)
	client := NewClient(sock)

	sessions, err := client.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestListenWithEmptyPathIsNoop(t *testing.T) {
	srv, err := Listen(slog.Default(), nil, "")
	require.NoError(t, err)
	assert.Nil(t, srv)
}

func TestUnknownCommandReturnsError(t *testing.T) {
	_, sock := newTestServer(t)

	conn, err := net.DialTimeout("unix", sock, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(Request{Command: "bogus"}))
	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	assert.Contains(t, resp.Error, "unknown command")
}
