package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstream/sshmcp/internal/config"
	"github.com/nullstream/sshmcp/internal/errs"
	"github.com/nullstream/sshmcp/internal/policy"
	"github.com/nullstream/sshmcp/internal/prompt"
	"github.com/nullstream/sshmcp/internal/registry"
)

func TestDecodeAndValidateRejectsMissingRequiredField(t *testing.T) {
	var r SSHRunRequest
	err := decodeAndValidate(map[string]any{"command": "ls"}, &r)
	assert.Error(t, err, "session_id is required")
}

func TestDecodeAndValidateAcceptsWellFormedArgs(t *testing.T) {
	var r SSHRunRequest
	err := decodeAndValidate(map[string]any{"session_id": "abc", "command": "ls"}, &r)
	require.NoError(t, err)
	assert.Equal(t, "abc", r.SessionID)
	assert.Equal(t, "ls", r.Command)
}

func TestErrorResultBuildsEnvelope(t *testing.T) {
	result, err := errorResult(errs.New(errs.KindDenied, "rate_limited"))
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestJSONResultMarshalsPayload(t *testing.T) {
	result, err := jsonResult(map[string]any{"success": true, "count": 3})
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestResolveLevelPrefersRequestOverConfig(t *testing.T) {
	s := &Server{cfg: config.Config{PermissibilityLevel: "low"}}
	assert.Equal(t, policy.LevelHigh, s.resolveLevel("high"))
	assert.Equal(t, policy.LevelLow, s.resolveLevel(""))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	tables, err := policy.DefaultTables()
	require.NoError(t, err)
	cfg := config.Config{PermissibilityLevel: "medium"}
	pending := prompt.NewPendingTable(0)
	reg := registry.New(slog.Default(), cfg, tables, pending)
	return &Server{
		log:     slog.Default(),
		cfg:     cfg,
		tables:  tables,
		reg:     reg,
		pending: pending,
	}
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "content should be text")
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	return payload
}

func TestHandleDisconnectEnvelopeIncludesMessage(t *testing.T) {
	s := newTestServer(t)
	sess, err := s.reg.Allocate(policy.LevelLow)
	require.NoError(t, err)

	result, err := s.handleDisconnect(context.Background(), toolRequest(map[string]any{"session_id": sess.ID}))
	require.NoError(t, err)
	payload := decodeResult(t, result)

	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "disconnected", payload["message"])
}

func TestHandleProvidePasswordEnvelopeIncludesMessage(t *testing.T) {
	s := newTestServer(t)
	req, _ := s.pending.Raise("sess-1", prompt.KindSudo, "password:")

	result, err := s.handleProvidePassword(context.Background(), toolRequest(map[string]any{
		"request_id": req.ID,
		"value":      "secret",
	}))
	require.NoError(t, err)
	payload := decodeResult(t, result)

	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "password provided", payload["message"])
}

func TestHandleCancelPasswordRequestEnvelopeIncludesMessage(t *testing.T) {
	s := newTestServer(t)
	req, _ := s.pending.Raise("sess-1", prompt.KindSudo, "password:")

	result, err := s.handleCancelPasswordRequest(context.Background(), toolRequest(map[string]any{
		"request_id": req.ID,
	}))
	require.NoError(t, err)
	payload := decodeResult(t, result)

	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "password request canceled", payload["message"])
}

func TestHandleGetPermissibilityInfoIncludesSpecFields(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleGetPermissibilityInfo(context.Background(), toolRequest(map[string]any{"level": "low"}))
	require.NoError(t, err)
	payload := decodeResult(t, result)

	assert.Equal(t, "low", payload["level"])
	assert.Contains(t, payload, "always_denied_count")
	assert.Contains(t, payload, "patterns_active")

	deniedCount, ok := payload["always_denied_count"].(float64)
	require.True(t, ok)
	assert.Equal(t, float64(len(s.tables.AlwaysDenied)), deniedCount)

	patternsActive, ok := payload["patterns_active"].(float64)
	require.True(t, ok)
	assert.Greater(t, patternsActive, float64(0))
}

func TestHandleRunDeniedCommandReturnsDeniedReasonNotGenericError(t *testing.T) {
	s := newTestServer(t)
	sess, err := s.reg.Allocate(policy.LevelLow)
	require.NoError(t, err)

	result, err := s.handleRun(context.Background(), toolRequest(map[string]any{
		"session_id": sess.ID,
		"command":    "rm -rf /",
	}))
	require.NoError(t, err)
	payload := decodeResult(t, result)

	assert.Equal(t, false, payload["success"])
	assert.Equal(t, sess.ID, payload["session_id"])
	assert.NotEmpty(t, payload["denied_reason"])
}
