package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nullstream/sshmcp/internal/audit"
	"github.com/nullstream/sshmcp/internal/config"
	"github.com/nullstream/sshmcp/internal/errs"
	"github.com/nullstream/sshmcp/internal/eventbus"
	"github.com/nullstream/sshmcp/internal/policy"
	"github.com/nullstream/sshmcp/internal/prompt"
	"github.com/nullstream/sshmcp/internal/registry"
	"github.com/nullstream/sshmcp/internal/sshsession"
)

// Server owns the mcp-go server instance and every dependency the tool
// handlers need: the session registry, the policy tables (for
// ssh_get_permissibility_info), the pending-prompt table, and the
// optional audit/eventbus sinks.
type Server struct {
	log     *slog.Logger
	cfg     config.Config
	tables  *policy.Tables
	reg     *registry.Registry
	pending *prompt.PendingTable
	trail   *audit.Trail
	bus     *eventbus.Bus

	mcpServer *server.MCPServer
}

// New builds a Server and registers every tool. Call Serve to run it over
// stdio.
func New(log *slog.Logger, cfg config.Config, tables *policy.Tables, reg *registry.Registry, pending *prompt.PendingTable, trail *audit.Trail, bus *eventbus.Bus) *Server {
	s := &Server{
		log:     log,
		cfg:     cfg,
		tables:  tables,
		reg:     reg,
		pending: pending,
		trail:   trail,
		bus:     bus,
	}
	s.mcpServer = server.NewMCPServer(
		"ssh-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// Serve runs the MCP server over stdio until the client disconnects or
// the process is signaled.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(sshConnectTool(), s.handleConnect)
	s.mcpServer.AddTool(sshRunTool(), s.handleRun)
	s.mcpServer.AddTool(sshUploadTool(), s.handleUpload)
	s.mcpServer.AddTool(sshDownloadTool(), s.handleDownload)
	s.mcpServer.AddTool(sshListSessionsTool(), s.handleListSessions)
	s.mcpServer.AddTool(sshDisconnectTool(), s.handleDisconnect)
	s.mcpServer.AddTool(sshGetPermissibilityInfoTool(), s.handleGetPermissibilityInfo)
	s.mcpServer.AddTool(sshListPasswordRequestsTool(), s.handleListPasswordRequests)
	s.mcpServer.AddTool(sshProvidePasswordTool(), s.handleProvidePassword)
	s.mcpServer.AddTool(sshCancelPasswordRequestTool(), s.handleCancelPasswordRequest)
	s.mcpServer.AddTool(sshListServersTool(), s.handleListServers)
	s.mcpServer.AddTool(sshTestServerTool(), s.handleTestServer)
}

// jsonResult marshals v as the tool's text payload, per
// acolita-claude-shell-mcp's jsonResult helper.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult translates an *errs.Error (or any error) into the
// {success: false, error, details} envelope of spec.md §7.
func errorResult(err error) (*mcp.CallToolResult, error) {
	kind := errs.KindOf(err)
	envelope := map[string]any{
		"success": false,
		"error":   string(kind),
		"details": err.Error(),
	}
	data, _ := json.MarshalIndent(envelope, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

func decodeArgs(req mcp.CallToolRequest, dst interface{}) error {
	return decodeAndValidate(req.GetArguments(), dst)
}

func (s *Server) handleConnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var r SSHConnectRequest
	if err := decodeArgs(req, &r); err != nil {
		return errorResult(errs.Wrap(errs.KindInvalidArgument, err, ""))
	}

	if r.Server != "" {
		srv, ok := s.cfg.Servers[r.Server]
		if !ok {
			return errorResult(errs.New(errs.KindNotFound, "unknown server: "+r.Server))
		}
		if r.Host == "" {
			r.Host = srv.Host
		}
		if r.Port == 0 {
			r.Port = srv.Port
		}
		if r.Username == "" {
			r.Username = srv.User
		}
		if r.PrivateKeyPEM == "" && srv.KeyPath != "" {
			if data, err := os.ReadFile(srv.KeyPath); err == nil {
				r.PrivateKeyPEM = string(data)
			}
		}
		if r.SudoPassword == "" && srv.SudoPassword() != "" {
			r.SudoPassword = srv.SudoPassword().Plain()
		}
	}
	if r.Port == 0 {
		r.Port = 22
	}

	level := s.resolveLevel(r.Level)

	sess, err := s.reg.Allocate(level)
	if err != nil {
		return errorResult(err)
	}

	sudoPass, hasSudo := s.cfg.ResolveSudoSecret(r.SudoPassword)
	if !hasSudo {
		sudoPass = ""
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	params := sshsession.ConnectParams{
		Host:           r.Host,
		Port:           r.Port,
		Username:       r.Username,
		Password:       r.Password,
		PrivateKeyPEM:  r.PrivateKeyPEM,
		PrivateKeyPass: r.PrivateKeyPass,
		SudoPassword:   sudoPass.Plain(),
		Level:          level,
		ServerName:     r.Server,
	}
	if err := sess.Connect(connectCtx, params); err != nil {
		_ = s.reg.Disconnect(sess.ID)
		s.trail.RecordConnect(sess.ID, r.Host, r.Username, false, err)
		return errorResult(err)
	}

	s.trail.RecordConnect(sess.ID, r.Host, r.Username, true, nil)
	s.bus.PublishSessionEvent("connected", sess.ID, r.Host, r.Username)

	return jsonResult(map[string]any{
		"success":              true,
		"session_id":           sess.ID,
		"message":              "connected",
		"host":                 r.Host,
		"port":                 r.Port,
		"username":             r.Username,
		"permissibility_level": level.String(),
	})
}

func (s *Server) resolveLevel(requested string) policy.Level {
	if requested != "" {
		return policy.ParseLevel(requested)
	}
	return policy.ParseLevel(s.cfg.PermissibilityLevel)
}

func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var r SSHRunRequest
	if err := decodeArgs(req, &r); err != nil {
		return errorResult(errs.Wrap(errs.KindInvalidArgument, err, ""))
	}

	sess, err := s.reg.Get(r.SessionID)
	if err != nil {
		return errorResult(err)
	}

	timeout := s.cfg.CommandTimeout
	if r.TimeoutMS > 0 {
		timeout = time.Duration(r.TimeoutMS) * time.Millisecond
	}

	result, err := sess.Run(ctx, r.Command, timeout)
	runID := s.trail.RecordRun(r.SessionID, r.Command, err == nil, result.ExitStatus)
	if err != nil {
		if errs.KindOf(err) == errs.KindDenied {
			reason := err.Error()
			if e, ok := errs.As(err); ok {
				reason = e.Details
			}
			return jsonResult(map[string]any{
				"success":       false,
				"session_id":    r.SessionID,
				"stdout":        "",
				"stderr":        "",
				"exit_status":   nil,
				"duration_ms":   0,
				"denied_reason": reason,
			})
		}
		return errorResult(err)
	}
	if s.cfg.AuditCaptureOutput {
		s.trail.RecordRunOutput(runID, result.Stdout+result.Stderr)
	}

	payload := map[string]any{
		"success":     true,
		"session_id":  r.SessionID,
		"stdout":      result.Stdout,
		"stderr":      result.Stderr,
		"truncated":   result.Truncated,
		"timeout":     result.TimedOut,
		"duration_ms": result.DurationMS,
	}
	if result.ExitStatus != nil {
		payload["exit_status"] = *result.ExitStatus
	} else {
		payload["exit_status"] = nil
	}
	if result.PromptEvent != nil {
		payload["pending_prompt"] = map[string]any{
			"request_id": result.PromptEvent.ID,
			"kind":       string(result.PromptEvent.Kind),
			"prompt":     result.PromptEvent.Prompt,
		}
	}
	return jsonResult(payload)
}

func (s *Server) handleUpload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var r SSHUploadRequest
	if err := decodeArgs(req, &r); err != nil {
		return errorResult(errs.Wrap(errs.KindInvalidArgument, err, ""))
	}
	sess, err := s.reg.Get(r.SessionID)
	if err != nil {
		return errorResult(err)
	}

	content, err := base64.StdEncoding.DecodeString(r.ContentB64)
	if err != nil {
		return errorResult(errs.Wrap(errs.KindInvalidArgument, err, "content_base64 is not valid base64"))
	}

	mode := os.FileMode(0o644)
	if r.Mode != "" {
		if parsed, err := strconv.ParseUint(r.Mode, 8, 32); err == nil {
			mode = os.FileMode(parsed)
		}
	}

	if err := sess.Upload(ctx, r.RemotePath, content, mode); err != nil {
		s.trail.RecordTransfer(r.SessionID, "upload", r.RemotePath, false)
		return errorResult(err)
	}
	s.trail.RecordTransfer(r.SessionID, "upload", r.RemotePath, true)
	return jsonResult(map[string]any{"success": true, "bytes_written": len(content)})
}

func (s *Server) handleDownload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var r SSHDownloadRequest
	if err := decodeArgs(req, &r); err != nil {
		return errorResult(errs.Wrap(errs.KindInvalidArgument, err, ""))
	}
	sess, err := s.reg.Get(r.SessionID)
	if err != nil {
		return errorResult(err)
	}

	data, err := sess.Download(ctx, r.RemotePath, r.MaxBytes)
	if err != nil {
		s.trail.RecordTransfer(r.SessionID, "download", r.RemotePath, false)
		return errorResult(err)
	}
	s.trail.RecordTransfer(r.SessionID, "download", r.RemotePath, true)
	return jsonResult(map[string]any{
		"success":         true,
		"content_base64":  base64.StdEncoding.EncodeToString(data),
		"bytes_read":      len(data),
	})
}

func (s *Server) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list := s.reg.List()
	sessions := make([]map[string]any, 0, len(list))
	for _, info := range list {
		sessions = append(sessions, map[string]any{
			"session_id":  info.ID,
			"host":        info.Host,
			"port":        info.Port,
			"username":    info.Username,
			"server":      info.ServerName,
			"state":       string(info.State),
			"last_active": info.LastActive.Format(time.RFC3339),
			"created_at":  info.CreatedAt.Format(time.RFC3339),
		})
	}
	return jsonResult(map[string]any{"success": true, "count": len(sessions), "sessions": sessions})
}

func (s *Server) handleDisconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var r SSHDisconnectRequest
	if err := decodeArgs(req, &r); err != nil {
		return errorResult(errs.Wrap(errs.KindInvalidArgument, err, ""))
	}
	if err := s.reg.Disconnect(r.SessionID); err != nil {
		return errorResult(err)
	}
	s.bus.PublishSessionEvent("disconnected", r.SessionID, "", "")
	return jsonResult(map[string]any{"success": true, "message": "disconnected"})
}

func (s *Server) handleGetPermissibilityInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var r SSHGetPermissibilityInfoRequest
	if err := decodeArgs(req, &r); err != nil {
		return errorResult(errs.Wrap(errs.KindInvalidArgument, err, ""))
	}
	level := s.resolveLevel(r.Level)
	allowed := s.tables.AllowedFor(level)

	names := make([]string, 0, len(allowed))
	for name := range allowed {
		names = append(names, name)
	}
	denied := make([]string, 0, len(s.tables.AlwaysDenied))
	for name := range s.tables.AlwaysDenied {
		denied = append(denied, name)
	}

	patternsActive := len(s.tables.AlwaysForbidden) + len(s.tables.ForbiddenByTier[level])
	for _, patterns := range s.tables.ArgPatterns {
		patternsActive += len(patterns)
	}

	return jsonResult(map[string]any{
		"success":             true,
		"level":               level.String(),
		"allowed_count":       len(names),
		"allowed":             names,
		"always_denied":       denied,
		"always_denied_count": len(denied),
		"patterns_active":     patternsActive,
	})
}

func (s *Server) handleListPasswordRequests(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list := s.pending.List()
	out := make([]map[string]any, 0, len(list))
	for _, r := range list {
		out = append(out, map[string]any{
			"request_id": r.ID,
			"session_id": r.SessionID,
			"kind":       string(r.Kind),
			"prompt":     r.Prompt,
			"created_at": r.CreatedAt.Format(time.RFC3339),
		})
	}
	return jsonResult(map[string]any{"success": true, "count": len(out), "requests": out})
}

func (s *Server) handleProvidePassword(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var r SSHProvidePasswordRequest
	if err := decodeArgs(req, &r); err != nil {
		return errorResult(errs.Wrap(errs.KindInvalidArgument, err, ""))
	}
	if ok := s.pending.Provide(r.RequestID, r.Value); !ok {
		return errorResult(errs.New(errs.KindNotFound, "unknown or expired request_id"))
	}
	return jsonResult(map[string]any{"success": true, "message": "password provided"})
}

func (s *Server) handleCancelPasswordRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var r SSHCancelPasswordRequestRequest
	if err := decodeArgs(req, &r); err != nil {
		return errorResult(errs.Wrap(errs.KindInvalidArgument, err, ""))
	}
	if ok := s.pending.Cancel(r.RequestID); !ok {
		return errorResult(errs.New(errs.KindNotFound, "unknown or expired request_id"))
	}
	return jsonResult(map[string]any{"success": true, "message": "password request canceled"})
}

func (s *Server) handleListServers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	servers := make([]map[string]any, 0, len(s.cfg.Servers))
	for _, srv := range s.cfg.Servers {
		servers = append(servers, map[string]any{
			"name":              srv.Name,
			"host":              srv.Host,
			"port":              srv.Port,
			"user":              srv.User,
			"has_key":           srv.KeyPath != "",
			"has_sudo_password": srv.HasSudo,
		})
	}
	return jsonResult(map[string]any{"success": true, "count": len(servers), "servers": servers})
}

func (s *Server) handleTestServer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var r SSHTestServerRequest
	if err := decodeArgs(req, &r); err != nil {
		return errorResult(errs.Wrap(errs.KindInvalidArgument, err, ""))
	}
	srv, ok := s.cfg.Servers[r.Server]
	if !ok {
		return errorResult(errs.New(errs.KindNotFound, "unknown server: "+r.Server))
	}

	testCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	probe := sshsession.New(s.cfg, policy.NewEngine(s.tables, policy.LevelLow), s.pending)
	params := sshsession.ConnectParams{
		Host:     srv.Host,
		Port:     srv.Port,
		Username: srv.User,
		Level:    policy.LevelLow,
	}
	if srv.KeyPath != "" {
		if data, err := os.ReadFile(srv.KeyPath); err == nil {
			params.PrivateKeyPEM = string(data)
		}
	}
	err := probe.Connect(testCtx, params)
	defer probe.Disconnect()
	if err != nil {
		return jsonResult(map[string]any{"success": false, "reachable": false, "error": fmt.Sprint(errs.KindOf(err))})
	}
	return jsonResult(map[string]any{"success": true, "reachable": true})
}
