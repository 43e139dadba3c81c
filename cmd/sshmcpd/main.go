// Command sshmcpd is the MCP stdio server: it exposes the ssh_* tools of
// spec.md §6 over stdin/stdout for an agent's MCP client to call directly.
// Wiring mirrors the teacher's cmd/xrunner/main.go pattern of a small
// options struct resolved once at startup, though sshmcpd has no
// subcommands of its own — it is a single long-lived process, closer in
// shape to a daemon than a CLI.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nullstream/sshmcp/internal/audit"
	"github.com/nullstream/sshmcp/internal/config"
	"github.com/nullstream/sshmcp/internal/dispatcher"
	"github.com/nullstream/sshmcp/internal/eventbus"
	"github.com/nullstream/sshmcp/internal/localctl"
	"github.com/nullstream/sshmcp/internal/policy"
	"github.com/nullstream/sshmcp/internal/prompt"
	"github.com/nullstream/sshmcp/internal/registry"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 on a clean shutdown, 1 on a
// runtime failure, 2 on a startup configuration failure, per spec.md §6.
func run() int {
	logLevel := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath())
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return 2
	}
	applyLogLevel(logLevel, cfg.LogLevel)

	tables, err := policy.DefaultTables()
	if err != nil {
		logger.Error("failed to build policy tables", "error", err)
		return 2
	}

	pending := prompt.NewPendingTable(cfg.PendingPromptTTL)
	reg := registry.New(logger, cfg, tables, pending)

	trail, err := audit.Open(logger, cfg.AuditDBPath, cfg.AuditCaptureOutput)
	if err != nil {
		logger.Error("failed to open audit database", "error", err)
		return 2
	}
	defer trail.Close()

	bus, err := eventbus.New(logger, cfg.NATSURL, cfg.NATSSubjectPrefix)
	if err != nil {
		logger.Warn("eventbus disabled: failed to connect to NATS", "error", err)
		bus, _ = eventbus.New(logger, "", "")
	}
	defer bus.Close()

	srv := dispatcher.New(logger, cfg, tables, reg, pending, trail, bus)

	ctl, err := localctl.Listen(logger, reg, localctl.DefaultSocketPath())
	if err != nil {
		logger.Warn("control socket disabled", "error", err)
	} else if ctl != nil {
		go ctl.Serve()
		defer ctl.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		reg.Shutdown(shutdownCtx)
	}()

	logger.Info("sshmcpd starting", "level", cfg.PermissibilityLevel, "max_sessions", cfg.MaxSessions)
	if err := srv.Serve(); err != nil {
		logger.Error("mcp server exited with error", "error", err)
		return 1
	}
	return 0
}

func configPath() string {
	if v := os.Getenv("MCP_SSH_CONFIG"); v != "" {
		return v
	}
	return config.DefaultConfigPath()
}

func applyLogLevel(v *slog.LevelVar, name string) {
	switch name {
	case "DEBUG":
		v.Set(slog.LevelDebug)
	case "WARN":
		v.Set(slog.LevelWarn)
	case "ERROR":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
