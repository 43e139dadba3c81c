// Package registry implements the Session Registry of spec.md §4.E: a
// process-wide, mutex-protected table of live SSH sessions, capped at
// max_sessions and swept periodically for idle eviction. The map-plus-
// mutex shape and background sweep goroutine are grounded on the
// teacher's session bookkeeping in internal/remote/session_service.go,
// generalized from local pty sessions to remote SSH sessions.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nullstream/sshmcp/internal/config"
	"github.com/nullstream/sshmcp/internal/errs"
	"github.com/nullstream/sshmcp/internal/policy"
	"github.com/nullstream/sshmcp/internal/prompt"
	"github.com/nullstream/sshmcp/internal/sshsession"
)

// Info is the read-only summary returned by List, mirroring spec.md's
// SessionInfo.
type Info struct {
	ID         string
	Host       string
	Port       int
	Username   string
	ServerName string
	State      sshsession.State
	LastActive time.Time
	CreatedAt  time.Time
}

// Registry owns the lifetime of every SSH session the daemon has open.
type Registry struct {
	log *slog.Logger
	cfg config.Config

	tables  *policy.Tables
	pending *prompt.PendingTable

	mu       sync.Mutex
	sessions map[string]*sshsession.Session
	created  map[string]time.Time

	stopSweep chan struct{}
}

// New builds a Registry bound to the given config and policy tables and
// starts its background idle-eviction sweep.
func New(log *slog.Logger, cfg config.Config, tables *policy.Tables, pending *prompt.PendingTable) *Registry {
	r := &Registry{
		log:       log,
		cfg:       cfg,
		tables:    tables,
		pending:   pending,
		sessions:  make(map[string]*sshsession.Session),
		created:   make(map[string]time.Time),
		stopSweep: make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Close stops the background sweep. It does not disconnect sessions;
// callers wanting a clean shutdown should DisconnectAll first.
func (r *Registry) Close() {
	close(r.stopSweep)
}

// Allocate reserves a new session slot, failing with KindMaxSessionsReached
// if the registry is already at capacity.
func (r *Registry) Allocate(level policy.Level) (*sshsession.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		return nil, errs.New(errs.KindMaxSessionsReached, "session limit reached")
	}

	engine := policy.NewEngine(r.tables, level)
	sess := sshsession.New(r.cfg, engine, r.pending)
	r.sessions[sess.ID] = sess
	r.created[sess.ID] = time.Now()
	r.log.Info("session allocated", "session_id", sess.ID, "level", level.String())
	return sess, nil
}

// Get returns the session for id, or KindNotFound if it does not exist.
func (r *Registry) Get(id string) (*sshsession.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "unknown session id: "+id)
	}
	return sess, nil
}

// List returns a summary of every live session, sorted by id for
// deterministic output.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.sessions))
	for id, sess := range r.sessions {
		out = append(out, Info{
			ID:         sess.ID,
			Host:       sess.Host,
			Port:       sess.Port,
			Username:   sess.Username,
			ServerName: sess.ServerName,
			State:      sess.State(),
			LastActive: sess.LastActive(),
			CreatedAt:  r.created[id],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Disconnect closes and removes the session identified by id.
func (r *Registry) Disconnect(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return errs.New(errs.KindNotFound, "unknown session id: "+id)
	}
	delete(r.sessions, id)
	delete(r.created, id)
	r.mu.Unlock()

	if err := sess.Disconnect(); err != nil {
		return err
	}
	r.log.Info("session disconnected", "session_id", id)
	return nil
}

// DisconnectAll tears down every live session, best-effort, for use during
// graceful shutdown.
func (r *Registry) DisconnectAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Disconnect(id); err != nil {
			r.log.Warn("error disconnecting session during shutdown", "session_id", id, "error", err)
		}
	}
}

// sweepLoop evicts idle sessions roughly every 30 seconds, per spec.md
// §4.E.
func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopSweep:
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

func (r *Registry) evictIdle() {
	if r.cfg.IdleTTL <= 0 {
		return
	}
	now := time.Now()

	r.mu.Lock()
	var toEvict []string
	for id, sess := range r.sessions {
		if sess.State() == sshsession.StateIdle && now.Sub(sess.LastActive()) > r.cfg.IdleTTL {
			toEvict = append(toEvict, id)
		}
	}
	r.mu.Unlock()

	for _, id := range toEvict {
		r.log.Info("evicting idle session", "session_id", id)
		_ = r.Disconnect(id)
	}
}

// Shutdown disconnects every session and stops the sweep loop, honoring
// ctx as a best-effort deadline for the disconnects.
func (r *Registry) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		r.DisconnectAll()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	r.Close()
}
