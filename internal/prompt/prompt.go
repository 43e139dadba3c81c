// Package prompt implements the Prompt Interposer of spec.md §4.C: a
// small state machine that watches the tail of a remote command's output
// for an interactive prompt (sudo password, SSH host confirmation, or a
// generic y/n style question) and either answers it automatically or
// raises a PromptRequest for the agent to resolve out of band.
//
// The detection strategy — a rolling byte window scanned line by line with
// case-insensitive substring/regex rules — is grounded on
// interactive_password_service.py's prompt classification and on the
// teacher's own preference for small, mutex-free state machines fed by a
// single goroutine (internal/remote/session_service.go).
package prompt

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a detected prompt.
type Kind string

const (
	KindSudo    Kind = "sudo"
	KindSSH     Kind = "ssh"
	KindGeneric Kind = "generic"
	KindNone    Kind = ""
)

// windowSize is the rolling tail-buffer size the interposer scans, per
// spec.md §4.C.
const windowSize = 4096

// sudoWatchdogDelay is how long the interposer waits for further output
// after a command starts before assuming a silent sudo password prompt is
// pending (the "proactive" half of the sudo watchdog).
const sudoWatchdogDelay = 2 * time.Second

var (
	sudoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\[sudo\] password for \S+:\s*$`),
		regexp.MustCompile(`(?i)^password:\s*$`),
		regexp.MustCompile(`(?i)^password for \S+:\s*$`),
	}
	sshPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)are you sure you want to continue connecting.*\(yes/no`),
		regexp.MustCompile(`(?i)^\s*\S+@\S+'s password:\s*$`),
		regexp.MustCompile(`(?i)the authenticity of host .* can't be established`),
	}
	genericPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\(y/n\)\s*$`),
		regexp.MustCompile(`(?i)\[y/n\]\s*$`),
		regexp.MustCompile(`(?i)continue\?\s*\[y/N\]\s*$`),
		regexp.MustCompile(`(?i)do you want to continue\?\s*$`),
	}
)

// AutoAnswer is supplied by the caller (typically the SSH session) so the
// interposer can answer sudo/SSH prompts it recognizes without round
// tripping to the agent.
type AutoAnswer struct {
	SudoPassword    string
	HasSudoPassword bool
	AutoAcceptHostKey bool
}

// PromptRequest is a prompt that could not be answered automatically and
// is now waiting for the agent to call ssh_provide_password.
type PromptRequest struct {
	ID        string
	SessionID string
	Kind      Kind
	Prompt    string
	CreatedAt time.Time
}

// Expired reports whether the request has outlived its 60s TTL, per
// spec.md §4.C.
func (r PromptRequest) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.CreatedAt) > ttl
}

// PendingTable is the process-wide table of outstanding PromptRequests.
// It is deliberately independent of any one session so ssh_list_password_requests
// and ssh_provide_password can operate without holding a session's lock.
type PendingTable struct {
	mu       sync.Mutex
	requests map[string]PromptRequest
	answers  map[string]chan string
	ttl      time.Duration
}

// NewPendingTable builds an empty table with the given request TTL.
func NewPendingTable(ttl time.Duration) *PendingTable {
	return &PendingTable{
		requests: make(map[string]PromptRequest),
		answers:  make(map[string]chan string),
		ttl:      ttl,
	}
}

// Raise registers a new pending request and returns a channel that
// receives the answer once Provide is called (or is closed on Cancel or
// expiry).
func (t *PendingTable) Raise(sessionID string, kind Kind, promptText string) (PromptRequest, <-chan string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req := PromptRequest{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      kind,
		Prompt:    promptText,
		CreatedAt: time.Now(),
	}
	ch := make(chan string, 1)
	t.requests[req.ID] = req
	t.answers[req.ID] = ch
	return req, ch
}

// Provide resolves a pending request with an answer. It returns false if
// the request id is unknown or already resolved/expired.
func (t *PendingTable) Provide(id, answer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.answers[id]
	if !ok {
		return false
	}
	ch <- answer
	close(ch)
	delete(t.answers, id)
	delete(t.requests, id)
	return true
}

// Cancel discards a pending request without answering it.
func (t *PendingTable) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.answers[id]
	if !ok {
		return false
	}
	close(ch)
	delete(t.answers, id)
	delete(t.requests, id)
	return true
}

// List returns all non-expired pending requests, evicting expired ones as
// a side effect.
func (t *PendingTable) List() []PromptRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	out := make([]PromptRequest, 0, len(t.requests))
	for id, req := range t.requests {
		if req.Expired(now, t.ttl) {
			if ch, ok := t.answers[id]; ok {
				close(ch)
			}
			delete(t.requests, id)
			delete(t.answers, id)
			continue
		}
		out = append(out, req)
	}
	return out
}

// Interposer watches a single session's output stream for interactive
// prompts. It holds a fixed rolling window of the most recently seen
// bytes and re-classifies that window on every Feed call.
type Interposer struct {
	sessionID string
	pending   *PendingTable
	window    []byte

	sudoInjectedForCommand bool
}

// New builds an Interposer bound to one session's pending table.
func New(sessionID string, pending *PendingTable) *Interposer {
	return &Interposer{sessionID: sessionID, pending: pending}
}

// ResetForCommand clears per-command state (the once-per-command sudo
// injection guard) at the start of each Run call.
func (ip *Interposer) ResetForCommand() {
	ip.sudoInjectedForCommand = false
	ip.window = ip.window[:0]
}

// Feed appends chunk to the rolling window, trims it to windowSize, and
// classifies the tail line. It returns the detected Kind and the specific
// line that matched, or KindNone if nothing in the window looks like a
// prompt.
func (ip *Interposer) Feed(chunk []byte) (Kind, string) {
	ip.window = append(ip.window, chunk...)
	if len(ip.window) > windowSize {
		ip.window = ip.window[len(ip.window)-windowSize:]
	}
	return classify(ip.window)
}

func classify(window []byte) (Kind, string) {
	lines := strings.Split(string(window), "\n")
	tail := lastNonEmpty(lines)
	if tail == "" {
		return KindNone, ""
	}
	if matchAny(sudoPatterns, tail) {
		return KindSudo, tail
	}
	if matchAny(sshPatterns, tail) {
		return KindSSH, tail
	}
	if matchAny(genericPatterns, tail) {
		return KindGeneric, tail
	}
	return KindNone, ""
}

func lastNonEmpty(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// Resolve decides how to handle a classified prompt: answer it directly
// (when auto-answerable material is available), raise a PromptRequest for
// the agent (when interactive is true), or report it unhandled with no
// wait channel so the caller can fail fast. interactive gates the second
// case: a PromptRequest is only ever registered in the pending table when
// the session was configured for interactive mode, per spec.md §4.C.
func (ip *Interposer) Resolve(kind Kind, promptText string, auto AutoAnswer, interactive bool) (handled bool, answer string, req PromptRequest, waitCh <-chan string) {
	switch kind {
	case KindSudo:
		if auto.HasSudoPassword && !ip.sudoInjectedForCommand {
			ip.sudoInjectedForCommand = true
			return true, auto.SudoPassword + "\n", PromptRequest{}, nil
		}
	case KindSSH:
		if auto.AutoAcceptHostKey && strings.Contains(strings.ToLower(promptText), "yes/no") {
			return true, "yes\n", PromptRequest{}, nil
		}
	}
	if !interactive {
		return false, "", PromptRequest{SessionID: ip.sessionID, Kind: kind, Prompt: promptText, CreatedAt: time.Now()}, nil
	}
	r, ch := ip.pending.Raise(ip.sessionID, kind, promptText)
	return false, "", r, ch
}

// WatchdogFired is called by the SSH session's run loop when no output has
// arrived for sudoWatchdogDelay after a sudo-prefixed command was started
// and no prompt has been classified yet. It gives the interposer one more
// chance to proactively inject the sudo password without waiting for the
// server to echo a recognizable prompt string (some sudo configurations
// suppress the prompt entirely under a non-interactive TTY).
func (ip *Interposer) WatchdogFired(auto AutoAnswer) (inject bool, answer string) {
	if ip.sudoInjectedForCommand || !auto.HasSudoPassword {
		return false, ""
	}
	ip.sudoInjectedForCommand = true
	return true, auto.SudoPassword + "\n"
}

// WatchdogDelay exposes sudoWatchdogDelay for callers scheduling the
// timer.
func WatchdogDelay() time.Duration { return sudoWatchdogDelay }
