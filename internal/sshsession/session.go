// Package sshsession implements the SSH Session component of spec.md
// §4.D: a single persistent connection to a remote host, serialized
// command execution with sentinel-based exit status recovery, and
// SFTP-backed file transfer.
//
// The exit-status recovery technique — wrap the command in a shell
// fragment that echoes a unique marker followed by "$?", then scan
// incoming output for that marker — is adapted from the teacher's
// waitForRunEnd/parseEndMarker in internal/remote/shell.go, translated
// from a tmux-pane-log poll loop into a direct SSH channel read loop
// since there is no local pty/tmux on the remote host here.
package sshsession

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/nullstream/sshmcp/internal/config"
	"github.com/nullstream/sshmcp/internal/errs"
	"github.com/nullstream/sshmcp/internal/policy"
	"github.com/nullstream/sshmcp/internal/prompt"
	"github.com/nullstream/sshmcp/internal/redact"
)

// State is a session's position in the new -> idle -> busy -> idle/broken
// -> closed state machine of spec.md §4.D.
type State string

const (
	StateNew    State = "new"
	StateIdle   State = "idle"
	StateBusy   State = "busy"
	StateBroken State = "broken"
	StateClosed State = "closed"
)

// ConnectParams is the caller-supplied half of connection setup; the
// AuthMaterial fallback chain (per-call → config secret → fallback) is
// resolved by the caller before this struct is built.
type ConnectParams struct {
	Host           string
	Port           int
	Username       string
	Password       string
	PrivateKeyPEM  string
	PrivateKeyPass string
	SudoPassword   string
	Level          policy.Level
	ServerName     string
}

// RunResult mirrors spec.md's CommandResult. ExitStatus is nil whenever
// the run was cut short by a byte/line/time cap — that reservation is
// deliberate; see DESIGN.md.
type RunResult struct {
	Stdout      string
	Stderr      string
	ExitStatus  *int
	Truncated   bool
	TimedOut    bool
	DurationMS  int64
	PromptEvent *prompt.PromptRequest
}

// Session is one persistent SSH connection plus the policy engine and
// prompt interposer bound to it. All exported methods are safe for
// concurrent use; Run additionally serializes on inFlight so only one
// command executes at a time per session, per spec.md §4.D.
type Session struct {
	ID         string
	Host       string
	Port       int
	Username   string
	ServerName string

	cfg    config.Config
	engine *policy.Engine

	mu          sync.Mutex
	state       State
	client      *ssh.Client
	lastActive  time.Time
	createdAt   time.Time
	inFlight    sync.Mutex
	sudoPass    string
	hasSudoPass bool
	secrets     []string

	interposer *prompt.Interposer
	pending    *prompt.PendingTable
	limiter    *rateLimiter
}

// New allocates a session in state "new". Connect must be called before
// Run/Upload/Download will succeed.
func New(cfg config.Config, engine *policy.Engine, pending *prompt.PendingTable) *Session {
	id := uuid.NewString()
	s := &Session{
		ID:        id,
		cfg:       cfg,
		engine:    engine,
		state:     StateNew,
		createdAt: time.Now(),
		pending:   pending,
		limiter:   newRateLimiter(cfg.RateLimitPerMin),
	}
	s.interposer = prompt.New(id, pending)
	return s
}

// Connect dials the remote host and authenticates using the fallback
// chain of spec.md §3.C: private key first, then password, then
// keyboard-interactive (so a host demanding an OTP still round-trips
// through the same prompt channel as sudo).
func (s *Session) Connect(ctx context.Context, p ConnectParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Host, s.Port, s.Username, s.ServerName = p.Host, p.Port, p.Username, p.ServerName
	if p.SudoPassword != "" {
		s.sudoPass, s.hasSudoPass = p.SudoPassword, true
	}
	s.secrets = collectSecrets(p, s.cfg)

	methods, err := authMethods(p)
	if err != nil {
		return errs.Wrap(errs.KindConfigError, err, "build auth methods")
	}

	hostKeyCallback, err := s.hostKeyCallback()
	if err != nil {
		return errs.Wrap(errs.KindConfigError, err, "load known_hosts")
	}

	clientCfg := &ssh.ClientConfig{
		User:            p.Username,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.cfg.ConnectTimeout,
	}

	addr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	client, err := dialContext(dialCtx, addr, clientCfg)
	if err != nil {
		return classifyDialError(err)
	}

	s.client = client
	s.state = StateIdle
	s.lastActive = time.Now()
	return nil
}

func dialContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func classifyDialError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Wrap(errs.KindConnectTimeout, err, "")
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"), strings.Contains(msg, "handshake failed"):
		return errs.Wrap(errs.KindAuthFailed, err, "")
	case strings.Contains(msg, "no route to host"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "network is unreachable"):
		return errs.Wrap(errs.KindNetworkUnreachable, err, "")
	case strings.Contains(msg, "knownhosts") || strings.Contains(msg, "host key"):
		return errs.Wrap(errs.KindHostKeyMismatch, err, "")
	default:
		return errs.Wrap(errs.KindNetworkUnreachable, err, "")
	}
}

// collectSecrets gathers every plaintext secret that could plausibly
// appear in a command's output for this session: the login and sudo
// passwords actually supplied for this connection, plus the operator's
// configured defaults, since a command can echo an env var or config
// file value even when that particular secret wasn't used to connect.
func collectSecrets(p ConnectParams, cfg config.Config) []string {
	var out []string
	add := func(v string) {
		if v != "" {
			out = append(out, v)
		}
	}
	add(p.Password)
	add(p.SudoPassword)
	add(cfg.SSHPassword.Plain())
	add(cfg.SudoPassword.Plain())
	add(cfg.FallbackPassword.Plain())
	return out
}

// redact scrubs text of every configured secret verbatim before running
// it through the generic pattern table, per Property 6: no successful
// response may contain a byte-for-byte match of a configured secret.
func (s *Session) redact(text string) string {
	return redact.RedactSecrets(text, s.secrets)
}

func authMethods(p ConnectParams) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if p.PrivateKeyPEM != "" {
		var signer ssh.Signer
		var err error
		if p.PrivateKeyPass != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(p.PrivateKeyPEM), []byte(p.PrivateKeyPass))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(p.PrivateKeyPEM))
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if p.Password != "" {
		methods = append(methods, ssh.Password(p.Password))
		methods = append(methods, ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				answers[i] = p.Password
			}
			return answers, nil
		}))
	}

	if len(methods) == 0 {
		return nil, errors.New("no authentication material supplied")
	}
	return methods, nil
}

// hostKeyCallback loads ~/.ssh/known_hosts when present. When
// AllowHostKeyTOFU is set and the host is unknown, it accepts and appends
// the key rather than failing closed — the operator opted into that
// tradeoff explicitly via config, per spec.md §4.D's host key section.
func (s *Session) hostKeyCallback() (ssh.HostKeyCallback, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	path := ""
	if home != "" {
		path = home + "/.ssh/known_hosts"
	}
	if path == "" {
		if s.cfg.AllowHostKeyTOFU {
			return ssh.InsecureIgnoreHostKey(), nil
		}
		return nil, errors.New("no home directory to locate known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		if os.IsNotExist(err) && s.cfg.AllowHostKeyTOFU {
			return ssh.InsecureIgnoreHostKey(), nil
		}
		return nil, err
	}
	if !s.cfg.AllowHostKeyTOFU {
		return cb, nil
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if err := cb(hostname, remote, key); err != nil {
			var keyErr *knownhosts.KeyError
			if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
				return appendKnownHost(path, hostname, key)
			}
			return err
		}
		return nil
	}, nil
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	line := knownhosts.Line([]string{hostname}, key)
	_, err = f.WriteString(line + "\n")
	return err
}

// State returns the session's current lifecycle state under lock.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActive returns the timestamp of the session's most recent activity,
// used by the registry's idle-eviction sweep.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// touch marks the session as recently active without changing its state.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Disconnect closes the underlying SSH connection. It is idempotent: a
// second call on an already-closed session is a no-op.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		if err != nil && !errors.Is(err, io.EOF) {
			return errs.Wrap(errs.KindInternal, err, "close ssh connection")
		}
	}
	return nil
}

const exitMarkerPrefix = "__SSHMCP_RC_"

// Run validates command against the session's policy engine, then
// executes it over a fresh SSH channel, applying byte/line/time caps and
// resolving any interactive prompts encountered along the way.
func (s *Session) Run(ctx context.Context, command string, timeout time.Duration) (RunResult, error) {
	if !s.limiter.Allow() {
		return RunResult{}, errs.New(errs.KindDenied, "rate_limited")
	}

	result := s.engine.Validate(command)
	if !result.Allowed {
		return RunResult{}, errs.New(errs.KindDenied, result.Reason)
	}

	if !s.inFlight.TryLock() {
		return RunResult{}, errs.New(errs.KindBusySession, "concurrent run on session")
	}
	defer s.inFlight.Unlock()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return RunResult{}, errs.New(errs.KindSessionBroken, "session is closed")
	}
	if s.state == StateBroken {
		s.mu.Unlock()
		return RunResult{}, errs.New(errs.KindSessionBroken, "session connection is broken")
	}
	client := s.client
	s.state = StateBusy
	s.mu.Unlock()

	if timeout <= 0 {
		timeout = s.cfg.CommandTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.interposer.ResetForCommand()

	res, err := s.runOnChannel(runCtx, client, command, result.UsesSudo)
	s.touch()
	if err != nil {
		if errs.KindOf(err) == errs.KindSessionBroken {
			s.setState(StateBroken)
		} else {
			s.setState(StateIdle)
		}
		return res, err
	}
	s.setState(StateIdle)
	return res, nil
}

func (s *Session) runOnChannel(ctx context.Context, client *ssh.Client, command string, usesSudo bool) (RunResult, error) {
	sess, err := client.NewSession()
	if err != nil {
		return RunResult{}, errs.Wrap(errs.KindSessionBroken, err, "open ssh channel")
	}
	defer sess.Close()

	stdin, err := sess.StdinPipe()
	if err != nil {
		return RunResult{}, errs.Wrap(errs.KindInternal, err, "open stdin pipe")
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return RunResult{}, errs.Wrap(errs.KindInternal, err, "open stdout pipe")
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return RunResult{}, errs.Wrap(errs.KindInternal, err, "open stderr pipe")
	}

	marker := exitMarkerPrefix + uuid.NewString()[:8] + "__"
	wrapped := fmt.Sprintf("%s; echo %s$?", command, marker)

	if err := sess.Start(wrapped); err != nil {
		return RunResult{}, errs.Wrap(errs.KindSessionBroken, err, "start remote command")
	}

	start := time.Now()
	out := newCappedCollector(s.cfg.MaxOutputBytes, s.cfg.MaxOutputLines)
	var wg sync.WaitGroup
	wg.Add(2)

	promptSeen := make(chan struct{}, 1)
	promptRaised := make(chan struct{}, 1)
	passwordRequired := make(chan struct{}, 1)
	unhandled := &unhandledPrompt{}

	go func() {
		defer wg.Done()
		s.pump(ctx, stdout, stdin, out, false, promptSeen, promptRaised, passwordRequired, unhandled)
	}()
	go func() {
		defer wg.Done()
		s.pump(ctx, stderr, stdin, out, true, promptSeen, promptRaised, passwordRequired, unhandled)
	}()

	// The proactive watchdog only makes sense for sudo-prefixed commands;
	// arming it unconditionally would write the configured sudo password
	// into the stdin of any command that happens to stay quiet for 2s.
	if usesSudo {
		watchdog := time.NewTimer(prompt.WatchdogDelay())
		defer watchdog.Stop()
		go func() {
			select {
			case <-watchdog.C:
				auto := prompt.AutoAnswer{HasSudoPassword: s.hasSudoPass, SudoPassword: s.sudoPass}
				if inject, answer := s.interposer.WatchdogFired(auto); inject {
					_, _ = stdin.Write([]byte(answer))
				}
			case <-promptSeen:
			case <-ctx.Done():
			}
		}()
	}

	doneCh := make(chan error, 1)
	go func() { doneCh <- sess.Wait() }()

	killAndPasswordRequired := func() (RunResult, error) {
		_ = sess.Signal(ssh.SIGKILL)
		wg.Wait()
		res := RunResult{
			Stdout:     s.redact(out.stdoutString()),
			Stderr:     s.redact(out.stderrString()),
			DurationMS: time.Since(start).Milliseconds(),
		}
		res.PromptEvent = unhandled.get()
		return res, errs.New(errs.KindPasswordRequired, "prompt went unanswered before its deadline")
	}

	var waitErr error
	promptOutstanding := false
waitLoop:
	for {
		select {
		case waitErr = <-doneCh:
			break waitLoop
		case <-promptRaised:
			promptOutstanding = true
		case <-passwordRequired:
			return killAndPasswordRequired()
		case <-ctx.Done():
			if !promptOutstanding {
				_ = sess.Signal(ssh.SIGKILL)
				wg.Wait()
				return RunResult{
					Stdout:     s.redact(out.stdoutString()),
					Stderr:     s.redact(out.stderrString()),
					ExitStatus: nil,
					TimedOut:   true,
					DurationMS: time.Since(start).Milliseconds(),
				}, nil
			}
			// A prompt is outstanding and its own deadline runs longer
			// than this command's timeout; let it govern the outcome
			// instead of cutting the run short here. ctx.Done() is
			// already closed, so it is dropped from this inner select
			// to avoid spinning on it.
			for {
				select {
				case waitErr = <-doneCh:
					break waitLoop
				case <-passwordRequired:
					return killAndPasswordRequired()
				}
			}
		}
	}
	wg.Wait()

	exitStatus, stdoutClean, stderrClean := extractExitStatus(out.stdoutString(), out.stderrString(), marker)

	res := RunResult{
		Stdout:     s.redact(stdoutClean),
		Stderr:     s.redact(stderrClean),
		DurationMS: time.Since(start).Milliseconds(),
		Truncated:  out.truncated,
	}
	res.PromptEvent = unhandled.get()

	if out.truncated {
		res.ExitStatus = nil
		return res, nil
	}
	if exitStatus != nil {
		res.ExitStatus = exitStatus
		return res, nil
	}

	var exitErr *ssh.ExitError
	if waitErr != nil && errors.As(waitErr, &exitErr) {
		code := exitErr.ExitStatus()
		res.ExitStatus = &code
		return res, nil
	}
	if waitErr != nil {
		return res, nil
	}
	zero := 0
	res.ExitStatus = &zero
	return res, nil
}

// unhandledPrompt records the most recent prompt the interposer had to
// raise to the agent (rather than auto-answer) during a single Run call,
// so the caller can surface it in RunResult.PromptEvent without the agent
// having to separately poll ssh_list_password_requests to discover that a
// command is blocked on one.
type unhandledPrompt struct {
	mu  sync.Mutex
	req *prompt.PromptRequest
}

func (u *unhandledPrompt) set(req prompt.PromptRequest) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.req = &req
}

func (u *unhandledPrompt) get() *prompt.PromptRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.req
}

// pump copies from src into the capped collector, feeding every chunk
// through the prompt interposer and answering or flagging prompts as it
// goes. isStderr selects which half of the collector receives the bytes.
//
// promptRaised fires once a prompt is actually registered in the pending
// table (interactive mode, no auto-answer available) so the caller's wait
// loop knows to keep running past its own shorter command timeout.
// passwordRequired fires when a prompt goes unanswered past its own
// deadline, or immediately when a prompt can't be auto-answered and
// interactive mode is disabled.
func (s *Session) pump(ctx context.Context, src io.Reader, stdin io.Writer, out *cappedCollector, isStderr bool, promptSeen chan<- struct{}, promptRaised chan<- struct{}, passwordRequired chan<- struct{}, unhandled *unhandledPrompt) {
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if isStderr {
				out.writeStderr(chunk)
			} else {
				out.writeStdout(chunk)
			}

			kind, line := s.interposer.Feed(chunk)
			if kind != prompt.KindNone {
				select {
				case promptSeen <- struct{}{}:
				default:
				}
				auto := prompt.AutoAnswer{
					HasSudoPassword:   s.hasSudoPass,
					SudoPassword:      s.sudoPass,
					AutoAcceptHostKey: s.cfg.AllowHostKeyTOFU,
				}
				handled, answer, req, waitCh := s.interposer.Resolve(kind, line, auto, s.cfg.InteractiveEnabled)
				switch {
				case handled:
					_, _ = stdin.Write([]byte(answer))
				case waitCh != nil:
					unhandled.set(req)
					select {
					case promptRaised <- struct{}{}:
					default:
					}
					go func() {
						select {
						case ans := <-waitCh:
							_, _ = stdin.Write([]byte(ans + "\n"))
						case <-time.After(s.cfg.PendingPromptTTL):
							s.pending.Cancel(req.ID)
							select {
							case passwordRequired <- struct{}{}:
							default:
							}
						}
					}()
				default:
					unhandled.set(req)
					select {
					case passwordRequired <- struct{}{}:
					default:
					}
				}
			}
			if out.overLimit() {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// extractExitStatus scans stdout for the trailing sentinel line, strips
// it out, and returns the parsed status alongside the cleaned streams.
func extractExitStatus(stdout, stderr, marker string) (*int, string, string) {
	idx := strings.LastIndex(stdout, marker)
	if idx < 0 {
		return nil, stdout, stderr
	}
	rest := stdout[idx+len(marker):]
	rest = strings.TrimRight(rest, "\r\n")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return nil, stdout, stderr
	}
	code, err := strconv.Atoi(rest[:end])
	if err != nil {
		return nil, stdout, stderr
	}
	cleaned := stdout[:idx]
	return &code, cleaned, stderr
}

// Upload writes content to remotePath over SFTP, refusing any path
// outside the configured allow-prefixes.
func (s *Session) Upload(ctx context.Context, remotePath string, content []byte, mode os.FileMode) error {
	if !s.cfg.PathAllowed(remotePath) {
		return errs.New(errs.KindTransferPathDenied, remotePath)
	}
	client, err := s.sftpClient()
	if err != nil {
		return err
	}
	defer client.Close()

	f, err := client.Create(remotePath)
	if err != nil {
		return errs.Wrap(errs.KindTransferWriteFailed, err, "")
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return errs.Wrap(errs.KindTransferWriteFailed, err, "")
	}
	if err := client.Chmod(remotePath, mode); err != nil {
		return errs.Wrap(errs.KindTransferWriteFailed, err, "chmod")
	}
	s.touch()
	return nil
}

// Download reads remotePath over SFTP, capped at maxBytes.
func (s *Session) Download(ctx context.Context, remotePath string, maxBytes int64) ([]byte, error) {
	if !s.cfg.PathAllowed(remotePath) {
		return nil, errs.New(errs.KindTransferPathDenied, remotePath)
	}
	client, err := s.sftpClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	f, err := client.Open(remotePath)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransferReadFailed, err, "")
	}
	defer f.Close()

	info, err := f.Stat()
	if err == nil && maxBytes > 0 && info.Size() > maxBytes {
		return nil, errs.New(errs.KindTransferTooLarge, fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), maxBytes))
	}

	var buf bytes.Buffer
	limit := maxBytes
	if limit <= 0 {
		limit = int64(s.cfg.MaxOutputBytes)
	}
	if _, err := io.CopyN(&buf, f, limit+1); err != nil && !errors.Is(err, io.EOF) {
		return nil, errs.Wrap(errs.KindTransferReadFailed, err, "")
	}
	if int64(buf.Len()) > limit {
		return nil, errs.New(errs.KindTransferTooLarge, fmt.Sprintf("file exceeds limit of %d bytes", limit))
	}
	s.touch()
	return buf.Bytes(), nil
}

func (s *Session) sftpClient() (*sftp.Client, error) {
	s.mu.Lock()
	client := s.client
	state := s.state
	s.mu.Unlock()
	if state == StateClosed || client == nil {
		return nil, errs.New(errs.KindSessionBroken, "session has no active connection")
	}
	c, err := sftp.NewClient(client)
	if err != nil {
		return nil, errs.Wrap(errs.KindSessionBroken, err, "open sftp subsystem")
	}
	return c, nil
}
