package sshsession

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/nullstream/sshmcp/internal/config"
	"github.com/nullstream/sshmcp/internal/errs"
	"github.com/nullstream/sshmcp/internal/policy"
	"github.com/nullstream/sshmcp/internal/prompt"
)

func newTestConfig() config.Config {
	return config.Config{
		MaxOutputBytes:   65536,
		MaxOutputLines:   1000,
		ConnectTimeout:   5 * time.Second,
		AllowHostKeyTOFU: true,
	}
}

func newTestSession(t *testing.T, level policy.Level, cfg config.Config) *Session {
	t.Helper()
	tables, err := policy.DefaultTables()
	if err != nil {
		t.Fatalf("DefaultTables: %v", err)
	}
	engine := policy.NewEngine(tables, level)
	pending := prompt.NewPendingTable(cfg.PendingPromptTTL)
	return New(cfg, engine, pending)
}

func TestExtractExitStatusParsesTrailingMarker(t *testing.T) {
	marker := exitMarkerPrefix + "abcd1234__"
	stdout := "line one\nline two\n" + marker + "0\n"
	code, cleanOut, cleanErr := extractExitStatus(stdout, "err text", marker)
	if code == nil || *code != 0 {
		t.Fatalf("expected exit code 0, got %v", code)
	}
	if strings.Contains(cleanOut, marker) {
		t.Fatalf("expected marker stripped from stdout, got %q", cleanOut)
	}
	if cleanErr != "err text" {
		t.Fatalf("stderr should pass through unchanged, got %q", cleanErr)
	}
}

func TestExtractExitStatusNonZero(t *testing.T) {
	marker := exitMarkerPrefix + "deadbeef__"
	stdout := "some output\n" + marker + "127"
	code, _, _ := extractExitStatus(stdout, "", marker)
	if code == nil || *code != 127 {
		t.Fatalf("expected exit code 127, got %v", code)
	}
}

func TestExtractExitStatusMissingMarker(t *testing.T) {
	code, out, _ := extractExitStatus("no marker here", "", exitMarkerPrefix+"x__")
	if code != nil {
		t.Fatalf("expected nil exit code when marker absent, got %v", *code)
	}
	if out != "no marker here" {
		t.Fatalf("expected stdout unchanged, got %q", out)
	}
}

func TestCappedCollectorTruncatesOnByteLimit(t *testing.T) {
	c := newCappedCollector(10, 0)
	c.writeStdout([]byte("0123456789ABCDEF"))
	if !c.overLimit() {
		t.Fatalf("expected collector to report over limit")
	}
	if len(c.stdoutString()) != 10 {
		t.Fatalf("expected stdout capped at 10 bytes, got %d", len(c.stdoutString()))
	}
}

func TestCappedCollectorTruncatesOnLineLimit(t *testing.T) {
	c := newCappedCollector(1<<20, 2)
	c.writeStdout([]byte("a\nb\nc\nd\n"))
	if !c.overLimit() {
		t.Fatalf("expected collector to report over line limit")
	}
}

func TestCappedCollectorUnderLimitsNotTruncated(t *testing.T) {
	c := newCappedCollector(1024, 100)
	c.writeStdout([]byte("hello\n"))
	c.writeStderr([]byte("world\n"))
	if c.overLimit() {
		t.Fatalf("expected not truncated")
	}
	if c.stdoutString() != "hello\n" || c.stderrString() != "world\n" {
		t.Fatalf("unexpected collected output")
	}
}

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	r := newRateLimiter(3)
	for i := 0; i < 3; i++ {
		if !r.Allow() {
			t.Fatalf("expected call %d to be allowed", i)
		}
	}
	if r.Allow() {
		t.Fatalf("expected 4th call within the window to be denied")
	}
}

func TestRateLimiterUnlimitedWhenZero(t *testing.T) {
	r := newRateLimiter(0)
	for i := 0; i < 100; i++ {
		if !r.Allow() {
			t.Fatalf("expected unlimited limiter to always allow")
		}
	}
}

func TestRunReturnsBusySessionOnConcurrentAttempt(t *testing.T) {
	sess := newTestSession(t, policy.LevelLow, newTestConfig())

	sess.inFlight.Lock()
	_, err := sess.Run(context.Background(), "ls", time.Second)
	sess.inFlight.Unlock()

	if err == nil {
		t.Fatalf("expected a BusySession error, got none")
	}
	if errs.KindOf(err) != errs.KindBusySession {
		t.Fatalf("expected KindBusySession, got %v", errs.KindOf(err))
	}
}

func TestRunDoesNotInjectSudoPasswordForNonSudoCommand(t *testing.T) {
	sshd := startFakeSSHD(t, slowEchoHandler(2500*time.Millisecond))

	sess := newTestSession(t, policy.LevelLow, newTestConfig())
	if err := sess.Connect(context.Background(), ConnectParams{
		Host: "127.0.0.1", Port: sshd.port, Username: "test", Password: "testpass",
		SudoPassword: "hunter2",
	}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	result, err := sess.Run(context.Background(), "cat", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(result.Stdout, "hunter2") {
		t.Fatalf("sudo password leaked into a non-sudo command's stdin: %q", result.Stdout)
	}
}

func TestRunInjectsSudoPasswordViaWatchdogForSudoCommand(t *testing.T) {
	// Captures the raw bytes the remote side received on stdin directly,
	// independent of what Run returns, since the returned result must
	// never carry the literal secret (see the redaction assertion below).
	received := make(chan []byte, 1)
	handler := func(command string, channel ssh.Channel, killed <-chan struct{}) {
		select {
		case <-killed:
			return
		case <-time.After(2500 * time.Millisecond):
		}
		buf := make([]byte, 256)
		n, _ := channel.Read(buf)
		received <- append([]byte(nil), buf[:n]...)
		fmt.Fprint(channel, "ok\n")
	}
	sshd := startFakeSSHD(t, handler)

	sess := newTestSession(t, policy.LevelHigh, newTestConfig())
	if err := sess.Connect(context.Background(), ConnectParams{
		Host: "127.0.0.1", Port: sshd.port, Username: "test", Password: "testpass",
		SudoPassword: "hunter2",
	}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	result, err := sess.Run(context.Background(), "sudo cat", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "hunter2\n" {
			t.Fatalf("expected the watchdog to inject the sudo password into stdin, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected the watchdog to have written to the remote command's stdin by now")
	}

	if strings.Contains(result.Stdout, "hunter2") {
		t.Fatalf("sudo password leaked into the returned result: %q", result.Stdout)
	}
}

func TestRunFailsFastWithPasswordRequiredWhenNotInteractive(t *testing.T) {
	sshd := startFakeSSHD(t, promptThenHangHandler("[sudo] password for test: ", 3*time.Second))

	cfg := newTestConfig()
	cfg.InteractiveEnabled = false
	sess := newTestSession(t, policy.LevelLow, cfg)
	if err := sess.Connect(context.Background(), ConnectParams{
		Host: "127.0.0.1", Port: sshd.port, Username: "test", Password: "testpass",
	}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	start := time.Now()
	_, err := sess.Run(context.Background(), "cat", 5*time.Second)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected a PasswordRequired error, got none")
	}
	if errs.KindOf(err) != errs.KindPasswordRequired {
		t.Fatalf("expected KindPasswordRequired, got %v", errs.KindOf(err))
	}
	if elapsed > 1500*time.Millisecond {
		t.Fatalf("expected a fast failure in non-interactive mode, took %s", elapsed)
	}
}

func TestRunSurfacesPasswordRequiredAfterPromptDeadlineOutlivesCommandTimeout(t *testing.T) {
	sshd := startFakeSSHD(t, promptThenHangHandler("[sudo] password for test: ", 3*time.Second))

	cfg := newTestConfig()
	cfg.InteractiveEnabled = true
	cfg.PendingPromptTTL = 1 * time.Second
	sess := newTestSession(t, policy.LevelLow, cfg)
	if err := sess.Connect(context.Background(), ConnectParams{
		Host: "127.0.0.1", Port: sshd.port, Username: "test", Password: "testpass",
	}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	start := time.Now()
	// The command's own timeout is far shorter than the prompt's 1s
	// deadline; the prompt deadline must still govern the outcome rather
	// than letting this ctx preempt it with a generic timeout.
	_, err := sess.Run(context.Background(), "cat", 300*time.Millisecond)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected a PasswordRequired error, got none")
	}
	if errs.KindOf(err) != errs.KindPasswordRequired {
		t.Fatalf("expected KindPasswordRequired, got %v", errs.KindOf(err))
	}
	if elapsed < 700*time.Millisecond {
		t.Fatalf("expected the run to wait out the prompt's own deadline (~1s), returned after only %s", elapsed)
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	r := newRateLimiter(1)
	if !r.Allow() {
		t.Fatalf("expected first call allowed")
	}
	r.events[0] = r.events[0].Add(-2 * time.Minute)
	if !r.Allow() {
		t.Fatalf("expected call outside the window to be allowed again")
	}
}
