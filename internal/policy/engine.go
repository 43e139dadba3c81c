// Package policy implements the command-classification core of spec.md
// §4.B: a pure function of (command, tier) that returns allow or deny with
// a machine-readable reason.
package policy

import (
	"path"
	"strings"
)

// MatchedRule names which stage of validate produced the result, per
// spec.md's ValidationResult.
type MatchedRule string

const (
	RuleOK             MatchedRule = "ok"
	RuleNameNotAllowed MatchedRule = "name-not-allowed"
	RulePatternForbid  MatchedRule = "pattern-forbidden"
	RuleAlwaysDenied   MatchedRule = "always-denied"
)

// Result is spec.md's ValidationResult.
type Result struct {
	Allowed     bool
	Reason      string
	MatchedRule MatchedRule
	UsesSudo    bool
}

// maxCommandLength mirrors the original implementation's sanitize step
// (security.py _sanitize_command): commands longer than this are rejected
// before any other check runs.
const maxCommandLength = 1000

// Engine validates commands against a fixed set of Tables at a fixed
// Level. Both are immutable for the engine's lifetime; validate is a pure
// function of its command argument.
type Engine struct {
	tables *Tables
	level  Level
}

// NewEngine builds an Engine bound to the given tables and tier.
func NewEngine(tables *Tables, level Level) *Engine {
	return &Engine{tables: tables, level: level}
}

// Level returns the tier this engine enforces.
func (e *Engine) Level() Level { return e.level }

// Validate runs the ordered, first-match-wins algorithm of spec.md §4.B.
func (e *Engine) Validate(command string) Result {
	trimmed := strings.TrimLeft(command, " \t\r\n")
	if trimmed == "" {
		return deny(RuleNameNotAllowed, "empty command")
	}
	if len(trimmed) > maxCommandLength {
		return deny(RuleNameNotAllowed, "command exceeds maximum length")
	}

	head, effectiveHead, usesSudo := splitHead(trimmed)
	if head == "" {
		return deny(RuleNameNotAllowed, "invalid command syntax")
	}

	if _, denied := e.tables.AlwaysDenied[effectiveHead]; denied {
		return Result{Allowed: false, Reason: "command '" + effectiveHead + "' is always denied", MatchedRule: RuleAlwaysDenied, UsesSudo: usesSudo}
	}

	allowed := e.tables.AllowedFor(e.level)
	if _, ok := allowed[effectiveHead]; !ok {
		return Result{Allowed: false, Reason: "command '" + effectiveHead + "' is not allowed at tier " + e.level.String(), MatchedRule: RuleNameNotAllowed, UsesSudo: usesSudo}
	}

	if usesSudo && e.level != LevelHigh {
		return Result{Allowed: false, Reason: "sudo not permitted at this tier", MatchedRule: RuleNameNotAllowed, UsesSudo: usesSudo}
	}

	if m := firstMatch(e.tables.AlwaysForbidden, trimmed); m != "" {
		return Result{Allowed: false, Reason: "matches always-forbidden pattern: " + m, MatchedRule: RuleAlwaysDenied, UsesSudo: usesSudo}
	}

	if m := firstMatch(e.tables.ForbiddenByTier[e.level], trimmed); m != "" {
		return Result{Allowed: false, Reason: "matches forbidden pattern for tier " + e.level.String() + ": " + m, MatchedRule: RulePatternForbid, UsesSudo: usesSudo}
	}

	if argPatterns, ok := e.tables.ArgPatterns[effectiveHead]; ok {
		rest := strings.Join(argsAfterHead(trimmed, usesSudo), " ")
		if !anyMatch(argPatterns, rest) {
			return Result{Allowed: false, Reason: "unsafe arguments for command '" + effectiveHead + "'", MatchedRule: RulePatternForbid, UsesSudo: usesSudo}
		}
	}

	return Result{Allowed: true, Reason: "command allowed", MatchedRule: RuleOK, UsesSudo: usesSudo}
}

func deny(rule MatchedRule, reason string) Result {
	return Result{Allowed: false, Reason: reason, MatchedRule: rule}
}

// splitHead extracts the head token and, when it is sudo, the effective
// head following it (skipping sudo's own flags). Both are reduced to their
// basename so prefix bypasses like /usr/bin/rm are caught by the same
// table lookup as rm, per spec.md §4.B's rationale.
func splitHead(command string) (head, effectiveHead string, usesSudo bool) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", "", false
	}
	head = basename(fields[0])
	if head != "sudo" {
		return head, head, false
	}
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "-") {
			continue
		}
		return head, basename(f), true
	}
	return head, "", true
}

// argsAfterHead returns the fields following the effective head token: just
// past fields[0] normally, or past the first non-flag token after "sudo"
// when usesSudo is set (mirroring splitHead's own skip-flags walk).
func argsAfterHead(command string, usesSudo bool) []string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	if !usesSudo {
		return fields[1:]
	}
	for i, f := range fields[1:] {
		if strings.HasPrefix(f, "-") {
			continue
		}
		return fields[i+2:]
	}
	return nil
}

func basename(token string) string {
	if strings.HasPrefix(token, "/bin/") || strings.HasPrefix(token, "/usr/bin/") ||
		strings.HasPrefix(token, "/usr/local/bin/") || strings.HasPrefix(token, "/sbin/") ||
		strings.HasPrefix(token, "/usr/sbin/") {
		return path.Base(token)
	}
	return token
}

func firstMatch(patterns []CompiledPattern, s string) string {
	for _, p := range patterns {
		if p.Re.MatchString(s) {
			return p.Name
		}
	}
	return ""
}

func anyMatch(patterns []CompiledPattern, s string) bool {
	for _, p := range patterns {
		if p.Re.MatchString(s) {
			return true
		}
	}
	return false
}
