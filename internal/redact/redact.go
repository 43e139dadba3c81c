// Package redact strips likely secrets out of command output before it
// reaches the agent or the audit log. The pattern set is carried over
// from security_patterns.py's SecretPattern table, generalized from a
// log-only scrubber into a general output filter per SPEC_FULL.md's
// supplemented feature #1.
package redact

import (
	"regexp"
	"strings"
)

type secretPattern struct {
	re          *regexp.Regexp
	replacement string
}

var patterns = []secretPattern{
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[REDACTED_AWS_KEY]"},
	{regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`), "[REDACTED_GITHUB_TOKEN]"},
	{regexp.MustCompile(`glpat-[A-Za-z0-9_-]{20}`), "[REDACTED_GITLAB_TOKEN]"},
	{regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,48}`), "[REDACTED_SLACK_TOKEN]"},
	{regexp.MustCompile(`sk-[A-Za-z0-9]{48}`), "[REDACTED_API_KEY]"},
	{regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`), "[REDACTED_PRIVATE_KEY]"},
	{regexp.MustCompile(`[A-Za-z0-9+/]{40,}={0,2}`), "[REDACTED_TOKEN]"},
}

// Redact returns text with every recognized secret shape replaced by its
// placeholder. Patterns run in order from most to least specific so a PEM
// block is caught by its own rule before the trailing base64-looking rule
// would otherwise chew through it piecemeal.
func Redact(text string) string {
	for _, p := range patterns {
		text = p.re.ReplaceAllString(text, p.replacement)
	}
	return text
}

// RedactSecrets strips every literal occurrence of a configured secret
// (ssh_password, sudo_password, fallback_password) before running the
// generic pattern table. A user's plaintext password has no shape a
// regex can recognize, so this is a separate, case-sensitive
// substring pass rather than an addition to the pattern table.
func RedactSecrets(text string, secrets []string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		text = strings.ReplaceAll(text, secret, "[REDACTED_SECRET]")
	}
	return Redact(text)
}
