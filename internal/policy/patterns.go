package policy

import "regexp"

// CompiledPattern pairs a human-readable name with its compiled regular
// expression, so a deny reason can name the rule that fired instead of
// echoing a raw regex back to the caller.
type CompiledPattern struct {
	Name string
	Re   *regexp.Regexp
}

func compileAll(sources [][2]string) ([]CompiledPattern, error) {
	out := make([]CompiledPattern, 0, len(sources))
	for _, s := range sources {
		re, err := regexp.Compile(s[1])
		if err != nil {
			return nil, err
		}
		out = append(out, CompiledPattern{Name: s[0], Re: re})
	}
	return out, nil
}

func compileArgPatterns(source map[string][]string) (map[string][]CompiledPattern, error) {
	out := make(map[string][]CompiledPattern, len(source))
	for cmd, patterns := range source {
		compiled := make([]CompiledPattern, 0, len(patterns))
		for _, p := range patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, err
			}
			compiled = append(compiled, CompiledPattern{Name: cmd, Re: re})
		}
		out[cmd] = compiled
	}
	return out, nil
}

// alwaysForbiddenPatternSource matches destructive command shapes that are
// denied at every tier regardless of sudo or head-token allowance, per
// spec.md §4.B step 6.
var alwaysForbiddenPatternSource = [][2]string{
	{"rm_rf_root", `rm\s+-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*\s+/(\s|$)`},
	{"rm_rf_root_alt", `rm\s+-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*\s+/(\s|$)`},
	{"dd_disk_wipe", `dd\s+if=.*\s+of=/dev/`},
	{"mkfs_anywhere", `mkfs\.\w+\s+/dev/`},
	{"fork_bomb", `:\(\)\s*\{\s*:\s*\|\s*:\s*&?\s*\}\s*;\s*:`},
	{"disk_overwrite", `>\s*/dev/sd[a-z]\b`},
}

// lowForbiddenPatternSource forbids chaining, redirection, substitution
// and sudo entirely at LOW.
var lowForbiddenPatternSource = [][2]string{
	{"chain_and", `&&`},
	{"chain_or", `\|\|`},
	{"pipe", `\|`},
	{"semicolon", `;`},
	{"redirect_append", `>>`},
	{"redirect_out", `>`},
	{"redirect_in", `<`},
	{"backtick", "`"},
	{"subshell", `\$\(`},
	{"sudo_anywhere", `(^|\s)sudo(\s|$)`},
}

// mediumForbiddenPatternSource. spec.md §4.B step 7 reads "MEDIUM forbids
// the same [as LOW] except that | between allowed heads is permitted", but
// §9 flags the source's chaining policy at MEDIUM as inconsistently
// documented and pins the whole family — including bare pipes — to the
// conservative reading: denied. See DESIGN.md for this Open Question
// decision.
var mediumForbiddenPatternSource = [][2]string{
	{"chain_and", `&&`},
	{"chain_or", `\|\|`},
	{"pipe", `\|`},
	{"semicolon", `;`},
	{"redirect_append", `>>`},
	{"redirect_out", `>`},
	{"redirect_in", `<`},
	{"backtick", "`"},
	{"subshell", `\$\(`},
	{"sudo_anywhere", `(^|\s)sudo(\s|$)`},
}

// highForbiddenPatternSource is empty beyond the always-forbidden set: HIGH
// only screens for the destructive shapes every tier screens for.
var highForbiddenPatternSource = [][2]string{}

// safeArgPatternSource layers per-command argument allow-lists on top of
// the tier tables for a handful of stateful commands, grounded on
// security_patterns.py's command_patterns. A head token in this map is
// allowed by tier but additionally must match one of its own patterns.
var safeArgPatternSource = map[string][]string{
	"kubectl": {
		`^get\s+(pods?|services?|deployments?|nodes?|namespaces?|configmaps?|secrets?)(\s+\S+)*(\s+-[a-zA-Z-]+(\s+\S+)*)*$`,
		`^describe\s+(pods?|services?|deployments?|nodes?)(\s+\S+)*(\s+-[a-zA-Z-]+(\s+\S+)*)*$`,
		`^logs\s+\S+(\s+-[a-zA-Z-]+(\s+\S+)*)*$`,
		`^top\s+(pods?|nodes?)(\s+-[a-zA-Z-]+(\s+\S+)*)*$`,
		`^config\s+view(\s+--minify)?$`,
		`^version(\s+--client)?$`,
	},
	"systemctl": {
		`^status\s+\S+$`,
		`^is-active\s+\S+$`,
		`^is-enabled\s+\S+$`,
		`^list-units(\s+--type=\w+)?(\s+--state=\w+)?$`,
		`^start\s+\S+$`,
		`^stop\s+\S+$`,
		`^restart\s+\S+$`,
		`^reload\s+\S+$`,
	},
	"journalctl": {
		`^--since\s+"[^"]*"(\s+--unit=\S+)?(\s+-n\s+\d+)?$`,
		`^--unit=\S+(\s+--since\s+"[^"]*")?(\s+-n\s+\d+)?$`,
		`^-n\s+\d+(\s+--unit=\S+)?$`,
		`^-u\s+\S+(\s+-n\s+\d+)?$`,
		`^-f\s+-u\s+\S+$`,
	},
	"docker": {
		`^ps(\s+-[a-zA-Z]+)*$`,
		`^images(\s+-[a-zA-Z]+)*$`,
		`^logs\s+\S+(\s+-[a-zA-Z]+(\s+\S+)*)*$`,
		`^inspect\s+\S+$`,
		`^stats(\s+\S+)*$`,
		`^run\s+.+$`,
		`^stop\s+\S+$`,
		`^restart\s+\S+$`,
		`^rm\s+\S+$`,
		`^build\s+.+$`,
	},
	"git": {
		`^status$`,
		`^log(\s+--oneline)?(\s+-n\s+\d+)?$`,
		`^branch(\s+-[a-zA-Z]+)*$`,
		`^diff(\s+\S+)*$`,
		`^show(\s+\S+)*$`,
		`^add\s+.+$`,
		`^commit\s+.+$`,
		`^push(\s+\S+)*$`,
		`^pull(\s+\S+)*$`,
		`^fetch(\s+\S+)*$`,
		`^clone\s+\S+.*$`,
		`^checkout\s+\S+$`,
		`^merge\s+\S+$`,
	},
}
