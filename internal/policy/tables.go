package policy

import "fmt"

// Level is one of the three process-global permissibility tiers. It is
// immutable for the lifetime of the process once Config is loaded.
type Level int

const (
	// LevelLow admits only read-only inspection commands.
	LevelLow Level = iota
	// LevelMedium additionally admits non-destructive mutation.
	LevelMedium
	// LevelHigh additionally admits sudo and privileged operations.
	LevelHigh
)

// ParseLevel maps an environment/YAML string to a Level. Unknown values
// default to LevelMedium, per spec.
func ParseLevel(s string) Level {
	switch s {
	case "low", "LOW", "Low":
		return LevelLow
	case "high", "HIGH", "High":
		return LevelHigh
	case "medium", "MEDIUM", "Medium":
		return LevelMedium
	default:
		return LevelMedium
	}
}

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelHigh:
		return "high"
	default:
		return "medium"
	}
}

// Tables holds the four command-name sets and the pattern layers described
// in spec.md §3. The allowed sets are constructed by composition so that
// low ⊆ medium ⊆ high holds structurally, not by runtime assertion.
type Tables struct {
	LowAllowed    map[string]struct{}
	MediumAllowed map[string]struct{}
	HighAllowed   map[string]struct{}
	AlwaysDenied  map[string]struct{}

	AlwaysForbidden []CompiledPattern
	ForbiddenByTier map[Level][]CompiledPattern
	ArgPatterns     map[string][]CompiledPattern
}

func toSet(items ...[]string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, list := range items {
		for _, name := range list {
			out[name] = struct{}{}
		}
	}
	return out
}

// DefaultTables builds the built-in policy tables. A malformed regular
// expression or a broken tier-nesting invariant is returned as an error —
// spec.md classifies both as a startup-time fatal ConfigError, never a
// runtime deny.
func DefaultTables() (*Tables, error) {
	t := &Tables{
		LowAllowed:    toSet(lowOnly),
		MediumAllowed: toSet(lowOnly, mediumOnly),
		HighAllowed:   toSet(lowOnly, mediumOnly, highOnly),
		AlwaysDenied:  toSet(alwaysDenied),
	}

	var err error
	if t.AlwaysForbidden, err = compileAll(alwaysForbiddenPatternSource); err != nil {
		return nil, fmt.Errorf("compile always_forbidden_patterns: %w", err)
	}
	t.ForbiddenByTier = make(map[Level][]CompiledPattern, 3)
	for level, source := range map[Level][][2]string{
		LevelLow:    lowForbiddenPatternSource,
		LevelMedium: mediumForbiddenPatternSource,
		LevelHigh:   highForbiddenPatternSource,
	} {
		compiled, err := compileAll(source)
		if err != nil {
			return nil, fmt.Errorf("compile forbidden_patterns[%s]: %w", level, err)
		}
		t.ForbiddenByTier[level] = compiled
	}
	if t.ArgPatterns, err = compileArgPatterns(safeArgPatternSource); err != nil {
		return nil, fmt.Errorf("compile safe_arg_patterns: %w", err)
	}

	if err := t.checkInvariants(); err != nil {
		return nil, fmt.Errorf("policy table invariant violated: %w", err)
	}
	return t, nil
}

// checkInvariants re-asserts, for the benefit of tests and any future
// hand-edit of the command tables, the two structural properties spec.md
// requires: nesting of the allowed sets and disjointness of high_allowed
// from always_denied.
func (t *Tables) checkInvariants() error {
	for name := range t.LowAllowed {
		if _, ok := t.MediumAllowed[name]; !ok {
			return fmt.Errorf("low_allowed %q missing from medium_allowed", name)
		}
	}
	for name := range t.MediumAllowed {
		if _, ok := t.HighAllowed[name]; !ok {
			return fmt.Errorf("medium_allowed %q missing from high_allowed", name)
		}
	}
	for name := range t.HighAllowed {
		if _, ok := t.AlwaysDenied[name]; ok {
			return fmt.Errorf("command %q is both high_allowed and always_denied", name)
		}
	}
	return nil
}

// AllowedFor returns the allowed-name set active at the given tier.
func (t *Tables) AllowedFor(level Level) map[string]struct{} {
	switch level {
	case LevelLow:
		return t.LowAllowed
	case LevelHigh:
		return t.HighAllowed
	default:
		return t.MediumAllowed
	}
}
