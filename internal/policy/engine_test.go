package policy

import "testing"

func newTestEngine(t *testing.T, level Level) *Engine {
	t.Helper()
	tables, err := DefaultTables()
	if err != nil {
		t.Fatalf("DefaultTables: %v", err)
	}
	return NewEngine(tables, level)
}

func TestTierNesting(t *testing.T) {
	tables, err := DefaultTables()
	if err != nil {
		t.Fatalf("DefaultTables: %v", err)
	}
	for name := range tables.LowAllowed {
		if _, ok := tables.MediumAllowed[name]; !ok {
			t.Errorf("low_allowed %q not in medium_allowed", name)
		}
	}
	for name := range tables.MediumAllowed {
		if _, ok := tables.HighAllowed[name]; !ok {
			t.Errorf("medium_allowed %q not in high_allowed", name)
		}
	}
	for name := range tables.HighAllowed {
		if _, ok := tables.AlwaysDenied[name]; ok {
			t.Errorf("command %q is both high_allowed and always_denied", name)
		}
	}
}

// TestScenarios reproduces spec.md §8's literal end-to-end scenarios that
// concern the policy engine in isolation (S1, S2, S3, S6).
func TestScenarios(t *testing.T) {
	t.Run("S1_allow_read", func(t *testing.T) {
		e := newTestEngine(t, LevelLow)
		r := e.Validate("ls -la /var/log")
		if !r.Allowed {
			t.Fatalf("expected allowed, got denied: %s", r.Reason)
		}
	})

	t.Run("S2_pattern_deny", func(t *testing.T) {
		e := newTestEngine(t, LevelMedium)
		r := e.Validate("ls && rm -rf /tmp/x")
		if r.Allowed {
			t.Fatalf("expected denied")
		}
		if r.MatchedRule != RulePatternForbid {
			t.Fatalf("expected pattern-forbidden, got %s", r.MatchedRule)
		}
	})

	t.Run("S3_sudo_tier_gate", func(t *testing.T) {
		medium := newTestEngine(t, LevelMedium)
		r := medium.Validate("sudo systemctl status ssh")
		if r.Allowed {
			t.Fatalf("expected denied at medium")
		}

		high := newTestEngine(t, LevelHigh)
		r2 := high.Validate("sudo systemctl status ssh")
		if !r2.Allowed {
			t.Fatalf("expected allowed at high: %s", r2.Reason)
		}
	})

	t.Run("S6_always_denied_at_high", func(t *testing.T) {
		e := newTestEngine(t, LevelHigh)
		r := e.Validate("rm -rf /")
		if r.Allowed {
			t.Fatalf("expected denied")
		}
		if r.MatchedRule != RuleAlwaysDenied {
			t.Fatalf("expected always-denied, got %s", r.MatchedRule)
		}
	})
}

func TestAlwaysForbiddenAtEveryTier(t *testing.T) {
	commands := []string{
		"rm -rf /",
		"dd if=/dev/zero of=/dev/sda",
		"mkfs.ext4 /dev/sda1",
		":(){ :|:& };:",
	}
	for _, level := range []Level{LevelLow, LevelMedium, LevelHigh} {
		e := newTestEngine(t, level)
		for _, cmd := range commands {
			r := e.Validate(cmd)
			if r.Allowed {
				t.Errorf("tier %s: expected %q denied, got allowed", level, cmd)
			}
		}
	}
}

func TestHeadTokenExtraction(t *testing.T) {
	e := newTestEngine(t, LevelHigh)

	r := e.Validate("/usr/bin/ls -la")
	if !r.Allowed {
		t.Fatalf("expected /usr/bin/ls to resolve to ls: %s", r.Reason)
	}

	r2 := e.Validate("sudo -u root -n whoami")
	if !r2.Allowed || !r2.UsesSudo {
		t.Fatalf("expected sudo whoami allowed with uses_sudo, got %+v", r2)
	}
}

func TestEmptyCommand(t *testing.T) {
	e := newTestEngine(t, LevelHigh)
	r := e.Validate("   ")
	if r.Allowed {
		t.Fatalf("expected empty command denied")
	}
	if r.MatchedRule != RuleNameNotAllowed {
		t.Fatalf("expected name-not-allowed, got %s", r.MatchedRule)
	}
}

func TestMediumAllowsPipeBetweenAllowedHeads(t *testing.T) {
	e := newTestEngine(t, LevelMedium)
	r := e.Validate("ps aux | grep ssh")
	if r.Allowed {
		t.Fatalf("pinned reading: command chaining at MEDIUM is denied even for a bare pipe between allowed heads")
	}
}

func TestArgPatternGatesKubectl(t *testing.T) {
	e := newTestEngine(t, LevelHigh)
	if r := e.Validate("kubectl get pods -n default"); !r.Allowed {
		t.Errorf("expected kubectl get pods allowed: %s", r.Reason)
	}
	if r := e.Validate("kubectl delete pods --all"); r.Allowed {
		t.Errorf("expected kubectl delete denied by safe-arg pattern")
	}
}
