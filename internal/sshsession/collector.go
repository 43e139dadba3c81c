package sshsession

import (
	"bytes"
	"sync"
	"time"
)

// cappedCollector accumulates stdout/stderr independently up to a
// combined byte cap and a combined line cap, per spec.md §4.D's output
// limits. Once either cap is hit, truncated is set and further writes
// stop accepting new bytes (the caller's pump loop checks overLimit and
// returns).
type cappedCollector struct {
	mu         sync.Mutex
	maxBytes   int
	maxLines   int
	stdout     bytes.Buffer
	stderr     bytes.Buffer
	totalBytes int
	totalLines int
	truncated  bool
}

func newCappedCollector(maxBytes, maxLines int) *cappedCollector {
	return &cappedCollector{maxBytes: maxBytes, maxLines: maxLines}
}

func (c *cappedCollector) writeStdout(b []byte) { c.write(&c.stdout, b) }
func (c *cappedCollector) writeStderr(b []byte) { c.write(&c.stderr, b) }

func (c *cappedCollector) write(dst *bytes.Buffer, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.truncated {
		return
	}
	remaining := c.maxBytes - c.totalBytes
	if remaining <= 0 {
		c.truncated = true
		return
	}
	if len(b) > remaining {
		b = b[:remaining]
		c.truncated = true
	}
	dst.Write(b)
	c.totalBytes += len(b)
	c.totalLines += bytes.Count(b, []byte("\n"))
	if c.maxLines > 0 && c.totalLines >= c.maxLines {
		c.truncated = true
	}
}

func (c *cappedCollector) overLimit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}

func (c *cappedCollector) stdoutString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout.String()
}

func (c *cappedCollector) stderrString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stderr.String()
}

// rateLimiter is a simple sliding-window limiter: at most perMinute Allow
// calls succeed in any trailing 60-second window. per SPEC_FULL.md's
// supplemented feature #4.
type rateLimiter struct {
	mu        sync.Mutex
	perMinute int
	events    []time.Time
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{perMinute: perMinute}
}

func (r *rateLimiter) Allow() bool {
	if r.perMinute <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-1 * time.Minute)
	kept := r.events[:0]
	for _, t := range r.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.events = kept
	if len(r.events) >= r.perMinute {
		return false
	}
	r.events = append(r.events, now)
	return true
}
