package audit

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithEmptyPathIsNoop(t *testing.T) {
	trail, err := Open(slog.Default(), "", false)
	require.NoError(t, err)
	assert.Nil(t, trail)
	assert.NoError(t, trail.Close())
}

func TestRecordRunAndRecentRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	trail, err := Open(slog.Default(), path, false)
	require.NoError(t, err)
	require.NotNil(t, trail)
	defer trail.Close()

	code := 0
	id := trail.RecordRun("sess-1", "whoami", true, &code)
	assert.NotZero(t, id)

	recs, err := trail.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "sess-1", recs[0].SessionID)
	assert.Equal(t, "whoami", recs[0].Command)
	assert.True(t, recs[0].Allowed)
	require.NotNil(t, recs[0].ExitStatus)
	assert.Equal(t, 0, *recs[0].ExitStatus)
}

func TestRecordRunOutputOnlyWhenCaptureEnabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	trail, err := Open(slog.Default(), path, false)
	require.NoError(t, err)
	defer trail.Close()

	id := trail.RecordRun("sess-1", "echo hi", true, nil)
	require.NotZero(t, id)
	// captureOutput is false, so this must be a silent no-op and must not panic.
	assert.NotPanics(t, func() { trail.RecordRunOutput(id, "hi\n") })
}

func TestRecordRunOutputWithCaptureEnabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	trail, err := Open(slog.Default(), path, true)
	require.NoError(t, err)
	defer trail.Close()

	id := trail.RecordRun("sess-1", "echo hi", true, nil)
	require.NotZero(t, id)
	assert.NotPanics(t, func() { trail.RecordRunOutput(id, "hi\n") })
}

func TestRecordRunOutputWithZeroRunIDIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	trail, err := Open(slog.Default(), path, true)
	require.NoError(t, err)
	defer trail.Close()

	assert.NotPanics(t, func() { trail.RecordRunOutput(0, "irrelevant") })
}

func TestRecordConnectAndTransferDoNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	trail, err := Open(slog.Default(), path, false)
	require.NoError(t, err)
	defer trail.Close()

	assert.NotPanics(t, func() {
		trail.RecordConnect("sess-1", "example.com", "root", true, nil)
		trail.RecordTransfer("sess-1", "upload", "/tmp/file.txt", true)
	})
}

func TestNilTrailMethodsAreNoops(t *testing.T) {
	var trail *Trail
	assert.NotPanics(t, func() {
		trail.RecordConnect("s", "h", "u", true, nil)
		_ = trail.RecordRun("s", "cmd", true, nil)
		trail.RecordRunOutput(1, "x")
		trail.RecordTransfer("s", "upload", "/tmp/x", true)
	})
	recs, err := trail.RecentRuns(10)
	assert.NoError(t, err)
	assert.Nil(t, recs)
}
