package eventbus

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithEmptyURLIsNoop(t *testing.T) {
	bus, err := New(slog.Default(), "", "sshmcp")
	require.NoError(t, err)
	require.NotNil(t, bus)
	assert.Nil(t, bus.conn)
}

func TestPublishSessionEventOnNoopBusDoesNotPanic(t *testing.T) {
	bus, err := New(slog.Default(), "", "sshmcp")
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		bus.PublishSessionEvent("connected", "sess-1", "example.com", "root")
	})
}

func TestPublishSessionEventOnNilBusDoesNotPanic(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.PublishSessionEvent("connected", "sess-1", "example.com", "root")
	})
}

func TestCloseOnNilBusDoesNotPanic(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, bus.Close)
}

func TestNewWithUnreachableURLReturnsError(t *testing.T) {
	_, err := New(slog.Default(), "nats://127.0.0.1:1", "sshmcp")
	assert.Error(t, err)
}
