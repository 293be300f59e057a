package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/buffer"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

func TestMergeCascade(t *testing.T) {
	latest := wire.ModeLatest
	drop := wire.ModeDrop
	oldest := buffer.DropOldest

	global := Options{Transport: "ws", Mode: &latest, BufferSize: 100, Timeout: 5 * time.Second, Heartbeat: 30 * time.Second}
	connection := Options{BufferSize: 10, DropPolicy: &oldest, Timeout: time.Second}
	call := Options{Mode: &drop, Timeout: 200 * time.Millisecond}

	got := Merge(global, connection, call)

	assert.Equal(t, "ws", got.Transport)
	assert.Equal(t, wire.ModeDrop, got.DeliveryMode())
	assert.Equal(t, 10, got.BufferSize)
	assert.Equal(t, buffer.DropOldest, got.Policy())
	assert.Equal(t, 200*time.Millisecond, got.Timeout)
	assert.Equal(t, 30*time.Second, got.Heartbeat)
}

func TestMergeDoesNotAlias(t *testing.T) {
	mode := wire.ModeLatest
	global := Options{Mode: &mode}

	got := Merge(global)
	*got.Mode = wire.ModeDrop

	assert.Equal(t, wire.ModeLatest, mode)
}

func TestMergeDisableWithNegative(t *testing.T) {
	got := Merge(Options{Timeout: 5 * time.Second}, Options{Timeout: -1})
	assert.Equal(t, time.Duration(0), Enabled(got.Timeout))

	got = Merge(Options{Timeout: 5 * time.Second}, Options{})
	assert.Equal(t, 5*time.Second, Enabled(got.Timeout))
}

func TestMergeDefaults(t *testing.T) {
	got := Merge()
	assert.Equal(t, wire.ModeOrdered, got.DeliveryMode())
	assert.Equal(t, buffer.DropNewest, got.Policy())
}

func TestWireConfigOptions(t *testing.T) {
	cfg := Default()
	cfg.Wire.ThrottleMS = 0
	cfg.Wire.DropPolicy = "block"

	o, err := cfg.Options()
	require.NoError(t, err)

	assert.Equal(t, "ws", o.Transport)
	assert.Equal(t, buffer.Block, o.Policy())
	assert.Equal(t, 5*time.Second, o.Timeout)
	assert.Equal(t, time.Duration(0), Enabled(o.Throttle))
	assert.Equal(t, time.Second, o.ReconnectDelay)
	assert.Equal(t, 30*time.Second, o.MaxReconnectDelay)

	cfg.Wire.Mode = "nope"
	_, err = cfg.Options()
	assert.Error(t, err)
}
