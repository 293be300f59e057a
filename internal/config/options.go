package config

import (
	"fmt"
	"time"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/buffer"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// Options is one level of the call > connection > global cascade.
//
// Zero fields are unset and inherit from the level below. A negative
// duration is set and disables the feature (no timeout, no throttle, no
// heartbeat).
type Options struct {
	Transport         string
	Codec             string
	Mode              *wire.Mode
	BufferSize        int
	DropPolicy        *buffer.OverflowPolicy
	Timeout           time.Duration
	Throttle          time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	ReconnectJitter   time.Duration
	Heartbeat         time.Duration
	SharedHubClose    string
}

// Merge folds levels from lowest to highest precedence, typically
// Merge(global, connection, call). It never mutates its arguments.
func Merge(levels ...Options) Options {
	var out Options
	for _, o := range levels {
		if o.Transport != "" {
			out.Transport = o.Transport
		}
		if o.Codec != "" {
			out.Codec = o.Codec
		}
		if o.Mode != nil {
			m := *o.Mode
			out.Mode = &m
		}
		if o.BufferSize != 0 {
			out.BufferSize = o.BufferSize
		}
		if o.DropPolicy != nil {
			p := *o.DropPolicy
			out.DropPolicy = &p
		}
		out.Timeout = mergeDuration(out.Timeout, o.Timeout)
		out.Throttle = mergeDuration(out.Throttle, o.Throttle)
		out.ReconnectDelay = mergeDuration(out.ReconnectDelay, o.ReconnectDelay)
		out.MaxReconnectDelay = mergeDuration(out.MaxReconnectDelay, o.MaxReconnectDelay)
		out.ReconnectJitter = mergeDuration(out.ReconnectJitter, o.ReconnectJitter)
		out.Heartbeat = mergeDuration(out.Heartbeat, o.Heartbeat)
		if o.SharedHubClose != "" {
			out.SharedHubClose = o.SharedHubClose
		}
	}
	return out
}

func mergeDuration(base, over time.Duration) time.Duration {
	if over != 0 {
		return over
	}
	return base
}

// Enabled returns d when positive and zero when unset or disabled.
func Enabled(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// DeliveryMode returns the merged mode, defaulting to ModeOrdered.
func (o Options) DeliveryMode() wire.Mode {
	if o.Mode == nil {
		return wire.ModeOrdered
	}
	return *o.Mode
}

// Policy returns the merged drop policy, defaulting to DropNewest.
func (o Options) Policy() buffer.OverflowPolicy {
	if o.DropPolicy == nil {
		return buffer.DropNewest
	}
	return *o.DropPolicy
}

// Options converts the wire section into the global cascade level.
func (w WireConfig) Options() (Options, error) {
	mode, err := wire.ParseMode(w.Mode)
	if err != nil {
		return Options{}, fmt.Errorf("wire.mode: %w", err)
	}
	policy, err := buffer.ParsePolicy(w.DropPolicy)
	if err != nil {
		return Options{}, fmt.Errorf("wire.drop_policy: %w", err)
	}
	return Options{
		Mode:              &mode,
		BufferSize:        w.BufferSize,
		DropPolicy:        &policy,
		Timeout:           millis(w.TimeoutMS),
		Throttle:          millis(w.ThrottleMS),
		ReconnectDelay:    millis(w.ReconnectDelayMS),
		MaxReconnectDelay: millis(w.MaxReconnectDelayMS),
		ReconnectJitter:   millis(w.ReconnectJitterMS),
		Heartbeat:         millis(w.HeartbeatIntervalMS),
		SharedHubClose:    w.SharedHubClose,
	}, nil
}

// Options returns the global cascade level of the whole configuration.
func (c *Config) Options() (Options, error) {
	o, err := c.Wire.Options()
	if err != nil {
		return Options{}, err
	}
	o.Transport = c.Client.Transport
	o.Codec = c.Client.Codec
	return o, nil
}

// millis maps a config value in milliseconds; 0 in a config file means off.
func millis(ms int) time.Duration {
	if ms == 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}
