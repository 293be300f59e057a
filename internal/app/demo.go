package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/conn"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// Demo wire ids served by kyano serve.
const (
	ClockWire  wire.ID = "clock"
	StatusWire wire.ID = "status"
	TickWire   wire.ID = "tick"
)

// demo owns the wires a server exposes out of the box: a clock answering
// requests, a status signal and a periodic tick stream.
type demo struct {
	clock    *wire.Discrete
	status   *wire.Signal
	tick     *wire.Stream
	sessions func() int
	version  string
	started  time.Time
}

func newDemo(c *conn.Connection, sessions func() int, version string) (*demo, error) {
	clock, err := c.Discrete(ClockWire)
	if err != nil {
		return nil, err
	}
	status, err := c.Signal(StatusWire, map[string]any{"state": "starting"})
	if err != nil {
		return nil, err
	}
	tick, err := c.Stream(TickWire)
	if err != nil {
		return nil, err
	}

	d := &demo{
		clock:    clock,
		status:   status,
		tick:     tick,
		sessions: sessions,
		version:  version,
		started:  time.Now(),
	}
	clock.Reply(d.answerClock)
	return d, nil
}

func (d *demo) answerClock(_ context.Context, data any) (any, error) {
	now := time.Now().UTC()
	reply := map[string]any{
		"time":    now.Format(time.RFC3339Nano),
		"unix_ms": now.UnixMilli(),
	}
	if data != nil {
		reply["echo"] = data
	}
	return reply, nil
}

func (d *demo) statusValue(state string, sessions int) map[string]any {
	return map[string]any{
		"state":          state,
		"sessions":       int64(sessions),
		"version":        d.version,
		"uptime_seconds": int64(time.Since(d.started).Seconds()),
	}
}

// run emits a tick every interval and signals status whenever the session
// count changes, until ctx ends.
func (d *demo) run(ctx context.Context, interval time.Duration) error {
	sessions := d.sessions()
	d.status.Signal(d.statusValue("up", sessions))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var n int64
	for {
		select {
		case <-ctx.Done():
			d.status.Signal(d.statusValue("stopping", d.sessions()))
			log.Debug().Int64("ticks", n).Msg("demo wires stopped")
			return nil

		case now := <-ticker.C:
			n++
			d.tick.Emit(map[string]any{"n": n, "unix_ms": now.UnixMilli()})

			if current := d.sessions(); current != sessions {
				sessions = current
				d.status.Signal(d.statusValue("up", sessions))
			}
		}
	}
}
