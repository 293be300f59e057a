package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// run owns the link: dial, serve until the socket fails, wait out the
// backoff, repeat. It exits when the transport is closed.
func (t *Transport) run() {
	for {
		conn, err := t.dial()
		if err == nil {
			t.serve(conn)
		} else if t.ctx.Err() == nil {
			log.Debug().Err(err).Str("url", t.url).Msg("dial failed")
		}
		if t.ctx.Err() != nil {
			return
		}
		t.setState(transport.StateDisconnected)
		if !t.wait() {
			return
		}
	}
}

func (t *Transport) dial() (*websocket.Conn, error) {
	conn, resp, err := t.dialer.DialContext(t.ctx, t.url, t.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, domain.NewTransportError(Name, "dial", err)
	}
	return conn, nil
}

// wait sleeps for the backoff delay of the current attempt and bumps the
// counter. It reports false if the transport was closed meanwhile.
func (t *Transport) wait() bool {
	t.mu.Lock()
	attempt := t.attempt
	t.attempt++
	t.mu.Unlock()

	delay := t.policy.Delay(attempt)
	t.setState(transport.StateReconnecting)
	t.metrics.Reconnect(Name)
	log.Debug().
		Str("url", t.url).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("reconnect scheduled")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.ctx.Done():
		return false
	}
}

// serve runs one socket from open to failure.
func (t *Transport) serve(conn *websocket.Conn) {
	conn.SetReadLimit(DefaultMaxMessageSize)
	if t.heartbeat > 0 {
		pongWait := 2 * t.heartbeat
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	l, ok := t.open(conn)
	if !ok {
		_ = conn.Close()
		return
	}
	t.setState(transport.StateOpen)

	t.readLoop(conn)

	t.writeMu.Lock()
	if t.link == l {
		t.dropLinkLocked(nil)
	}
	t.writeMu.Unlock()
	<-l.done
	_ = conn.Close()
}

// open installs the link with the backlog queued first, in FIFO order, and
// starts its write pump. Senders wait on writeMu meanwhile, so nothing new
// overtakes the backlog.
func (t *Transport) open(conn *websocket.Conn) (*link, bool) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.ctx.Err() != nil {
		return nil, false
	}

	t.mu.Lock()
	t.attempt = 0
	t.remote = conn.RemoteAddr().String()
	t.local = conn.LocalAddr().String()
	t.mu.Unlock()

	backlog := t.pending.Drain()
	l := &link{
		conn: conn,
		out:  make(chan []byte, t.queueSize+len(backlog)),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, env := range backlog {
		frame, err := t.encode(env)
		if err != nil {
			log.Warn().Err(err).Str("wire", string(env.Wire)).Msg("buffered envelope not encodable, dropped")
			continue
		}
		l.out <- frame
	}
	t.metrics.BufferSize(Name, t.pending.Len())
	if len(backlog) > 0 {
		log.Debug().Str("url", t.url).Int("envelopes", len(backlog)).Msg("pending buffer flushed")
	}

	t.link = l
	go t.writePump(l)
	return l, true
}

// requeue puts an unsent tail of the backlog back without waiting for room.
func (t *Transport) requeue(envs []wire.Envelope) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, env := range envs {
		_ = t.pending.WriteWithContext(ctx, env)
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if t.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("url", t.url).Msg("socket read failed")
			}
			return
		}

		env, err := t.codec.Decode(frame)
		if err != nil {
			log.Warn().Err(err).Str("url", t.url).Msg("malformed frame dropped")
			t.metrics.DecodeError(Name)
			continue
		}
		t.dispatch(env)
	}
}

func (t *Transport) dispatch(env wire.Envelope) {
	t.mu.Lock()
	in := t.in
	t.mu.Unlock()
	if in == nil {
		return
	}
	if env.Op == wire.OpSend {
		// A handler may issue requests of its own; their answers arrive on
		// this loop.
		go in.HandleEnvelope(env)
		return
	}
	in.HandleEnvelope(env)
}

// writePump is the only writer on l's socket: queued frames and pings.
// On stop it writes what is already queued and exits.
func (t *Transport) writePump(l *link) {
	defer close(l.done)

	var ping <-chan time.Time
	if t.heartbeat > 0 {
		ticker := time.NewTicker(t.heartbeat)
		defer ticker.Stop()
		ping = ticker.C
	}

	msgType := t.frameType()
	for {
		select {
		case <-l.stop:
			for {
				select {
				case frame := <-l.out:
					if err := t.writeFrame(l.conn, msgType, frame); err != nil {
						return
					}
				default:
					return
				}
			}

		case frame := <-l.out:
			if err := t.writeFrame(l.conn, msgType, frame); err != nil {
				t.failLink(l, err)
				return
			}

		case <-ping:
			_ = l.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.failLink(l, err)
				return
			}
		}
	}
}

func (t *Transport) failLink(l *link, err error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.link == l {
		t.dropLinkLocked(err)
	}
}
