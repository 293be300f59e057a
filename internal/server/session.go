package server

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/codec"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain/ports"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/metrics"
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// SessionName is the transport name sessions report.
const SessionName = "session"

const (
	// Time allowed to write a frame to the client.
	writeWait = 15 * time.Second

	// Maximum frame size accepted from the client (512KB).
	maxMessageSize = 512 * 1024

	// Outbound frames queued per session.
	sendBufferSize = 1024
)

// Session is the server side of one accepted socket. It is the transport of
// the connection attached for the client, and through Peer it receives the
// hub traffic other participants publish.
//
// Each session runs a goroutine reading frames into the connection
// (readPump) and one writing queued frames and pings to the socket
// (writePump). Send never blocks: when the queue is full the envelope is
// dropped.
//
// Emits are renumbered per wire on the way out, so the client sees one
// contiguous sequence no matter how many senders feed the wire.
type Session struct {
	id        string
	conn      *websocket.Conn
	codec     codec.Codec
	metrics   *metrics.Metrics
	heartbeat time.Duration
	send      chan []byte
	done      chan struct{}

	// onClose runs once, when the read side ends.
	onClose func(s *Session)

	mu      ksync.Mutex
	in      transport.Inbound
	started bool
	closed  bool

	sendMu ksync.Mutex
	outSeq map[wire.ID]int64 // guarded by sendMu
}

func newSession(conn *websocket.Conn, c codec.Codec, heartbeat time.Duration, m *metrics.Metrics) *Session {
	return &Session{
		id:        transport.GenerateID(),
		conn:      conn,
		codec:     c,
		metrics:   m,
		heartbeat: heartbeat,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		outSeq:    make(map[wire.ID]int64),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) Info() transport.Info {
	caps := append([]transport.Capability{}, transport.BaseCapabilities...)
	return transport.Info{
		Name:         SessionName,
		Capabilities: append(caps, transport.CapSequence),
		RemoteAddr:   s.conn.RemoteAddr().String(),
		LocalAddr:    s.conn.LocalAddr().String(),
	}
}

// Connect starts the read and write pumps.
func (s *Session) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrTransportClosed
	}
	if !s.started {
		s.started = true
		go s.writePump()
		go s.readPump()
	}
	return nil
}

func (s *Session) Listen(in transport.Inbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrTransportClosed
	}
	s.in = in
	return nil
}

// Send queues env for the client. A dropped emit still consumes its
// sequence number so the client can count the loss.
func (s *Session) Send(env wire.Envelope) (transport.Delivery, error) {
	if s.isClosed() {
		return transport.DeliveryDropped, domain.ErrTransportClosed
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if env.Op == wire.OpEmit {
		s.outSeq[env.Wire]++
		env.Seq = s.outSeq[env.Wire]
	}
	frame, err := s.codec.Encode(env)
	if err != nil {
		return transport.DeliveryDropped, domain.NewTransportError(SessionName, "encode", err)
	}

	select {
	case s.send <- frame:
		s.metrics.OutboundResult(SessionName, metrics.ResultSent)
		return transport.DeliverySent, nil
	default:
		// Client is too slow.
		s.metrics.OutboundResult(SessionName, metrics.ResultDropped)
		log.Warn().
			Str("session_id", s.id).
			Str("wire", string(env.Wire)).
			Msg("session send queue full, dropping envelope")
		return transport.DeliveryDropped, nil
	}
}

func (s *Session) Request(env wire.Envelope) error {
	d, err := s.Send(env)
	if err != nil {
		return err
	}
	if d == transport.DeliveryDropped {
		return domain.NewTransportError(SessionName, "request", domain.ErrBufferOverflow)
	}
	return nil
}

// Subscribe is a no-op: the client receives whatever its peer filter
// passes.
func (s *Session) Subscribe(wire.ID) error { return nil }

func (s *Session) Unsubscribe(wire.ID) error { return nil }

// Close stops the pumps. The write pump sends a close frame on its way out.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	close(s.done)
	if !started {
		_ = s.conn.Close()
	}
	return nil
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Peer returns the hub-facing side of the session.
func (s *Session) Peer() ports.Peer {
	return sessionPeer{s}
}

func (s *Session) frameType() int {
	if s.codec.Binary() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// readPump decodes frames from the socket into the connection.
func (s *Session) readPump() {
	defer func() {
		_ = s.Close()
		_ = s.conn.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
	}()

	s.conn.SetReadLimit(maxMessageSize)
	if s.heartbeat > 0 {
		pongWait := 2 * s.heartbeat
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("session_id", s.id).Msg("websocket read error")
			}
			return
		}

		env, err := s.codec.Decode(frame)
		if err != nil {
			log.Warn().Err(err).Str("session_id", s.id).Msg("malformed frame dropped")
			s.metrics.DecodeError(SessionName)
			continue
		}
		s.dispatch(env)
	}
}

func (s *Session) dispatch(env wire.Envelope) {
	s.mu.Lock()
	in := s.in
	s.mu.Unlock()
	if in == nil {
		return
	}
	if env.Op == wire.OpSend {
		go in.HandleEnvelope(env)
		return
	}
	in.HandleEnvelope(env)
}

// writePump writes queued frames and pings to the socket, one frame per
// envelope.
func (s *Session) writePump() {
	var ping <-chan time.Time
	if s.heartbeat > 0 {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer func() {
		// Deadline keeps a laggy client from blocking shutdown.
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = s.conn.Close()
	}()

	frameType := s.frameType()
	for {
		select {
		case <-s.done:
			return

		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(frameType, frame); err != nil {
				log.Debug().Err(err).Str("session_id", s.id).Msg("write error")
				return
			}

		case <-ping:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("session_id", s.id).Msg("ping error")
				return
			}
		}
	}
}

// sessionPeer forwards hub traffic to the client. A full queue drops the
// envelope but keeps the peer attached.
type sessionPeer struct {
	s *Session
}

func (p sessionPeer) ID() string { return p.s.id }

func (p sessionPeer) Send(env wire.Envelope) error {
	_, err := p.s.Send(env)
	return err
}

func (p sessionPeer) Close() error { return p.s.Close() }

func (p sessionPeer) Done() <-chan struct{} { return p.s.done }

var (
	_ transport.Transport = (*Session)(nil)
	_ ports.Peer          = sessionPeer{}
)
