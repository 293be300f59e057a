// Package stdio carries envelopes over a reader/writer pair, stdin and
// stdout by default. It is point to point and never reconnects: end of
// input closes the transport.
package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/codec"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/metrics"
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// Name is the registry name of this backend.
const Name = "stdio"

// DefaultMaxMessageSize bounds a length-framed body (512KB).
const DefaultMaxMessageSize = 512 * 1024

// Framing defines how frames are delimited on the stream.
type Framing int

const (
	// FramingNewline uses one frame per line (text codecs only).
	FramingNewline Framing = iota

	// FramingLength prefixes every frame with a Content-Length header.
	// Format: Content-Length: 123\r\n\r\n{"op":"emit",...}
	FramingLength
)

// Transport implements transport.Transport over a byte stream.
type Transport struct {
	reader  *bufio.Reader
	writer  io.Writer
	codec   codec.Codec
	framing Framing
	metrics *metrics.Metrics

	writeMu ksync.Mutex

	mu      ksync.Mutex
	in      transport.Inbound
	started bool
	closed  bool
	done    chan struct{}
}

// Option configures a Transport.
type Option func(*Transport)

// WithFraming sets the frame delimiting. Binary codecs always use
// FramingLength.
func WithFraming(f Framing) Option {
	return func(t *Transport) { t.framing = f }
}

// New creates a transport over r and w. Nil streams mean os.Stdin and
// os.Stdout.
func New(r io.Reader, w io.Writer, c codec.Codec, m *metrics.Metrics, opts ...Option) *Transport {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	if c == nil {
		c = codec.JSON{}
	}
	t := &Transport{
		reader:  bufio.NewReader(r),
		writer:  w,
		codec:   c,
		framing: FramingNewline,
		metrics: m,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if c.Binary() {
		t.framing = FramingLength
	}
	return t
}

// Factory is the registry factory for this backend.
func Factory(s transport.Settings) (transport.Transport, error) {
	return New(s.Reader, s.Writer, s.Codec, s.Metrics), nil
}

func (t *Transport) Info() transport.Info {
	return transport.Info{
		Name:         Name,
		Capabilities: transport.BaseCapabilities,
	}
}

// Connect starts reading frames.
func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTransportClosed
	}
	if !t.started {
		t.started = true
		go t.readLoop()
	}
	return nil
}

func (t *Transport) Listen(in transport.Inbound) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTransportClosed
	}
	t.in = in
	return nil
}

// Send writes env as one frame. There is no buffer: a write failure drops
// the envelope.
func (t *Transport) Send(env wire.Envelope) (transport.Delivery, error) {
	if t.isClosed() {
		return transport.DeliveryDropped, domain.ErrTransportClosed
	}
	frame, err := t.codec.Encode(env)
	if err != nil {
		return transport.DeliveryDropped, fmt.Errorf("encode %s envelope: %w", env.Op, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	switch t.framing {
	case FramingLength:
		err = t.writeLength(frame)
	default:
		err = t.writeNewline(frame)
	}
	if err != nil {
		t.metrics.OutboundResult(Name, metrics.ResultDropped)
		return transport.DeliveryDropped, domain.NewTransportError(Name, "write", err)
	}
	t.metrics.OutboundResult(Name, metrics.ResultSent)
	return transport.DeliverySent, nil
}

func (t *Transport) Request(env wire.Envelope) error {
	_, err := t.Send(env)
	return err
}

func (t *Transport) Subscribe(wire.ID) error   { return nil }
func (t *Transport) Unsubscribe(wire.ID) error { return nil }

// Close stops the transport. The underlying streams stay open since they
// may be shared.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}

func (t *Transport) Done() <-chan struct{} {
	return t.done
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) readLoop() {
	defer func() { _ = t.Close() }()

	for {
		frame, err := t.readFrame()
		if errors.Is(err, domain.ErrDecode) {
			log.Warn().Err(err).Msg("malformed frame dropped")
			t.metrics.DecodeError(Name)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !t.isClosed() {
				log.Warn().Err(err).Msg("stdio read failed")
			}
			return
		}
		if t.isClosed() {
			return
		}

		env, err := t.codec.Decode(frame)
		if err != nil {
			log.Warn().Err(err).Msg("malformed frame dropped")
			t.metrics.DecodeError(Name)
			continue
		}

		t.mu.Lock()
		in := t.in
		t.mu.Unlock()
		if in == nil {
			continue
		}
		if env.Op == wire.OpSend {
			go in.HandleEnvelope(env)
			continue
		}
		in.HandleEnvelope(env)
	}
}

func (t *Transport) readFrame() ([]byte, error) {
	switch t.framing {
	case FramingLength:
		return t.readLength()
	default:
		return t.readNewline()
	}
}

// readNewline reads one line, skipping empty ones.
func (t *Transport) readNewline() ([]byte, error) {
	for {
		line, err := t.reader.ReadBytes('\n')
		if err != nil && (len(line) == 0 || !errors.Is(err, io.EOF)) {
			return nil, err
		}
		line = trimCRLF(line)
		if len(line) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// readLength reads a frame with a Content-Length header. A bad header or an
// oversized body is a decode error: an oversized body is read past so the
// next frame still lines up.
func (t *Transport) readLength() ([]byte, error) {
	contentLength := -1
	var headerErr error

	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			// Empty line marks end of headers
			if contentLength >= 0 || headerErr != nil {
				break
			}
			continue
		}

		if v, ok := strings.CutPrefix(line, "Content-Length:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil || n < 0 {
				headerErr = fmt.Errorf("invalid Content-Length %q", strings.TrimSpace(v))
				continue
			}
			contentLength = n
		}
	}

	if headerErr != nil {
		return nil, domain.NewDecodeError(t.codec.Name(), headerErr)
	}
	if contentLength == 0 || contentLength > DefaultMaxMessageSize {
		if _, err := io.CopyN(io.Discard, t.reader, int64(contentLength)); err != nil {
			return nil, err
		}
		return nil, domain.NewDecodeError(t.codec.Name(),
			fmt.Errorf("frame length %d outside 1..%d", contentLength, DefaultMaxMessageSize))
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (t *Transport) writeNewline(frame []byte) error {
	_, err := t.writer.Write(append(frame, '\n'))
	return err
}

func (t *Transport) writeLength(frame []byte) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(frame))
	if _, err := io.WriteString(t.writer, header); err != nil {
		return err
	}
	_, err := t.writer.Write(frame)
	return err
}

// trimCRLF removes trailing \r\n or \n from a byte slice.
func trimCRLF(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	if len(data) > 0 && data[len(data)-1] == '\r' {
		data = data[:len(data)-1]
	}
	return data
}

var _ transport.Transport = (*Transport)(nil)
