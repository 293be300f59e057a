// Package testutil provides shared test utilities and mocks for kyano tests.
package testutil

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain/ports"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// MockPeer implements ports.Peer for testing.
type MockPeer struct {
	id        string
	envelopes []wire.Envelope
	mu        sync.Mutex
	closed    bool
	sendErr   error
	sendFunc  func(wire.Envelope) error
	done      chan struct{}
}

// NewMockPeer creates a new mock peer.
func NewMockPeer(id string) *MockPeer {
	return &MockPeer{
		id:   id,
		done: make(chan struct{}),
	}
}

// ID returns the peer ID.
func (m *MockPeer) ID() string {
	return m.id
}

// Send records the envelope and returns any configured error.
func (m *MockPeer) Send(env wire.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendFunc != nil {
		return m.sendFunc(env)
	}
	if m.sendErr != nil {
		return m.sendErr
	}

	m.envelopes = append(m.envelopes, env)
	return nil
}

// Close marks the peer as closed.
func (m *MockPeer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// Done returns a channel that's closed when the peer is closed.
func (m *MockPeer) Done() <-chan struct{} {
	return m.done
}

// Envelopes returns all received envelopes.
func (m *MockPeer) Envelopes() []wire.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]wire.Envelope, len(m.envelopes))
	copy(result, m.envelopes)
	return result
}

// Count returns the number of received envelopes.
func (m *MockPeer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.envelopes)
}

// IsClosed returns whether the peer was closed.
func (m *MockPeer) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SetSendError configures an error to return on Send.
func (m *MockPeer) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetSendFunc sets a custom function for Send behavior.
func (m *MockPeer) SetSendFunc(fn func(wire.Envelope) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFunc = fn
}

// Reset removes all recorded envelopes.
func (m *MockPeer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envelopes = m.envelopes[:0]
}

var _ ports.Peer = (*MockPeer)(nil)

// RecordingTransport implements transport.Transport by recording every
// outbound envelope. Deliver plays the remote side.
type RecordingTransport struct {
	mu         sync.Mutex
	info       transport.Info
	in         transport.Inbound
	sent       []wire.Envelope
	subscribed []wire.ID
	delivery   transport.Delivery
	requestErr error
	connected  bool
	closed     bool
	done       chan struct{}
}

// NewRecordingTransport creates a recording transport with the base
// capabilities plus caps.
func NewRecordingTransport(caps ...transport.Capability) *RecordingTransport {
	all := append(append([]transport.Capability(nil), transport.BaseCapabilities...), caps...)
	return &RecordingTransport{
		info:     transport.Info{Name: "recording", Capabilities: all},
		delivery: transport.DeliverySent,
		done:     make(chan struct{}),
	}
}

func (r *RecordingTransport) Info() transport.Info { return r.info }

func (r *RecordingTransport) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = true
	return ctx.Err()
}

func (r *RecordingTransport) Listen(in transport.Inbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.in = in
	return nil
}

func (r *RecordingTransport) Send(env wire.Envelope) (transport.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return transport.DeliveryDropped, domain.ErrTransportClosed
	}
	r.sent = append(r.sent, env)
	return r.delivery, nil
}

func (r *RecordingTransport) Request(env wire.Envelope) error {
	if _, err := r.Send(env); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestErr
}

func (r *RecordingTransport) Subscribe(id wire.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed = append(r.subscribed, id)
	return nil
}

func (r *RecordingTransport) Unsubscribe(wire.ID) error { return nil }

func (r *RecordingTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	return nil
}

func (r *RecordingTransport) Done() <-chan struct{} { return r.done }

// Deliver hands env to the installed dispatcher as if it came from the
// remote side.
func (r *RecordingTransport) Deliver(env wire.Envelope) {
	r.mu.Lock()
	in := r.in
	r.mu.Unlock()
	if in != nil {
		in.HandleEnvelope(env)
	}
}

// Sent returns every envelope passed to Send or Request.
func (r *RecordingTransport) Sent() []wire.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Envelope(nil), r.sent...)
}

// SentOp returns the sent envelopes with the given op.
func (r *RecordingTransport) SentOp(op wire.Op) []wire.Envelope {
	var out []wire.Envelope
	for _, env := range r.Sent() {
		if env.Op == op {
			out = append(out, env)
		}
	}
	return out
}

// Subscribed returns the wires passed to Subscribe.
func (r *RecordingTransport) Subscribed() []wire.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.ID(nil), r.subscribed...)
}

// IsConnected reports whether Connect was called.
func (r *RecordingTransport) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// IsClosed reports whether Close was called.
func (r *RecordingTransport) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// SetDelivery sets the outcome Send reports.
func (r *RecordingTransport) SetDelivery(d transport.Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivery = d
}

// SetRequestError configures an error to return on Request.
func (r *RecordingTransport) SetRequestError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestErr = err
}

var _ transport.Transport = (*RecordingTransport)(nil)

// Eventually polls cond every 5ms until it holds or timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s: condition not met within %s", msg, timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// AssertEqual is a simple equality assertion helper.
func AssertEqual(t *testing.T, expected, actual interface{}, msg string) {
	t.Helper()
	if expected != actual {
		t.Errorf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertTrue asserts that a condition is true.
func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Errorf("%s: expected true, got false", msg)
	}
}

// AssertFalse asserts that a condition is false.
func AssertFalse(t *testing.T, condition bool, msg string) {
	t.Helper()
	if condition {
		t.Errorf("%s: expected false, got true", msg)
	}
}

// AssertNoError asserts that an error is nil.
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", msg, err)
	}
}

// AssertError asserts that an error is not nil.
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Errorf("%s: expected error, got nil", msg)
	}
}

// AssertContains checks if a string contains a substring.
func AssertContains(t *testing.T, s, substr, msg string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("%s: string %q does not contain %q", msg, s, substr)
	}
}
