// Package transport defines the capability contract every wire transport
// backend satisfies, and a registry to pick one by name.
package transport

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/codec"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/config"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/metrics"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// Capability names one operation or behavior a backend supports.
type Capability string

const (
	CapConnect     Capability = "connect"
	CapListen      Capability = "listen"
	CapSend        Capability = "send"
	CapRequest     Capability = "request"
	CapSubscribe   Capability = "subscribe"
	CapUnsubscribe Capability = "unsubscribe"
	CapClose       Capability = "close"

	// CapReconnect means the backend reconnects on its own after a failure.
	CapReconnect Capability = "reconnect"
	// CapBuffer means outbound traffic is buffered while disconnected.
	CapBuffer Capability = "buffer"
	// CapSequence means inbound emits carry sender sequence numbers.
	CapSequence Capability = "sequence"
	// CapBroadcast means every request reaches every participant, so only
	// the one holding a handler answers.
	CapBroadcast Capability = "broadcast"
)

// BaseCapabilities is the set every backend provides.
var BaseCapabilities = []Capability{
	CapConnect, CapListen, CapSend, CapRequest, CapSubscribe, CapUnsubscribe, CapClose,
}

// Info contains descriptive metadata about a transport.
type Info struct {
	// Name is the registry name: "inproc", "ws", "stdio", "nats".
	Name string

	// Dependencies lists the external modules the backend needs.
	Dependencies []string

	Capabilities []Capability

	// RemoteAddr and LocalAddr are set for network transports.
	RemoteAddr string
	LocalAddr  string
}

// Has reports whether the transport supports c.
func (i Info) Has(c Capability) bool {
	return slices.Contains(i.Capabilities, c)
}

// Delivery reports what happened to an outbound envelope.
type Delivery uint8

const (
	// DeliveryLocal means the envelope was handled in-process.
	DeliveryLocal Delivery = iota
	// DeliverySent means the envelope was written to the link.
	DeliverySent
	// DeliveryBuffered means the envelope waits for the link to open.
	DeliveryBuffered
	// DeliveryDropped means the envelope was discarded.
	DeliveryDropped
)

func (d Delivery) String() string {
	switch d {
	case DeliveryLocal:
		return "local"
	case DeliverySent:
		return metrics.ResultSent
	case DeliveryBuffered:
		return metrics.ResultBuffered
	case DeliveryDropped:
		return metrics.ResultDropped
	default:
		return fmt.Sprintf("delivery(%d)", uint8(d))
	}
}

// Inbound receives the envelopes a transport decodes.
type Inbound interface {
	HandleEnvelope(env wire.Envelope)
}

// InboundFunc adapts a function to Inbound.
type InboundFunc func(env wire.Envelope)

func (f InboundFunc) HandleEnvelope(env wire.Envelope) { f(env) }

// Transport moves wire traffic between a connection and its remote side.
//
// Listen installs the inbound dispatcher and must be called before Connect.
// Send never blocks on the network: it writes, buffers or drops. Errors from
// the link drive the backend's own state machine instead of being returned.
type Transport interface {
	// Info returns the backend metadata.
	Info() Info

	// Connect starts the link. Reconnecting backends return once the first
	// attempt is scheduled, not when it succeeds.
	Connect(ctx context.Context) error

	// Listen sets the dispatcher for inbound envelopes.
	Listen(in Inbound) error

	// Send ships env or buffers it.
	Send(env wire.Envelope) (Delivery, error)

	// Request ships a Discrete send. It fails when the envelope was dropped.
	Request(env wire.Envelope) error

	// Subscribe declares interest in a wire.
	Subscribe(id wire.ID) error

	// Unsubscribe withdraws interest in a wire.
	Unsubscribe(id wire.ID) error

	// Close shuts the transport down. It is safe to call multiple times.
	Close() error

	// Done returns a channel that's closed when the transport is closed.
	Done() <-chan struct{}
}

// State is the lifecycle state of a connection-oriented transport.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateDisconnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stateful is implemented by transports with a connection lifecycle.
type Stateful interface {
	State() State
	// OnStateChange registers fn for every transition.
	OnStateChange(fn func(from, to State))
}

// Settings carries everything a factory may need. Backends ignore the
// fields that don't apply to them.
type Settings struct {
	URL     string
	Codec   codec.Codec
	Options config.Options
	Metrics *metrics.Metrics

	// NATS configures the broker bridge.
	NATS config.NATSConfig

	// Reader and Writer are the stdio streams; nil means os.Stdin/os.Stdout.
	Reader io.Reader
	Writer io.Writer
}

// GenerateID generates a unique transport/peer ID.
func GenerateID() string {
	return uuid.New().String()
}
