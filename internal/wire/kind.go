// Package wire implements the three wire kinds (Stream, Discrete, Signal)
// and the envelope that carries their traffic between participants.
//
// A wire's shared state (listeners, pending requests, current value) lives in a
// *StreamWire, *DiscreteWire or *SignalWire stored in a hub. Application code
// works with handles (Stream, Discrete, Signal) that bind that shared state to
// the Router of the connection it was obtained from.
package wire

import "fmt"

// ID identifies a wire within a hub. It is chosen by the application.
type ID string

// Kind is the fixed type of a wire.
type Kind uint8

const (
	// KindStream is a fire-and-forget, multi-listener channel.
	KindStream Kind = iota + 1
	// KindDiscrete is a single-handler request/response channel.
	KindDiscrete
	// KindSignal is a replicated value with watchers.
	KindSignal
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindDiscrete:
		return "discrete"
	case KindSignal:
		return "signal"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "stream":
		return KindStream, nil
	case "discrete":
		return KindDiscrete, nil
	case "signal":
		return KindSignal, nil
	}
	return 0, fmt.Errorf("unknown wire kind %q", s)
}

// Wire is the shared identity of every wire kind.
type Wire interface {
	ID() ID
	Kind() Kind
}
