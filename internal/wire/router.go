package wire

// Router carries wire operations beyond the process. A connection implements
// it over its hub and transport. Handles bound to a nil Router stay local.
type Router interface {
	// Publish fans an emit or signal envelope out to peers and the transport.
	Publish(env Envelope)

	// Request ships a Discrete send envelope. An error means it cannot be
	// delivered at all and fails the request immediately.
	Request(env Envelope) error

	// Listen declares interest in a Stream wire.
	Listen(id ID)

	// Watch asks the remote side for the authoritative value of a Signal.
	Watch(id ID)

	// Track records a subscription so it can be removed when the owner closes.
	Track(sub *Subscription)
}
