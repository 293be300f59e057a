package wire

// SignalWire is the shared state of a Signal: the current value and its
// watchers.
type SignalWire struct {
	id  ID
	fan fanout[any]

	value any // guarded by fan.mu
}

// NewSignalWire creates a Signal holding initial.
func NewSignalWire(id ID, initial any) *SignalWire {
	return &SignalWire{id: id, fan: fanout[any]{wire: id}, value: initial}
}

func (w *SignalWire) ID() ID     { return w.id }
func (w *SignalWire) Kind() Kind { return KindSignal }

// Set replaces the current value and notifies every watcher.
func (w *SignalWire) Set(v any) {
	w.fan.publish(func() (any, bool) {
		w.value = v
		return v, true
	})
}

// Value returns the current value.
func (w *SignalWire) Value() any {
	w.fan.mu.Lock()
	defer w.fan.mu.Unlock()
	return w.value
}

// Watch registers fn. fn receives the current value before any later update.
func (w *SignalWire) Watch(fn func(any)) *Subscription {
	h := w.fan.subscribe(fn, false, func() (any, bool) { return w.value, true })
	return newSubscription(w.id, KindSignal, func() { w.fan.unsubscribe(h) })
}

// Watchers returns the number of registered watchers.
func (w *SignalWire) Watchers() int {
	return w.fan.count()
}

func (w *SignalWire) close() {
	w.fan.clear()
}

// Signal is a handle on a SignalWire bound to a router.
type Signal struct {
	w      *SignalWire
	router Router
	mode   Mode
}

// BindSignal returns a handle on w. A nil router keeps updates local.
func BindSignal(w *SignalWire, router Router) *Signal {
	return &Signal{w: w, router: router}
}

func (s *Signal) ID() ID            { return s.w.id }
func (s *Signal) Kind() Kind        { return KindSignal }
func (s *Signal) Wire() *SignalWire { return s.w }
func (s *Signal) Mode() Mode        { return s.mode }

// WithMode sets the delivery mode Chan uses.
func (s *Signal) WithMode(m Mode) *Signal {
	s.mode = m
	return s
}

// Value returns the local copy of the current value.
func (s *Signal) Value() any {
	return s.w.Value()
}

// Signal updates the value optimistically and forwards it to the router.
func (s *Signal) Signal(v any) {
	s.w.Set(v)
	if s.router != nil {
		s.router.Publish(Envelope{Op: OpSignal, Wire: s.w.id, Data: v})
	}
}

// Watch registers fn and asks the remote side for the authoritative value.
func (s *Signal) Watch(fn func(any)) *Subscription {
	sub := s.w.Watch(fn)
	if s.router != nil {
		s.router.Track(sub)
		s.router.Watch(s.w.id)
	}
	return sub
}
