package wire

import (
	"time"

	"golang.org/x/time/rate"

	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
)

// Emission is one value delivered on a Stream, tagged with its sequence number.
type Emission struct {
	Seq  int64 `json:"sequence"`
	Data any   `json:"data"`
}

// StreamWire is the shared state of a Stream. It lives in a hub and is reached
// through Stream handles.
type StreamWire struct {
	id  ID
	fan fanout[Emission]

	seq int64 // guarded by fan.mu

	limMu   ksync.Mutex
	limiter *rate.Limiter
}

// NewStreamWire creates an empty Stream wire.
func NewStreamWire(id ID) *StreamWire {
	return &StreamWire{id: id, fan: fanout[Emission]{wire: id}}
}

func (w *StreamWire) ID() ID     { return w.id }
func (w *StreamWire) Kind() Kind { return KindStream }

// SetThrottle sets the minimum interval between outbound emissions. Zero
// disables throttling. Local listeners are never throttled.
func (w *StreamWire) SetThrottle(every time.Duration) {
	w.limMu.Lock()
	defer w.limMu.Unlock()
	if every <= 0 {
		w.limiter = nil
		return
	}
	w.limiter = rate.NewLimiter(rate.Every(every), 1)
}

func (w *StreamWire) allowOutbound() bool {
	w.limMu.Lock()
	lim := w.limiter
	w.limMu.Unlock()
	return lim == nil || lim.Allow()
}

// Emit assigns the next sequence number to data and delivers it to every
// listener and flow observer registered at this moment.
func (w *StreamWire) Emit(data any) Emission {
	var e Emission
	w.fan.publish(func() (Emission, bool) {
		w.seq++
		e = Emission{Seq: w.seq, Data: data}
		return e, true
	})
	return e
}

// Inject delivers an emission that arrived from a remote sender with its
// original sequence number. It also takes the next local sequence number,
// which numbers the emission when it is relayed onward.
func (w *StreamWire) Inject(seq int64, data any) (relay int64) {
	w.fan.publish(func() (Emission, bool) {
		w.seq++
		relay = w.seq
		return Emission{Seq: seq, Data: data}, true
	})
	return relay
}

// Listen registers fn for emissions that happen after this call.
func (w *StreamWire) Listen(fn func(Emission)) *Subscription {
	h := w.fan.subscribe(fn, false, nil)
	return newSubscription(w.id, KindStream, func() { w.fan.unsubscribe(h) })
}

// ObserveFlow registers a flow observer. Observers run after the listeners of
// each emission.
func (w *StreamWire) ObserveFlow(fn func(Emission)) *Subscription {
	h := w.fan.subscribe(fn, true, nil)
	return newSubscription(w.id, KindStream, func() { w.fan.unsubscribe(h) })
}

// Sent returns the last sequence number assigned on this wire.
func (w *StreamWire) Sent() int64 {
	w.fan.mu.Lock()
	defer w.fan.mu.Unlock()
	return w.seq
}

// Listeners returns the number of registered listeners and observers.
func (w *StreamWire) Listeners() int {
	return w.fan.count()
}

func (w *StreamWire) close() {
	w.fan.clear()
}

// Stream is a handle on a StreamWire bound to a router.
type Stream struct {
	w      *StreamWire
	router Router
	mode   Mode
}

// BindStream returns a handle on w. A nil router keeps emissions local.
func BindStream(w *StreamWire, router Router) *Stream {
	return &Stream{w: w, router: router}
}

func (s *Stream) ID() ID            { return s.w.id }
func (s *Stream) Kind() Kind        { return KindStream }
func (s *Stream) Wire() *StreamWire { return s.w }
func (s *Stream) Mode() Mode        { return s.mode }

// WithMode sets the delivery mode Chan uses.
func (s *Stream) WithMode(m Mode) *Stream {
	s.mode = m
	return s
}

// Emit delivers data locally and hands it to the router. It never fails.
func (s *Stream) Emit(data any) {
	e := s.w.Emit(data)
	if s.router != nil && s.w.allowOutbound() {
		s.router.Publish(Envelope{Op: OpEmit, Wire: s.w.id, Data: data, Seq: e.Seq})
	}
}

// Listen registers fn for later emissions. There is no replay.
func (s *Stream) Listen(fn func(Emission)) *Subscription {
	sub := s.w.Listen(fn)
	s.track(sub)
	return sub
}

// ObserveFlow registers a flow observer.
func (s *Stream) ObserveFlow(fn func(Emission)) *Subscription {
	sub := s.w.ObserveFlow(fn)
	s.track(sub)
	return sub
}

func (s *Stream) track(sub *Subscription) {
	if s.router != nil {
		s.router.Listen(s.w.id)
		s.router.Track(sub)
	}
}
