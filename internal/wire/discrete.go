package wire

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
)

// ReplyFunc answers a Discrete request.
type ReplyFunc func(ctx context.Context, data any) (any, error)

// Request is an incoming Discrete request as seen by request observers.
type Request struct {
	ID   string `json:"request-id"`
	Data any    `json:"data"`
}

// SendOptions carries the callbacks of a Discrete send. Exactly one of
// OnReply and OnError fires, at most once. A zero Timeout waits forever.
type SendOptions struct {
	OnReply func(data any)
	OnError func(err error)
	Timeout time.Duration
}

type pendingRequest struct {
	onReply func(any)
	onError func(error)
	timer   *time.Timer
}

type replyHandler struct {
	id uint64
	fn ReplyFunc
}

// DiscreteWire is the shared state of a Discrete wire: one reply handler, the
// in-flight requests sent from this side and the request observers.
type DiscreteWire struct {
	id ID

	mu      ksync.Mutex
	handler *replyHandler
	nextID  uint64
	pending map[string]*pendingRequest
	timeout func(reqID string)

	observers fanout[Request]
}

// NewDiscreteWire creates a Discrete wire with no handler.
func NewDiscreteWire(id ID) *DiscreteWire {
	return &DiscreteWire{
		id:        id,
		pending:   make(map[string]*pendingRequest),
		observers: fanout[Request]{wire: id},
	}
}

func (w *DiscreteWire) ID() ID     { return w.id }
func (w *DiscreteWire) Kind() Kind { return KindDiscrete }

// Reply installs fn as the single handler, replacing any previous one.
// Unsubscribing a replaced handler leaves its successor in place.
func (w *DiscreteWire) Reply(fn ReplyFunc) *Subscription {
	w.mu.Lock()
	w.nextID++
	h := &replyHandler{id: w.nextID, fn: fn}
	w.handler = h
	w.mu.Unlock()

	return newSubscription(w.id, KindDiscrete, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.handler != nil && w.handler.id == h.id {
			w.handler = nil
		}
	})
}

// OnTimeout sets a hook called for every request that times out.
func (w *DiscreteWire) OnTimeout(fn func(reqID string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeout = fn
}

// HasHandler reports whether a reply handler is installed.
func (w *DiscreteWire) HasHandler() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handler != nil
}

// ObserveRequests registers fn for every incoming request.
func (w *DiscreteWire) ObserveRequests(fn func(Request)) *Subscription {
	h := w.observers.subscribe(fn, true, nil)
	return newSubscription(w.id, KindDiscrete, func() { w.observers.unsubscribe(h) })
}

// Handle runs an incoming request through the observers and then the handler.
// A panicking handler is reported as a HandlerError.
func (w *DiscreteWire) Handle(ctx context.Context, req Request) (any, error) {
	w.observers.publish(func() (Request, bool) { return req, true })

	w.mu.Lock()
	h := w.handler
	w.mu.Unlock()
	if h == nil {
		return nil, domain.ErrNoHandler
	}
	return w.invoke(ctx, h.fn, req.Data)
}

func (w *DiscreteWire) invoke(ctx context.Context, fn ReplyFunc, data any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &domain.HandlerError{Wire: string(w.id), Panic: r, Err: fmt.Errorf("%v", r)}
		}
	}()
	result, err = fn(ctx, data)
	if err != nil {
		err = &domain.HandlerError{Wire: string(w.id), Err: err}
	}
	return result, err
}

// Track records an outgoing request and starts its timeout.
func (w *DiscreteWire) Track(reqID string, opts SendOptions) {
	p := &pendingRequest{onReply: opts.OnReply, onError: opts.OnError}

	w.mu.Lock()
	w.pending[reqID] = p
	if opts.Timeout > 0 {
		after := opts.Timeout
		p.timer = time.AfterFunc(after, func() {
			if w.take(reqID) == nil {
				return
			}
			w.mu.Lock()
			hook := w.timeout
			w.mu.Unlock()
			if hook != nil {
				hook(reqID)
			}
			log.Debug().Str("wire", string(w.id)).Str("request_id", reqID).Dur("after", after).Msg("request timed out")
			p.fail(&domain.TimeoutError{Wire: string(w.id), RequestID: reqID, After: after})
		})
	}
	w.mu.Unlock()
}

func (w *DiscreteWire) take(reqID string) *pendingRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pending[reqID]
	if !ok {
		return nil
	}
	delete(w.pending, reqID)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

// Resolve completes a pending request with a reply. Unknown or already
// completed ids are ignored; it reports whether a request was completed.
func (w *DiscreteWire) Resolve(reqID string, data any) bool {
	p := w.take(reqID)
	if p == nil {
		return false
	}
	p.succeed(data)
	return true
}

// Reject completes a pending request with an error. Unknown or already
// completed ids are ignored.
func (w *DiscreteWire) Reject(reqID string, err error) bool {
	p := w.take(reqID)
	if p == nil {
		return false
	}
	p.fail(err)
	return true
}

// Cancel drops a pending request without running its callbacks.
func (w *DiscreteWire) Cancel(reqID string) {
	w.take(reqID)
}

// IsPending reports whether reqID still awaits an answer.
func (w *DiscreteWire) IsPending(reqID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[reqID]
	return ok
}

// Pending returns the number of in-flight requests.
func (w *DiscreteWire) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *DiscreteWire) close() {
	w.mu.Lock()
	w.handler = nil
	pending := w.pending
	w.pending = make(map[string]*pendingRequest)
	w.mu.Unlock()

	for _, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.fail(domain.ErrConnectionClosed)
	}
	w.observers.clear()
}

func (p *pendingRequest) succeed(data any) {
	if p.onReply == nil {
		return
	}
	defer recoverCallback("on-reply")
	p.onReply(data)
}

func (p *pendingRequest) fail(err error) {
	if p.onError == nil {
		return
	}
	defer recoverCallback("on-error")
	p.onError(err)
}

func recoverCallback(name string) {
	if r := recover(); r != nil {
		log.Warn().Str("callback", name).Interface("panic", r).Msg("send callback panicked")
	}
}

// Discrete is a handle on a DiscreteWire bound to a router.
type Discrete struct {
	w       *DiscreteWire
	router  Router
	timeout time.Duration
	mode    Mode
}

// BindDiscrete returns a handle on w. A nil router answers requests with the
// local handler. timeout applies to sends whose options leave it zero.
func BindDiscrete(w *DiscreteWire, router Router, timeout time.Duration) *Discrete {
	return &Discrete{w: w, router: router, timeout: timeout}
}

func (d *Discrete) ID() ID              { return d.w.id }
func (d *Discrete) Kind() Kind          { return KindDiscrete }
func (d *Discrete) Wire() *DiscreteWire { return d.w }
func (d *Discrete) Mode() Mode          { return d.mode }

// WithMode sets the delivery mode Chan uses.
func (d *Discrete) WithMode(m Mode) *Discrete {
	d.mode = m
	return d
}

// Send issues a request and returns its id. The result arrives through opts.
func (d *Discrete) Send(data any, opts SendOptions) string {
	if opts.Timeout == 0 {
		opts.Timeout = d.timeout
	}
	reqID := uuid.NewString()
	d.w.Track(reqID, opts)

	if d.router == nil {
		result, err := d.w.Handle(context.Background(), Request{ID: reqID, Data: data})
		if err != nil {
			d.w.Reject(reqID, err)
		} else {
			d.w.Resolve(reqID, result)
		}
		return reqID
	}

	env := Envelope{Op: OpSend, Wire: d.w.id, Data: data, RequestID: reqID}
	if err := d.router.Request(env); err != nil {
		d.w.Reject(reqID, err)
	}
	return reqID
}

// Request sends data and waits for the outcome or for ctx to end.
func (d *Discrete) Request(ctx context.Context, data any) (any, error) {
	type outcome struct {
		data any
		err  error
	}
	ch := make(chan outcome, 1)
	reqID := d.Send(data, SendOptions{
		OnReply: func(v any) { ch <- outcome{data: v} },
		OnError: func(err error) { ch <- outcome{err: err} },
	})

	select {
	case o := <-ch:
		return o.data, o.err
	case <-ctx.Done():
		d.w.Cancel(reqID)
		return nil, ctx.Err()
	}
}

// Reply installs fn as the wire's only handler.
func (d *Discrete) Reply(fn ReplyFunc) *Subscription {
	sub := d.w.Reply(fn)
	if d.router != nil {
		d.router.Track(sub)
	}
	return sub
}

// ObserveRequests registers fn for every incoming request.
func (d *Discrete) ObserveRequests(fn func(Request)) *Subscription {
	sub := d.w.ObserveRequests(fn)
	if d.router != nil {
		d.router.Track(sub)
	}
	return sub
}
