package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/buffer"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/codec"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/config"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/conn"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/metrics"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/testutil"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

type testServer struct {
	*httptest.Server
	accept   atomic.Bool
	hits     atomic.Int32
	mu       sync.Mutex
	conns    []*websocket.Conn
	received chan wire.Envelope
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{received: make(chan wire.Envelope, 256)}
	s.accept.Store(true)
	upgrader := websocket.Upgrader{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if !s.accept.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()

		for {
			_, frame, err := c.ReadMessage()
			if err != nil {
				return
			}
			if env, err := (codec.JSON{}).Decode(frame); err == nil {
				s.received <- env
			}
		}
	}))
	t.Cleanup(func() {
		s.dropAll()
		s.Close()
	})
	return s
}

func (s *testServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *testServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func (s *testServer) write(t *testing.T, frame string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		t.Fatal("no server connection")
	}
	if err := s.conns[len(s.conns)-1].WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func (s *testServer) collect(t *testing.T, n int) []wire.Envelope {
	t.Helper()
	var out []wire.Envelope
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case env := <-s.received:
			out = append(out, env)
		case <-timeout:
			t.Fatalf("received %d envelopes, want %d", len(out), n)
		}
	}
	return out
}

func fastOptions() config.Options {
	return config.Options{
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 40 * time.Millisecond,
		ReconnectJitter:   -1,
	}
}

func startTransport(t *testing.T, url string, opts config.Options, m *metrics.Metrics) *Transport {
	t.Helper()
	tr := New(url, codec.JSON{}, opts, m)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func waitState(t *testing.T, tr *Transport, want transport.State) {
	t.Helper()
	testutil.Eventually(t, 2*time.Second, func() bool { return tr.State() == want }, "state "+want.String())
}

func emit(seq int64) wire.Envelope {
	return wire.Envelope{Op: wire.OpEmit, Wire: "mouse", Seq: seq, Data: seq}
}

func TestTransport_SendWhileOpen(t *testing.T) {
	srv := newTestServer(t)
	tr := startTransport(t, srv.url(), fastOptions(), nil)
	waitState(t, tr, transport.StateOpen)

	d, err := tr.Send(emit(1))
	if err != nil || d != transport.DeliverySent {
		t.Fatalf("Send() = %s, %v; want sent", d, err)
	}
	got := srv.collect(t, 1)
	if got[0].Seq != 1 || got[0].Wire != "mouse" {
		t.Errorf("server got %+v", got[0])
	}
	if info := tr.Info(); info.RemoteAddr == "" || !info.Has(transport.CapReconnect) {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestTransport_FlushBufferInOrderOnOpen(t *testing.T) {
	srv := newTestServer(t)
	srv.accept.Store(false)
	tr := startTransport(t, srv.url(), fastOptions(), nil)

	for seq := int64(1); seq <= 3; seq++ {
		d, err := tr.Send(emit(seq))
		if err != nil || d != transport.DeliveryBuffered {
			t.Fatalf("Send(%d) = %s, %v; want buffered", seq, d, err)
		}
	}
	if tr.Pending() != 3 {
		t.Fatalf("Pending() = %d, want 3", tr.Pending())
	}
	testutil.Eventually(t, 2*time.Second, func() bool { return tr.Attempt() >= 2 }, "reconnect attempts")

	srv.accept.Store(true)
	waitState(t, tr, transport.StateOpen)
	if _, err := tr.Send(emit(4)); err != nil {
		t.Fatalf("Send(4) error: %v", err)
	}

	got := srv.collect(t, 4)
	for i, env := range got {
		if env.Seq != int64(i+1) {
			t.Errorf("envelope %d has sequence %d, want %d", i, env.Seq, i+1)
		}
	}
	if tr.Attempt() != 0 {
		t.Errorf("Attempt() = %d after open, want 0", tr.Attempt())
	}
	if tr.Pending() != 0 {
		t.Errorf("Pending() = %d after flush, want 0", tr.Pending())
	}
}

func TestTransport_ReconnectsAfterDrop(t *testing.T) {
	srv := newTestServer(t)
	tr := startTransport(t, srv.url(), fastOptions(), nil)

	var mu sync.Mutex
	var transitions []transport.State
	tr.OnStateChange(func(_, to transport.State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})
	waitState(t, tr, transport.StateOpen)

	srv.dropAll()
	testutil.Eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) >= 3 && transitions[len(transitions)-1] == transport.StateOpen
	}, "reconnected")

	mu.Lock()
	defer mu.Unlock()
	want := []transport.State{transport.StateDisconnected, transport.StateReconnecting, transport.StateOpen}
	tail := transitions[len(transitions)-3:]
	for i := range want {
		if tail[i] != want[i] {
			t.Errorf("transitions = %v, want to end with %v", transitions, want)
			break
		}
	}
}

func TestTransport_BufferOverflowDropsNewest(t *testing.T) {
	srv := newTestServer(t)
	srv.accept.Store(false)
	opts := fastOptions()
	opts.BufferSize = 2
	tr := startTransport(t, srv.url(), opts, nil)

	_, _ = tr.Send(emit(1))
	_, _ = tr.Send(emit(2))
	d, err := tr.Send(emit(3))
	if err != nil || d != transport.DeliveryDropped {
		t.Errorf("Send(3) = %s, %v; want dropped", d, err)
	}

	err = tr.Request(wire.Envelope{Op: wire.OpSend, Wire: "clock", RequestID: "r1"})
	if !errors.Is(err, domain.ErrBufferOverflow) {
		t.Errorf("Request() err = %v, want ErrBufferOverflow", err)
	}
}

func TestTransport_BufferOverflowDropsOldest(t *testing.T) {
	srv := newTestServer(t)
	srv.accept.Store(false)
	opts := fastOptions()
	opts.BufferSize = 2
	policy := buffer.DropOldest
	opts.DropPolicy = &policy
	tr := startTransport(t, srv.url(), opts, nil)

	for seq := int64(1); seq <= 3; seq++ {
		if d, _ := tr.Send(emit(seq)); d != transport.DeliveryBuffered {
			t.Fatalf("Send(%d) = %s, want buffered", seq, d)
		}
	}
	srv.accept.Store(true)

	got := srv.collect(t, 2)
	if got[0].Seq != 2 || got[1].Seq != 3 {
		t.Errorf("flushed %v, want sequences 2 and 3", got)
	}
}

func TestTransport_DecodeErrorKeepsConnection(t *testing.T) {
	srv := newTestServer(t)
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("metrics.New() error: %v", err)
	}
	tr := New(srv.url(), codec.JSON{}, fastOptions(), m)
	inbound := make(chan wire.Envelope, 4)
	_ = tr.Listen(transport.InboundFunc(func(env wire.Envelope) { inbound <- env }))
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	waitState(t, tr, transport.StateOpen)

	srv.write(t, `{not json`)
	srv.write(t, `{"op":"teleport","wire":"mouse"}`)
	srv.write(t, `{"op":"emit","wire":"mouse","data":{"x":1},"sequence":1}`)

	select {
	case env := <-inbound:
		if env.Op != wire.OpEmit || env.Seq != 1 {
			t.Errorf("dispatched %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame not dispatched after malformed ones")
	}
	if tr.State() != transport.StateOpen {
		t.Errorf("State() = %s after decode errors, want open", tr.State())
	}

	families, _ := reg.Gather()
	var decodeErrors float64
	for _, f := range families {
		if f.GetName() == "kyano_transport_decode_errors_total" {
			for _, metric := range f.GetMetric() {
				decodeErrors += metric.GetCounter().GetValue()
			}
		}
	}
	if decodeErrors != 2 {
		t.Errorf("decode errors = %v, want 2", decodeErrors)
	}
}

func TestTransport_CloseIsTerminal(t *testing.T) {
	srv := newTestServer(t)
	tr := startTransport(t, srv.url(), fastOptions(), nil)
	waitState(t, tr, transport.StateOpen)

	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if tr.State() != transport.StateClosed {
		t.Errorf("State() = %s, want closed", tr.State())
	}
	select {
	case <-tr.Done():
	default:
		t.Error("Done() not closed")
	}
	if _, err := tr.Send(emit(1)); !errors.Is(err, domain.ErrTransportClosed) {
		t.Errorf("Send() after Close err = %v, want ErrTransportClosed", err)
	}

	hits := srv.hits.Load()
	time.Sleep(100 * time.Millisecond)
	if srv.hits.Load() != hits {
		t.Error("transport dialed again after Close")
	}
	if tr.State() != transport.StateClosed {
		t.Errorf("State() = %s after settling, want closed", tr.State())
	}
}

func TestConnection_RequestTimesOutWhileDisconnected(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a five second request timeout")
	}
	srv := newTestServer(t)
	srv.accept.Store(false)

	tr := New(srv.url(), codec.JSON{}, fastOptions(), nil)
	c, err := conn.Open(context.Background(),
		conn.WithTransport(tr),
		conn.WithOptions(config.Options{Timeout: 5 * time.Second}))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer c.Close()

	d, err := c.Discrete("clock")
	if err != nil {
		t.Fatalf("Discrete() error: %v", err)
	}

	errCh := make(chan error, 1)
	start := time.Now()
	d.Send(map[string]any{"client-time": 900}, wire.SendOptions{
		OnReply: func(any) { errCh <- errors.New("unexpected reply") },
		OnError: func(err error) { errCh <- err },
	})

	select {
	case err := <-errCh:
		elapsed := time.Since(start)
		if !errors.Is(err, domain.ErrRequestTimeout) {
			t.Fatalf("err = %v, want ErrRequestTimeout", err)
		}
		if elapsed < 5*time.Second {
			t.Errorf("timed out after %s, before the deadline", elapsed)
		}
	case <-time.After(7 * time.Second):
		t.Fatal("no timeout within 7s")
	}
}

func TestConnection_RoundTripOverSocket(t *testing.T) {
	srv := newTestServer(t)
	tr := New(srv.url(), codec.JSON{}, fastOptions(), nil)
	c, err := conn.Open(context.Background(), conn.WithTransport(tr))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer c.Close()
	waitState(t, tr, transport.StateOpen)

	s, _ := c.Stream("mouse")
	s.Emit(map[string]any{"x": 100})

	got := srv.collect(t, 1)
	if got[0].Op != wire.OpEmit || got[0].Seq != 1 {
		t.Errorf("server got %+v", got[0])
	}
	data, ok := got[0].Data.(map[string]any)
	if !ok || data["x"] != int64(100) {
		t.Errorf("data = %#v", got[0].Data)
	}
}

func TestTransport_BlockPolicyFlushesWaitingSender(t *testing.T) {
	srv := newTestServer(t)
	srv.accept.Store(false)
	opts := fastOptions()
	opts.BufferSize = 1
	policy := buffer.Block
	opts.DropPolicy = &policy
	tr := startTransport(t, srv.url(), opts, nil)

	if d, err := tr.Send(emit(1)); err != nil || d != transport.DeliveryBuffered {
		t.Fatalf("Send(1) = %s, %v; want buffered", d, err)
	}

	returned := make(chan transport.Delivery, 1)
	go func() {
		d, _ := tr.Send(emit(2))
		returned <- d
	}()
	select {
	case d := <-returned:
		t.Fatalf("Send(2) returned %s while the buffer was full", d)
	case <-time.After(50 * time.Millisecond):
	}

	srv.accept.Store(true)
	got := srv.collect(t, 2)
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Errorf("server got sequences %d, %d; want 1, 2", got[0].Seq, got[1].Seq)
	}
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked sender never returned")
	}
	testutil.Eventually(t, time.Second, func() bool { return tr.Pending() == 0 }, "pending drained")
}

func TestConnection_EvictedSendFailsRequest(t *testing.T) {
	srv := newTestServer(t)
	srv.accept.Store(false)
	opts := fastOptions()
	opts.BufferSize = 1
	policy := buffer.DropOldest
	opts.DropPolicy = &policy

	tr := New(srv.url(), codec.JSON{}, opts, nil)
	c, err := conn.Open(context.Background(), conn.WithTransport(tr))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer c.Close()

	d, err := c.Discrete("clock")
	if err != nil {
		t.Fatalf("Discrete() error: %v", err)
	}
	errCh := make(chan error, 1)
	d.Send("now", wire.SendOptions{
		OnReply: func(any) { errCh <- errors.New("unexpected reply") },
		OnError: func(err error) { errCh <- err },
	})

	// The emit pushes the buffered request out of the one-slot buffer.
	s, err := c.Stream("mouse")
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	s.Emit(1)

	select {
	case err := <-errCh:
		if !errors.Is(err, domain.ErrBufferOverflow) {
			t.Errorf("err = %v, want ErrBufferOverflow", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("evicted request never failed")
	}
	if tr.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", tr.Pending())
	}
}

func TestTransport_SendDoesNotBlockOnStalledPeer(t *testing.T) {
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		// Never read, so the client's socket backs up.
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	tr := New("ws"+strings.TrimPrefix(srv.URL, "http"), codec.JSON{}, fastOptions(), nil, WithSendQueue(4))
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	waitState(t, tr, transport.StateOpen)

	payload := strings.Repeat("x", 64<<10)
	start := time.Now()
	for i := 0; i < 200; i++ {
		d, err := tr.Send(wire.Envelope{Op: wire.OpEmit, Wire: "bulk", Seq: int64(i + 1), Data: payload})
		if err != nil {
			t.Fatalf("Send(%d) error: %v", i, err)
		}
		if d == transport.DeliveryDropped {
			t.Fatalf("Send(%d) dropped", i)
		}
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("200 sends to a stalled peer took %s", elapsed)
	}
}
