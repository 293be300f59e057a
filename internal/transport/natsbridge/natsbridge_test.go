package natsbridge

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/codec"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/config"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/conn"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

func TestSubject(t *testing.T) {
	tr := New(config.NATSConfig{SubjectPrefix: "demo."}, nil, config.Options{}, nil)

	tests := []struct {
		id   wire.ID
		want string
	}{
		{"mouse", "demo.mouse"},
		{"ui.mouse", "demo.ui_mouse"},
		{"a*b>c d", "demo.a_b_c_d"},
	}
	for _, tt := range tests {
		if got := tr.Subject(tt.id); got != tt.want {
			t.Errorf("Subject(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestDefaults(t *testing.T) {
	tr := New(config.NATSConfig{}, nil, config.Options{}, nil)
	if got := tr.Subject("x"); got != DefaultPrefix+".x" {
		t.Errorf("Subject() = %q with default prefix", got)
	}
	info := tr.Info()
	if !info.Has(transport.CapBroadcast) || info.Has(transport.CapSequence) {
		t.Errorf("unexpected capabilities %v", info.Capabilities)
	}
	if tr.State() != transport.StateConnecting {
		t.Errorf("State() = %s before Connect, want connecting", tr.State())
	}
}

func TestSendBeforeConnect(t *testing.T) {
	tr := New(config.NATSConfig{}, nil, config.Options{}, nil)
	d, err := tr.Send(wire.Envelope{Op: wire.OpEmit, Wire: "mouse", Seq: 1})
	if err == nil || d != transport.DeliveryDropped {
		t.Errorf("Send() = %s, %v; want dropped with error", d, err)
	}
	if err := tr.Request(wire.Envelope{Op: wire.OpSend, Wire: "clock", RequestID: "r1"}); err == nil {
		t.Error("expected Request() to fail before Connect")
	}

	_ = tr.Close()
	if tr.State() != transport.StateClosed {
		t.Errorf("State() = %s after Close, want closed", tr.State())
	}
	if err := tr.Connect(context.Background()); err == nil {
		t.Error("expected Connect() to fail after Close")
	}
}

// natsURL returns the broker for integration tests, skipping when unset.
func natsURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	return url
}

func openBridge(t *testing.T, url, prefix string) *conn.Connection {
	t.Helper()
	tr := New(config.NATSConfig{URL: url, SubjectPrefix: prefix}, codec.JSON{}, config.Options{}, nil)
	c, err := conn.Open(context.Background(), conn.WithTransport(tr))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestIntegration_Broadcast(t *testing.T) {
	url := natsURL(t)
	prefix := "kyano-test-" + transport.GenerateID()[:8]
	a := openBridge(t, url, prefix)
	b := openBridge(t, url, prefix)
	observer := openBridge(t, url, prefix)

	got := make(chan wire.Emission, 4)
	sb, _ := b.Stream("mouse")
	sb.Listen(func(e wire.Emission) { got <- e })

	db, _ := b.Discrete("clock")
	db.Reply(func(_ context.Context, data any) (any, error) {
		return map[string]any{"server-time": int64(1000)}, nil
	})
	// A participant without a handler must not answer.
	_, _ = observer.Discrete("clock")
	time.Sleep(100 * time.Millisecond)

	sa, _ := a.Stream("mouse")
	sa.Emit(map[string]any{"x": 100})
	select {
	case e := <-got:
		if e.Data.(map[string]any)["x"] != int64(100) {
			t.Errorf("emission = %+v", e)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("emission not received")
	}

	da, _ := a.Discrete("clock")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	reply, err := da.Request(ctx, map[string]any{"client-time": 900})
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	if reply.(map[string]any)["server-time"] != int64(1000) {
		t.Errorf("reply = %v", reply)
	}
}
