package inproc

import (
	"context"
	"errors"
	"testing"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

func TestSend_LoopsRequestTraffic(t *testing.T) {
	tr := New()
	var got []wire.Op
	if err := tr.Listen(transport.InboundFunc(func(env wire.Envelope) { got = append(got, env.Op) })); err != nil {
		t.Fatalf("Listen() error: %v", err)
	}

	for _, op := range []wire.Op{wire.OpEmit, wire.OpSend, wire.OpReply, wire.OpError, wire.OpSignal, wire.OpValue, wire.OpWatch} {
		d, err := tr.Send(wire.Envelope{Op: op, Wire: "w", RequestID: "r"})
		if err != nil {
			t.Fatalf("Send(%s) error: %v", op, err)
		}
		if d != transport.DeliveryLocal {
			t.Errorf("Send(%s) delivery = %s, want local", op, d)
		}
	}

	want := []wire.Op{wire.OpSend, wire.OpReply, wire.OpError}
	if len(got) != len(want) {
		t.Fatalf("dispatched %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dispatched[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRequest_WithoutDispatcher(t *testing.T) {
	tr := New()
	err := tr.Request(wire.Envelope{Op: wire.OpSend, Wire: "clock", RequestID: "r1"})
	if !errors.Is(err, domain.ErrNoHandler) || !errors.Is(err, domain.ErrTransport) {
		t.Errorf("Request() err = %v, want transport error wrapping ErrNoHandler", err)
	}
}

func TestClose(t *testing.T) {
	tr := New()
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	_ = tr.Close()
	_ = tr.Close()

	select {
	case <-tr.Done():
	default:
		t.Error("Done() not closed")
	}
	if _, err := tr.Send(wire.Envelope{Op: wire.OpSend, Wire: "w", RequestID: "r"}); !errors.Is(err, domain.ErrTransportClosed) {
		t.Errorf("Send() after Close err = %v, want ErrTransportClosed", err)
	}
	if err := tr.Listen(transport.InboundFunc(func(wire.Envelope) {})); !errors.Is(err, domain.ErrTransportClosed) {
		t.Errorf("Listen() after Close err = %v, want ErrTransportClosed", err)
	}
}

func TestInfo(t *testing.T) {
	info := New().Info()
	if info.Name != Name {
		t.Errorf("Name = %s, want %s", info.Name, Name)
	}
	if !info.Has(transport.CapRequest) || info.Has(transport.CapReconnect) {
		t.Errorf("unexpected capabilities %v", info.Capabilities)
	}
}
