package hub

import (
	"errors"
	"testing"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/testutil"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

func TestChannelPeer(t *testing.T) {
	p := NewChannelPeer("c1", 1)

	if err := p.Send(wire.Envelope{Op: wire.OpEmit, Wire: "mouse", Seq: 1}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if err := p.Send(wire.Envelope{Op: wire.OpEmit, Wire: "mouse", Seq: 2}); !errors.Is(err, domain.ErrBufferOverflow) {
		t.Errorf("expected ErrBufferOverflow on full channel, got %v", err)
	}
	if env := <-p.Envelopes(); env.Seq != 1 {
		t.Errorf("expected sequence 1, got %d", env.Seq)
	}

	_ = p.Close()
	if err := p.Send(wire.Envelope{Op: wire.OpEmit, Wire: "mouse"}); !errors.Is(err, domain.ErrPeerClosed) {
		t.Errorf("expected ErrPeerClosed, got %v", err)
	}
	if _, ok := <-p.Envelopes(); ok {
		t.Error("expected channel to be closed")
	}
}

func TestLogPeer(t *testing.T) {
	var logged []wire.Envelope
	p := NewLogPeer("log", func(env wire.Envelope) { logged = append(logged, env) })

	_ = p.Send(wire.Envelope{Op: wire.OpSignal, Wire: "status"})
	_ = p.Close()
	_ = p.Send(wire.Envelope{Op: wire.OpSignal, Wire: "status"})

	if len(logged) != 1 {
		t.Errorf("expected 1 logged envelope, got %d", len(logged))
	}
}

func TestFilteredPeer(t *testing.T) {
	inner := testutil.NewMockPeer("inner")
	f := NewFilteredPeer(inner, "mouse")

	if f.ID() != "inner" {
		t.Errorf("expected ID inner, got %s", f.ID())
	}
	_ = f.Send(wire.Envelope{Op: wire.OpEmit, Wire: "mouse", Seq: 1})
	_ = f.Send(wire.Envelope{Op: wire.OpEmit, Wire: "keys", Seq: 1})
	if inner.Count() != 1 {
		t.Errorf("expected 1 forwarded envelope, got %d", inner.Count())
	}

	f.Select("keys")
	f.Deselect("mouse")
	if got := f.Selected(); len(got) != 1 || got[0] != "keys" {
		t.Errorf("Selected() = %v, want [keys]", got)
	}

	f.SelectAll()
	if f.IsFiltering() {
		t.Error("expected no filtering after SelectAll")
	}
	_ = f.Send(wire.Envelope{Op: wire.OpEmit, Wire: "anything", Seq: 1})
	if inner.Count() != 2 {
		t.Errorf("expected 2 forwarded envelopes, got %d", inner.Count())
	}
}
