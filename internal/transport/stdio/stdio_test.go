package stdio

import (
	"bytes"
	"context"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/codec"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/conn"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// collect feeds in to a transport and returns the first want envelopes it
// dispatches. Sends are dispatched on their own goroutines, so the channel
// stays open after the input ends.
func collect(t *testing.T, in string, want int, c codec.Codec, opts ...Option) []wire.Envelope {
	t.Helper()
	tr := New(strings.NewReader(in), io.Discard, c, nil, opts...)
	got := make(chan wire.Envelope, 16)
	_ = tr.Listen(transport.InboundFunc(func(env wire.Envelope) { got <- env }))
	_ = tr.Connect(context.Background())

	var out []wire.Envelope
	timeout := time.After(2 * time.Second)
	for len(out) < want {
		select {
		case env := <-got:
			out = append(out, env)
		case <-timeout:
			t.Fatalf("got %d envelopes, want %d: %v", len(out), want, out)
		}
	}

	<-tr.Done()
	select {
	case env := <-got:
		t.Errorf("unexpected extra envelope %+v", env)
	case <-time.After(20 * time.Millisecond):
	}
	return out
}

// lengthFrame encodes env with a Content-Length header.
func lengthFrame(t *testing.T, env wire.Envelope) string {
	t.Helper()
	var buf bytes.Buffer
	tr := New(strings.NewReader(""), &buf, codec.JSON{}, nil, WithFraming(FramingLength))
	if _, err := tr.Send(env); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	return buf.String()
}

func TestReadNewline(t *testing.T) {
	in := "{\"op\":\"emit\",\"wire\":\"mouse\",\"sequence\":1}\n" +
		"\r\n" +
		"garbage\n" +
		"{\"op\":\"signal\",\"wire\":\"status\",\"data\":\"up\"}"

	got := collect(t, in, 2, codec.JSON{})
	if got[0].Op != wire.OpEmit || got[0].Seq != 1 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Op != wire.OpSignal || got[1].Data != "up" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestWriteNewline(t *testing.T) {
	var buf bytes.Buffer
	tr := New(strings.NewReader(""), &buf, codec.JSON{}, nil)

	d, err := tr.Send(wire.Envelope{Op: wire.OpEmit, Wire: "mouse", Seq: 1})
	if err != nil || d != transport.DeliverySent {
		t.Fatalf("Send() = %s, %v", d, err)
	}
	if !strings.HasSuffix(buf.String(), "\n") || strings.Count(buf.String(), "\n") != 1 {
		t.Errorf("frame %q is not one line", buf.String())
	}
}

func TestLengthFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := New(strings.NewReader(""), &buf, codec.Proto{}, nil)
	env := wire.Envelope{Op: wire.OpSend, Wire: "clock", RequestID: "r1", Data: map[string]any{"client-time": int64(900)}}
	if _, err := w.Send(env); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "Content-Length: ") {
		t.Fatalf("binary codec frame without length header: %q", buf.String())
	}

	got := collect(t, buf.String(), 1, codec.Proto{})
	if !reflect.DeepEqual(got[0], env) {
		t.Errorf("read back %+v, want %+v", got, env)
	}
}

func TestReadLengthRejectsBadHeaders(t *testing.T) {
	valid := wire.Envelope{Op: wire.OpSignal, Wire: "status", Data: "up"}
	frame := lengthFrame(t, valid)

	tests := []struct {
		name string
		in   string
		want int
	}{
		{"huge length at end of input", "Content-Length: 99999999999999\r\n\r\nabc", 0},
		{"oversized body is skipped", "Content-Length: 600000\r\n\r\n" + strings.Repeat("x", 600000) + frame, 1},
		{"non-numeric length", "Content-Length: nope\r\n\r\n" + frame, 1},
		{"negative length", "Content-Length: -5\r\n\r\n" + frame, 1},
		{"zero length", "Content-Length: 0\r\n\r\n" + frame, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(t, tt.in, tt.want, codec.JSON{}, WithFraming(FramingLength))
			if tt.want == 1 && !reflect.DeepEqual(got[0], valid) {
				t.Errorf("read %+v, want %+v", got[0], valid)
			}
		})
	}
}

func TestClose(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	tr := New(r, io.Discard, codec.JSON{}, nil)
	_ = tr.Connect(context.Background())
	_ = tr.Close()
	_ = tr.Close()

	if _, err := tr.Send(wire.Envelope{Op: wire.OpEmit, Wire: "mouse"}); err == nil {
		t.Error("expected Send() to fail after Close")
	}
}

// pair wires two connections back to back over pipes.
func pair(t *testing.T) (*conn.Connection, *conn.Connection) {
	t.Helper()
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	t.Cleanup(func() {
		_ = aw.Close()
		_ = bw.Close()
	})

	a, err := conn.Open(context.Background(), conn.WithTransport(New(ar, aw, codec.JSON{}, nil)))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	b, err := conn.Open(context.Background(), conn.WithTransport(New(br, bw, codec.JSON{}, nil)))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestConnectionPair(t *testing.T) {
	a, b := pair(t)

	got := make(chan wire.Emission, 4)
	sb, _ := b.Stream("mouse")
	sb.Listen(func(e wire.Emission) { got <- e })

	db, _ := b.Discrete("clock")
	db.Reply(func(_ context.Context, data any) (any, error) {
		client := data.(map[string]any)["client-time"].(int64)
		return map[string]any{"server-time": int64(1000), "gap": 1000 - client}, nil
	})

	sa, _ := a.Stream("mouse")
	sa.Emit(map[string]any{"x": 100})

	select {
	case e := <-got:
		if e.Seq != 1 || !reflect.DeepEqual(e.Data, map[string]any{"x": int64(100)}) {
			t.Errorf("emission = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("emission not received")
	}

	da, _ := a.Discrete("clock")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := da.Request(ctx, map[string]any{"client-time": 900})
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	want := map[string]any{"server-time": int64(1000), "gap": int64(100)}
	if !reflect.DeepEqual(reply, want) {
		t.Errorf("reply = %v, want %v", reply, want)
	}
}
