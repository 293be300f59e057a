package wire

import (
	"fmt"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
)

// Op is the operation carried by an envelope.
type Op uint8

const (
	OpEmit Op = iota + 1
	OpSend
	OpReply
	OpError
	OpSignal
	OpValue
	OpWatch
)

var opNames = [...]string{
	OpEmit:   "emit",
	OpSend:   "send",
	OpReply:  "reply",
	OpError:  "error",
	OpSignal: "signal",
	OpValue:  "value",
	OpWatch:  "watch",
}

// String returns the wire-format name of the op.
func (o Op) String() string {
	if o.Valid() {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Valid reports whether o is one of the seven known ops.
func (o Op) Valid() bool {
	return o >= OpEmit && o <= OpWatch
}

// ParseOp parses the wire-format name of an op.
func ParseOp(s string) (Op, error) {
	for op := OpEmit; op <= OpWatch; op++ {
		if opNames[op] == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown op %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (o Op) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("invalid op %d", uint8(o))
	}
	return []byte(opNames[o]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Op) UnmarshalText(text []byte) error {
	op, err := ParseOp(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// Envelope is the transport-agnostic message shape.
// RequestID is set for send/reply/error, Seq for emit.
type Envelope struct {
	Op        Op     `json:"op"`
	Wire      ID     `json:"wire"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request-id,omitempty"`
	Seq       int64  `json:"sequence,omitempty"`
}

// Validate checks the fields each op requires.
func (e Envelope) Validate() error {
	if !e.Op.Valid() {
		return fmt.Errorf("invalid op %d", uint8(e.Op))
	}
	if e.Wire == "" {
		return fmt.Errorf("%s envelope without wire id", e.Op)
	}
	switch e.Op {
	case OpSend, OpReply, OpError:
		if e.RequestID == "" {
			return fmt.Errorf("%s envelope without request id", e.Op)
		}
	case OpEmit:
		if e.Seq < 0 {
			return fmt.Errorf("emit envelope with negative sequence %d", e.Seq)
		}
	case OpSignal, OpValue, OpWatch:
	}
	return nil
}

// ErrorPayload is the data of an error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorEnvelope builds the error answer to request reqID.
func NewErrorEnvelope(id ID, reqID string, err error) Envelope {
	return Envelope{
		Op:        OpError,
		Wire:      id,
		RequestID: reqID,
		Data: map[string]any{
			"code":    domain.ErrorCode(err),
			"message": err.Error(),
		},
	}
}

// RemoteErr converts the data of an error envelope into an error.
func RemoteErr(data any) error {
	switch v := data.(type) {
	case ErrorPayload:
		return &domain.RemoteError{Code: v.Code, Message: v.Message}
	case *ErrorPayload:
		return &domain.RemoteError{Code: v.Code, Message: v.Message}
	case map[string]any:
		code, _ := v["code"].(string)
		msg, _ := v["message"].(string)
		if code == "" {
			code = domain.CodeInternalError
		}
		return &domain.RemoteError{Code: code, Message: msg}
	case string:
		return &domain.RemoteError{Code: domain.CodeInternalError, Message: v}
	default:
		return &domain.RemoteError{Code: domain.CodeInternalError, Message: fmt.Sprint(v)}
	}
}
