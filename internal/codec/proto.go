package codec

import (
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// Proto encodes envelopes as a protobuf google.protobuf.Struct in binary
// frames. Payloads are limited to JSON-shaped values.
type Proto struct{}

func (Proto) Name() string { return "proto" }
func (Proto) Binary() bool { return true }

func (Proto) Encode(env wire.Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	fields := map[string]*structpb.Value{
		"op":   structpb.NewStringValue(env.Op.String()),
		"wire": structpb.NewStringValue(string(env.Wire)),
	}
	if env.Data != nil {
		data, err := toValue(env.Data)
		if err != nil {
			return nil, fmt.Errorf("proto encode %s data: %w", env.Op, err)
		}
		fields["data"] = data
	}
	if env.RequestID != "" {
		fields["request-id"] = structpb.NewStringValue(env.RequestID)
	}
	if env.Seq != 0 {
		fields["sequence"] = structpb.NewNumberValue(float64(env.Seq))
	}

	return proto.Marshal(&structpb.Struct{Fields: fields})
}

func (Proto) Decode(frame []byte) (wire.Envelope, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(frame, &s); err != nil {
		return wire.Envelope{}, domain.NewDecodeError("proto", err)
	}

	var env wire.Envelope
	op, err := wire.ParseOp(s.Fields["op"].GetStringValue())
	if err != nil {
		return wire.Envelope{}, domain.NewDecodeError("proto", err)
	}
	env.Op = op
	env.Wire = wire.ID(s.Fields["wire"].GetStringValue())
	env.RequestID = s.Fields["request-id"].GetStringValue()
	if seq, ok := s.Fields["sequence"]; ok {
		env.Seq = int64(seq.GetNumberValue())
	}
	if data, ok := s.Fields["data"]; ok {
		env.Data = fromValue(data.AsInterface())
	}

	if err := env.Validate(); err != nil {
		return wire.Envelope{}, domain.NewDecodeError("proto", err)
	}
	return env, nil
}

// toValue converts arbitrary payloads through their JSON form, which is the
// shape structpb accepts.
func toValue(v any) (*structpb.Value, error) {
	if val, err := structpb.NewValue(v); err == nil {
		return val, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}

// fromValue restores integers, which structpb carries as doubles.
func fromValue(v any) any {
	switch v := v.(type) {
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return int64(v)
		}
		return v
	case map[string]any:
		for k, item := range v {
			v[k] = fromValue(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = fromValue(item)
		}
		return v
	default:
		return v
	}
}
