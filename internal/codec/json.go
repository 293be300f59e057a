package codec

import (
	"bytes"
	"encoding/json"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// JSON encodes envelopes as JSON text frames.
type JSON struct{}

func (JSON) Name() string { return "json" }
func (JSON) Binary() bool { return false }

func (JSON) Encode(env wire.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (JSON) Decode(frame []byte) (wire.Envelope, error) {
	var env wire.Envelope
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return wire.Envelope{}, domain.NewDecodeError("json", err)
	}
	env.Data = normalizeNumbers(env.Data)
	if err := env.Validate(); err != nil {
		return wire.Envelope{}, domain.NewDecodeError("json", err)
	}
	return env, nil
}

// normalizeNumbers turns json.Number into int64 when the value is integral
// and float64 otherwise.
func normalizeNumbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, item := range v {
			v[k] = normalizeNumbers(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = normalizeNumbers(item)
		}
		return v
	default:
		return v
	}
}
