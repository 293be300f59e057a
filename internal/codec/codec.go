// Package codec converts envelopes to and from transmissible frames.
package codec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// Codec encodes envelopes into frames and decodes them back.
type Codec interface {
	// Name returns the codec identifier used in configuration.
	Name() string

	// Binary reports whether frames must travel as binary messages.
	Binary() bool

	Encode(env wire.Envelope) ([]byte, error)

	// Decode parses a frame. Failures are *domain.DecodeError.
	Decode(frame []byte) (wire.Envelope, error)
}

var codecs = map[string]Codec{
	"json":  JSON{},
	"proto": Proto{},
}

// ByName returns the codec registered under name. An empty name selects JSON.
func ByName(name string) (Codec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "json"
	}
	c, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("unknown codec %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return c, nil
}

// Names returns the registered codec names in sorted order.
func Names() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
