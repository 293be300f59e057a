package codec

import (
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func stripField(t *testing.T, frame []byte, field string) []byte {
	t.Helper()
	var s structpb.Struct
	if err := proto.Unmarshal(frame, &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	delete(s.Fields, field)
	out, err := proto.Marshal(&s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return out
}
