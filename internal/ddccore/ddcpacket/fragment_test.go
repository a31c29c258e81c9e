package ddcpacket

import (
	"bytes"
	"testing"

	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
)

func TestAssembleFragmentsHappyPath(t *testing.T) {
	frags := []Fragment{
		{Offset: 0, Data: []byte("hello ")},
		{Offset: 6, Data: []byte("world")},
		{Offset: 11, Data: nil},
	}

	got, err := AssembleFragments(frags)
	if err != nil {
		t.Fatalf("AssembleFragments: %v", err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestAssembleFragmentsOutOfOrderOffsetRejected(t *testing.T) {
	frags := []Fragment{
		{Offset: 0, Data: []byte("abc")},
		{Offset: 10, Data: []byte("def")}, // gap: should be offset 3
	}

	got, err := AssembleFragments(frags)
	if got != nil {
		t.Fatalf("expected no partial value, got %v", got)
	}
	if ddcerr.KindOf(err) != ddcerr.InvalidResponse {
		t.Fatalf("expected InvalidResponse, got %v", err)
	}
}

func TestAssembleFragmentsFirstOffsetMustBeZero(t *testing.T) {
	frags := []Fragment{{Offset: 4, Data: []byte("abc")}}
	_, err := AssembleFragments(frags)
	if ddcerr.KindOf(err) != ddcerr.InvalidResponse {
		t.Fatalf("expected InvalidResponse, got %v", err)
	}
}

func TestSegmentPayloadChunking(t *testing.T) {
	data := make([]byte, 70)
	for i := range data {
		data[i] = byte(i)
	}

	frags := SegmentPayload(data)
	if len(frags) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(frags))
	}
	if frags[0].Offset != 0 || len(frags[0].Data) != 32 {
		t.Fatalf("fragment 0 malformed: %+v", frags[0])
	}
	if frags[2].Offset != 64 || len(frags[2].Data) != 6 {
		t.Fatalf("fragment 2 malformed: %+v", frags[2])
	}

	reassembled, err := AssembleFragments(append(frags, Fragment{Offset: 70, Data: nil}))
	if err != nil {
		t.Fatalf("AssembleFragments: %v", err)
	}
	if !bytes.Equal(reassembled, data) {
		t.Fatalf("reassembled data mismatch")
	}
}
