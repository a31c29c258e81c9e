package edid

import (
	"testing"

	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
)

func makeBlock() []byte {
	b := make([]byte, Size)
	copy(b, []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00})
	// manufacturer "DEL" packed: D=4,E=5,L=12 -> 00100 00101 01100
	b[8] = 0b00010000
	b[9] = 0b10101100
	b[10] = 0x34 // product code lo
	b[11] = 0x12 // product code hi
	b[12], b[13], b[14], b[15] = 0x01, 0x02, 0x03, 0x04

	// standard timing 0: unused marker
	b[38], b[39] = 0x01, 0x01

	// descriptor block 0 at offset 54: model name 0xFC
	off := 54
	b[off], b[off+1], b[off+2] = 0, 0, 0
	b[off+3] = 0xFC
	copy(b[off+5:], []byte("MyMonitor\n   "))

	return b
}

func TestParseHappyPath(t *testing.T) {
	e, err := Parse(makeBlock())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.ManufacturerID != "DEL" {
		t.Fatalf("expected manufacturer DEL, got %q", e.ManufacturerID)
	}
	if e.ProductCode != 0x1234 {
		t.Fatalf("expected product code 0x1234, got 0x%04x", e.ProductCode)
	}
	if e.ModelName != "MyMonitor" {
		t.Fatalf("expected model name MyMonitor, got %q", e.ModelName)
	}
	if e.StandardTimings[0].Present {
		t.Fatalf("expected standard timing 0 to be absent (unused marker)")
	}
}

func TestParseWrongLengthRejected(t *testing.T) {
	_, err := Parse(make([]byte, 100))
	if ddcerr.KindOf(err) != ddcerr.InvalidResponse {
		t.Fatalf("expected InvalidResponse, got %v", err)
	}
}

func TestParseBadMagicRejected(t *testing.T) {
	b := makeBlock()
	b[0] = 0xAB
	_, err := Parse(b)
	if ddcerr.KindOf(err) != ddcerr.InvalidResponse {
		t.Fatalf("expected InvalidResponse for bad magic, got %v", err)
	}
}

func TestParseWithExtensionBlock(t *testing.T) {
	base := makeBlock()
	ext := make([]byte, Size)
	ext[0] = 0x02
	full := append(base, ext...)

	e, err := Parse(full)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(e.ExtensionBlockRaw) != Size {
		t.Fatalf("expected extension block to be retained, got len %d", len(e.ExtensionBlockRaw))
	}
	if e.ManufacturerID != "DEL" {
		t.Fatalf("identity fields must still come from the base block")
	}
}
