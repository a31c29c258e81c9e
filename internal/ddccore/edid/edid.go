// Package edid parses the 128-byte EDID block read from I²C slave
// 0x50. It is a from-scratch parser over a fixed
// layout: no vendored EDID library appears anywhere in the example
// pack, and the format is small and protocol-specific enough that a
// dependency would add more indirection than it would save.
package edid

import (
	"fmt"

	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
)

// Size is the length of the base EDID block. A bus that answers with
// anything else is not a candidate display.
const Size = 128

var magic = [8]byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}

// EDID is the subset of the 128-byte block this engine needs for
// display identification and capability lookups.
type EDID struct {
	ManufacturerID    string // 3-letter PNP ID, e.g. "DEL"
	ProductCode       uint16
	SerialBinary      uint32
	SerialASCII       string // from a descriptor block, if present
	ModelName         string // from descriptor block 0xFC, if present
	StandardTimings   [8]StandardTiming
	ExtensionBlockRaw []byte // present only when read with --edid-read-size=256
}

// StandardTiming is one entry of the 8-entry standard timings bitmap.
type StandardTiming struct {
	Present       bool
	HorizontalPx  int
	AspectRatioID byte // raw 2-bit field; interpretation is display-class-specific
	RefreshHz     int
}

// Parse decodes the first 128 bytes of raw as an EDID block. If raw is
// 256 bytes, bytes 128:256 are kept verbatim as an extension block
// (--edid-read-size=256) but no identity field is ever
// read from it.
func Parse(raw []byte) (EDID, error) {
	if len(raw) != Size && len(raw) != 2*Size {
		return EDID{}, ddcerr.New(ddcerr.InvalidResponse, "edid.Parse",
			fmt.Sprintf("edid block length %d, want %d or %d", len(raw), Size, 2*Size))
	}

	base := raw[:Size]
	for i, b := range magic {
		if base[i] != b {
			return EDID{}, ddcerr.New(ddcerr.InvalidResponse, "edid.Parse", "missing EDID header magic")
		}
	}

	e := EDID{
		ManufacturerID: decodeManufacturerID(base[8], base[9]),
		ProductCode:    uint16(base[10]) | uint16(base[11])<<8,
		SerialBinary:   uint32(base[12]) | uint32(base[13])<<8 | uint32(base[14])<<16 | uint32(base[15])<<24,
	}

	for i := 0; i < 8; i++ {
		e.StandardTimings[i] = decodeStandardTiming(base[38+2*i], base[38+2*i+1])
	}

	for blk := 0; blk < 4; blk++ {
		off := 54 + blk*18
		desc := base[off : off+18]
		if desc[0] != 0 || desc[1] != 0 || desc[2] != 0 {
			continue // a detailed timing descriptor, not a display descriptor
		}
		switch desc[3] {
		case 0xFF:
			e.SerialASCII = decodeDescriptorText(desc[5:18])
		case 0xFC:
			e.ModelName = decodeDescriptorText(desc[5:18])
		}
	}

	if len(raw) == 2*Size {
		e.ExtensionBlockRaw = append([]byte(nil), raw[Size:]...)
	}

	return e, nil
}

// Identity returns the stable tuple this engine uses to recognize the
// same physical panel across runs and across duplicate buses:
// manufacturer, product code, and whichever serial field the panel
// actually populated. Persisted state is keyed by this identity, and
// discovery's phantom-filtering pass compares it across buses.
func (e EDID) Identity() string {
	return fmt.Sprintf("%s/%04x/%08x/%s", e.ManufacturerID, e.ProductCode, e.SerialBinary, e.SerialASCII)
}

// decodeManufacturerID unpacks the 3 5-bit characters from the two ID
// bytes (big-endian, bit 15 reserved 0).
func decodeManufacturerID(hi, lo byte) string {
	packed := uint16(hi)<<8 | uint16(lo)
	c1 := byte((packed>>10)&0x1F) + 'A' - 1
	c2 := byte((packed>>5)&0x1F) + 'A' - 1
	c3 := byte(packed&0x1F) + 'A' - 1
	return string([]byte{c1, c2, c3})
}

func decodeStandardTiming(a, b byte) StandardTiming {
	if a == 0x01 && b == 0x01 {
		return StandardTiming{}
	}
	return StandardTiming{
		Present:       true,
		HorizontalPx:  (int(a) + 31) * 8,
		AspectRatioID: b >> 6,
		RefreshHz:     int(b&0x3F) + 60,
	}
}

// decodeDescriptorText trims the EDID text-descriptor convention: a
// trailing 0x0A terminator followed by 0x20 padding.
func decodeDescriptorText(b []byte) string {
	for i, c := range b {
		if c == 0x0A {
			return string(b[:i])
		}
	}
	n := len(b)
	for n > 0 && b[n-1] == 0x20 {
		n--
	}
	return string(b[:n])
}
