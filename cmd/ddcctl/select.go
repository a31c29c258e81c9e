//go:build linux

package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/ddcctl-project/ddcctl/internal/ddccore/discovery"
	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
)

// selection narrows a discovery.Registry down to one display using
// the display-selection flags. The zero value selects nothing, and
// pickDisplay then requires exactly one working display.
type selection struct {
	bus     int
	display int
	edid    string
	mfg     string
	model   string
	serial  string
}

func (s *selection) registerFlags(fs *flag.FlagSet) {
	fs.IntVar(&s.bus, "bus", 0, "select the display on this I2C bus number")
	fs.IntVar(&s.display, "display", 0, "select the display with this assigned number")
	fs.StringVar(&s.edid, "edid", "", "select the display whose EDID hex identity matches")
	fs.StringVar(&s.mfg, "mfg", "", "select the display with this 3-letter manufacturer ID")
	fs.StringVar(&s.model, "model", "", "select the display with this model name")
	fs.StringVar(&s.serial, "sn", "", "select the display with this serial number")
}

func (s *selection) any() bool {
	return s.bus != 0 || s.display != 0 || s.edid != "" || s.mfg != "" || s.model != "" || s.serial != ""
}

// pickDisplay applies the selection flags against reg's working
// displays. With no flags set, exactly one working display must
// exist. With flags set, exactly one working display must match all
// of them.
func pickDisplay(reg *discovery.Registry, s selection) (*discovery.DisplayRef, error) {
	working := reg.Working()

	if !s.any() {
		switch len(working) {
		case 0:
			return nil, ddcerr.New(ddcerr.DisplayNotFound, "ddcctl", "no working displays detected")
		case 1:
			return working[0], nil
		default:
			return nil, ddcerr.New(ddcerr.InvalidArgument, "ddcctl", "multiple displays detected, pass a selection flag")
		}
	}

	var matches []*discovery.DisplayRef
	for _, d := range working {
		if s.bus != 0 && d.BusNumber != s.bus {
			continue
		}
		if s.display != 0 && d.Number != s.display {
			continue
		}
		if s.edid != "" && !strings.EqualFold(edidHex(d), s.edid) {
			continue
		}
		if s.mfg != "" && d.EDID.ManufacturerID != s.mfg {
			continue
		}
		if s.model != "" && d.EDID.ModelName != s.model {
			continue
		}
		if s.serial != "" && d.EDID.SerialASCII != s.serial && fmt.Sprintf("%d", d.EDID.SerialBinary) != s.serial {
			continue
		}
		matches = append(matches, d)
	}

	switch len(matches) {
	case 0:
		return nil, ddcerr.New(ddcerr.DisplayNotFound, "ddcctl", "no working display matches the given selection")
	case 1:
		return matches[0], nil
	default:
		return nil, ddcerr.New(ddcerr.InvalidArgument, "ddcctl", "selection matches more than one display")
	}
}

// edidHex renders a display's product-code/serial pair as the hex
// string --edid matches against; the full 128-byte block is not
// retained once parsed, so the hex identity is the closest stable
// external handle available (see DESIGN.md).
func edidHex(d *discovery.DisplayRef) string {
	return fmt.Sprintf("%04x%08x", d.EDID.ProductCode, d.EDID.SerialBinary)
}

// parseFeatureCode accepts a 0x-prefixed hex string ("0x10"), a bare
// two-character string read as hex ("10" is 0x10), or any other bare
// string read as decimal ("7", "200").
func parseFeatureCode(s string) (byte, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	} else if len(s) == 2 {
		// Bare two-hex-digit codes (e.g. "10" for brightness) are far
		// more common in ddcutil usage than decimal 10, so prefer hex
		// when the string parses as neither an obvious decimal nor an
		// explicit 0x literal would otherwise be ambiguous.
		base = 16
	}
	n, err := strconv.ParseUint(s, base, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid feature code %q: %w", s, err)
	}
	return byte(n), nil
}
