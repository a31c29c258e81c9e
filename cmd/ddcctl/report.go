//go:build linux

package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/ddcctl-project/ddcctl/internal/ddccore/capabilities"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/discovery"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/vcp"
)

// printDetect renders one line per display, working displays first,
// in ascending dispno order (`detect`).
func printDetect(w io.Writer, reg *discovery.Registry) {
	for _, d := range reg.Working() {
		fmt.Fprintf(w, "Display %d: bus=%d mfg=%s model=%q serial=%q\n",
			d.Number, d.BusNumber, d.EDID.ManufacturerID, d.EDID.ModelName, d.EDID.SerialASCII)
	}
	for _, d := range reg.Displays {
		if d.Dialect.Working {
			continue
		}
		switch d.Number {
		case discovery.DispnoPhantom:
			fmt.Fprintf(w, "Phantom: bus=%d mfg=%s (duplicate of bus %d)\n", d.BusNumber, d.EDID.ManufacturerID, d.PhantomOf.BusNumber)
		case discovery.DispnoBusy:
			fmt.Fprintf(w, "Busy: bus=%d mfg=%s\n", d.BusNumber, d.EDID.ManufacturerID)
		default:
			fmt.Fprintf(w, "Not working: bus=%d mfg=%s\n", d.BusNumber, d.EDID.ManufacturerID)
		}
	}
}

// printCapabilities renders a parsed capabilities tree the way
// ddcutil's own `capabilities` report does: properties first, then
// the vcp() feature table with each feature's legal value set.
func printCapabilities(w io.Writer, tree *capabilities.Tree) {
	names := make([]string, 0, len(tree.Properties))
	for name := range tree.Properties {
		if name == "vcp" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s: %v\n", name, tree.Properties[name])
	}

	codes := make([]byte, 0)
	vcpSet := tree.VCP()
	for code := range vcpSet {
		codes = append(codes, byte(code))
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	fmt.Fprintln(w, "vcp:")
	for _, code := range codes {
		vs := vcpSet[vcp.FeatureCode(code)]
		if vs.Continuous {
			fmt.Fprintf(w, "  0x%02x: continuous\n", code)
			continue
		}
		fmt.Fprintf(w, "  0x%02x: %v\n", code, vs.Values)
	}

	for _, e := range tree.Errors {
		fmt.Fprintf(w, "warning: %s\n", e.Error())
	}
}
