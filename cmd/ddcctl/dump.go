//go:build linux

package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ddcctl-project/ddcctl/ddc"
)

// vcpDump is the on-disk shape of dumpvcp/loadvcp:
// one display's feature values, keyed so loadvcp can restore them
// against a (possibly different) display without relying on dispno
// staying stable across runs.
type vcpDump struct {
	Manufacturer string        `yaml:"manufacturer"`
	Model        string        `yaml:"model,omitempty"`
	Serial       string        `yaml:"serial,omitempty"`
	Features     []featureDump `yaml:"features"`
}

type featureDump struct {
	Feature byte   `yaml:"feature"`
	Value   uint16 `yaml:"value"`
}

// knownFeatures is the fixed set dumpvcp probes absent an explicit
// list: brightness (0x10), contrast (0x12), color preset (0x14) and
// input source (0x60). The full VCP feature-code dictionary is an
// external collaborator this CLI does not carry.
var knownFeatures = []byte{0x10, 0x12, 0x14, 0x60}

func cmdDumpVCP(ctx context.Context, c *ddc.Context, handle ddc.DisplayHandle, d *ddc.DisplayRef, args []string) error {
	dump := vcpDump{Manufacturer: d.EDID.ManufacturerID, Model: d.EDID.ModelName, Serial: d.EDID.SerialASCII}

	for _, code := range knownFeatures {
		v, err := ddc.GetVCP(ctx, c, handle, ddc.FeatureCode(code))
		if err != nil {
			continue // unsupported features are expected; skip rather than abort the dump
		}
		dump.Features = append(dump.Features, featureDump{Feature: code, Value: v.CurrentValue})
	}

	out, err := yaml.Marshal(dump)
	if err != nil {
		return fmt.Errorf("encode dump: %w", err)
	}

	if len(args) == 0 {
		_, err = os.Stdout.Write(out)
		return err
	}
	return os.WriteFile(args[0], out, 0o644)
}

func cmdLoadVCP(ctx context.Context, c *ddc.Context, handle ddc.DisplayHandle, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read dump: %w", err)
	}

	var dump vcpDump
	if err := yaml.Unmarshal(raw, &dump); err != nil {
		return fmt.Errorf("decode dump: %w", err)
	}

	var firstErr error
	for _, f := range dump.Features {
		if err := ddc.SetVCP(ctx, c, handle, ddc.FeatureCode(f.Feature), f.Value); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
