//go:build linux

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ddcctl-project/ddcctl/ddc"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/discovery"
	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
)

func runDetect(ctx context.Context, c *ddc.Context, logger zerolog.Logger, daemon bool, interval time.Duration) int {
	if !daemon {
		reg, err := ddc.Displays(ctx, c)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ddcctl: %v\n", err)
			return exitCode(ddcerr.KindOf(err))
		}
		printDetect(os.Stdout, reg)
		return 0
	}

	// Daemon mode rescans on a ticker and logs changes in working
	// display count, the same ticker-driven "run forever, react to
	// state transitions" shape the rest of the engine's teardown
	// lifecycle is built around.
	prevWorking := -1
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logDetect := func() int {
		reg, err := rescan(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("rescan failed")
			return exitCode(ddcerr.KindOf(err))
		}
		working := len(reg.Working())
		if working != prevWorking {
			logger.Info().Int("working_displays", working).Msg("display set changed")
			prevWorking = working
		}
		return 0
	}

	if code := logDetect(); code != 0 {
		return code
	}
	for {
		select {
		case <-ctx.Done():
			return exitCode(ddcerr.Cancelled)
		case <-ticker.C:
			logDetect()
		}
	}
}

// rescan forces a fresh discovery pass for daemon mode: ddc.Context
// caches its first scan for the process lifetime, so a long-running daemon needs its own
// loop rather than calling ddc.Displays repeatedly.
func rescan(ctx context.Context) (*ddc.Registry, error) {
	return discovery.Scan(ctx, discovery.Options{})
}

func runGetVCP(ctx context.Context, c *ddc.Context, sel selection, features []string) int {
	if len(features) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ddcctl getvcp FEATURE [FEATURE...]")
		return exitCode(ddcerr.InvalidArgument)
	}

	handle, _, err := selectedHandle(ctx, c, sel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ddcctl: %v\n", err)
		return exitCode(ddcerr.KindOf(err))
	}

	dominant := ddcerr.Unknown
	for _, f := range features {
		code, err := parseFeatureCode(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ddcctl: %v\n", err)
			dominant = ddcerr.InvalidArgument
			continue
		}
		v, err := ddc.GetVCP(ctx, c, handle, ddc.FeatureCode(code))
		if err != nil {
			fmt.Fprintf(os.Stderr, "VCP 0x%02x: %v\n", code, err)
			dominant = ddcerr.KindOf(err)
			continue
		}
		fmt.Printf("VCP 0x%02x: current=%d max=%d\n", code, v.CurrentValue, v.MaxValue)
	}
	return exitCode(dominant)
}

func runSetVCP(ctx context.Context, c *ddc.Context, sel selection, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: ddcctl setvcp FEATURE VALUE")
		return exitCode(ddcerr.InvalidArgument)
	}

	code, err := parseFeatureCode(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ddcctl: %v\n", err)
		return exitCode(ddcerr.InvalidArgument)
	}
	var value uint16
	if _, err := fmt.Sscanf(args[1], "%d", &value); err != nil {
		fmt.Fprintf(os.Stderr, "ddcctl: invalid value %q\n", args[1])
		return exitCode(ddcerr.InvalidArgument)
	}

	handle, _, err := selectedHandle(ctx, c, sel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ddcctl: %v\n", err)
		return exitCode(ddcerr.KindOf(err))
	}

	if err := ddc.SetVCP(ctx, c, handle, ddc.FeatureCode(code), value); err != nil {
		fmt.Fprintf(os.Stderr, "ddcctl: %v\n", err)
		return exitCode(ddcerr.KindOf(err))
	}
	return 0
}

func runCapabilities(ctx context.Context, c *ddc.Context, sel selection) int {
	handle, _, err := selectedHandle(ctx, c, sel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ddcctl: %v\n", err)
		return exitCode(ddcerr.KindOf(err))
	}

	tree, err := ddc.GetCapabilities(ctx, c, handle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ddcctl: %v\n", err)
		return exitCode(ddcerr.KindOf(err))
	}
	printCapabilities(os.Stdout, tree)
	return 0
}

func runDumpVCP(ctx context.Context, c *ddc.Context, sel selection, args []string) int {
	handle, d, err := selectedHandle(ctx, c, sel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ddcctl: %v\n", err)
		return exitCode(ddcerr.KindOf(err))
	}
	if err := cmdDumpVCP(ctx, c, handle, d, args); err != nil {
		fmt.Fprintf(os.Stderr, "ddcctl: %v\n", err)
		return exitCode(ddcerr.KindOf(err))
	}
	return 0
}

func runLoadVCP(ctx context.Context, c *ddc.Context, sel selection, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: ddcctl loadvcp FILE")
		return exitCode(ddcerr.InvalidArgument)
	}
	handle, _, err := selectedHandle(ctx, c, sel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ddcctl: %v\n", err)
		return exitCode(ddcerr.KindOf(err))
	}
	if err := cmdLoadVCP(ctx, c, handle, args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "ddcctl: %v\n", err)
		return exitCode(ddcerr.KindOf(err))
	}
	return 0
}

// selectedHandle resolves the selection flags against a fresh scan
// and returns both the DisplayHandle operations need and the
// DisplayRef dumpvcp wants for its EDID header.
func selectedHandle(ctx context.Context, c *ddc.Context, sel selection) (ddc.DisplayHandle, *ddc.DisplayRef, error) {
	reg, err := ddc.Displays(ctx, c)
	if err != nil {
		return 0, nil, err
	}
	d, err := pickDisplay(reg, sel)
	if err != nil {
		return 0, nil, err
	}
	return ddc.DisplayHandle(d.Number), d, nil
}
