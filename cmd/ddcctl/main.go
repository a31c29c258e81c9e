//go:build linux

// cmd/ddcctl/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ddcctl-project/ddcctl/ddc"
	"github.com/ddcctl-project/ddcctl/internal/ddcconf"
	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
	"github.com/ddcctl-project/ddcctl/internal/ddclog"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ddcctl <detect|getvcp|setvcp|capabilities|dumpvcp|loadvcp> [flags] [args...]")
		return exitCode(ddcerr.InvalidArgument)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "detect", "getvcp", "setvcp", "capabilities", "dumpvcp", "loadvcp":
	default:
		fmt.Fprintf(os.Stderr, "ddcctl: unknown command %q\n", cmd)
		return exitCode(ddcerr.InvalidArgument)
	}

	base, err := ddcconf.Load(ddcconf.DefaultConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ddcctl: %v\n", err)
		return exitCode(ddcerr.BadConfigurationFile)
	}

	fs, opts := ddcconf.FlagSet(cmd, base)
	var sel selection
	sel.registerFlags(fs)
	daemon := fs.Bool("daemon", false, "detect: rescan on an interval and log changes instead of exiting")
	interval := fs.Duration("interval", 30*time.Second, "detect --daemon: rescan interval")

	if err := fs.Parse(rest); err != nil {
		return exitCode(ddcerr.InvalidArgument)
	}

	logger := ddclog.New(ddclog.Options{Verbose: opts.Verbose, LogFile: opts.LogFile})

	c, err := ddc.Init(ddcconf.Serialize(*opts))
	if err != nil {
		logger.Error().Err(err).Msg("init failed")
		fmt.Fprintf(os.Stderr, "ddcctl: %v\n", err)
		return exitCode(ddcerr.KindOf(err))
	}
	ddc.WithLogger(c, logger)
	defer func() {
		if err := ddc.Teardown(c); err != nil {
			logger.Warn().Err(err).Msg("teardown failed")
		}
	}()

	ctx := context.Background()

	switch cmd {
	case "detect":
		return runDetect(ctx, c, logger, *daemon, *interval)
	case "getvcp":
		return runGetVCP(ctx, c, sel, fs.Args())
	case "setvcp":
		return runSetVCP(ctx, c, sel, fs.Args())
	case "capabilities":
		return runCapabilities(ctx, c, sel)
	case "dumpvcp":
		return runDumpVCP(ctx, c, sel, fs.Args())
	case "loadvcp":
		return runLoadVCP(ctx, c, sel, fs.Args())
	}
	return exitCode(ddcerr.InvalidArgument)
}

