// Package ddcconf resolves the engine's options from
// three layers, lowest priority first: built-in defaults, the user's
// ddcctlrc config file, and command-line flags. The merged result is
// serialized into the comma-separated options string
// internal/ddccore.Init accepts, so the core library stays agnostic
// of flags vs. ini.v1. Flag parsing uses the plain stdlib flag
// package; the config file is parsed with gopkg.in/ini.v1, a
// dependency suited to exactly this sectioned-file shape.
package ddcconf

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/ini.v1"
)

// Options is the merged configuration, independent of where each
// field came from.
type Options struct {
	MaxTries             []int // per retry.Class, in declaration order; nil entries unset
	SleepMultiplier      float64
	DisableDynamicSleep  bool
	DisableDisplaysCache bool
	DisableCapsCache     bool
	EnableUSB            bool
	EDIDReadSize         int

	Verbose bool
	LogFile string
}

// DefaultConfigPath returns the text file in the user's XDG config
// directory, ~/.config/ddcctl/ddcctlrc.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "ddcctl", "ddcctlrc")
}

// iniSection is the config file section holding the option line: it
// supplies a comma-separated line of options equivalent to the
// command-line vocabulary.
const iniSection = "ddcctl"

// Load reads configPath (if it exists; a missing file is not an
// error) and parses its option line as a comma-separated options
// string, the same grammar Init/Serialize use.
func Load(configPath string) (Options, error) {
	opts := Defaults()

	if configPath == "" {
		configPath = DefaultConfigPath()
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return opts, nil
	}

	cfg, err := ini.Load(configPath)
	if err != nil {
		return opts, fmt.Errorf("ddcconf: parse %s: %w", configPath, err)
	}

	line := cfg.Section(iniSection).Key("options").String()
	if line == "" {
		return opts, nil
	}
	if err := applyOptionsString(&opts, line); err != nil {
		return opts, fmt.Errorf("ddcconf: %s: %w", configPath, err)
	}
	return opts, nil
}

// Defaults returns the built-in option values, the lowest-priority
// layer of the merge.
func Defaults() Options {
	return Options{
		EDIDReadSize: 128,
	}
}

// FlagSet builds a flag.FlagSet covering every CLI-visible option
//, pre-populated from base so an unset flag falls back
// to whatever the config file (or defaults) already resolved.
// Calling Parse on the returned FlagSet writes the parsed values into
// the returned *Options, which starts as a copy of base.
func FlagSet(name string, base Options) (*flag.FlagSet, *Options) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	out := base

	fs.Float64Var(&out.SleepMultiplier, "sleep-multiplier", base.SleepMultiplier, "pin the DSA multiplier instead of adapting it")
	fs.BoolVar(&out.DisableDynamicSleep, "disable-dynamic-sleep", base.DisableDynamicSleep, "freeze DSA at its current multiplier")
	fs.BoolVar(&out.DisableDisplaysCache, "disable-displays-cache", base.DisableDisplaysCache, "skip the persisted per-display tuning cache")
	fs.BoolVar(&out.DisableCapsCache, "disable-capabilities-cache", base.DisableCapsCache, "skip the persisted capabilities-string cache")
	fs.BoolVar(&out.EnableUSB, "enable-usb", base.EnableUSB, "probe USB Monitor Control HID interfaces during discovery")
	fs.IntVar(&out.EDIDReadSize, "edid-read-size", base.EDIDReadSize, "128 or 256; 256 additionally retains the EDID extension block")
	fs.BoolVar(&out.Verbose, "verbose", base.Verbose, "raise the log level to debug")
	fs.StringVar(&out.LogFile, "log-file", base.LogFile, "additionally log to this rotated file")

	// The flag package has no direct []int binding; fs.Var with a
	// small adapter keeps maxtries going through the same fs.Parse
	// call as every other flag instead of a second manual pass.
	fs.Var(&maxTriesValue{target: &out.MaxTries}, "maxtries", "per-class retry caps, comma-separated (e.g. 4,6,8,8)")

	return fs, &out
}

// maxTriesValue adapts the comma-separated maxtries flag into
// flag.Value, writing straight into the Options this FlagSet call
// returned.
type maxTriesValue struct {
	target *[]int
}

func (v *maxTriesValue) String() string {
	if v.target == nil || len(*v.target) == 0 {
		return ""
	}
	strs := make([]string, len(*v.target))
	for i, n := range *v.target {
		strs[i] = strconv.Itoa(n)
	}
	return strings.Join(strs, ",")
}

func (v *maxTriesValue) Set(s string) error {
	parsed, err := parseMaxTries(s)
	if err != nil {
		return err
	}
	*v.target = parsed
	return nil
}

func parseMaxTries(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("maxtries: invalid integer %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

// Parse parses a standalone options string (the grammar
// internal/ddccore.Init accepts) against the built-in defaults,
// without touching any config file.
func Parse(s string) (Options, error) {
	opts := Defaults()
	if s == "" {
		return opts, nil
	}
	if err := applyOptionsString(&opts, s); err != nil {
		return opts, err
	}
	return opts, nil
}

// applyOptionsString parses the comma-separated token grammar shared
// by the config file and Serialize's output (excerpted
// option tokens: maxtries=a,b,c; sleep-multiplier=f;
// disable-dynamic-sleep; disable-displays-cache;
// disable-capabilities-cache; enable-usb/disable-usb;
// edid-read-size={128,256}).
func applyOptionsString(opts *Options, s string) error {
	inMaxTries := false
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		// maxtries=a,b,c shares the comma separator with the token list
		// itself, so bare integers following it extend its value.
		if inMaxTries {
			if n, err := strconv.Atoi(tok); err == nil {
				opts.MaxTries = append(opts.MaxTries, n)
				continue
			}
			inMaxTries = false
		}
		key, value, hasValue := strings.Cut(tok, "=")
		switch key {
		case "maxtries":
			if !hasValue {
				return fmt.Errorf("maxtries requires a value")
			}
			parsed, err := parseMaxTries(value)
			if err != nil {
				return err
			}
			opts.MaxTries = parsed
			inMaxTries = true
		case "sleep-multiplier":
			if !hasValue {
				return fmt.Errorf("sleep-multiplier requires a value")
			}
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("sleep-multiplier: %w", err)
			}
			opts.SleepMultiplier = f
		case "disable-dynamic-sleep":
			opts.DisableDynamicSleep = true
		case "disable-displays-cache":
			opts.DisableDisplaysCache = true
		case "disable-capabilities-cache":
			opts.DisableCapsCache = true
		case "enable-usb":
			opts.EnableUSB = true
		case "disable-usb":
			opts.EnableUSB = false
		case "edid-read-size":
			if !hasValue {
				return fmt.Errorf("edid-read-size requires a value")
			}
			n, err := strconv.Atoi(value)
			if err != nil || (n != 128 && n != 256) {
				return fmt.Errorf("edid-read-size: must be 128 or 256, got %q", value)
			}
			opts.EDIDReadSize = n
		default:
			return fmt.Errorf("unrecognized option %q", tok)
		}
	}
	return nil
}

// Serialize renders opts as the comma-separated options string
// internal/ddccore.Init accepts. Booleans that are already at their
// zero value are omitted.
func Serialize(opts Options) string {
	var toks []string
	if len(opts.MaxTries) > 0 {
		strs := make([]string, len(opts.MaxTries))
		for i, n := range opts.MaxTries {
			strs[i] = strconv.Itoa(n)
		}
		toks = append(toks, "maxtries="+strings.Join(strs, ","))
	}
	if opts.SleepMultiplier != 0 {
		toks = append(toks, "sleep-multiplier="+strconv.FormatFloat(opts.SleepMultiplier, 'g', -1, 64))
	}
	if opts.DisableDynamicSleep {
		toks = append(toks, "disable-dynamic-sleep")
	}
	if opts.DisableDisplaysCache {
		toks = append(toks, "disable-displays-cache")
	}
	if opts.DisableCapsCache {
		toks = append(toks, "disable-capabilities-cache")
	}
	if opts.EnableUSB {
		toks = append(toks, "enable-usb")
	}
	if opts.EDIDReadSize != 0 {
		toks = append(toks, fmt.Sprintf("edid-read-size=%d", opts.EDIDReadSize))
	}
	return strings.Join(toks, ",")
}
