//go:build linux

// Package discovery implements the display discovery pipeline:
// enumerate I²C buses and USB HID monitor-control interfaces, probe
// each for a parseable EDID, run the three-step dialect initial
// checks, assign display numbers, and fold away phantom displays left
// behind by docking-station-style duplicate buses.
package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ddcctl-project/ddcctl/internal/ddccore/dialect"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/displaylock"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/dsa"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/edid"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/hidbus"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/i2cbus"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/retry"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/stats"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/transport"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/vcp"
	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
)

// AsyncThreshold is the candidate count at or above which initial
// checks run concurrently, one goroutine per display.
const AsyncThreshold = 3

const initialChecksLockTimeout = 5 * time.Second

// Dispno sentinels for non-working displays.
// Working displays are numbered 1, 2, 3, ... in scan order instead.
const (
	DispnoNotWorking = -1
	DispnoPhantom    = -2
	DispnoBusy       = -3
)

// Reserved VCP feature codes the initial-checks cascade probes,
// chosen because they should always be unsupported (0x00, 0x41) or
// are near-universally supported (0x10, brightness).
const (
	featureReserved0x00 = vcp.FeatureCode(0x00)
	featureReserved0x41 = vcp.FeatureCode(0x41)
	featureBrightness   = vcp.FeatureCode(0x10)
)

// DisplayRef is one entry in the discovery registry: everything a
// later VCP exchange needs to talk to this physical display, plus the
// bookkeeping discovery itself produced.
type DisplayRef struct {
	// Number is the display's assigned dispno: a positive integer for
	// a working display, one of the Dispno* sentinels otherwise.
	Number int

	Mode      transport.Mode
	BusNumber int    // I2C only
	HIDPath   string // USB only

	EDID edid.EDID

	Transport transport.Transport
	Dialect   *dialect.Flags
	Lock      *displaylock.Display
	DSA       *dsa.Multiplier
	Caps      *retry.Caps

	// Stats holds this display's own retry counters, separate from
	// any process-wide aggregate, so a caller can persist and restore
	// one display's history independently of the rest of the
	// registry (per-display statistics cache).
	Stats *stats.Registry

	// PhantomOf points at the working DisplayRef this one duplicates,
	// set only when Number == DispnoPhantom.
	PhantomOf *DisplayRef
}

// Registry is the result of one discovery Scan.
type Registry struct {
	Displays []*DisplayRef
}

// Working returns every display discovery judged communication-
// capable, in ascending dispno order.
func (r *Registry) Working() []*DisplayRef {
	var out []*DisplayRef
	for _, d := range r.Displays {
		if d.Dialect.Working {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// ByNumber looks up a display by its assigned dispno.
func (r *Registry) ByNumber(n int) (*DisplayRef, bool) {
	for _, d := range r.Displays {
		if d.Number == n {
			return d, true
		}
	}
	return nil, false
}

// Close releases every display's underlying transport (teardown).
func (r *Registry) Close() error {
	var firstErr error
	for _, d := range r.Displays {
		if d.Transport == nil {
			continue
		}
		if err := d.Transport.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Options configures a Scan.
type Options struct {
	// EDIDReadSize is 128 (default) or 256; 256 additionally retains
	// the EDID extension block (--edid-read-size=256).
	EDIDReadSize int
	// AsyncThreshold overrides the package default, mainly for tests.
	AsyncThreshold int
	// USB enables the USB HID discovery path
	USB bool
}

// Scan runs the full discovery pipeline and returns a fresh Registry.
func Scan(ctx context.Context, opts Options) (*Registry, error) {
	if opts.EDIDReadSize == 0 {
		opts.EDIDReadSize = edid.Size
	}
	if opts.AsyncThreshold == 0 {
		opts.AsyncThreshold = AsyncThreshold
	}

	buses, err := enumerateI2CBuses()
	if err != nil {
		return nil, err
	}

	var candidates []*DisplayRef
	for _, busNum := range buses {
		ref, ok := probeI2CEDID(busNum, opts.EDIDReadSize)
		if !ok {
			continue
		}
		candidates = append(candidates, ref)
	}

	if opts.USB {
		usbRefs, _ := probeUSB() // best-effort: absence of HID support is not fatal to I2C discovery
		candidates = append(candidates, usbRefs...)
	}

	if len(candidates) >= opts.AsyncThreshold {
		if err := runInitialChecksConcurrently(ctx, candidates); err != nil {
			return nil, err
		}
	} else {
		runInitialChecksSequentially(ctx, candidates)
	}

	assignDisplayNumbers(candidates)
	filterPhantoms(candidates)

	return &Registry{Displays: candidates}, nil
}

func enumerateI2CBuses() ([]int, error) {
	paths, err := filepath.Glob("/dev/i2c-*")
	if err != nil {
		return nil, ddcerr.Wrap(ddcerr.CommunicationFailed, "discovery.enumerateI2CBuses", "glob /dev/i2c-*", err)
	}
	var nums []int
	for _, p := range paths {
		n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(p), "i2c-"))
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}

// probeI2CEDID reports whether bus busNum is a candidate display:
// its EDID address answers with a parseable block.
func probeI2CEDID(busNum int, readSize int) (*DisplayRef, bool) {
	bus, err := i2cbus.Open(busNum)
	if err != nil {
		return nil, false
	}
	if err := bus.SetSlaveAddress(transport.AddrEDID, false); err != nil {
		bus.Close()
		return nil, false
	}
	buf := make([]byte, readSize)
	if _, err := bus.Read(buf); err != nil {
		bus.Close()
		return nil, false
	}
	e, err := edid.Parse(buf)
	if err != nil {
		bus.Close()
		return nil, false
	}
	return newDisplayRef(transport.ModeI2C, busNum, "", e, bus), true
}

// probeUSB enumerates USB Monitor Control HID interfaces and folds
// each into a DisplayRef, mode-agnostic from here on.
func probeUSB() ([]*DisplayRef, error) {
	infos, err := hidbus.Enumerate()
	if err != nil {
		return nil, err
	}
	var refs []*DisplayRef
	for _, info := range infos {
		dev, err := hidbus.Open(info)
		if err != nil {
			continue
		}
		buf := make([]byte, edid.Size)
		if _, err := dev.Read(buf); err != nil {
			dev.Close()
			continue
		}
		e, err := edid.Parse(buf)
		if err != nil {
			dev.Close()
			continue
		}
		refs = append(refs, newDisplayRef(transport.ModeUSB, 0, info.Path, e, dev))
	}
	return refs, nil
}

func newDisplayRef(mode transport.Mode, busNum int, hidPath string, e edid.EDID, t transport.Transport) *DisplayRef {
	return &DisplayRef{
		Mode:      mode,
		BusNumber: busNum,
		HIDPath:   hidPath,
		EDID:      e,
		Transport: t,
		Dialect:   &dialect.Flags{},
		Lock:      &displaylock.Display{},
		DSA:       dsa.New(),
		Caps:      retry.NewCaps(),
		Stats:     stats.NewRegistry(),
	}
}

func runInitialChecksSequentially(ctx context.Context, refs []*DisplayRef) {
	for _, ref := range refs {
		_ = checkOneDisplay(ctx, ref)
	}
}

// runInitialChecksConcurrently spawns one goroutine per candidate,
// each acquiring only its own display's lock, grounded on the
// errgroup "spawn N, await all" shape.
func runInitialChecksConcurrently(ctx context.Context, refs []*DisplayRef) error {
	grp, gctx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		ref := ref
		grp.Go(func() error {
			return checkOneDisplay(gctx, ref)
		})
	}
	return grp.Wait()
}

// checkOneDisplay acquires ref's lock and runs the three-step
// dialect cascade. It returns a non-nil error only on genuine context
// cancellation; every other outcome (busy, comm failure) is recorded
// on ref.Dialect instead, since one display's failure must never
// abort the scan for the others.
func checkOneDisplay(ctx context.Context, ref *DisplayRef) error {
	unlock, err := ref.Lock.Lock(ctx, initialChecksLockTimeout)
	if err != nil {
		if ddcerr.KindOf(err) == ddcerr.Cancelled {
			return err
		}
		ref.Dialect.Working = false
		if ddcerr.KindOf(err) == ddcerr.DisplayBusy {
			ref.Dialect.Busy = true
		}
		ref.Dialect.Checked = true
		return nil
	}
	defer unlock()

	if err := ref.Transport.SetSlaveAddress(transport.AddrDDC, false); err != nil {
		ref.Dialect.Working = false
		ref.Dialect.Checked = true
		return nil
	}

	h := &vcp.Handle{Transport: ref.Transport, Dialect: ref.Dialect, Sleeper: ref.DSA, Caps: ref.Caps}
	runInitialChecks(ctx, h, ref.Dialect)
	return nil
}

// nextStep names which step of the initial-checks cascade runs next.
type nextStep int

const (
	stepDone nextStep = iota
	stepGoToB
	stepGoToC
)

// runInitialChecks runs the a/b/c initial-checks cascade.
func runInitialChecks(ctx context.Context, h *vcp.Handle, flags *dialect.Flags) {
	switch checkStepA(ctx, h, flags) {
	case stepGoToB:
		if checkStepB(ctx, h, flags) == stepGoToC {
			checkStepC(ctx, h, flags)
		}
	case stepGoToC:
		checkStepC(ctx, h, flags)
	}
	flags.Checked = true
}

// checkStepA probes the reserved feature 0x00.
func checkStepA(ctx context.Context, h *vcp.Handle, flags *dialect.Flags) nextStep {
	v, err := vcp.GetNonTableVCP(ctx, h, featureReserved0x00)
	switch {
	case err == nil && v.MaxValue == 0 && v.CurrentValue == 0:
		// All-zero value bytes on a reserved feature — ambiguous; 0x41
		// refines whether this monitor even uses the flag at all.
		return stepGoToB
	case err == nil:
		// A genuine non-zero value for a reserved feature means this
		// monitor never signals unsupported at all; stop probing.
		flags.SetDoesNotIndicateUnsupported()
		flags.Working = true
		return stepDone
	case ddcerr.KindOf(err) == ddcerr.ReportedUnsupported:
		flags.SetSignal(dialect.SignalUsesDDCFlag)
		flags.Working = true
		return stepDone
	case ddcerr.KindOf(err) == ddcerr.AllResponsesNull:
		return stepGoToC
	default:
		markFatal(flags, err)
		return stepDone
	}
}

// checkStepB probes the reserved feature 0x41.
func checkStepB(ctx context.Context, h *vcp.Handle, flags *dialect.Flags) nextStep {
	v, err := vcp.GetNonTableVCP(ctx, h, featureReserved0x41)
	switch {
	case err == nil:
		if v.MaxValue == 0 && v.CurrentValue == 0 {
			flags.SetSignal(dialect.SignalUsesAllZeroBytes)
			flags.Working = true
			return stepDone
		}
		// A genuine non-zero value on this reserved feature too is the
		// vanishingly-rare case of a monitor that answers with ordinary
		// data rather than signaling unsupported; treat it as the
		// normal case, the same outcome step C would settle on.
		flags.SetSignal(dialect.SignalUsesNullResponse)
		flags.Working = true
		return stepDone
	case ddcerr.KindOf(err) == ddcerr.ReportedUnsupported:
		flags.SetSignal(dialect.SignalUsesDDCFlag)
		flags.Working = true
		return stepDone
	case ddcerr.KindOf(err) == ddcerr.AllResponsesNull:
		return stepGoToC
	default:
		markFatal(flags, err)
		return stepDone
	}
}

// checkStepC probes brightness (0x10), essentially universal, to
// settle whether this monitor signals unsupported via a null response
// or just doesn't talk at all.
func checkStepC(ctx context.Context, h *vcp.Handle, flags *dialect.Flags) {
	_, err := vcp.GetNonTableVCP(ctx, h, featureBrightness)
	switch {
	case err == nil:
		flags.SetSignal(dialect.SignalUsesNullResponse)
		flags.Working = true
	case ddcerr.KindOf(err) == ddcerr.ReportedUnsupported:
		flags.SetSignal(dialect.SignalUsesDDCFlag)
		flags.Working = true
	default:
		markFatal(flags, err)
	}
}

func markFatal(flags *dialect.Flags, err error) {
	flags.Working = false
	if ddcerr.KindOf(err) == ddcerr.DisplayBusy {
		flags.Busy = true
	}
}

// assignDisplayNumbers assigns each working display a stable number.
func assignDisplayNumbers(refs []*DisplayRef) {
	next := 1
	for _, r := range refs {
		if r.Dialect.Working {
			r.Number = next
			next++
			continue
		}
		if r.Dialect.Busy {
			r.Number = DispnoBusy
		} else {
			r.Number = DispnoNotWorking
		}
	}
}

// filterPhantoms reclassifies duplicate-EDID displays as phantoms. It keys off each
// ref's already-assigned Number so re-running it against a registry
// that already has phantoms classified is a no-op for them, rather
// than mutating Dialect.Working in place.
func filterPhantoms(refs []*DisplayRef) {
	working := make(map[string]*DisplayRef)
	for _, r := range refs {
		if r.Dialect.Working {
			working[r.EDID.Identity()] = r
		}
	}

	for _, r := range refs {
		if r.Dialect.Working || r.Number == DispnoPhantom || r.Mode != transport.ModeI2C {
			continue
		}
		real, ok := working[r.EDID.Identity()]
		if !ok {
			continue
		}
		if isPhantomBus(r.BusNumber) {
			r.Number = DispnoPhantom
			r.PhantomOf = real
		}
	}
}

// sysfsRoot is overridable in tests; production always uses "/sys".
var sysfsRoot = "/sys"

// isPhantomBus consults the sysfs connector attributes for an I2C
// bus: disconnected, disabled, and exposing no edid file together
// identify a dead duplicate bus left behind by a docking station
//
func isPhantomBus(busNum int) bool {
	devDir := filepath.Join(sysfsRoot, "bus/i2c/devices", fmt.Sprintf("i2c-%d", busNum), "device")
	real, err := filepath.EvalSymlinks(devDir)
	if err != nil {
		return false
	}
	status, _ := os.ReadFile(filepath.Join(real, "status"))
	enabled, _ := os.ReadFile(filepath.Join(real, "enabled"))
	_, edidErr := os.Stat(filepath.Join(real, "edid"))

	return strings.TrimSpace(string(status)) == "disconnected" &&
		strings.TrimSpace(string(enabled)) == "disabled" &&
		edidErr != nil
}
