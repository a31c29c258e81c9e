//go:build linux

// Package ddccore is the library facade: it owns a discovery
// registry, the persisted-state store, the statistics tables, and a
// zerolog logger behind one explicit *Context value, replacing the
// legacy process-wide singleton ddcutil itself is built around. Every
// operation is a thin wrapper chaining the per-display lock -> vcp
// exchange (via the packet codec) -> retry (sleeping through the
// adaptive-sleep state) -> statistics -> release.
package ddccore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ddcctl-project/ddcctl/internal/ddcconf"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/capabilities"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/ddcstate"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/discovery"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/dsa"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/retry"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/stats"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/vcp"
	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
	"github.com/ddcctl-project/ddcctl/internal/ddclog"
)

// DisplayHandle identifies a display across calls: the dispno
// discovery assigned it.
type DisplayHandle int

var initialized atomic.Bool

// lockTimeout bounds how long an operation waits for a busy display
// before surfacing ddcerr.DisplayBusy.
const lockTimeout = 5 * time.Second

// Context is the explicit library handle callers obtain in place of
// a process-wide singleton. The zero value is not usable; obtain
// one from Init or Default.
type Context struct {
	opts   ddcconf.Options
	logger zerolog.Logger
	store  *ddcstate.Store

	mu       sync.Mutex
	registry *discovery.Registry
	stats    *stats.Registry

	lastErrMu sync.Mutex
	lastErr   map[DisplayHandle]*ddcerr.Error

	torndown atomic.Bool
}

// Init parses optsString (the grammar internal/ddcconf.Parse /
// Serialize share) and opens a fresh *Context. It is idempotent only
// in the negative sense: a second call anywhere in the process
// returns ddcerr.InvalidOperation rather than silently
// handing back a second live context over the same persisted state.
func Init(optsString string) (*Context, error) {
	if !initialized.CompareAndSwap(false, true) {
		return nil, ddcerr.New(ddcerr.InvalidOperation, "ddccore.Init", "already initialized in this process")
	}

	opts, err := ddcconf.Parse(optsString)
	if err != nil {
		initialized.Store(false)
		return nil, ddcerr.Wrap(ddcerr.BadConfigurationFile, "ddccore.Init", "could not parse options string", err)
	}

	store, err := ddcstate.Open(ddcstate.Options{
		DisableDisplaysCache:     opts.DisableDisplaysCache,
		DisableCapabilitiesCache: opts.DisableCapsCache,
	})
	if err != nil {
		initialized.Store(false)
		return nil, ddcerr.Wrap(ddcerr.BadConfigurationFile, "ddccore.Init", "could not open persisted state", err)
	}

	return &Context{
		opts:    opts,
		logger:  ddclog.Silent,
		store:   store,
		stats:   stats.NewRegistry(),
		lastErr: make(map[DisplayHandle]*ddcerr.Error),
	}, nil
}

var (
	defaultCtx  *Context
	defaultOnce sync.Once
	defaultErr  error
)

// Default returns a lazily-initialized default Context for callers
// who don't need multiple contexts ("thin adapter").
func Default() (*Context, error) {
	defaultOnce.Do(func() {
		defaultCtx, defaultErr = Init("")
	})
	return defaultCtx, defaultErr
}

// WithLogger replaces the silent default logger (ddccore never writes
// to stdout/stderr on its own; the CLI calls this with a real one).
func (c *Context) WithLogger(l zerolog.Logger) {
	c.logger = l
}

// Teardown persists every known display's DSA multiplier, dialect
// signal, and retry counters, then closes the state store. Safe to
// call at most once.
func (c *Context) Teardown() error {
	if !c.torndown.CompareAndSwap(false, true) {
		return ddcerr.New(ddcerr.InvalidOperation, "ddccore.Teardown", "already torn down")
	}

	c.mu.Lock()
	reg := c.registry
	c.mu.Unlock()

	if reg != nil {
		for _, d := range reg.Displays {
			identity := d.EDID.Identity()
			if err := c.store.SaveDisplay(identity, d.DSA, d.Dialect); err != nil {
				c.logger.Warn().Err(err).Str("display", identity).Msg("failed to persist display state")
			}
			if err := c.store.SaveStats(identity, snapshotStats(d.Stats)); err != nil {
				c.logger.Warn().Err(err).Str("display", identity).Msg("failed to persist display statistics")
			}
		}
		if err := reg.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to close discovery registry")
		}
	}

	return c.store.Close()
}

// LastError returns the most recent failure handle produced, or nil
// if none has failed yet. This is the per-handle replacement for the
// original's thread-local last-error accessor: every operation
// already returns its error directly, and this exists
// only to preserve "retrieve detail after the fact" for callers who
// want it (see DESIGN.md).
func (c *Context) LastError(handle DisplayHandle) *ddcerr.Error {
	c.lastErrMu.Lock()
	defer c.lastErrMu.Unlock()
	return c.lastErr[handle]
}

func (c *Context) recordError(handle DisplayHandle, err error) {
	if err == nil {
		return
	}
	c.logger.Error().Err(err).Int("display", int(handle)).Msg("operation failed")
	var e *ddcerr.Error
	if de, ok := err.(*ddcerr.Error); ok {
		e = de
	} else {
		e = ddcerr.Wrap(ddcerr.Unknown, "ddccore", "non-ddcerr failure", err)
	}
	c.lastErrMu.Lock()
	c.lastErr[handle] = e
	c.lastErrMu.Unlock()
}

// Displays runs (or returns the cached result of) a discovery scan,
// seeding each display's DSA multiplier and dialect signal from
// persisted state when available.
func (c *Context) Displays(ctx context.Context) (*discovery.Registry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry != nil {
		return c.registry, nil
	}

	reg, err := discovery.Scan(ctx, discovery.Options{
		EDIDReadSize: c.opts.EDIDReadSize,
		USB:          c.opts.EnableUSB,
	})
	if err != nil {
		return nil, err
	}

	for _, d := range reg.Displays {
		identity := d.EDID.Identity()
		if rec, ok, _ := c.store.LoadDisplay(identity); ok {
			if c.opts.SleepMultiplier == 0 {
				d.DSA = dsa.Load(rec.Multiplier)
			}
			if d.Dialect.Signal == 0 {
				d.Dialect.SetSignal(rec.Signal)
			}
			d.Dialect.DoesNotIndicateUnsupported = rec.DoesNotIndicateUnsupported
		}
		if statsRec, ok, _ := c.store.LoadStats(identity); ok {
			statsRec.Restore(func(class retry.Class, attempts, successes, failures uint64) {
				d.Stats.Class(class).Seed(attempts, successes, failures)
			})
		}
		if c.opts.SleepMultiplier != 0 {
			d.DSA.SetUserMultiplier(c.opts.SleepMultiplier)
		}
		if c.opts.DisableDynamicSleep {
			d.DSA.SetUserMultiplier(d.DSA.Value())
		}
		applyMaxTries(d.Caps, c.opts.MaxTries)
	}

	c.registry = reg
	return reg, nil
}

// snapshotStats reads d's live per-class counters into the narrow
// shape ddcstate persists, in retry.Class order.
func snapshotStats(reg *stats.Registry) *ddcstate.StatsRegistry {
	var snaps [4]ddcstate.ClassSnapshot
	classes := []retry.Class{retry.WriteOnly, retry.WriteRead, retry.MultiPartRead, retry.MultiPartWrite}
	for i, class := range classes {
		s := reg.Class(class).Snapshot()
		snaps[i] = ddcstate.ClassSnapshot{Attempts: s.Attempts, Successes: s.Successes, Failures: s.Failures}
	}
	return ddcstate.NewStatsRegistry(snaps)
}

func applyMaxTries(caps *retry.Caps, maxTries []int) {
	classes := []retry.Class{retry.WriteOnly, retry.WriteRead, retry.MultiPartRead, retry.MultiPartWrite}
	for i, n := range maxTries {
		if i >= len(classes) {
			break
		}
		_ = caps.Set(classes[i], n)
	}
}

func (c *Context) display(ctx context.Context, handle DisplayHandle) (*discovery.DisplayRef, error) {
	reg, err := c.Displays(ctx)
	if err != nil {
		return nil, err
	}
	d, ok := reg.ByNumber(int(handle))
	if !ok {
		return nil, ddcerr.New(ddcerr.DisplayNotFound, "ddccore", "no display with that handle")
	}
	return d, nil
}

func handleOf(h *vcp.Handle, d *discovery.DisplayRef) {
	h.Transport = d.Transport
	h.Dialect = d.Dialect
	h.Sleeper = d.DSA
	h.Caps = d.Caps
}

// GetVCP reads a non-table VCP feature's current and maximum value.
func (c *Context) GetVCP(ctx context.Context, handle DisplayHandle, code vcp.FeatureCode) (vcp.Value, error) {
	d, err := c.display(ctx, handle)
	if err != nil {
		c.recordError(handle, err)
		return vcp.Value{}, err
	}

	unlock, err := d.Lock.Lock(ctx, lockTimeout)
	if err != nil {
		c.recordError(handle, err)
		return vcp.Value{}, err
	}
	defer unlock()

	h := &vcp.Handle{}
	handleOf(h, d)

	v, err := vcp.GetNonTableVCP(ctx, h, code)
	c.record(d, retry.WriteRead, err)
	c.recordError(handle, err)
	return v, err
}

// SetVCP writes a non-table VCP feature's value, verifying it stuck.
func (c *Context) SetVCP(ctx context.Context, handle DisplayHandle, code vcp.FeatureCode, value uint16) error {
	d, err := c.display(ctx, handle)
	if err != nil {
		c.recordError(handle, err)
		return err
	}

	unlock, err := d.Lock.Lock(ctx, lockTimeout)
	if err != nil {
		c.recordError(handle, err)
		return err
	}
	defer unlock()

	h := &vcp.Handle{}
	handleOf(h, d)

	err = vcp.SetNonTableVCP(ctx, h, code, value, vcp.SetOpts{Verify: true})
	c.record(d, retry.WriteOnly, err)
	c.recordError(handle, err)
	return err
}

// GetTableVCP reads a table-type VCP feature's full value.
func (c *Context) GetTableVCP(ctx context.Context, handle DisplayHandle, code vcp.FeatureCode) ([]byte, error) {
	d, err := c.display(ctx, handle)
	if err != nil {
		c.recordError(handle, err)
		return nil, err
	}

	unlock, err := d.Lock.Lock(ctx, lockTimeout)
	if err != nil {
		c.recordError(handle, err)
		return nil, err
	}
	defer unlock()

	h := &vcp.Handle{}
	handleOf(h, d)

	v, err := vcp.TableRead(ctx, h, code)
	c.record(d, retry.MultiPartRead, err)
	c.recordError(handle, err)
	return v, err
}

// SetTableVCP writes a table-type VCP feature's full value.
func (c *Context) SetTableVCP(ctx context.Context, handle DisplayHandle, code vcp.FeatureCode, data []byte) error {
	d, err := c.display(ctx, handle)
	if err != nil {
		c.recordError(handle, err)
		return err
	}

	unlock, err := d.Lock.Lock(ctx, lockTimeout)
	if err != nil {
		c.recordError(handle, err)
		return err
	}
	defer unlock()

	h := &vcp.Handle{}
	handleOf(h, d)

	err = vcp.TableWrite(ctx, h, code, data)
	c.record(d, retry.MultiPartWrite, err)
	c.recordError(handle, err)
	return err
}

// GetCapabilities reads and parses a display's capabilities string,
// consulting (and refreshing) the persisted capabilities cache.
func (c *Context) GetCapabilities(ctx context.Context, handle DisplayHandle) (*capabilities.Tree, error) {
	d, err := c.display(ctx, handle)
	if err != nil {
		c.recordError(handle, err)
		return nil, err
	}

	identity := d.EDID.Identity()
	if raw, ok, _ := c.store.LoadCapabilities(identity); ok {
		return capabilities.Parse(raw), nil
	}

	unlock, err := d.Lock.Lock(ctx, lockTimeout)
	if err != nil {
		c.recordError(handle, err)
		return nil, err
	}
	defer unlock()

	h := &vcp.Handle{}
	handleOf(h, d)

	raw, err := vcp.GetCapabilitiesString(ctx, h)
	c.record(d, retry.MultiPartRead, err)
	c.recordError(handle, err)
	if err != nil {
		return nil, err
	}

	if err := c.store.SaveCapabilities(identity, raw); err != nil {
		c.logger.Warn().Err(err).Str("display", identity).Msg("failed to persist capabilities cache")
	}

	return capabilities.Parse(raw), nil
}

// record feeds the outcome of one top-level operation into both the
// process-wide statistics table and d's own per-display counters
// (persisted across runs by Teardown), folding retry.Run's own
// per-attempt bookkeeping away: ddccore only cares whether the call
// ultimately succeeded and, when it failed, does not know the attempt
// count retry.Run spent (that detail stays internal to the
// *ddcerr.Error chain) so it records a single logical attempt either
// way.
func (c *Context) record(d *discovery.DisplayRef, class retry.Class, err error) {
	for _, reg := range [2]*stats.Registry{c.stats, d.Stats} {
		cs := reg.Class(class)
		if err == nil {
			cs.RecordSuccess(1)
		} else {
			cs.RecordFailure(1)
		}
	}
}
