//go:build linux

package ddccore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ddcctl-project/ddcctl/internal/ddccore/ddcpacket"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/ddcstate"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/dialect"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/discovery"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/displaylock"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/dsa"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/edid"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/retry"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/stats"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/transport"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/vcp"
	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
	"github.com/ddcctl-project/ddcctl/internal/ddclog"
)

type fakeTransport struct {
	replies [][]byte
	idx     int
}

func (f *fakeTransport) SetSlaveAddress(transport.SlaveAddress, bool) error { return nil }
func (f *fakeTransport) Write(p []byte) (int, error)                       { return len(p), nil }
func (f *fakeTransport) Close() error                                      { return nil }
func (f *fakeTransport) Mode() transport.Mode                              { return transport.ModeI2C }

func (f *fakeTransport) Read(p []byte) (int, error) {
	if f.idx >= len(f.replies) {
		return 0, ddcerr.New(ddcerr.Retriable, "fakeTransport", "no more scripted replies")
	}
	r := f.replies[f.idx]
	f.idx++
	return copy(p, r), nil
}

func encodeGetReply(t *testing.T, code byte, maxVal, curVal uint16) []byte {
	t.Helper()
	wire, err := ddcpacket.Encode(ddcpacket.Packet{
		Source: ddcpacket.MonitorAddress,
		Dest:   ddcpacket.HostAddress,
		Payload: []byte{
			byte(ddcpacket.VCPReply), 0x00, code, 0x00,
			byte(maxVal >> 8), byte(maxVal), byte(curVal >> 8), byte(curVal),
		},
	})
	if err != nil {
		t.Fatalf("encodeGetReply: %v", err)
	}
	return wire
}

// newTestContext builds a *Context around an in-memory state store
// and a single pre-populated display, bypassing Init/discovery.Scan
// (both of which need real hardware) the same way discovery's own
// tests bypass a real I2C bus.
func newTestContext(t *testing.T, tr *fakeTransport) (*Context, DisplayHandle) {
	t.Helper()

	store, err := ddcstate.Open(ddcstate.Options{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("ddcstate.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ref := &discovery.DisplayRef{
		Number:    1,
		Mode:      transport.ModeI2C,
		EDID:      edid.EDID{ManufacturerID: "DEL", ProductCode: 1, SerialBinary: 1},
		Transport: tr,
		Dialect:   &dialect.Flags{Working: true},
		Lock:      &displaylock.Display{},
		DSA:       dsa.New(),
		Caps:      retry.NewCaps(),
		Stats:     stats.NewRegistry(),
	}
	_ = ref.Caps.Set(retry.WriteRead, 1)
	_ = ref.Caps.Set(retry.WriteOnly, 1)

	c := &Context{
		store:    store,
		logger:   ddclog.Silent,
		stats:    stats.NewRegistry(),
		lastErr:  make(map[DisplayHandle]*ddcerr.Error),
		registry: &discovery.Registry{Displays: []*discovery.DisplayRef{ref}},
	}
	return c, DisplayHandle(1)
}

func TestGetVCPReturnsValueAndRecordsNoLastError(t *testing.T) {
	tr := &fakeTransport{replies: [][]byte{encodeGetReply(t, 0x10, 100, 50)}}
	c, h := newTestContext(t, tr)

	v, err := c.GetVCP(context.Background(), h, vcp.FeatureCode(0x10))
	if err != nil {
		t.Fatalf("GetVCP: %v", err)
	}
	if v.CurrentValue != 50 || v.MaxValue != 100 {
		t.Fatalf("unexpected value: %+v", v)
	}
	if got := c.LastError(h); got != nil {
		t.Fatalf("expected no last error, got %v", got)
	}
}

func TestGetVCPUnknownHandleIsDisplayNotFound(t *testing.T) {
	tr := &fakeTransport{}
	c, _ := newTestContext(t, tr)

	_, err := c.GetVCP(context.Background(), DisplayHandle(99), vcp.FeatureCode(0x10))
	if ddcerr.KindOf(err) != ddcerr.DisplayNotFound {
		t.Fatalf("expected DisplayNotFound, got %v", err)
	}
	if got := c.LastError(DisplayHandle(99)); got == nil || got.Kind != ddcerr.DisplayNotFound {
		t.Fatalf("expected LastError to record the same failure, got %v", got)
	}
}

func TestTeardownSucceedsOnceThenRejectsSecondCall(t *testing.T) {
	tr := &fakeTransport{}
	c, _ := newTestContext(t, tr)
	c.registry.Displays[0].DSA.Observe(true) // nudge the multiplier away from its default

	if err := c.Teardown(); err != nil {
		t.Fatalf("Teardown: %v", err)
	}

	if err := c.Teardown(); ddcerr.KindOf(err) != ddcerr.InvalidOperation {
		t.Fatalf("expected a second Teardown to fail with InvalidOperation, got %v", err)
	}
}

func TestTeardownPersistsPerDisplayStats(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.db")

	open := func() *ddcstate.Store {
		store, err := ddcstate.Open(ddcstate.Options{Path: statePath})
		if err != nil {
			t.Fatalf("ddcstate.Open: %v", err)
		}
		return store
	}

	identity := edid.EDID{ManufacturerID: "DEL", ProductCode: 1, SerialBinary: 1}.Identity()

	store := open()
	ref := &discovery.DisplayRef{
		Number:    1,
		Mode:      transport.ModeI2C,
		EDID:      edid.EDID{ManufacturerID: "DEL", ProductCode: 1, SerialBinary: 1},
		Transport: &fakeTransport{replies: [][]byte{encodeGetReply(t, 0x10, 100, 50)}},
		Dialect:   &dialect.Flags{Working: true},
		Lock:      &displaylock.Display{},
		DSA:       dsa.New(),
		Caps:      retry.NewCaps(),
		Stats:     stats.NewRegistry(),
	}
	_ = ref.Caps.Set(retry.WriteRead, 1)

	c := &Context{
		store:    store,
		logger:   ddclog.Silent,
		stats:    stats.NewRegistry(),
		lastErr:  make(map[DisplayHandle]*ddcerr.Error),
		registry: &discovery.Registry{Displays: []*discovery.DisplayRef{ref}},
	}

	if _, err := c.GetVCP(context.Background(), DisplayHandle(1), vcp.FeatureCode(0x10)); err != nil {
		t.Fatalf("GetVCP: %v", err)
	}
	if err := c.Teardown(); err != nil {
		t.Fatalf("Teardown: %v", err)
	}

	store2 := open()
	defer store2.Close()

	rec, ok, err := store2.LoadStats(identity)
	if err != nil || !ok {
		t.Fatalf("LoadStats: ok=%v err=%v", ok, err)
	}
	if rec.Classes[retry.WriteRead].Successes != 1 {
		t.Fatalf("expected one persisted WriteRead success, got %+v", rec.Classes[retry.WriteRead])
	}
}
