package vcp

import (
	"bytes"
	"context"
	"testing"

	"github.com/ddcctl-project/ddcctl/internal/ddccore/ddcpacket"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/dialect"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/dsa"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/retry"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/transport"
	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
)

// fakeTransport is a scripted transport.Transport: Write records each
// frame, and each Read call returns the next reply from replies.
type fakeTransport struct {
	writes  [][]byte
	replies [][]byte
	idx     int
}

func (f *fakeTransport) SetSlaveAddress(addr transport.SlaveAddress, force bool) error { return nil }

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	if f.idx >= len(f.replies) {
		return 0, ddcerr.New(ddcerr.Retriable, "fakeTransport", "no more scripted replies")
	}
	r := f.replies[f.idx]
	f.idx++
	n := copy(p, r)
	return n, nil
}

func (f *fakeTransport) Close() error   { return nil }
func (f *fakeTransport) Mode() transport.Mode { return transport.ModeI2C }

func encodeReply(t *testing.T, payload []byte) []byte {
	t.Helper()
	if len(payload) == 0 {
		return encodeNullReply()
	}
	wire, err := ddcpacket.Encode(ddcpacket.Packet{
		Source:  ddcpacket.MonitorAddress,
		Dest:    ddcpacket.HostAddress,
		Payload: payload,
	})
	if err != nil {
		t.Fatalf("encodeReply: %v", err)
	}
	return wire
}

// encodeNullReply builds the zero-length "feature unsupported" reply
// frame directly, since ddcpacket.Encode requires a non-empty payload
// (the opcode byte it carries) and a null response has none.
func encodeNullReply() []byte {
	wire := []byte{ddcpacket.HostAddress, 0x80}
	cksum := byte(0x50) // inbound virtual seed
	for _, b := range wire {
		cksum ^= b
	}
	return append(wire, cksum)
}

func TestGetNonTableVCPHappyPath(t *testing.T) {
	// payload: opcode, result=supported, code, type, maxHi, maxLo, curHi, curLo
	reply := encodeReply(t, []byte{byte(ddcpacket.VCPReply), 0x00, 0x10, 0x00, 0x00, 0xFF, 0x00, 0x64})
	tr := &fakeTransport{replies: [][]byte{reply}}
	h := &Handle{Transport: tr, Dialect: &dialect.Flags{}, Sleeper: fakeSleeper{}, Caps: retry.NewCaps()}

	v, err := GetNonTableVCP(context.Background(), h, FeatureCode(0x10))
	if err != nil {
		t.Fatalf("GetNonTableVCP: %v", err)
	}
	if v.CurrentValue != 0x64 || v.MaxValue != 0xFF {
		t.Fatalf("unexpected value: %+v", v)
	}
}

func TestGetNonTableVCPReportedUnsupported(t *testing.T) {
	reply := encodeReply(t, []byte{byte(ddcpacket.VCPReply), 0x01, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00})
	tr := &fakeTransport{replies: [][]byte{reply}}
	h := &Handle{Transport: tr, Dialect: &dialect.Flags{}, Sleeper: fakeSleeper{}, Caps: retry.NewCaps()}

	_, err := GetNonTableVCP(context.Background(), h, FeatureCode(0x10))
	if ddcerr.KindOf(err) != ddcerr.ReportedUnsupported {
		t.Fatalf("expected ReportedUnsupported, got %v", err)
	}
}

func TestGetNonTableVCPNullResponseWithKnownDialectIsFatalOnFirstTry(t *testing.T) {
	reply := encodeReply(t, nil)
	tr := &fakeTransport{replies: [][]byte{reply}}
	flags := &dialect.Flags{}
	flags.SetSignal(dialect.SignalUsesNullResponse)
	h := &Handle{Transport: tr, Dialect: flags, Sleeper: fakeSleeper{}, Caps: retry.NewCaps()}

	_, err := GetNonTableVCP(context.Background(), h, FeatureCode(0x10))
	if ddcerr.KindOf(err) != ddcerr.DeterminedUnsupported {
		t.Fatalf("expected DeterminedUnsupported on the first try once dialect is known, got %v", err)
	}
	if len(tr.writes) != 1 {
		t.Fatalf("a known dialect's null response should not be retried, got %d attempts", len(tr.writes))
	}
}

func TestGetNonTableVCPNullResponseUnknownDialectCollapsesToAllResponsesNull(t *testing.T) {
	reply := encodeReply(t, nil)
	caps := retry.NewCaps()
	caps.Set(retry.WriteRead, 3)
	tr := &fakeTransport{replies: [][]byte{reply, reply, reply}}
	h := &Handle{Transport: tr, Dialect: &dialect.Flags{}, Sleeper: fakeSleeper{}, Caps: caps}

	_, err := GetNonTableVCP(context.Background(), h, FeatureCode(0x10))
	if ddcerr.KindOf(err) != ddcerr.AllResponsesNull {
		t.Fatalf("expected retry exhaustion to collapse to AllResponsesNull, got %v", err)
	}
	if len(tr.writes) != 3 {
		t.Fatalf("expected the full retry budget to be spent, got %d attempts", len(tr.writes))
	}
}

func TestGetNonTableVCPFallbackProbeDisregardsCachedSignalOnce(t *testing.T) {
	nullReply := encodeReply(t, nil)
	tr := &fakeTransport{replies: [][]byte{nullReply, nullReply}}
	flags := &dialect.Flags{}
	flags.SetSignal(dialect.SignalUsesNullResponse)
	flags.NeedsFallbackProbe = true
	h := &Handle{Transport: tr, Dialect: flags, Sleeper: fakeSleeper{}, Caps: retry.NewCaps()}

	_, err := GetNonTableVCP(context.Background(), h, FeatureCode(0x10))
	// The first attempt consumes the fallback probe and treats the null
	// reply as ordinary retriable noise; the second attempt sees the
	// cached dialect signal again (probe already consumed) and is fatal.
	if ddcerr.KindOf(err) != ddcerr.DeterminedUnsupported {
		t.Fatalf("expected DeterminedUnsupported once the probe is spent, got %v", err)
	}
	if len(tr.writes) != 2 {
		t.Fatalf("expected exactly 2 attempts (probe then fatal), got %d", len(tr.writes))
	}
	if flags.NeedsFallbackProbe {
		t.Fatalf("fallback probe should have been consumed")
	}
}

func TestSetNonTableVCPVerifiesWhenEnabled(t *testing.T) {
	// VCP-set itself issues no Read; only the verification Get does, so
	// a single scripted reply suffices.
	getReply := encodeReply(t, []byte{byte(ddcpacket.VCPReply), 0x00, 0x10, 0x00, 0xFF, 0x00, 0x00, 0x32})
	tr := &fakeTransport{replies: [][]byte{getReply}}
	h := &Handle{Transport: tr, Dialect: &dialect.Flags{}, Sleeper: fakeSleeper{}, Caps: retry.NewCaps()}

	err := SetNonTableVCP(context.Background(), h, FeatureCode(0x10), 0x32, SetOpts{Verify: true})
	if err != nil {
		t.Fatalf("SetNonTableVCP: %v", err)
	}
}

func TestSetNonTableVCPVerificationFailedOnMismatch(t *testing.T) {
	getReply := encodeReply(t, []byte{byte(ddcpacket.VCPReply), 0x00, 0x10, 0x00, 0xFF, 0x00, 0x00, 0x01})
	tr := &fakeTransport{replies: [][]byte{getReply}}
	h := &Handle{Transport: tr, Dialect: &dialect.Flags{}, Sleeper: fakeSleeper{}, Caps: retry.NewCaps()}

	err := SetNonTableVCP(context.Background(), h, FeatureCode(0x10), 0x32, SetOpts{Verify: true})
	if ddcerr.KindOf(err) != ddcerr.VerificationFailed {
		t.Fatalf("expected VerificationFailed, got %v", err)
	}
}

func TestSetNonTableVCPSkipsVerifyWhenDisabled(t *testing.T) {
	tr := &fakeTransport{replies: [][]byte{}}
	h := &Handle{Transport: tr, Dialect: &dialect.Flags{}, Sleeper: fakeSleeper{}, Caps: retry.NewCaps()}

	err := SetNonTableVCP(context.Background(), h, FeatureCode(0x10), 0x32, SetOpts{Verify: false})
	if err != nil {
		t.Fatalf("SetNonTableVCP without verify: %v", err)
	}
}

func TestTableReadAssemblesFragments(t *testing.T) {
	frag0 := encodeReply(t, []byte{byte(ddcpacket.CapabilitiesReply), 0x00, 0x00, 'a', 'b', 'c'})
	frag1 := encodeReply(t, []byte{byte(ddcpacket.CapabilitiesReply), 0x00, 0x03})
	tr := &fakeTransport{replies: [][]byte{frag0, frag1}}
	h := &Handle{Transport: tr, Dialect: &dialect.Flags{}, Sleeper: fakeSleeper{}, Caps: retry.NewCaps()}

	data, err := TableRead(context.Background(), h, FeatureCode(0x10))
	if err != nil {
		t.Fatalf("TableRead: %v", err)
	}
	if !bytes.Equal(data, []byte("abc")) {
		t.Fatalf("expected %q, got %q", "abc", data)
	}
}

func TestTableReadRejectsWrongReplyOpcode(t *testing.T) {
	// A VCP reply payload where a table-read fragment was expected.
	frag0 := encodeReply(t, []byte{byte(ddcpacket.VCPReply), 0x00, 0x00, 'a', 'b', 'c'})
	tr := &fakeTransport{replies: [][]byte{frag0}}
	h := &Handle{Transport: tr, Dialect: &dialect.Flags{}, Sleeper: fakeSleeper{}, Caps: retry.NewCaps()}

	_, err := TableRead(context.Background(), h, FeatureCode(0x10))
	if ddcerr.KindOf(err) != ddcerr.RetriesExhausted {
		t.Fatalf("expected the malformed fragment to exhaust retries, got %v", err)
	}
}

func TestTableWriteSegmentsAcrossMultipleWrites(t *testing.T) {
	tr := &fakeTransport{}
	h := &Handle{Transport: tr, Dialect: &dialect.Flags{}, Sleeper: fakeSleeper{}, Caps: retry.NewCaps()}

	data := make([]byte, 40)
	err := TableWrite(context.Background(), h, FeatureCode(0x10), data)
	if err != nil {
		t.Fatalf("TableWrite: %v", err)
	}
	if len(tr.writes) != 2 {
		t.Fatalf("expected 2 segmented writes, got %d", len(tr.writes))
	}
}

// fakeSleeper is a dsa.Sleeper that does nothing, for test speed.
type fakeSleeper struct{}

func (fakeSleeper) Sleep(dsa.Operation) {}
func (fakeSleeper) Observe(bool)        {}
