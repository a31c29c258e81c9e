// Package dialect tracks the per-display quirks a DDC/CI monitor
// exhibits in practice, beyond what the VESA standard promises: the
// initial-checks result and the documented EIO-on-unsupported
// anomaly. Every higher layer (vcp, discovery) reads and updates one
// Flags value per discovered display.
package dialect

// UnsupportedSignal names which of the three mutually exclusive ways
// a monitor is observed to signal "feature not supported". At most
// one may be set.
type UnsupportedSignal int

const (
	// SignalUnknown means initial checks haven't run yet, or none of
	// the three known signals was conclusively observed.
	SignalUnknown UnsupportedSignal = iota
	// SignalUsesDDCFlag means the reply's "supported" bit (opcode
	// 0x02 reply byte 1) is authoritative.
	SignalUsesDDCFlag
	// SignalUsesNullResponse means an unsupported Get produces a
	// zero-length reply rather than a flagged one.
	SignalUsesNullResponse
	// SignalUsesAllZeroBytes means an unsupported Get produces a
	// full-length reply whose value bytes are all zero.
	SignalUsesAllZeroBytes
)

func (s UnsupportedSignal) String() string {
	switch s {
	case SignalUsesDDCFlag:
		return "uses-ddc-flag"
	case SignalUsesNullResponse:
		return "uses-null-response"
	case SignalUsesAllZeroBytes:
		return "uses-all-zero-bytes"
	default:
		return "unknown"
	}
}

// eioAnomalyThreshold is the number of consecutive Set-time EIO
// failures against the same display (Open Question (b), the "Dell
// AW3418D" case) that trigger a fallback probe on the
// next Get rather than continuing to treat EIO as fatal.
const eioAnomalyThreshold = 3

// Flags is the mutable dialect record for one discovered display.
// Populated by discovery's initial checks and refined over the
// display's lifetime by vcp's EIO-anomaly handling.
type Flags struct {
	// Checked reports whether initial checks have completed.
	Checked bool
	// Working reports whether the display answered initial checks at
	// all (false implies a phantom or dead display).
	Working bool
	// Signal is the detected unsupported-feature convention.
	Signal UnsupportedSignal
	// DoesNotIndicateUnsupported is set when a display's replies never
	// distinguish "unsupported" from "supported but zero" — callers
	// must fall back to the capabilities string instead.
	DoesNotIndicateUnsupported bool
	// Busy is set when the display has reported itself transiently
	// unable to answer (distinct from DisplayBusy lock contention).
	Busy bool
	// Removed marks a display that has vanished from the bus. No code
	// path in this module sets it; phantom filtering marks phantoms by
	// display number instead.
	Removed bool
	// NeedsFallbackProbe is armed by RecordEIO once the EIO-on-Set
	// anomaly threshold trips (Open Question (b)); ConsumeFallbackProbe
	// clears it after one Get disregards the cached unsupported signal.
	NeedsFallbackProbe bool

	eioStreak int
}

// SetSignal sets the detected unsupported-feature signal, enforcing
// the "at most one of the three" invariant by simply overwriting any
// prior value — callers are expected to call this only once, during
// initial checks.
func (f *Flags) SetSignal(s UnsupportedSignal) {
	f.Signal = s
	f.Checked = true
}

// SetDoesNotIndicateUnsupported records that this display's replies
// never distinguish "unsupported" from "supported but zero" — a
// separate bit from Signal's three mutually-exclusive values, since a
// display that doesn't indicate unsupported at all hasn't settled on
// any of them.
func (f *Flags) SetDoesNotIndicateUnsupported() {
	f.DoesNotIndicateUnsupported = true
	f.Checked = true
}

// RecordEIO accounts for one EIO response to a VCP Set. The Set call
// itself always stays fatal; once the anomaly threshold is reached
// this instead arms NeedsFallbackProbe so the next Get disregards a
// cached null-means-unsupported signal for that one call.
func (f *Flags) RecordEIO() {
	f.eioStreak++
	if f.eioStreak >= eioAnomalyThreshold {
		f.eioStreak = 0
		f.NeedsFallbackProbe = true
	}
}

// ResetEIOStreak clears the EIO anomaly counter, called after any
// successful Set.
func (f *Flags) ResetEIOStreak() {
	f.eioStreak = 0
}

// ConsumeFallbackProbe reports whether a fallback probe is pending
// and, if so, clears it — it fires for exactly one subsequent call.
func (f *Flags) ConsumeFallbackProbe() bool {
	if !f.NeedsFallbackProbe {
		return false
	}
	f.NeedsFallbackProbe = false
	return true
}
