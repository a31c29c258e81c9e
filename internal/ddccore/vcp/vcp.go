// Package vcp implements the four VCP exchange operations, grounded
// on ddcutil's ddc_vcp.c
// (ddc_write_read_with_retry, multi_part_read_with_retry,
// multi_part_write_with_retry — same call shapes, reimplemented as
// explicit Go functions over a transport.Transport rather than a
// threaded global execution context).
package vcp

import (
	"context"

	"github.com/ddcctl-project/ddcctl/internal/ddccore/ddcpacket"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/dialect"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/dsa"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/retry"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/transport"
	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
)

// FeatureCode is a VCP feature code (MCCS §8).
type FeatureCode byte

// Value is a decoded non-table VCP reply.
type Value struct {
	Code        FeatureCode
	Type        byte // 0x00 = continuous/set-parameter, 0x01 = momentary
	MaxValue    uint16
	CurrentValue uint16
}

// Handle bundles everything one VCP exchange needs: the transport to
// the already-selected display, its dialect record, and its DSA
// sleeper. Handle does not itself serialize access — callers obtain
// one only while holding the display's displaylock.
type Handle struct {
	Transport transport.Transport
	Dialect   *dialect.Flags
	Sleeper   dsa.Sleeper
	Caps      *retry.Caps
}

// SetOpts configures SetNonTableVCP.
type SetOpts struct {
	// Verify re-reads the feature after a settle delay and reports
	// ddcerr.VerificationFailed on mismatch. The zero value skips
	// verification; ddccore.Context.SetVCP always passes Verify: true.
	Verify bool
}

// GetNonTableVCP reads the current and maximum value of a continuous
// or non-continuous VCP feature ("Get VCP Feature").
func GetNonTableVCP(ctx context.Context, h *Handle, code FeatureCode) (Value, error) {
	var result Value
	err := retry.Run(ctx, retry.WriteRead, h.Caps, h.Sleeper, func(try int) error {
		if err := writeRequest(h, ddcpacket.VCPRequest, []byte{byte(code)}); err != nil {
			return err
		}
		h.Sleeper.Sleep(dsa.WriteToRead)

		reply, err := readReply(h)
		if err != nil {
			return err
		}

		if ddcpacket.IsNullResponse(reply) {
			return classifyNullResponse(h, code)
		}

		v, err := decodeGetReply(reply, code)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// classifyNullResponse interprets a zero-length reply according to
// the display's detected dialect (three mutually
// exclusive unsupported-feature signals). When the dialect has pinned
// "null means unsupported", a null reply is authoritative and fatal —
// unless a fallback probe is pending (Open Question (b)'s EIO-anomaly
// follow-up), in which case this one call disregards the cached
// signal and treats the null reply as ordinary retriable noise.
func classifyNullResponse(h *Handle, code FeatureCode) error {
	if h.Dialect != nil && h.Dialect.Signal == dialect.SignalUsesNullResponse && !h.Dialect.ConsumeFallbackProbe() {
		return ddcerr.New(ddcerr.DeterminedUnsupported, "vcp.GetNonTableVCP", "null response per detected dialect")
	}
	return ddcerr.New(ddcerr.NullResponse, "vcp.GetNonTableVCP", "null response, dialect not yet pinned")
}

func decodeGetReply(reply ddcpacket.Packet, code FeatureCode) (Value, error) {
	p := reply.Payload
	if len(p) < 8 || p[0] != byte(ddcpacket.VCPReply) {
		return Value{}, ddcerr.New(ddcerr.InvalidResponse, "vcp.GetNonTableVCP", "malformed VCP reply")
	}
	supported := p[1] == 0x00
	if p[2] != byte(code) {
		return Value{}, ddcerr.New(ddcerr.InvalidResponse, "vcp.GetNonTableVCP", "reply feature code mismatch")
	}
	if !supported {
		return Value{}, ddcerr.New(ddcerr.ReportedUnsupported, "vcp.GetNonTableVCP", "display reported feature unsupported")
	}
	return Value{
		Code:         code,
		Type:         p[3],
		MaxValue:     uint16(p[4])<<8 | uint16(p[5]),
		CurrentValue: uint16(p[6])<<8 | uint16(p[7]),
	}, nil
}

// SetNonTableVCP writes a new value for a continuous or
// non-continuous VCP feature, optionally verifying it stuck.
func SetNonTableVCP(ctx context.Context, h *Handle, code FeatureCode, value uint16, opts SetOpts) error {
	err := retry.Run(ctx, retry.WriteOnly, h.Caps, h.Sleeper, func(try int) error {
		payload := []byte{byte(code), byte(value >> 8), byte(value)}
		if err := writeRequest(h, ddcpacket.VCPSet, payload); err != nil {
			recordEIOIfAny(h, err)
			return err
		}
		if h.Dialect != nil {
			h.Dialect.ResetEIOStreak()
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !opts.Verify {
		return nil
	}

	h.Sleeper.Sleep(dsa.Settle)
	got, err := GetNonTableVCP(ctx, h, code)
	if err != nil {
		return ddcerr.Wrap(ddcerr.VerificationFailed, "vcp.SetNonTableVCP", "could not re-read feature to verify", err)
	}
	if got.CurrentValue != value {
		return ddcerr.New(ddcerr.VerificationFailed, "vcp.SetNonTableVCP", "value did not stick after set")
	}
	return nil
}

// recordEIOIfAny feeds the display's EIO anomaly counter when err is
// a communication failure (Open Question (b), the documented "Dell
// AW3418D" EIO-on-unsupported case). The Set attempt
// itself remains fatal either way; once the counter trips, the next
// Get disregards a cached null-means-unsupported dialect signal for
// one call instead (see classifyNullResponse).
func recordEIOIfAny(h *Handle, err error) {
	if h.Dialect == nil || ddcerr.KindOf(err) != ddcerr.CommunicationFailed {
		return
	}
	h.Dialect.RecordEIO()
}

// TableRead reads a table-type VCP feature's full value via a
// sequence of offset-advancing fragments ("Table Read").
func TableRead(ctx context.Context, h *Handle, code FeatureCode) ([]byte, error) {
	var frags []ddcpacket.Fragment
	err := retry.Run(ctx, retry.MultiPartRead, h.Caps, h.Sleeper, func(try int) error {
		frags = nil
		offset := 0
		for {
			if err := writeRequest(h, ddcpacket.TableReadRequest, []byte{byte(code), byte(offset >> 8), byte(offset)}); err != nil {
				return err
			}
			h.Sleeper.Sleep(dsa.WriteToRead)

			reply, err := readReply(h)
			if err != nil {
				return err
			}
			if ddcpacket.IsNullResponse(reply) {
				return classifyNullResponse(h, code)
			}

			p := reply.Payload
			if len(p) < 3 || p[0] != byte(ddcpacket.CapabilitiesReply) {
				return ddcerr.New(ddcerr.Retriable, "vcp.TableRead", "malformed table-read fragment")
			}
			fragOffset := int(p[1])<<8 | int(p[2])
			data := p[3:]

			frags = append(frags, ddcpacket.Fragment{Offset: fragOffset, Data: data})
			offset += len(data)
			if len(data) == 0 {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return ddcpacket.AssembleFragments(frags)
}

// TableWrite writes a table-type VCP feature's value ("Table Write"),
// one packet per fragment with a 2-byte offset. Each packet payload
// (opcode, feature code, offset, data) stays within the 32-byte
// limit, so a fragment carries at most 28 data bytes.
func TableWrite(ctx context.Context, h *Handle, code FeatureCode, data []byte) error {
	const maxData = ddcpacket.MaxPayload - 4
	var frags []ddcpacket.Fragment
	for off := 0; off < len(data) || off == 0; off += maxData {
		end := min(off+maxData, len(data))
		frags = append(frags, ddcpacket.Fragment{Offset: off, Data: data[off:end]})
	}
	return retry.Run(ctx, retry.MultiPartWrite, h.Caps, h.Sleeper, func(try int) error {
		for _, f := range frags {
			payload := make([]byte, 0, 3+len(f.Data))
			payload = append(payload, byte(code), byte(f.Offset>>8), byte(f.Offset))
			payload = append(payload, f.Data...)
			if err := writeRequest(h, ddcpacket.TableWrite, payload); err != nil {
				return err
			}
			h.Sleeper.Sleep(dsa.NextWrite)
		}
		return nil
	})
}

// GetCapabilitiesString reads a monitor's capabilities string via the
// same offset-advancing multi-part read shape as TableRead, but over
// the dedicated capabilities opcodes (CapabilitiesRequest 0xF3,
// CapabilitiesReply 0xE3) rather than a VCP feature code.
func GetCapabilitiesString(ctx context.Context, h *Handle) (string, error) {
	var frags []ddcpacket.Fragment
	err := retry.Run(ctx, retry.MultiPartRead, h.Caps, h.Sleeper, func(try int) error {
		frags = nil
		offset := 0
		for {
			if err := writeRequest(h, ddcpacket.CapabilitiesRequest, []byte{byte(offset >> 8), byte(offset)}); err != nil {
				return err
			}
			h.Sleeper.Sleep(dsa.CapabilitiesReply)

			reply, err := readReply(h)
			if err != nil {
				return err
			}
			if ddcpacket.IsNullResponse(reply) {
				return classifyNullResponse(h, FeatureCode(0))
			}

			p := reply.Payload
			if len(p) < 3 || p[0] != byte(ddcpacket.CapabilitiesReply) {
				return ddcerr.New(ddcerr.Retriable, "vcp.GetCapabilitiesString", "malformed capabilities fragment")
			}
			fragOffset := int(p[1])<<8 | int(p[2])
			data := p[3:]

			frags = append(frags, ddcpacket.Fragment{Offset: fragOffset, Data: data})
			offset += len(data)
			if len(data) == 0 {
				return nil
			}
		}
	})
	if err != nil {
		return "", err
	}
	raw, err := ddcpacket.AssembleFragments(frags)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// writeRequest sends opcode followed by body as one packet payload;
// body must not include the opcode byte.
func writeRequest(h *Handle, opcode ddcpacket.PacketType, body []byte) error {
	payload := make([]byte, 0, len(body)+1)
	payload = append(payload, byte(opcode))
	payload = append(payload, body...)

	wire, err := ddcpacket.Encode(ddcpacket.Packet{
		Source:  ddcpacket.HostAddress,
		Dest:    ddcpacket.MonitorAddress,
		Payload: payload,
	})
	if err != nil {
		return ddcerr.Wrap(ddcerr.InvalidArgument, "vcp.writeRequest", "could not encode request", err)
	}

	if _, err := h.Transport.Write(wire); err != nil {
		return classifyTransportError(err)
	}
	return nil
}

func readReply(h *Handle) (ddcpacket.Packet, error) {
	buf := make([]byte, ddcpacket.MaxPayload+3)
	n, err := h.Transport.Read(buf)
	if err != nil {
		return ddcpacket.Packet{}, classifyTransportError(err)
	}
	p, err := ddcpacket.Decode(buf[:n], ddcpacket.MonitorAddress)
	if err != nil {
		// ddcpacket.Decode's own errors (ChecksumMismatch, ShortRead,
		// InvalidResponse) already carry a kind ddcerr.IsRetriable
		// recognizes, so they pass straight through.
		return ddcpacket.Packet{}, err
	}
	return p, nil
}

// classifyTransportError normalizes whatever the Transport returns.
// i2cbus.ClassifyIOError and hidbus already tag their errors with a
// real ddcerr.Kind; anything else (a bare OS error, a test double) is
// treated as ordinary transient noise.
func classifyTransportError(err error) error {
	if ddcerr.KindOf(err) != ddcerr.Unknown {
		return err
	}
	return ddcerr.Wrap(ddcerr.Retriable, "vcp", "transport I/O error", err)
}
