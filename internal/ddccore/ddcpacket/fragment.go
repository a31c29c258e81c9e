package ddcpacket

import "github.com/ddcctl-project/ddcctl/internal/ddcerr"

// Fragment is one reply in a multi-part read (capabilities string or
// table value): a 2-byte big-endian offset plus up to 32 payload
// bytes. A zero-length fragment terminates the stream.
type Fragment struct {
	Offset int
	Data   []byte
}

// AssembleFragments stitches a sequence of fragments into one
// contiguous byte string, enforcing rules: offsets are
// monotonically non-decreasing, the first offset is 0, each fragment
// continues exactly where the previous one ended, and a zero-length
// fragment terminates the stream. Any violation returns
// InvalidResponse with no partial value yielded.
func AssembleFragments(frags []Fragment) ([]byte, error) {
	if len(frags) == 0 {
		return nil, ddcerr.New(ddcerr.InvalidResponse, "ddcpacket.AssembleFragments", "no fragments")
	}
	if frags[0].Offset != 0 {
		return nil, ddcerr.New(ddcerr.InvalidResponse, "ddcpacket.AssembleFragments", "first fragment offset must be 0")
	}

	var out []byte
	for i, f := range frags {
		if f.Offset != len(out) {
			return nil, ddcerr.New(ddcerr.InvalidResponse, "ddcpacket.AssembleFragments",
				"fragment offset does not continue previous fragment")
		}
		out = append(out, f.Data...)
		if len(f.Data) == 0 {
			if i != len(frags)-1 {
				return nil, ddcerr.New(ddcerr.InvalidResponse, "ddcpacket.AssembleFragments",
					"zero-length fragment followed by more fragments")
			}
			return out, nil
		}
	}

	// Stream ended without a terminating zero-length fragment: the
	// caller hasn't finished reading yet, this is not itself an error
	// at the codec layer.
	return out, nil
}

// SegmentPayload splits data into ≤32-byte chunks with 2-byte
// offsets.
func SegmentPayload(data []byte) []Fragment {
	if len(data) == 0 {
		return []Fragment{{Offset: 0, Data: nil}}
	}
	var frags []Fragment
	for off := 0; off < len(data); off += MaxPayload {
		end := off + MaxPayload
		if end > len(data) {
			end = len(data)
		}
		frags = append(frags, Fragment{Offset: off, Data: data[off:end]})
	}
	return frags
}
