// Package retry implements the bounded retry engine:
// every DDC/CI exchange is retried up to a per-exchange-class cap,
// sleeping between attempts through an injected dsa.Sleeper, and on
// exhaustion reports either RetriesExhausted or, when every attempt
// failed the same way with a null response, the narrower
// AllResponsesNull kind that discovery's initial checks use to detect
// a monitor that answers unsupported features with a null response.
package retry

import (
	"context"
	"fmt"

	"github.com/ddcctl-project/ddcctl/internal/ddccore/dsa"
	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
)

// Class identifies one of the four exchange shapes that carry their
// own retry cap (ddcutil's Try_Data per-class counts).
type Class int

const (
	WriteOnly Class = iota
	WriteRead
	MultiPartRead
	MultiPartWrite
)

func (c Class) String() string {
	switch c {
	case WriteOnly:
		return "write-only"
	case WriteRead:
		return "write-read"
	case MultiPartRead:
		return "multi-part-read"
	case MultiPartWrite:
		return "multi-part-write"
	default:
		return "unknown-class"
	}
}

// MaxMaxTries is the hard ceiling no per-class cap may exceed.
const MaxMaxTries = 15

var defaultMaxTries = map[Class]int{
	WriteOnly:     4,
	WriteRead:     6,
	MultiPartRead: 8,
	MultiPartWrite: 8,
}

// Caps holds the live, possibly user-adjusted retry ceilings for each
// class. The zero value is not usable; construct with NewCaps.
type Caps struct {
	max map[Class]int
}

// NewCaps returns a Caps populated with the default per-class ceilings.
func NewCaps() *Caps {
	c := &Caps{max: make(map[Class]int, len(defaultMaxTries))}
	for class, n := range defaultMaxTries {
		c.max[class] = n
	}
	return c
}

// Get returns the current cap for class.
func (c *Caps) Get(class Class) int {
	return c.max[class]
}

// Set adjusts the cap for class, rejecting anything outside [1,
// MaxMaxTries] ("no class's cap may exceed
// MAX_MAX_TRIES").
func (c *Caps) Set(class Class, n int) error {
	if n < 1 || n > MaxMaxTries {
		return ddcerr.New(ddcerr.InvalidArgument, "retry.Caps.Set",
			fmt.Sprintf("tries %d out of range [1,%d]", n, MaxMaxTries))
	}
	c.max[class] = n
	return nil
}

// Attempt is the callback Run drives: it performs exactly one I/O
// exchange and reports whether it succeeded. A non-nil err must be a
// *ddcerr.Error carrying its true Kind (NullResponse, ChecksumMismatch,
// etc.) — Run decides retry eligibility via ddcerr.IsRetriable(err)
// and preserves that Kind in the composite's cause list, which is
// what lets the AllResponsesNull collapse rule work.
type Attempt func(try int) error

// Run drives attempt up to caps.Get(class) times, sleeping via
// sleeper.Sleep(dsa.NextWrite) between attempts and feeding
// sleeper.Observe after each one. It returns nil on the first
// success. On exhaustion it returns a *ddcerr.Error of kind
// RetriesExhausted wrapping every attempt's cause, unless every cause
// carries ddcerr.NullResponse, in which case the kind narrows to
// AllResponsesNull, the signal discovery's initial checks use to move
// on to the brightness probe: an unsupported feature reported via
// null response.
// ctx cancellation between attempts returns ddcerr.Cancelled without
// recording a cause or touching sleeper state.
func Run(ctx context.Context, class Class, caps *Caps, sleeper dsa.Sleeper, attempt Attempt) error {
	maxTries := caps.Get(class)
	if maxTries < 1 {
		maxTries = 1
	}

	var causes []error
	for try := 1; try <= maxTries; try++ {
		if err := ctx.Err(); err != nil {
			return ddcerr.Wrap(ddcerr.Cancelled, "retry.Run", "context cancelled before attempt", err)
		}

		err := attempt(try)
		if err == nil {
			if sleeper != nil {
				sleeper.Observe(try > 1)
			}
			return nil
		}

		if !ddcerr.IsRetriable(err) {
			// Fatal: busy, cancelled, bad argument, unsupported, etc. —
			// do not retry.
			return err
		}

		causes = append(causes, err)
		if sleeper != nil {
			sleeper.Observe(true)
		}

		if try == maxTries {
			break
		}
		if sleeper != nil {
			sleeper.Sleep(dsa.NextWrite)
		}
	}

	kind := ddcerr.RetriesExhausted
	if ddcerr.AllCausesAre(causes, ddcerr.NullResponse) {
		kind = ddcerr.AllResponsesNull
	}
	return ddcerr.Composite(kind, "retry.Run",
		fmt.Sprintf("%s exhausted %d attempts", class, maxTries), causes)
}
