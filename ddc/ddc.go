//go:build linux

// Package ddc is the public entry point to the DDC/CI monitor-control
// engine: a thin re-export of internal/ddccore's library facade so
// external callers get a stable, documented surface while the
// implementation stays free to evolve under internal/.
package ddc

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ddcctl-project/ddcctl/internal/ddccore"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/capabilities"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/discovery"
	"github.com/ddcctl-project/ddcctl/internal/ddccore/vcp"
	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
)

// DisplayHandle identifies a display across calls.
type DisplayHandle = ddccore.DisplayHandle

// FeatureCode is a VCP feature code (MCCS §8).
type FeatureCode = vcp.FeatureCode

// Value is a decoded non-table VCP reply.
type Value = vcp.Value

// Error is the structured, chained failure type every operation
// returns.
type Error = ddcerr.Error

// Kind is one of the closed set of error kinds every operation can
// fail with.
type Kind = ddcerr.Kind

// Registry is the result of a display scan.
type Registry = discovery.Registry

// DisplayRef describes one discovered display.
type DisplayRef = discovery.DisplayRef

// Capabilities is a parsed capabilities string.
type Capabilities = capabilities.Tree

// Context owns the registry, persisted state, statistics, and logger
// for one library session. Obtain one with Init or Default.
type Context = ddccore.Context

// Init parses optsString (the options vocabulary shared with the
// CLI and config file via internal/ddcconf) and opens a
// fresh Context. A second call anywhere in the process returns
// ddcerr.InvalidOperation.
func Init(optsString string) (*Context, error) {
	return ddccore.Init(optsString)
}

// Default returns a lazily-initialized default Context for callers
// who don't need multiple contexts.
func Default() (*Context, error) {
	return ddccore.Default()
}

// WithLogger wires ctx's logger (the core library defaults to
// silence).
func WithLogger(ctx *Context, l zerolog.Logger) {
	ctx.WithLogger(l)
}

// Displays runs (or returns the cached result of) a discovery scan.
func Displays(ctx context.Context, c *Context) (*Registry, error) {
	return c.Displays(ctx)
}

// GetVCP reads a non-table VCP feature's current and maximum value.
func GetVCP(ctx context.Context, c *Context, handle DisplayHandle, code FeatureCode) (Value, error) {
	return c.GetVCP(ctx, handle, code)
}

// SetVCP writes a non-table VCP feature's value, verifying it stuck.
func SetVCP(ctx context.Context, c *Context, handle DisplayHandle, code FeatureCode, value uint16) error {
	return c.SetVCP(ctx, handle, code, value)
}

// GetTableVCP reads a table-type VCP feature's full value.
func GetTableVCP(ctx context.Context, c *Context, handle DisplayHandle, code FeatureCode) ([]byte, error) {
	return c.GetTableVCP(ctx, handle, code)
}

// SetTableVCP writes a table-type VCP feature's full value.
func SetTableVCP(ctx context.Context, c *Context, handle DisplayHandle, code FeatureCode, data []byte) error {
	return c.SetTableVCP(ctx, handle, code, data)
}

// GetCapabilities reads and parses a display's capabilities string.
func GetCapabilities(ctx context.Context, c *Context, handle DisplayHandle) (*Capabilities, error) {
	return c.GetCapabilities(ctx, handle)
}

// LastError returns handle's most recently recorded failure, or nil.
func LastError(c *Context, handle DisplayHandle) *Error {
	return c.LastError(handle)
}

// Teardown persists learned per-display state and releases every
// open transport. Safe to call at most once per Context.
func Teardown(c *Context) error {
	return c.Teardown()
}
