//go:build linux

package main

import "github.com/ddcctl-project/ddcctl/internal/ddcerr"

// exitCode maps the dominant ddcerr.Kind of a command's outcome to a
// process exit status ("non-zero encoding the dominant
// error kind"). The table is stable across releases: never renumber
// an existing entry, only append.
func exitCode(kind ddcerr.Kind) int {
	switch kind {
	case ddcerr.Unknown:
		return 0
	case ddcerr.InvalidArgument:
		return 2
	case ddcerr.InvalidOperation:
		return 3
	case ddcerr.DisplayNotFound:
		return 4
	case ddcerr.DisplayBusy:
		return 5
	case ddcerr.DisplayRemoved:
		return 6
	case ddcerr.CommunicationFailed:
		return 7
	case ddcerr.RetriesExhausted, ddcerr.AllResponsesNull:
		return 8
	case ddcerr.ReportedUnsupported, ddcerr.DeterminedUnsupported:
		return 9
	case ddcerr.ChecksumMismatch, ddcerr.NullResponse, ddcerr.ShortRead, ddcerr.InvalidResponse:
		return 10
	case ddcerr.VerificationFailed:
		return 11
	case ddcerr.BadConfigurationFile:
		return 12
	case ddcerr.Cancelled:
		return 13
	default:
		return 1
	}
}
