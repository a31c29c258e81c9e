//go:build linux

package i2cbus

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
)

func TestClassifyIOErrorMapping(t *testing.T) {
	cases := []struct {
		errno unix.Errno
		want  ddcerr.Kind
	}{
		{unix.EAGAIN, ddcerr.Retriable},
		{unix.ETIMEDOUT, ddcerr.Retriable},
		{unix.EBUSY, ddcerr.DisplayBusy},
		{unix.ENODEV, ddcerr.CommunicationFailed},
		{unix.ENXIO, ddcerr.CommunicationFailed},
		{unix.EINVAL, ddcerr.CommunicationFailed},
	}

	for _, tc := range cases {
		wrapped := fmt.Errorf("syscall: %w", tc.errno)
		if got := ClassifyIOError(wrapped); got != tc.want {
			t.Errorf("ClassifyIOError(%v) = %s, want %s", tc.errno, got, tc.want)
		}
	}
}

func TestClassifyIOErrorNil(t *testing.T) {
	if got := ClassifyIOError(nil); got != ddcerr.Unknown {
		t.Fatalf("ClassifyIOError(nil) = %s, want Unknown", got)
	}
}
