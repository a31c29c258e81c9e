//go:build linux

// Package i2cbus implements the I²C bus transport: it opens /dev/i2c-N
// character devices, selects a 7-bit slave address via ioctl, and
// performs raw read/write, using the same ioctl constant table and
// raw-syscall shape as other Go I2C drivers built over Linux's
// character device interface.
package i2cbus

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ddcctl-project/ddcctl/internal/ddccore/transport"
	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
)

// /dev/i2c-X ioctl request codes. The parameter is an unsigned long
// for every op used here.
const (
	i2cSlave      = 0x0703 // I2C_SLAVE
	i2cSlaveForce = 0x0706 // I2C_SLAVE_FORCE
)

// Bus is an open handle on an I2C adapter (e.g. /dev/i2c-5).
type Bus struct {
	f          *os.File
	num        int
	curAddr    transport.SlaveAddress
	addrIsForc bool
}

// Open opens /dev/i2c-N for read+write. The adapter is not associated
// with any slave address yet; callers must call SetSlaveAddress
// before Read/Write.
func Open(busNumber int) (*Bus, error) {
	path := fmt.Sprintf("/dev/i2c-%d", busNumber)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, ddcerr.Wrap(ClassifyIOError(err), "i2cbus.Open", "open "+path, err)
	}
	return &Bus{f: f, num: busNumber}, nil
}

// Close releases the underlying file descriptor.
func (b *Bus) Close() error {
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	if err != nil {
		return ddcerr.Wrap(ddcerr.CommunicationFailed, "i2cbus.Close", "close", err)
	}
	return nil
}

// SetSlaveAddress selects the 7-bit slave address used by subsequent
// Read/Write calls. force uses I2C_SLAVE_FORCE, the unchecked-
// ownership variant; per spec the core only forces after a normal
// SetSlaveAddress has already failed with EBUSY.
func (b *Bus) SetSlaveAddress(addr transport.SlaveAddress, force bool) error {
	req := uintptr(i2cSlave)
	if force {
		req = i2cSlaveForce
	}
	if err := unix.IoctlSetInt(int(b.f.Fd()), uint(req), int(addr)); err != nil {
		return ddcerr.Wrap(ClassifyIOError(err), "i2cbus.SetSlaveAddress", "select slave", err)
	}
	b.curAddr = addr
	b.addrIsForc = force
	return nil
}

// Write performs a raw write on the currently selected slave address.
func (b *Bus) Write(p []byte) (int, error) {
	n, err := b.f.Write(p)
	if err != nil {
		return n, ddcerr.Wrap(ClassifyIOError(err), "i2cbus.Write", "write", err)
	}
	return n, nil
}

// Read performs a raw read on the currently selected slave address.
// A short read (fewer bytes than len(p)) is not an error here:
// i2cbus.Read only reports OS-level failures. The caller decodes
// p[:n], and ddcpacket.Decode reports a truncated frame as ShortRead
// or InvalidResponse, both of which the retry engine retries.
func (b *Bus) Read(p []byte) (int, error) {
	n, err := b.f.Read(p)
	if err != nil {
		return n, ddcerr.Wrap(ClassifyIOError(err), "i2cbus.Read", "read", err)
	}
	return n, nil
}

// Mode reports the I2C transport.
func (b *Bus) Mode() transport.Mode { return transport.ModeI2C }

// Number returns the adapter's bus number, e.g. 5 for /dev/i2c-5.
func (b *Bus) Number() int { return b.num }

// ClassifyIOError maps a raw OS error into the protocol-level error
// taxonomy: transient conditions are retriable, EBUSY
// means another process owns the slave address, device-absent errors
// are fatal for this display, anything else is fatal and reportable.
func ClassifyIOError(err error) ddcerr.Kind {
	if err == nil {
		return ddcerr.Unknown
	}
	switch {
	case isErrno(err, unix.EAGAIN), isErrno(err, unix.ETIMEDOUT):
		return ddcerr.Retriable
	case isErrno(err, unix.EBUSY):
		return ddcerr.DisplayBusy
	case isErrno(err, unix.ENODEV), isErrno(err, unix.ENXIO):
		return ddcerr.CommunicationFailed
	default:
		return ddcerr.CommunicationFailed
	}
}

func isErrno(err error, target unix.Errno) bool {
	// os.PathError and os.LinkError wrap the syscall.Errno; unwrap
	// through the standard library chain rather than assuming a
	// concrete type.
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return errno == target
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
