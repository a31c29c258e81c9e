// Package hidbus is the USB HID transport, the alternative to I2C for
// monitors that only expose DDC/CI over a USB HID interface. Discovery
// and the VCP exchange only ever see the transport.Transport
// interface; this package supplies the one concrete implementation
// backed by github.com/sstallion/go-hid, using its
// Enumerate/OpenPath/GetFeatureReport/SendFeatureReport calls.
package hidbus

import (
	"fmt"

	hid "github.com/sstallion/go-hid"

	"github.com/ddcctl-project/ddcctl/internal/ddccore/transport"
	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
)

// MonitorControlUsagePage is the HID usage page reserved for USB
// Monitor Control class devices (per the USB HID usage tables).
const MonitorControlUsagePage = 0x80

// DeviceInfo describes one enumerated USB monitor-control HID
// interface, enough to open it and to seed a DisplayRef before EDID
// is read from the HID report.
type DeviceInfo struct {
	Path         string
	VendorID     uint16
	ProductID    uint16
	Serial       string
	Manufacturer string
	Product      string
	InterfaceNbr int
}

// Enumerate lists every HID device exposing the Monitor Control usage
// page, across all vendors (unlike the single-vendor example this is
// grounded on, ddcctl cannot assume one manufacturer).
func Enumerate() ([]DeviceInfo, error) {
	var out []DeviceInfo

	err := hid.Enumerate(hid.VendorIDAny, hid.ProductIDAny, func(info *hid.DeviceInfo) error {
		if info.UsagePage != MonitorControlUsagePage {
			return nil
		}
		out = append(out, DeviceInfo{
			Path:         info.Path,
			VendorID:     info.VendorID,
			ProductID:    info.ProductID,
			Serial:       info.SerialNbr,
			Manufacturer: info.MfrStr,
			Product:      info.ProductStr,
			InterfaceNbr: info.InterfaceNbr,
		})
		return nil
	})
	if err != nil {
		return nil, ddcerr.Wrap(ddcerr.CommunicationFailed, "hidbus.Enumerate", "enumerate HID devices", err)
	}
	return out, nil
}

// Device wraps an open HID handle so it satisfies transport.Transport.
// DDC/CI-over-USB-HID has no slave-address concept; SetSlaveAddress
// is a no-op validated against the two addresses the rest of the
// core ever asks for.
type Device struct {
	dev  *hid.Device
	info DeviceInfo
}

// Open opens the HID device at path (as returned by Enumerate).
func Open(info DeviceInfo) (*Device, error) {
	dev, err := hid.OpenPath(info.Path)
	if err != nil {
		return nil, ddcerr.Wrap(ddcerr.CommunicationFailed, "hidbus.Open", "open "+info.Path, err)
	}
	return &Device{dev: dev, info: info}, nil
}

func (d *Device) SetSlaveAddress(addr transport.SlaveAddress, _ bool) error {
	switch addr {
	case transport.AddrDDC, transport.AddrEDID:
		return nil
	default:
		return ddcerr.New(ddcerr.InvalidArgument, "hidbus.SetSlaveAddress", fmt.Sprintf("unsupported address 0x%02x", byte(addr)))
	}
}

func (d *Device) Write(p []byte) (int, error) {
	n, err := d.dev.SendFeatureReport(p)
	if err != nil {
		return n, ddcerr.Wrap(ddcerr.CommunicationFailed, "hidbus.Write", "send feature report", err)
	}
	return n, nil
}

func (d *Device) Read(p []byte) (int, error) {
	n, err := d.dev.GetFeatureReport(p)
	if err != nil {
		return n, ddcerr.Wrap(ddcerr.CommunicationFailed, "hidbus.Read", "get feature report", err)
	}
	return n, nil
}

func (d *Device) Close() error {
	if err := d.dev.Close(); err != nil {
		return ddcerr.Wrap(ddcerr.CommunicationFailed, "hidbus.Close", "close", err)
	}
	return nil
}

func (d *Device) Mode() transport.Mode { return transport.ModeUSB }

// Info returns the enumeration info this Device was opened from.
func (d *Device) Info() DeviceInfo { return d.info }
