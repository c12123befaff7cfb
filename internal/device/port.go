package device

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is an open serial connection. go.bug.st/serial ports satisfy it; a
// Read that hits the read timeout returns (0, nil).
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// PortInfo names a candidate port and its human-readable description.
type PortInfo struct {
	Name        string
	Description string
}

// Enumerator lists the serial ports present on the host.
type Enumerator interface {
	Ports() ([]PortInfo, error)
}

// Opener opens a port by name.
type Opener interface {
	Open(name string) (Port, error)
}

// SerialOpener opens real serial ports at a fixed baud rate, 8N1.
type SerialOpener struct {
	Baud int
}

func (o SerialOpener) Open(name string) (Port, error) {
	mode := &serial.Mode{
		BaudRate: o.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return p, nil
}

// SerialEnumerator lists ports through the OS enumerator. USB devices are
// described by their product string.
type SerialEnumerator struct{}

func (SerialEnumerator) Ports() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		desc := d.Name
		if d.IsUSB && d.Product != "" {
			desc = d.Product + " (" + d.Name + ")"
		}
		out = append(out, PortInfo{Name: d.Name, Description: desc})
	}
	return out, nil
}
