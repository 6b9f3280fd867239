package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// RealSerialPortFactory opens hardware ports through go.bug.st/serial.
var RealSerialPortFactory SerialPortFactory = SerialPortOpener(func(path string, mode *SerialPortMode) (SerialPorter, error) {
	m, err := serialMode(mode)
	if err != nil {
		return nil, err
	}
	return serial.Open(path, m)
})

// OpenSerialMux opens the port at path through factory and wraps it in a
// SerialMux.
func OpenSerialMux(factory SerialPortFactory, path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	mode, err := opts.PortMode()
	if err != nil {
		return nil, err
	}
	port, err := factory.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return NewSerialMux(port), nil
}

// NewRealSerialMux creates a SerialMux backed by the hardware port at path.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	return OpenSerialMux(RealSerialPortFactory, path, opts)
}
