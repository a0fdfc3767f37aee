package bpod

import "errors"

var (
	// ErrHandshake means the device did not acknowledge the probe byte.
	ErrHandshake = errors.New("bpod: handshake failed")

	// ErrProtocol means the device sent a byte sequence the driver does
	// not understand, such as an unknown hardware generation.
	ErrProtocol = errors.New("bpod: protocol error")

	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("bpod: connection is closed")

	// ErrNoDevice means automatic discovery found no Bpod on the bus.
	ErrNoDevice = errors.New("bpod: no device found")

	// ErrPortInUse means another handle already owns the port.
	ErrPortInUse = errors.New("bpod: port already in use")

	// ErrNotImplemented marks reserved operations that need firmware
	// support not yet mapped out.
	ErrNotImplemented = errors.New("bpod: not implemented")
)
