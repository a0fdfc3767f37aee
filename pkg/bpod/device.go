// Package bpod drives the Bpod finite-state-machine controller over a
// serial link: discovery, handshake, capability negotiation and typed
// access to the device's input and output channels.
package bpod

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/int-brain-lab/bpod/pkg/wire"
)

// Bpod commands
const (
	cmdHandshake      byte = '6' // probe; acknowledged with handshakeAck
	cmdFirmware       byte = 'F' // firmware major version and machine type
	cmdMinorVersion   byte = 'f' // firmware minor version (v23+)
	cmdPCBRevision    byte = 'v' // PCB revision (v23+)
	cmdHardware       byte = 'H' // hardware description
	cmdReadInput      byte = 'I' // read one input channel
	cmdOverrideInput  byte = 'V' // override one input channel
	cmdOverrideOutput byte = 'O' // override one output channel

	handshakeAck byte = '5'
)

// machineTypeLabels maps the machine type code reported by the firmware to
// the state machine hardware generation.
var machineTypeLabels = map[uint16]string{
	1: "v0.5",
	2: "r07+",
	3: "r2.0-2.5",
	4: "2+ r1.0",
}

// Transport is the duplex byte stream the handle talks through, normally a
// serialio.Conn.
type Transport interface {
	Open() error
	Close() error
	ReadExact(n int) ([]byte, error)
	Write(buf []byte) (int, error)
	Flush() error
}

// VersionInfo holds the firmware and hardware revision negotiated during
// the handshake. Minor is 0 and PCBRevision nil on firmware up to v22,
// which cannot report them.
type VersionInfo struct {
	Major            uint16
	Minor            uint16
	MachineType      uint16
	MachineTypeLabel string
	PCBRevision      *uint8
}

// Bpod is one open connection to a Bpod device. Handles are created
// through a Registry, which keeps at most one live handle per port.
//
// A query (write followed by the positional response read) is atomic per
// handle; the protocol has no request IDs, so two queries must never
// interleave on the same transport.
type Bpod struct {
	port     string
	tr       Transport
	logger   log.FieldLogger
	registry *Registry

	openMu sync.Mutex // serializes Open against itself
	mu     sync.Mutex // serializes all wire traffic
	open   bool

	Version  VersionInfo
	Hardware HardwareDescriptor
	Inputs   Inputs
	Outputs  Outputs
}

// Port returns the port identifier. The port cannot change for the life
// of the handle.
func (b *Bpod) Port() string {
	return b.port
}

// IsOpen reports whether the connection is open.
func (b *Bpod) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Open connects to the device: it claims the serial port, performs the
// handshake, negotiates versions and builds the channel set from the
// hardware description. Reopening a closed handle re-registers it with
// its registry and rebuilds the channels, since descriptors may change
// across firmware updates; if a new handle has claimed the port in the
// meantime, Open fails with ErrPortInUse.
func (b *Bpod) Open() error {
	b.openMu.Lock()
	defer b.openMu.Unlock()

	if b.IsOpen() {
		return nil
	}

	// Claim the port in the registry before touching the wire, so two
	// handles can never be live on the same port.
	if b.registry != nil {
		if err := b.registry.adopt(b); err != nil {
			return err
		}
	}

	b.logger.Info("Connecting to Bpod device ...")
	if err := b.tr.Open(); err != nil {
		b.deregister()
		return err
	}
	b.mu.Lock()
	b.open = true
	b.mu.Unlock()

	if err := b.initialize(); err != nil {
		// Do not leak a half-initialized handle.
		b.mu.Lock()
		b.open = false
		b.mu.Unlock()
		b.tr.Close()
		b.deregister()
		return err
	}
	return nil
}

func (b *Bpod) deregister() {
	if b.registry != nil {
		b.registry.remove(b.port, b)
	}
}

func (b *Bpod) initialize() error {
	ok, err := b.handshake()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if !ok {
		return ErrHandshake
	}
	b.logger.Debug("Handshake successful")

	version, err := b.negotiateVersion()
	if err != nil {
		return err
	}
	b.Version = version

	b.logger.Infof("Bpod Finite State Machine %s", version.MachineTypeLabel)
	b.logger.Infof("Firmware version %d.%d", version.Major, version.Minor)
	if version.PCBRevision != nil {
		b.logger.Infof("Circuit board revision %d", *version.PCBRevision)
	}

	hw, err := b.readHardwareDescription(version.Major)
	if err != nil {
		return err
	}
	b.Hardware = hw

	b.logger.Debug("Configuring I/O ports")
	b.Inputs = synthesizeInputs(b, hw.InputDescriptor)
	b.Outputs = synthesizeOutputs(b, hw.OutputDescriptor)
	return nil
}

// Close disconnects the state machine and releases the serial port. The
// channel set becomes unusable. Closing an already-closed handle is a
// no-op and does not repeat the disconnect byte on the wire.
func (b *Bpod) Close() error {
	b.mu.Lock()
	if !b.open {
		b.mu.Unlock()
		return nil
	}
	b.open = false
	b.mu.Unlock()

	b.logger.Debug("Disconnecting state machine")
	err := b.tr.Close()
	b.deregister()
	return err
}

// handshake probes the device and checks the acknowledgement byte. A
// wrong byte reports false without an error; the input buffer is flushed
// either way, since the probe also resets the device's session clock.
func (b *Bpod) handshake() (bool, error) {
	resp, err := b.QueryBytes(cmdHandshake, 1)
	if err != nil {
		return false, err
	}
	ok := resp[0] == handshakeAck
	if err := b.tr.Flush(); err != nil {
		return ok, err
	}
	return ok, nil
}

// negotiateVersion queries the firmware version and, on firmware newer
// than v22, the minor version and PCB revision.
func (b *Bpod) negotiateVersion() (VersionInfo, error) {
	var info VersionInfo

	vals, err := b.Query(cmdFirmware, wire.Spec{wire.U16, wire.U16})
	if err != nil {
		return info, err
	}
	info.Major = vals[0].(uint16)
	info.MachineType = vals[1].(uint16)

	label, known := machineTypeLabels[info.MachineType]
	if !known {
		return info, fmt.Errorf("%w: unknown machine type %d", ErrProtocol, info.MachineType)
	}
	info.MachineTypeLabel = label

	if info.Major > 22 {
		vals, err = b.Query(cmdMinorVersion, wire.Spec{wire.U16})
		if err != nil {
			return info, err
		}
		info.Minor = vals[0].(uint16)

		vals, err = b.Query(cmdPCBRevision, wire.Spec{wire.U8})
		if err != nil {
			return info, err
		}
		rev := vals[0].(byte)
		info.PCBRevision = &rev
	}
	return info, nil
}

// Query writes a request and decodes the response according to spec. The
// write/read pair holds the handle lock, so concurrent queries cannot
// interleave their positional responses.
func (b *Bpod) Query(request any, spec wire.Spec) ([]any, error) {
	data, err := b.QueryBytes(request, spec.Size())
	if err != nil {
		return nil, err
	}
	return spec.Unpack(data)
}

// QueryBytes writes a request and reads exactly n raw response bytes.
func (b *Bpod) QueryBytes(request any, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil, ErrClosed
	}
	if err := b.writeLocked(request); err != nil {
		return nil, err
	}
	return b.tr.ReadExact(n)
}

// Write encodes values with the wire codec and sends them to the device.
func (b *Bpod) Write(values ...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return ErrClosed
	}
	return b.writeLocked(values...)
}

func (b *Bpod) writeLocked(values ...any) error {
	buf, err := wire.ToBytes(values...)
	if err != nil {
		return err
	}
	if _, err := b.tr.Write(buf); err != nil {
		return err
	}
	return nil
}
