package bpod

// Module describes a peripheral attached to one of the device's module
// ports.
type Module struct {
	Port            int
	Name            string
	FirmwareVersion uint32
	NEvents         uint8
}

// UpdateModules enumerates the peripherals attached to the module ports.
// Auto-detection is not implemented yet; the module-port enumeration
// protocol ('M') is still being mapped out against current firmware.
func (b *Bpod) UpdateModules() ([]Module, error) {
	return nil, ErrNotImplemented
}
