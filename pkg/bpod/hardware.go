package bpod

import (
	"fmt"

	"github.com/int-brain-lab/bpod/pkg/wire"
)

// HardwareDescriptor is the typed model of the device's capabilities and
// I/O lines, built once per successful open and immutable thereafter.
type HardwareDescriptor struct {
	MaxStates                uint16
	TimerPeriod              uint16
	MaxSerialEvents          uint8
	MaxBytesPerSerialMessage uint8
	NGlobalTimers            uint8
	NGlobalCounters          uint8
	NConditions              uint8
	NInputs                  uint8
	InputDescriptor          []byte
	NOutputs                 uint8
	OutputDescriptor         []byte
}

// maxBytesPerSerialMessagePre23 is the fixed message size of firmware up
// to v22, which does not transmit the field.
const maxBytesPerSerialMessagePre23 = 3

// Header layouts, followed by the input descriptor array, the output
// count byte and the output descriptor array. The trailing header byte is
// the input count, which frames the next chunk of the transmission.
var (
	hardwareSpecV23   = wire.Spec{wire.U16, wire.U16, wire.U8, wire.U8, wire.U8, wire.U8, wire.U8, wire.U8}
	hardwareSpecPre23 = wire.Spec{wire.U16, wire.U16, wire.U8, wire.U8, wire.U8, wire.U8, wire.U8}
)

// readHardwareDescription queries the hardware description, selecting the
// decode path once by firmware version. Both paths produce the same
// structure.
func (b *Bpod) readHardwareDescription(major uint16) (HardwareDescriptor, error) {
	if major > 22 {
		return b.readHardwareV23()
	}
	return b.readHardwarePre23()
}

// readHardwareV23 decodes the v23+ layout, which transmits the maximum
// serial message size in the fourth header field.
func (b *Bpod) readHardwareV23() (HardwareDescriptor, error) {
	var hw HardwareDescriptor

	header, arrays, err := b.readHardwarePayload(hardwareSpecV23.Size())
	if err != nil {
		return hw, err
	}
	vals, err := hardwareSpecV23.Unpack(header)
	if err != nil {
		return hw, err
	}

	hw.MaxStates = vals[0].(uint16)
	hw.TimerPeriod = vals[1].(uint16)
	hw.MaxSerialEvents = vals[2].(byte)
	hw.MaxBytesPerSerialMessage = vals[3].(byte)
	hw.NGlobalTimers = vals[4].(byte)
	hw.NGlobalCounters = vals[5].(byte)
	hw.NConditions = vals[6].(byte)
	hw.NInputs = vals[7].(byte)

	return hw, hw.adoptDescriptors(arrays)
}

// readHardwarePre23 decodes the layout of firmware up to v22, which omits
// the maximum serial message size; the field is synthesized as a constant
// so both paths fill the same structure.
func (b *Bpod) readHardwarePre23() (HardwareDescriptor, error) {
	var hw HardwareDescriptor

	header, arrays, err := b.readHardwarePayload(hardwareSpecPre23.Size())
	if err != nil {
		return hw, err
	}
	vals, err := hardwareSpecPre23.Unpack(header)
	if err != nil {
		return hw, err
	}

	hw.MaxStates = vals[0].(uint16)
	hw.TimerPeriod = vals[1].(uint16)
	hw.MaxSerialEvents = vals[2].(byte)
	hw.MaxBytesPerSerialMessage = maxBytesPerSerialMessagePre23
	hw.NGlobalTimers = vals[3].(byte)
	hw.NGlobalCounters = vals[4].(byte)
	hw.NConditions = vals[5].(byte)
	hw.NInputs = vals[6].(byte)

	return hw, hw.adoptDescriptors(arrays)
}

// readHardwarePayload pulls the three-chunk hardware description off the
// wire: header, input descriptor array with the output count at its tail,
// and output descriptor array. Returns the header and the two tail
// chunks.
func (b *Bpod) readHardwarePayload(headerLen int) ([]byte, [2][]byte, error) {
	var arrays [2][]byte

	payload, offsets, err := b.ReadChunks(cmdHardware, 3, headerLen)
	if err != nil {
		return nil, arrays, err
	}

	header := payload[offsets[0].Start:offsets[0].End]
	arrays[0] = payload[offsets[1].Start:offsets[1].End]
	arrays[1] = payload[offsets[2].Start:offsets[2].End]
	return header, arrays, nil
}

// adoptDescriptors splits the descriptor chunks into the input array, the
// output count and the output array, enforcing the declared lengths.
func (hw *HardwareDescriptor) adoptDescriptors(arrays [2][]byte) error {
	inputs := arrays[0]
	if len(inputs) < 1 {
		return fmt.Errorf("%w: missing output count", wire.ErrDecoding)
	}
	hw.InputDescriptor = inputs[:len(inputs)-1]
	hw.NOutputs = inputs[len(inputs)-1]
	hw.OutputDescriptor = arrays[1]

	if len(hw.InputDescriptor) != int(hw.NInputs) {
		return fmt.Errorf("%w: input descriptor has %d bytes, expected %d",
			wire.ErrDecoding, len(hw.InputDescriptor), hw.NInputs)
	}
	if len(hw.OutputDescriptor) != int(hw.NOutputs) {
		return fmt.Errorf("%w: output descriptor has %d bytes, expected %d",
			wire.ErrDecoding, len(hw.OutputDescriptor), hw.NOutputs)
	}
	return nil
}
