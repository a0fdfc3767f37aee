package bpod

import (
	"bytes"
	"fmt"
)

// Channel type code labels. Inputs and outputs label the same code letter
// differently: a 'P' line is a sensor port when read and a PWM driver
// when written.
var (
	inputLabels = map[byte]string{
		'B': "BNC",
		'V': "Valve",
		'P': "Port",
		'W': "Wire",
	}
	outputLabels = map[byte]string{
		'B': "BNC",
		'V': "Valve",
		'P': "PWM",
		'W': "Wire",
	}
)

// digitalOutputCodes are the output types whose override value is a plain
// on/off level; any nonzero value coerces to 1 before it goes on the
// wire. PWM-capable outputs pass the raw 0-255 value through.
var digitalOutputCodes = map[byte]bool{
	'D': true,
	'B': true,
	'W': true,
}

// channel is one addressable line of the device. The index is the
// position within the descriptor array and doubles as the wire-level
// channel index. The handle reference is a relation, not ownership: a
// channel never outlives the handle it is bound to.
type channel struct {
	dev   *Bpod
	name  string
	code  byte
	index int
}

// Name returns the channel name, unique within its direction, e.g.
// "Valve2".
func (c *channel) Name() string {
	return c.name
}

// TypeCode returns the descriptor byte that declared this channel.
func (c *channel) TypeCode() byte {
	return c.code
}

// Index returns the wire-level channel index.
func (c *channel) Index() int {
	return c.index
}

// Input is a readable channel.
type Input struct {
	channel
}

// Read reports whether the input line is currently active.
func (i *Input) Read() (bool, error) {
	resp, err := i.dev.QueryBytes([]any{cmdReadInput, i.index}, 1)
	if err != nil {
		return false, err
	}
	return resp[0] == 1, nil
}

// Override forces the state of the input line.
func (i *Input) Override(state bool) error {
	return i.dev.Write(cmdOverrideInput, state)
}

// Output is a writable channel.
type Output struct {
	channel
}

// Override sets the output line. Digital types treat any nonzero value as
// on; PWM-capable types use the full 0-255 range.
func (o *Output) Override(value uint8) error {
	if digitalOutputCodes[o.code] && value > 0 {
		value = 1
	}
	return o.dev.Write(cmdOverrideOutput, o.index, value)
}

// Enable is a reserved hook for port-enable support in a future firmware.
func (o *Output) Enable(state bool) error {
	return nil
}

// Inputs is the ordered input channel set of one handle.
type Inputs []*Input

// Get looks up an input channel by name.
func (s Inputs) Get(name string) (*Input, bool) {
	for _, c := range s {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// Names returns the channel names in descriptor order.
func (s Inputs) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.name
	}
	return names
}

// Outputs is the ordered output channel set of one handle.
type Outputs []*Output

// Get looks up an output channel by name.
func (s Outputs) Get(name string) (*Output, bool) {
	for _, c := range s {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// Names returns the channel names in descriptor order.
func (s Outputs) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.name
	}
	return names
}

// synthesizeChannels walks a descriptor array and produces one named
// channel per recognized type code. Naming is positional and
// deterministic: the Nth occurrence of a type code is named {label}{N},
// counting occurrences of that code only. Unrecognized bytes denote
// unused slots and are skipped.
func synthesizeChannels(desc []byte, labels map[byte]string, add func(name string, code byte, index int)) {
	for idx, code := range desc {
		label, ok := labels[code]
		if !ok {
			continue
		}
		n := bytes.Count(desc[:idx], []byte{code}) + 1
		add(fmt.Sprintf("%s%d", label, n), code, idx)
	}
}

func synthesizeInputs(dev *Bpod, desc []byte) Inputs {
	var inputs Inputs
	synthesizeChannels(desc, inputLabels, func(name string, code byte, index int) {
		inputs = append(inputs, &Input{channel{dev: dev, name: name, code: code, index: index}})
	})
	return inputs
}

func synthesizeOutputs(dev *Bpod, desc []byte) Outputs {
	var outputs Outputs
	synthesizeChannels(desc, outputLabels, func(name string, code byte, index int) {
		outputs = append(outputs, &Output{channel{dev: dev, name: name, code: code, index: index}})
	})
	return outputs
}
