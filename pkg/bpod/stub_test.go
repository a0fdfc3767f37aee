package bpod

import (
	"bytes"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

var errStubTimeout = errors.New("stub: read timed out")

// stubTransport is a scripted mock device: every write is matched against
// the stubbed requests and the canned response is queued for reading.
type stubTransport struct {
	stubs   map[string][]byte
	pending bytes.Buffer
	writes  [][]byte
	opens   int
	closes  int
	openErr error
}

func newStubTransport() *stubTransport {
	return &stubTransport{stubs: make(map[string][]byte)}
}

func (s *stubTransport) stub(request, response []byte) {
	s.stubs[string(request)] = response
}

func (s *stubTransport) Open() error {
	if s.openErr != nil {
		return s.openErr
	}
	s.opens++
	return nil
}

func (s *stubTransport) Close() error {
	s.closes++
	return nil
}

func (s *stubTransport) ReadExact(n int) ([]byte, error) {
	if s.pending.Len() < n {
		return nil, fmt.Errorf("%w: got %d of %d bytes", errStubTimeout, s.pending.Len(), n)
	}
	return s.pending.Next(n), nil
}

func (s *stubTransport) Write(buf []byte) (int, error) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	s.writes = append(s.writes, cp)

	if resp, ok := s.stubs[string(buf)]; ok {
		s.pending.Write(resp)
	}
	return len(buf), nil
}

func (s *stubTransport) Flush() error {
	s.pending.Reset()
	return nil
}

func (s *stubTransport) wrote(request []byte) bool {
	for _, w := range s.writes {
		if bytes.Equal(w, request) {
			return true
		}
	}
	return false
}

// mockDeviceV22 scripts the responses of a v22 state machine, taken from
// a recorded session: firmware 22 on r2.0 hardware, 12 inputs and 16
// outputs.
func mockDeviceV22() *stubTransport {
	tr := newStubTransport()
	tr.stub([]byte{'6'}, []byte{'5'})
	tr.stub([]byte{'F'}, []byte{0x16, 0x00, 0x03, 0x00})
	tr.stub([]byte{'H'}, append(append(
		[]byte("\x00\x01d\x00Z\x10\x08\x10\x0c"),
		[]byte("UUUUUXBBPPPP")...),
		append([]byte{0x10}, []byte("UUUUUXBBPPPPVVVV")...)...))
	return tr
}

// mockDeviceV23 scripts a v23 state machine, which reports a minor
// version, a PCB revision and the serial message size in the header.
func mockDeviceV23() *stubTransport {
	tr := newStubTransport()
	tr.stub([]byte{'6'}, []byte{'5'})
	tr.stub([]byte{'F'}, []byte{0x17, 0x00, 0x04, 0x00})
	tr.stub([]byte{'f'}, []byte{0x02, 0x00})
	tr.stub([]byte{'v'}, []byte{0x01})
	tr.stub([]byte{'H'}, append(append(
		[]byte("\x00\x01d\x00Z\x03\x10\x08\x10\x0c"),
		[]byte("UUUUUXBBPPPP")...),
		append([]byte{0x10}, []byte("UUUUUXBBPPPPVVVV")...)...))
	return tr
}

// newStubHandle wires a handle directly to a stub transport, bypassing
// the registry.
func newStubHandle(tr Transport) *Bpod {
	return &Bpod{
		port:   "mock",
		tr:     tr,
		logger: log.New().WithField("port", "mock"),
	}
}

// newStubRegistry builds a registry whose dial function hands out the
// given transports by port name.
func newStubRegistry(transports map[string]*stubTransport) *Registry {
	logger := log.New()
	return &Registry{
		handles: make(map[string]*Bpod),
		dial: func(port string) Transport {
			if tr, ok := transports[port]; ok {
				return tr
			}
			tr := mockDeviceV22()
			transports[port] = tr
			return tr
		},
		logger: logger,
	}
}
