package serialio

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// vendorID is the USB vendor of the Bpod state machine's Teensy
	// microcontroller. Only matching ports are probed so unrelated
	// hardware is left alone.
	vendorID = "16C0"

	// discoveryByte is emitted by a Bpod on connect and identifies the
	// device during discovery.
	discoveryByte = 222

	probeTimeout = 200 * time.Millisecond
)

// Discover scans the available serial ports for Bpod devices and returns
// the matching port names. Ports that cannot be opened are skipped.
func Discover(logger log.FieldLogger) ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerating serial ports: %w", err)
	}

	return scanPorts(ports, probePort, logger), nil
}

// scanPorts filters the port list to the Bpod vendor ID and probes each
// candidate.
func scanPorts(ports []*enumerator.PortDetails, probe func(name string) bool, logger log.FieldLogger) []string {
	var found []string
	for _, p := range ports {
		if !p.IsUSB || !strings.EqualFold(p.VID, vendorID) {
			continue
		}
		logger.Debugf("Probing %s (VID %s, PID %s)", p.Name, p.VID, p.PID)
		if probe(p.Name) {
			logger.Infof("Found Bpod device on %s", p.Name)
			found = append(found, p.Name)
		}
	}
	return found
}

// probePort briefly opens the port and checks for the discovery byte.
func probePort(name string) bool {
	port, err := serial.Open(name, &serial.Mode{BaudRate: DefaultBaudRate})
	if err != nil {
		return false
	}
	defer port.Close()

	if err := port.SetReadTimeout(probeTimeout); err != nil {
		return false
	}

	buf := make([]byte, 1)
	n, err := port.Read(buf)
	return err == nil && n == 1 && buf[0] == discoveryByte
}
