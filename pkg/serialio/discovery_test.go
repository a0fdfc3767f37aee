package serialio

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"go.bug.st/serial/enumerator"
)

func TestScanPorts(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "COM1", IsUSB: false},
		{Name: "COM2", IsUSB: true, VID: "1B4F", PID: "8D21"},
		{Name: "COM3", IsUSB: true, VID: "16C0", PID: "0483"},
		{Name: "COM4", IsUSB: true, VID: "16c0", PID: "0483"},
		{Name: "COM5", IsUSB: true, VID: "16C0", PID: "0483"},
	}

	tests := []struct {
		name     string
		probe    func(string) bool
		expected []string
	}{
		{
			name:     "Single responding device",
			probe:    func(name string) bool { return name == "COM3" },
			expected: []string{"COM3"},
		},
		{
			name: "Lower-case VID matches too",
			probe: func(name string) bool {
				return name == "COM4"
			},
			expected: []string{"COM4"},
		},
		{
			name:     "Probe failures are skipped, not propagated",
			probe:    func(string) bool { return false },
			expected: nil,
		},
		{
			name:     "Non-matching vendors are never probed",
			probe:    func(name string) bool { return name == "COM1" || name == "COM2" },
			expected: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := scanPorts(ports, tc.probe, log.New())
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestScanPortsProbesOnlyVendorMatches(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "COM1", IsUSB: true, VID: "0403", PID: "6001"},
		{Name: "COM2", IsUSB: true, VID: "16C0", PID: "0483"},
	}

	var probed []string
	scanPorts(ports, func(name string) bool {
		probed = append(probed, name)
		return true
	}, log.New())

	assert.Equal(t, []string{"COM2"}, probed)
}
