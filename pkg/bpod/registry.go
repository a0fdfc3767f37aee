package bpod

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/int-brain-lab/bpod/pkg/serialio"
)

// Registry keeps at most one live handle per physical port. It replaces
// ambient global state: the application entry point owns one registry and
// passes it to whoever opens devices. Registration and removal are
// guarded so concurrent opens cannot create two handles for the same
// port.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Bpod
	dial    func(port string) Transport
	logger  log.FieldLogger
}

// NewRegistry creates an empty registry dialing real serial ports.
func NewRegistry(logger log.FieldLogger) *Registry {
	return &Registry{
		handles: make(map[string]*Bpod),
		dial: func(port string) Transport {
			return serialio.NewConn(port, serialio.Options{}, logger)
		},
		logger: logger,
	}
}

// Open returns an open handle for the port, reusing the existing handle
// if one is already registered. An empty port selects the first
// registered device, or failing that the first Bpod discovered on the
// bus.
func (r *Registry) Open(port string) (*Bpod, error) {
	if port == "" {
		var err error
		if port, err = r.defaultPort(); err != nil {
			return nil, err
		}
	}

	// A failed open deregisters the handle itself, so nothing stale is
	// left behind.
	handle := r.lookupOrCreate(port)
	if err := handle.Open(); err != nil {
		return nil, err
	}
	return handle, nil
}

// Get returns the registered handle for a port, if any.
func (r *Registry) Get(port string) (*Bpod, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.handles[port]
	return handle, ok
}

// Ports returns the ports with a registered handle.
func (r *Registry) Ports() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ports := make([]string, 0, len(r.handles))
	for port := range r.handles {
		ports = append(ports, port)
	}
	return ports
}

// Close closes every registered handle.
func (r *Registry) Close() {
	r.mu.Lock()
	handles := make([]*Bpod, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		if err := h.Close(); err != nil {
			r.logger.Warnf("Failed to close %s: %v", h.Port(), err)
		}
	}
}

func (r *Registry) lookupOrCreate(port string) *Bpod {
	r.mu.Lock()
	defer r.mu.Unlock()

	if handle, ok := r.handles[port]; ok {
		r.logger.Debugf("Using existing Bpod handle on %s", port)
		return handle
	}

	r.logger.Debugf("Creating new Bpod handle on %s", port)
	handle := &Bpod{
		port:     port,
		tr:       r.dial(port),
		logger:   r.logger.WithField("port", port),
		registry: r,
	}
	r.handles[port] = handle
	return handle
}

// adopt claims the handle's port in the registry, re-registering a handle
// that was evicted on Close. Claiming fails if a different handle owns
// the port.
func (r *Registry) adopt(b *Bpod) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.handles[b.port]; ok && cur != b {
		return fmt.Errorf("%w: %s", ErrPortInUse, b.port)
	}
	r.handles[b.port] = b
	return nil
}

func (r *Registry) defaultPort() (string, error) {
	r.mu.Lock()
	var registered string
	for port := range r.handles {
		registered = port
		break
	}
	r.mu.Unlock()

	if registered != "" {
		return registered, nil
	}

	ports, err := serialio.Discover(r.logger)
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", ErrNoDevice
	}
	return ports[0], nil
}

// remove evicts the handle from the registry. The handle identity is
// checked so a failed open cannot evict a handle that claimed the port
// concurrently.
func (r *Registry) remove(port string, b *Bpod) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.handles[port]; ok && cur == b {
		r.logger.Debugf("Removing Bpod handle on %s", port)
		delete(r.handles, port)
	}
}
