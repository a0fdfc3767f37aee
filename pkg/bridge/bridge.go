// Package bridge publishes Bpod input events to an MQTT broker so lab
// software can observe an experiment without touching the serial link.
//
// The bridge polls through the handle's locked query API; it never reads
// the serial port directly, so diagnostics cannot steal response bytes a
// pending query is waiting on.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/int-brain-lab/bpod/pkg/bpod"
)

var ErrNotConnected = errors.New("bridge: not connected")

type connState int

const (
	connStateDisconnected connState = iota
	connStateConnecting
	connStateConnected
)

// createMQTTClient initializes and returns a new MQTT client using the
// stored broker configuration.
func createMQTTClient(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.SetClientID("bpod-bridge")
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}
	return client, nil
}

// inputEvent is published under "<root>/<port>/inputs/<channel>" whenever
// a polled input changes state.
type inputEvent struct {
	Channel string `json:"channel"`
	State   bool   `json:"state"`
	Time    int64  `json:"ts"` // Unix milliseconds
}

// statusMsg is published under "<root>/<port>/status" on connect and
// disconnect.
type statusMsg struct {
	Connected bool   `json:"connected"`
	Firmware  string `json:"firmware,omitempty"`
	Machine   string `json:"machine,omitempty"`
}

// Bridge owns one Bpod handle and mirrors its input states onto MQTT.
type Bridge struct {
	registry *bpod.Registry
	store    *store
	state    connState
	logger   log.FieldLogger

	// The MQTT client and the device handle are created on Connect
	client mqtt.Client
	dev    *bpod.Bpod
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a bridge reading its configuration from db and opening
// devices through the registry.
func New(db *bolt.DB, registry *bpod.Registry, logger log.FieldLogger) (*Bridge, error) {
	st, err := NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	return &Bridge{
		registry: registry,
		store:    st,
		state:    connStateDisconnected,
		logger:   logger.WithField("component", "bridge"),
	}, nil
}

// Connect opens the configured device, connects to the broker and starts
// polling.
func (b *Bridge) Connect() error {
	if b.state != connStateDisconnected {
		return fmt.Errorf("bridge is already connected")
	}

	cfg, err := b.store.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to get bridge config: %v", err)
	}

	b.state = connStateConnecting

	dev, err := b.registry.Open(cfg.Port)
	if err != nil {
		b.state = connStateDisconnected
		return fmt.Errorf("failed to open Bpod device: %w", err)
	}
	b.dev = dev

	client, err := createMQTTClient(cfg.MQTT)
	if err != nil {
		b.state = connStateDisconnected
		return err
	}
	b.client = client

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		b.run(ctx, cfg)
	}()

	b.state = connStateConnected
	b.logger.Infof("Bridging %s to %s", dev.Port(), cfg.MQTT.Broker)
	return nil
}

// Disconnect stops polling and disconnects from the broker. The device
// handle stays registered for other users.
func (b *Bridge) Disconnect() error {
	if b.state != connStateConnected {
		return ErrNotConnected
	}

	b.cancel()
	<-b.done
	b.client.Disconnect(100)
	b.state = connStateDisconnected
	b.logger.Info("Disconnected from MQTT broker")
	return nil
}

// Connected reports whether the bridge is running.
func (b *Bridge) Connected() bool {
	return b.state == connStateConnected
}

// Connecting reports whether a connection attempt is in progress.
func (b *Bridge) Connecting() bool {
	return b.state == connStateConnecting
}

// Close shuts the bridge down.
func (b *Bridge) Close() {
	if b.state != connStateConnected {
		return
	}
	if err := b.Disconnect(); err != nil {
		b.logger.Errorf("failed to disconnect: %v", err)
	}
}

// input is the slice of the channel surface the poll loop needs.
type input interface {
	Name() string
	Read() (bool, error)
}

func (b *Bridge) run(ctx context.Context, cfg Config) {
	root := cfg.MQTT.TopicRoot + "/" + b.dev.Port()

	b.publish(root+"/status", statusMsg{
		Connected: true,
		Firmware:  fmt.Sprintf("%d.%d", b.dev.Version.Major, b.dev.Version.Minor),
		Machine:   b.dev.Version.MachineTypeLabel,
	})
	defer b.publish(root+"/status", statusMsg{Connected: false})

	inputs := make([]input, len(b.dev.Inputs))
	for i, in := range b.dev.Inputs {
		inputs[i] = in
	}
	last := make(map[string]bool, len(inputs))

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.pollInputs(root, inputs, last); err != nil {
				if errors.Is(err, bpod.ErrClosed) {
					// The handle was closed under us; there is nothing
					// left to poll.
					b.logger.Warn("Device handle closed, stopping input polling")
					return
				}
				b.logger.Errorf("Failed to poll inputs: %v", err)
			}
		}
	}
}

// pollInputs reads every input channel and publishes the ones that
// changed since the previous tick. A read error aborts the tick.
func (b *Bridge) pollInputs(root string, inputs []input, last map[string]bool) error {
	for _, in := range inputs {
		state, err := in.Read()
		if err != nil {
			return fmt.Errorf("reading %s: %w", in.Name(), err)
		}

		prev, seen := last[in.Name()]
		if seen && prev == state {
			continue
		}
		last[in.Name()] = state

		b.publish(root+"/inputs/"+in.Name(), inputEvent{
			Channel: in.Name(),
			State:   state,
			Time:    time.Now().UnixMilli(),
		})
	}
	return nil
}

func (b *Bridge) publish(topic string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Errorf("Failed to marshal message for %s: %v", topic, err)
		return
	}

	if token := b.client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
		b.logger.Errorf("Failed to publish to %s: %v", topic, token.Error())
	}
}
