package bridge

import (
	"fmt"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/int-brain-lab/bpod/pkg/bpod"
)

type stubToken struct{}

func (stubToken) Wait() bool                     { return true }
func (stubToken) WaitTimeout(time.Duration) bool { return true }
func (stubToken) Error() error                   { return nil }

func (stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// stubClient records the topics published to it. The embedded interface
// covers the methods the poll loop never touches.
type stubClient struct {
	mqtt.Client
	topics []string
}

func (c *stubClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.topics = append(c.topics, topic)
	return stubToken{}
}

type fakeInput struct {
	name  string
	state bool
	err   error
}

func (f *fakeInput) Name() string { return f.name }

func (f *fakeInput) Read() (bool, error) { return f.state, f.err }

func newTestBridge(client mqtt.Client) *Bridge {
	return &Bridge{
		client: client,
		logger: log.New().WithField("component", "bridge"),
	}
}

func TestPollInputsPublishesChanges(t *testing.T) {
	client := &stubClient{}
	br := newTestBridge(client)

	in := &fakeInput{name: "BNC1", state: true}
	last := map[string]bool{}

	require.NoError(t, br.pollInputs("bpod/mock", []input{in}, last))
	assert.Equal(t, []string{"bpod/mock/inputs/BNC1"}, client.topics)

	// An unchanged state publishes nothing on the next tick.
	require.NoError(t, br.pollInputs("bpod/mock", []input{in}, last))
	assert.Len(t, client.topics, 1)

	in.state = false
	require.NoError(t, br.pollInputs("bpod/mock", []input{in}, last))
	assert.Equal(t, []string{"bpod/mock/inputs/BNC1", "bpod/mock/inputs/BNC1"},
		client.topics)
}

func TestPollInputsSurfacesClosedHandle(t *testing.T) {
	client := &stubClient{}
	br := newTestBridge(client)

	// A closed handle must surface as a terminal error for the poll loop,
	// not as a tick to retry forever.
	in := &fakeInput{name: "BNC1", err: fmt.Errorf("query: %w", bpod.ErrClosed)}
	err := br.pollInputs("bpod/mock", []input{in}, map[string]bool{})
	assert.ErrorIs(t, err, bpod.ErrClosed)
	assert.Empty(t, client.topics)
}
