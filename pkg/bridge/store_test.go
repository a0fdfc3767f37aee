package bridge

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestDB(t *testing.T) *bolt.DB {
	t.Helper()

	db, err := bolt.Open(filepath.Join(t.TempDir(), "bridge.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewStoreSetsDefaults(t *testing.T) {
	st, err := NewStore(openTestDB(t))
	require.NoError(t, err)

	cfg, err := st.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, defaultConfig, cfg)
}

func TestStoreConfigRoundTrip(t *testing.T) {
	st, err := NewStore(openTestDB(t))
	require.NoError(t, err)

	want := Config{
		MQTT: MQTTConfig{
			Broker:    "tcp://broker.lab:1883",
			Username:  "rig",
			Password:  "secret",
			TopicRoot: "rig1",
		},
		Port:         "/dev/ttyACM0",
		PollInterval: 100 * time.Millisecond,
	}
	require.NoError(t, st.SetConfig(want))

	got, err := st.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNewStorePropagatesWriteFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.db")

	db, err := bolt.Open(path, 0600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// On a read-only database the default config cannot be written; the
	// failure must surface instead of leaving an empty store behind.
	ro, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	_, err = NewStore(ro)
	assert.Error(t, err)
}
