package plc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, 500*time.Millisecond, c.SackTimeout)
	assert.Equal(t, time.Second, c.SoundInterval)
	assert.Equal(t, 3, c.MaxSegments)
	assert.Equal(t, 10, c.MaxFramesInBuffer)
}

func TestValidate(t *testing.T) {
	for _, mutate := range []func(*Config){
		func(c *Config) { c.SackTimeout = 0 },
		func(c *Config) { c.SoundInterval = -time.Second },
		func(c *Config) { c.MaxSegments = 0 },
		func(c *Config) { c.MaxSegments = 65 },
		func(c *Config) { c.MaxFramesInBuffer = 0 },
		func(c *Config) { c.MaxRetransmits = -1 },
		func(c *Config) { c.FECParityShards = 3 },
	} {
		c := DefaultConfig()
		mutate(c)
		assert.ErrorIs(t, c.Validate(), ErrConfig)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: "02:00:00:00:00:0a"
master: true
modulation: 2
sack_timeout: 20ms
max_segments: 5
fec_parity_shards: 1
`), 0644))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, addrA, c.Addr)
	assert.True(t, c.Master)
	assert.Equal(t, uint8(2), c.Modulation)
	assert.Equal(t, 20*time.Millisecond, c.SackTimeout)
	assert.Equal(t, time.Second, c.SoundInterval)
	assert.Equal(t, 5, c.MaxSegments)
	assert.Equal(t, 1, c.FECParityShards)
	assert.Equal(t, DefaultMaxFrames, c.MaxFramesInBuffer)
}

func TestParseConfigErrors(t *testing.T) {
	_, err := ParseConfig([]byte(`addr: "nope"`))
	assert.ErrorIs(t, err, ErrBadAddr)
	_, err = ParseConfig([]byte(`sack_timeout: soon`))
	assert.ErrorIs(t, err, ErrConfig)
	_, err = ParseConfig([]byte(`max_segments: 0`))
	assert.ErrorIs(t, err, ErrConfig)
	_, err = ParseConfig([]byte(`max_segments: [`))
	assert.ErrorIs(t, err, ErrConfig)
	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseAddr(t *testing.T) {
	a, err := ParseAddr("02-00-00-00-00-0b")
	require.NoError(t, err)
	assert.Equal(t, addrB, a)
	assert.Equal(t, "02:00:00:00:00:0b", a.String())
	_, err = ParseAddr("00:00:5e:00:53:01:02:03")
	assert.ErrorIs(t, err, ErrBadAddr)
}
