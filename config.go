package plc

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSackTimeout   = 500 * time.Millisecond
	DefaultSoundInterval = time.Second
	DefaultMaxSegments   = 3
	DefaultMaxFrames     = 10
	DefaultRetransmits   = 3

	maxSegmentsLimit = 64
	maxParityShards  = 2
)

// Config parameterizes a node.
type Config struct {
	Addr              Addr
	Master            bool
	Modulation        uint8
	RoboMode          uint8
	SackTimeout       time.Duration
	SoundInterval     time.Duration // zero disables sounding
	MaxSegments       int           // PHY blocks per burst
	MaxFramesInBuffer int
	MaxRetransmits    int // whole-burst resends before a burst is abandoned
	FECParityShards   int
}

func DefaultConfig() *Config {
	return &Config{
		SackTimeout:       DefaultSackTimeout,
		SoundInterval:     DefaultSoundInterval,
		MaxSegments:       DefaultMaxSegments,
		MaxFramesInBuffer: DefaultMaxFrames,
		MaxRetransmits:    DefaultRetransmits,
	}
}

func (c *Config) Validate() error {
	switch {
	case c.SackTimeout <= 0:
		return errors.Wrapf(ErrConfig, "sack timeout %v", c.SackTimeout)
	case c.SoundInterval < 0:
		return errors.Wrapf(ErrConfig, "sound interval %v", c.SoundInterval)
	case c.MaxSegments < 1 || c.MaxSegments > maxSegmentsLimit:
		return errors.Wrapf(ErrConfig, "max segments %d", c.MaxSegments)
	case c.MaxFramesInBuffer < 1:
		return errors.Wrapf(ErrConfig, "max frames in buffer %d", c.MaxFramesInBuffer)
	case c.MaxRetransmits < 0:
		return errors.Wrapf(ErrConfig, "max retransmits %d", c.MaxRetransmits)
	case c.FECParityShards < 0 || c.FECParityShards > maxParityShards:
		return errors.Wrapf(ErrConfig, "fec parity shards %d", c.FECParityShards)
	}
	return nil
}

// fileConfig is the YAML form. Absent keys keep their defaults.
type fileConfig struct {
	Addr              string `yaml:"addr"`
	Master            *bool  `yaml:"master"`
	Modulation        *uint8 `yaml:"modulation"`
	RoboMode          *uint8 `yaml:"robo_mode"`
	SackTimeout       string `yaml:"sack_timeout"`
	SoundInterval     string `yaml:"sound_interval"`
	MaxSegments       *int   `yaml:"max_segments"`
	MaxFramesInBuffer *int   `yaml:"max_frames_in_buffer"`
	MaxRetransmits    *int   `yaml:"max_retransmits"`
	FECParityShards   *int   `yaml:"fec_parity_shards"`
}

// LoadConfig reads a YAML config file over the defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, errors.Wrap(ErrConfig, err.Error())
	}

	c := DefaultConfig()
	if fc.Addr != "" {
		addr, err := ParseAddr(fc.Addr)
		if err != nil {
			return nil, err
		}
		c.Addr = addr
	}
	if fc.Master != nil {
		c.Master = *fc.Master
	}
	if fc.Modulation != nil {
		c.Modulation = *fc.Modulation
	}
	if fc.RoboMode != nil {
		c.RoboMode = *fc.RoboMode
	}
	if err := parseDuration(fc.SackTimeout, &c.SackTimeout); err != nil {
		return nil, err
	}
	if err := parseDuration(fc.SoundInterval, &c.SoundInterval); err != nil {
		return nil, err
	}
	if fc.MaxSegments != nil {
		c.MaxSegments = *fc.MaxSegments
	}
	if fc.MaxFramesInBuffer != nil {
		c.MaxFramesInBuffer = *fc.MaxFramesInBuffer
	}
	if fc.MaxRetransmits != nil {
		c.MaxRetransmits = *fc.MaxRetransmits
	}
	if fc.FECParityShards != nil {
		c.FECParityShards = *fc.FECParityShards
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseDuration(s string, d *time.Duration) error {
	if s == "" {
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(ErrConfig, "duration %q", s)
	}
	*d = v
	return nil
}
