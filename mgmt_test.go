package plc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMgmtMessage(t *testing.T) {
	msg := EncodeMgmtMessage(MMTypeChanEst, []byte{9, 8, 7})
	assert.Equal(t, []byte{0x01, 0x14, 0x60, 9, 8, 7}, msg)

	m, err := DecodeMgmtMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, uint8(MgmtVersion), m.Version)
	assert.Equal(t, MMTypeChanEst, m.Type)
	assert.Equal(t, []byte{9, 8, 7}, m.Entry)

	msg[0] = 2
	_, err = DecodeMgmtMessage(msg)
	assert.ErrorIs(t, err, ErrMgmtVersion)
	_, err = DecodeMgmtMessage(msg[:2])
	assert.ErrorIs(t, err, ErrMgmtFormat)
}

func TestChannelEstimateLayout(t *testing.T) {
	ce := &ChannelEstimate{NTMI: 1, TMI: 2, NINT: 3, NewTMI: 4, CBDEnc: 5, BitLoading: []uint8{0x1, 0xf, 0x7}}
	entry, err := ce.Marshal()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		1, 2, 3, 4, // ntmi tmi nint new_tmi
		0, 0, 0, // reserved
		5,    // cbd_enc
		3, 0, // cbd_len
		0xf1, 0x07, // 4-bit loadings, low nibble first
	}, entry)

	got, err := UnmarshalChannelEstimate(entry)
	require.NoError(t, err)
	assert.Equal(t, ce, got)
}

func TestChannelEstimateRoundTrip(t *testing.T) {
	for n := 0; n < 40; n += 7 {
		bl := make([]uint8, n)
		for i := range bl {
			bl[i] = uint8(i % 16)
		}
		ce := NewChannelEstimate(bl)
		entry, err := ce.Marshal()
		require.NoError(t, err)
		assert.Len(t, entry, ceFixedWidth+(n+1)/2)
		got, err := UnmarshalChannelEstimate(entry)
		require.NoError(t, err)
		assert.Equal(t, ce, got)
	}
}

func TestChannelEstimateErrors(t *testing.T) {
	_, err := NewChannelEstimate([]uint8{3, 16}).Marshal()
	assert.ErrorIs(t, err, ErrFieldRange)

	entry, err := NewChannelEstimate([]uint8{1, 2, 3}).Marshal()
	require.NoError(t, err)
	_, err = UnmarshalChannelEstimate(entry[:len(entry)-1])
	assert.ErrorIs(t, err, ErrMgmtFormat)
	_, err = UnmarshalChannelEstimate(entry[:5])
	assert.ErrorIs(t, err, ErrMgmtFormat)
}
