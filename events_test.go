package plc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestCodec(t *testing.T) {
	reqs := []PhyRequest{
		{Type: PhyReqSof, Modulation: 2, RoboMode: 1, Payload: []byte{1, 2, 3}},
		{Type: PhyReqSound},
		{Type: PhyReqSack, Sackd: []byte{SackFormat, 0x4}},
		{Type: PhyReqSearch},
	}
	for _, req := range reqs {
		b, err := MarshalRequest(req)
		require.NoError(t, err)
		got, err := UnmarshalRequest(b)
		require.NoError(t, err)
		if len(req.Payload) == 0 {
			req.Payload = got.Payload
		}
		if len(req.Sackd) == 0 {
			req.Sackd = got.Sackd
		}
		assert.Equal(t, req, got, "%v", req.Type)
	}
}

func TestRequestWireFormat(t *testing.T) {
	b, err := MarshalRequest(PhyRequest{Type: PhyReqSof, Modulation: 3, RoboMode: 1, Payload: []byte{0xaa}})
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(PhyReqSof), 3, 1, 1, 0, 0xaa}, b)
}

func TestIndicationCodec(t *testing.T) {
	inds := []PhyIndication{
		{Type: PhyRxSof, Payload: []byte("mpdu")},
		{Type: PhyRxSack, Sackd: []byte{SackFormat}},
		{Type: PhyRxEnd},
		{Type: PhyRxSound},
		{Type: PhyTxEnd},
	}
	for _, ind := range inds {
		b, err := MarshalIndication(ind)
		require.NoError(t, err)
		got, err := UnmarshalIndication(b)
		require.NoError(t, err)
		assert.Equal(t, ind.Type, got.Type)
		assert.Equal(t, len(ind.Payload), len(got.Payload))
		assert.Equal(t, len(ind.Sackd), len(got.Sackd))
	}
}

func TestEventErrors(t *testing.T) {
	_, err := UnmarshalRequest([]byte{byte(PhyReqSof), 0, 0})
	assert.ErrorIs(t, err, ErrEventFormat)
	_, err = UnmarshalRequest([]byte{byte(PhyReqSof), 0, 0, 2, 0, 1})
	assert.ErrorIs(t, err, ErrEventFormat)
	_, err = UnmarshalRequest([]byte{byte(PhyRxSof), 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrEventFormat)
	_, err = UnmarshalIndication([]byte{byte(PhyReqSof), 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrEventFormat)
	_, err = MarshalRequest(PhyRequest{Type: PhyReqSof, Payload: make([]byte, maxEventBody+1)})
	assert.ErrorIs(t, err, ErrEventFormat)
}

func TestIndicationsFor(t *testing.T) {
	inds := indicationsFor(PhyRequest{Type: PhyReqSof, Payload: []byte{1}})
	require.Len(t, inds, 2)
	assert.Equal(t, PhyRxSof, inds[0].Type)
	assert.Equal(t, []byte{1}, inds[0].Payload)
	assert.Equal(t, PhyRxEnd, inds[1].Type)

	inds = indicationsFor(PhyRequest{Type: PhyReqSack, Sackd: []byte{SackFormat}})
	require.Len(t, inds, 2)
	assert.Equal(t, PhyRxSack, inds[0].Type)

	inds = indicationsFor(PhyRequest{Type: PhyReqSound})
	require.Len(t, inds, 2)
	assert.Equal(t, PhyRxSound, inds[0].Type)

	assert.Empty(t, indicationsFor(PhyRequest{Type: PhyReqSearch}))
}
