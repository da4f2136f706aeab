package plc

import (
	"crypto/aes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntropyAES(t *testing.T) {
	r := NewEntropyAES()
	buf := make([]byte, 40)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	n, err = r.Read(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEntropyChacha8(t *testing.T) {
	r := NewEntropyChacha8()
	buf := make([]byte, 32)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 32, n)

	n, err = r.Read(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type constReader byte

func (c constReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(c)
	}
	return len(p), nil
}

func TestConfounderUsesEntropy(t *testing.T) {
	orig := entropy
	defer SetEntropy(orig)
	SetEntropy(constReader(0xAA))

	frame, err := EncodeMacFrame(Addr{1}, Addr{2}, []byte("x"), true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xAA, 0xAA, 0xAA}, frame[mfhWidth:mfhWidth+confounderWidth])

	f, err := DecodeMacFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0xAA, 0xAA, 0xAA, 0xAA}, f.Confounder)
}

func BenchmarkEntropyAES128(b *testing.B) {
	var data [aes.BlockSize]byte
	b.SetBytes(aes.BlockSize)
	r := NewEntropyAES()
	for i := 0; i < b.N; i++ {
		io.ReadFull(r, data[:])
	}
}
