package plc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomFrames(t *testing.T, rng *rand.Rand, n, maxPayload int) [][]byte {
	frames := make([][]byte, n)
	for i := range frames {
		frame, err := EncodeMacFrame(addrB, addrA, randomPayload(rng, rng.Intn(maxPayload+1)), rng.Intn(4) == 0)
		require.NoError(t, err)
		frames[i] = frame
	}
	return frames
}

// bursts queues frames and drains them into bursts of up to maxSegments blocks.
func bursts(t *testing.T, frames [][]byte, maxSegments int) [][]byte {
	q := NewTxQueue(len(frames), maxSegments)
	for _, f := range frames {
		require.NoError(t, q.Submit(addrB, f, FrameType(f[0]&0x3) == FrameManagement))
	}
	var out [][]byte
	for {
		burst, _, _ := q.Drain()
		if burst == nil {
			break
		}
		out = append(out, burst)
	}
	assert.Zero(t, q.Len())
	return out
}

func TestReassemblyRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, n := range []int{1, 2, 5, 13, 50} {
		for _, maxPayload := range []int{0, 100, 600, 3000} {
			for _, maxSegments := range []int{1, 3, 8} {
				frames := randomFrames(t, rng, n, maxPayload)
				r := NewReassembler(0, nil)
				var got [][]byte
				for _, burst := range bursts(t, frames, maxSegments) {
					out, errs := r.Parse(burst)
					assert.NotContains(t, errs, true)
					got = append(got, out...)
				}
				require.Equal(t, frames, got, "n %d max payload %d segments %d", n, maxPayload, maxSegments)
				assert.Zero(t, r.snmp.SeqGaps)
				assert.Zero(t, r.snmp.PartialDrops)
			}
		}
	}
}

func TestReassemblyExactFit(t *testing.T) {
	// frames that end exactly on block edges, and a 1-byte tail before padding
	sizes := []int{BodySizeLong, BodySizeLong - 1, 2*BodySizeLong + 1, BodySizeShort, MacFrameOverhead}
	var frames [][]byte
	for _, n := range sizes {
		frames = append(frames, testFrame(t, addrB, n))
	}
	r := NewReassembler(0, nil)
	var got [][]byte
	for _, burst := range bursts(t, frames, 3) {
		out, _ := r.Parse(burst)
		got = append(got, out...)
	}
	assert.Equal(t, frames, got)
}

func TestReassemblyBlockChecksum(t *testing.T) {
	var frames [][]byte
	for i := 0; i < 15; i++ {
		frames = append(frames, testFrame(t, addrB, 100))
	}
	bs := bursts(t, frames, 3)
	require.Len(t, bs, 1)
	burst := bs[0]
	size := BodySizeLong + PhyBlockOverhead
	require.Len(t, burst, 3*size)

	for bit := 0; bit < size*8; bit += 97 {
		bad := append([]byte(nil), burst...)
		bad[size+bit/8] ^= 1 << uint(bit%8)
		r := NewReassembler(0, nil)
		got, errs := r.Parse(bad)
		assert.Equal(t, []bool{false, true, false}, errs)
		assert.Equal(t, uint64(1), r.snmp.BlockCsumErrors)
		// frames touching block 1 are lost
		expected := append(append([][]byte{}, frames[:5]...), frames[11:]...)
		assert.Equal(t, expected, got, "bit %d", bit)
	}
}

func TestReassemblyNoFalseFramesAfterError(t *testing.T) {
	var frames [][]byte
	for i := 0; i < 4; i++ {
		frames = append(frames, testFrame(t, addrB, 400))
	}
	burst := bursts(t, frames, 3)[0]
	size := BodySizeLong + PhyBlockOverhead
	burst[phyHeaderWidth+10] ^= 0xff

	r := NewReassembler(0, nil)
	got, errs := r.Parse(burst)
	assert.Equal(t, []bool{true, false, false}, errs)
	// frames[1] straddles blocks 0 and 1 and must not be rebuilt,
	// frames[3] is still incomplete at the end of the burst
	assert.Equal(t, frames[2:3], got)
	assert.Equal(t, 3*size, len(burst))
}

func TestReassemblySeqGap(t *testing.T) {
	var frames [][]byte
	for i := 0; i < 9; i++ {
		frames = append(frames, testFrame(t, addrB, 700))
	}
	bs := bursts(t, frames, 2)
	require.True(t, len(bs) >= 3)

	r := NewReassembler(0, nil)
	first, _ := r.Parse(bs[0])
	assert.Equal(t, frames[:1], first)

	// lose the second burst
	third, errs := r.Parse(bs[2])
	assert.Equal(t, []bool{false, false}, errs)
	assert.Equal(t, uint64(1), r.snmp.SeqGaps)
	// blocks 4 and 5 cover bytes 2048..3072; frame 3 (2100..2800) is whole
	assert.Equal(t, frames[3:4], third)
}

func TestReassemblyDuplicateBurst(t *testing.T) {
	frames := [][]byte{testFrame(t, addrB, 300), testFrame(t, addrB, 900)}
	burst := bursts(t, frames, 3)[0]
	r := NewReassembler(0, nil)
	got, _ := r.Parse(burst)
	assert.Equal(t, frames, got)

	got, errs := r.Parse(burst)
	assert.Empty(t, got)
	assert.Equal(t, []bool{false, false, false}, errs)
	assert.Equal(t, uint64(3), r.snmp.DupBlocks)
}

func TestReassemblyEmpty(t *testing.T) {
	r := NewReassembler(0, nil)
	frames, errs := r.Parse(nil)
	assert.Nil(t, frames)
	assert.Nil(t, errs)
}

func TestInferBlockSize(t *testing.T) {
	short := BodySizeShort + PhyBlockOverhead
	long := BodySizeLong + PhyBlockOverhead
	assert.Equal(t, short, inferBlockSize(short, 0))
	assert.Equal(t, long, inferBlockSize(long, 0))
	assert.Equal(t, long, inferBlockSize(3*long, 0))
	assert.Equal(t, short, inferBlockSize(3*short, 2))
	assert.Equal(t, long, inferBlockSize(3*long, 2))
	assert.Equal(t, long, inferBlockSize(2*long, 1))
}

func TestReassemblyTwoDestinations(t *testing.T) {
	for _, maxSegments := range []int{1, 3} {
		q := NewTxQueue(10, maxSegments)
		var forB [][]byte
		for _, dest := range []Addr{addrB, addrA, addrB, addrA} {
			size := 1000
			if dest == addrA {
				size = 100
			}
			f := testFrame(t, dest, size)
			if dest == addrB {
				forB = append(forB, f)
			}
			require.NoError(t, q.Submit(dest, f, false))
		}

		// one receiver hears every burst, whichever stream it came from
		r := NewReassembler(0, nil)
		var got [][]byte
		for {
			burst, _, _ := q.Drain()
			if burst == nil {
				break
			}
			out, errs := r.Parse(burst)
			assert.NotContains(t, errs, true)
			for _, f := range out {
				var dest Addr
				copy(dest[:], f[mfhWidth:])
				if dest == addrB {
					got = append(got, f)
				}
			}
		}
		assert.Equal(t, forB, got, "segments %d", maxSegments)
		assert.Zero(t, r.snmp.PartialDrops, "segments %d", maxSegments)
	}
}
