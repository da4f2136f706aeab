package plc

import (
	"sync/atomic"

	"github.com/klauspost/reedsolomon"
)

// burstFEC adds parity blocks to a burst. Every block of a burst has the
// same size, so the blocks are used directly as Reed-Solomon shards. The
// parity blocks follow the data blocks in the MPDU and carry no header.
type burstFEC struct {
	parityShards int
	codecs       map[int]reedsolomon.Encoder // by data shard count
	snmp         *Snmp
}

func newBurstFEC(parityShards int, snmp *Snmp) *burstFEC {
	if parityShards <= 0 {
		return nil
	}
	return &burstFEC{
		parityShards: parityShards,
		codecs:       make(map[int]reedsolomon.Encoder),
		snmp:         snmp,
	}
}

func (fec *burstFEC) codec(dataShards int) (reedsolomon.Encoder, error) {
	if enc, ok := fec.codecs[dataShards]; ok {
		return enc, nil
	}
	enc, err := reedsolomon.New(dataShards, fec.parityShards, reedsolomon.WithMaxGoroutines(1))
	if err != nil {
		return nil, err
	}
	fec.codecs[dataShards] = enc
	return enc, nil
}

// encode returns burst followed by its parity blocks.
func (fec *burstFEC) encode(burst []byte, nblocks int) []byte {
	if nblocks <= 0 {
		return burst
	}
	enc, err := fec.codec(nblocks)
	if err != nil {
		Logf(WARN, "fec: %+v", err)
		return burst
	}
	size := len(burst) / nblocks
	out := make([]byte, size*(nblocks+fec.parityShards))
	copy(out, burst)
	shards := make([][]byte, nblocks+fec.parityShards)
	for i := range shards {
		shards[i] = out[i*size : (i+1)*size]
	}
	if err := enc.Encode(shards); err != nil {
		Logf(WARN, "fec: %+v", err)
		return burst
	}
	atomic.AddUint64(&fec.snmp.FECParitySent, uint64(fec.parityShards))
	return out
}

// recover returns the data blocks of a received burst. Blocks failing their
// check sequence are rebuilt from parity when few enough are damaged; a
// rebuilt block replaces the damaged one only if it passes the check.
func (fec *burstFEC) recover(blocks [][]byte, size int) [][]byte {
	dataShards := len(blocks) - fec.parityShards
	if dataShards <= 0 {
		return blocks
	}
	data := blocks[:dataShards]

	shards := make([][]byte, len(blocks))
	missing := 0
	for i, b := range blocks {
		switch {
		case len(b) != size:
			missing++
		case i < dataShards && !checkPhyBlock(b):
			missing++
		default:
			shards[i] = b
		}
	}
	// parity damage alone needs no repair
	damaged := false
	for i := 0; i < dataShards; i++ {
		if shards[i] == nil {
			damaged = true
		}
	}
	if !damaged {
		return data
	}
	if missing > fec.parityShards {
		atomic.AddUint64(&fec.snmp.FECErrs, 1)
		return data
	}

	enc, err := fec.codec(dataShards)
	if err != nil {
		Logf(WARN, "fec: %+v", err)
		return data
	}
	if err := enc.ReconstructData(shards); err != nil {
		atomic.AddUint64(&fec.snmp.FECErrs, 1)
		Logf(WARN, "fec: reconstruct: %v", err)
		return data
	}

	out := make([][]byte, dataShards)
	copy(out, data)
	for i := range out {
		if len(blocks[i]) == size && checkPhyBlock(blocks[i]) {
			continue
		}
		if checkPhyBlock(shards[i]) {
			out[i] = shards[i]
			atomic.AddUint64(&fec.snmp.FECRecovered, 1)
		} else {
			atomic.AddUint64(&fec.snmp.FECErrs, 1)
		}
	}
	return out
}
