package plc

import "github.com/pkg/errors"

// SackFormat tags the only supported SACK data layout: a bitmap with bit
// i%8 of byte 1+i/8 set when block i of the burst was received in error.
const SackFormat byte = 0x15

// EncodeSack builds sackd from per-block error flags.
func EncodeSack(blockErrors []bool) []byte {
	sackd := make([]byte, 1+(len(blockErrors)+7)/8)
	sackd[0] = SackFormat
	for i, e := range blockErrors {
		if e {
			sackd[1+i/8] |= 1 << uint(i%8)
		}
	}
	return sackd
}

// DecodeSack returns the error flag of each of the nblocks blocks of the
// acknowledged burst. Blocks past the end of the bitmap count as errored.
func DecodeSack(sackd []byte, nblocks int) ([]bool, error) {
	if len(sackd) == 0 {
		return nil, errors.Wrap(ErrSackFormat, "empty sackd")
	}
	if sackd[0] != SackFormat {
		return nil, errors.Wrapf(ErrSackFormat, "format %#x", sackd[0])
	}
	errs := make([]bool, nblocks)
	for i := range errs {
		idx := 1 + i/8
		errs[i] = idx >= len(sackd) || sackd[idx]&(1<<uint(i%8)) != 0
	}
	return errs, nil
}

func countErrors(errs []bool) (n int) {
	for _, e := range errs {
		if e {
			n++
		}
	}
	return
}
