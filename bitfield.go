package plc

import "github.com/pkg/errors"

// Bit fields are packed least-significant bit first: bit i of a field lives
// at absolute bit offset+i, where absolute bit k is bit k%8 of byte k/8.
// A 2-bit field at offset 0 therefore occupies the two low bits of byte 0,
// and a 14-bit field at offset 2 takes the six high bits of byte 0 followed
// by all of byte 1.

const maxFieldWidth = 64

func checkField(buf []byte, offset, width int) error {
	if offset < 0 || width <= 0 || width > maxFieldWidth || offset+width > len(buf)*8 {
		return errors.Wrapf(ErrFieldRange, "offset %d width %d in %d bytes", offset, width, len(buf))
	}
	return nil
}

// SetField writes the low width bits of value at bit offset. Bits of buf
// outside [offset, offset+width) are preserved. It returns offset+width.
func SetField(buf []byte, value uint64, offset, width int) (int, error) {
	if err := checkField(buf, offset, width); err != nil {
		return offset, err
	}
	return putBits(buf, value, offset, width), nil
}

// GetField reads width bits at bit offset.
func GetField(buf []byte, offset, width int) (uint64, error) {
	if err := checkField(buf, offset, width); err != nil {
		return 0, err
	}
	return getBits(buf, offset, width), nil
}

// SetBytes copies src into buf at byte offset and returns the offset past it.
func SetBytes(buf []byte, src []byte, offset int) (int, error) {
	if offset < 0 || offset+len(src) > len(buf) {
		return offset, errors.Wrapf(ErrFieldRange, "byte offset %d width %d in %d bytes", offset, len(src), len(buf))
	}
	return offset + copy(buf[offset:], src), nil
}

// GetBytes returns the width bytes of buf at byte offset. The result aliases buf.
func GetBytes(buf []byte, offset, width int) ([]byte, error) {
	if offset < 0 || width < 0 || offset+width > len(buf) {
		return nil, errors.Wrapf(ErrFieldRange, "byte offset %d width %d in %d bytes", offset, width, len(buf))
	}
	return buf[offset : offset+width : offset+width], nil
}

// putBits is SetField without bounds checking, for fixed layouts.
func putBits(buf []byte, value uint64, offset, width int) int {
	end := offset + width
	for pos := offset; pos < end; {
		shift := uint(pos & 7)
		n := 8 - int(shift)
		if n > end-pos {
			n = end - pos
		}
		mask := byte(0xff>>uint(8-n)) << shift
		idx := pos >> 3
		buf[idx] = buf[idx]&^mask | byte(value<<shift)&mask
		value >>= uint(n)
		pos += n
	}
	return end
}

// getBits is GetField without bounds checking.
func getBits(buf []byte, offset, width int) uint64 {
	var value uint64
	end := offset + width
	got := 0
	for pos := offset; pos < end; {
		shift := uint(pos & 7)
		n := 8 - int(shift)
		if n > end-pos {
			n = end - pos
		}
		chunk := uint64(buf[pos>>3]>>shift) & (1<<uint(n) - 1)
		value |= chunk << uint(got)
		got += n
		pos += n
	}
	return value
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
