package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeFloat64s encodes values as a little-endian float64 blob
func encodeFloat64s(values []float64) []byte {
	buf := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func decodeFloat64s(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("float64 blob has %d bytes", len(buf))
	}
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}

// encodeInt32s encodes pixel indices as a little-endian int32 blob
func encodeInt32s(values []int) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(int32(v)))
	}
	return buf
}

func decodeInt32s(buf []byte) ([]int, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("int32 blob has %d bytes", len(buf))
	}
	out := make([]int, len(buf)/4)
	for i := range out {
		out[i] = int(int32(binary.LittleEndian.Uint32(buf[i*4:])))
	}
	return out, nil
}
