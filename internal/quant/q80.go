package quant

import (
	"math"

	"github.com/KMouratidis/distributed-llama/internal/threadpool"
)

// QuantizeQ80 encodes in (length a multiple of BlockSize) into Q8_0
// blocks, splitting the block range across threads using the §4.3
// contract. Per block (§4.1): amax = max_j |in_j|; d = amax/127; if
// amax == 0 then d = 0, id = 0, else id = 1/d; codes are
// round(in_j * id) saturated to [-128, 127].
//
// in and out must not overlap with any other thread's range; callers
// invoke this from within threadpool.Pool.Run so idx already identifies
// a disjoint block range.
func QuantizeQ80(in []float32, out []BlockQ80, threads, idx int) {
	nBlocks := NumBlocks(len(in))
	start, end := threadpool.Split(nBlocks, threads, idx)

	for i := start; i < end; i++ {
		x := in[i*BlockSize : (i+1)*BlockSize]
		y := &out[i]

		var amax float32
		for _, v := range x {
			if v < 0 {
				v = -v
			}
			if v > amax {
				amax = v
			}
		}

		d := amax / 127.0
		var id float32
		if d != 0 {
			id = 1.0 / d
		}
		y.D = d

		for j, v := range x {
			q := math.Round(float64(v * id))
			if q > 127 {
				q = 127
			} else if q < -128 {
				q = -128
			}
			y.QS[j] = int8(q)
		}
	}
}

// DequantizeQ80 is the inverse of QuantizeQ80: x_j = d * q_j.
func DequantizeQ80(in []BlockQ80, out []float32, k, threads, idx int) {
	nBlocks := NumBlocks(k)
	start, end := threadpool.Split(nBlocks, threads, idx)

	for i := start; i < end; i++ {
		b := &in[i]
		y := out[i*BlockSize : (i+1)*BlockSize]
		for j := 0; j < BlockSize; j++ {
			y[j] = float32(b.QS[j]) * b.D
		}
	}
}

// EncodeQ80 serializes blocks into the on-disk/on-wire byte layout:
// {f16 d}{32 × i8 qs} per block, little-endian (§3, §4.5 endianness).
func EncodeQ80(blocks []BlockQ80) []byte {
	out := make([]byte, len(blocks)*BytesPerBlock(FQ80))
	for i, b := range blocks {
		off := i * BytesPerBlock(FQ80)
		putU16LE(out[off:], F32ToF16(b.D))
		for j, q := range b.QS {
			out[off+2+j] = byte(q)
		}
	}
	return out
}

// DecodeQ80 parses the on-disk/on-wire byte layout back into blocks.
func DecodeQ80(raw []byte) []BlockQ80 {
	n := len(raw) / BytesPerBlock(FQ80)
	blocks := make([]BlockQ80, n)
	for i := range blocks {
		off := i * BytesPerBlock(FQ80)
		blocks[i].D = F16ToF32Table(getU16LE(raw[off:]))
		for j := 0; j < BlockSize; j++ {
			blocks[i].QS[j] = int8(raw[off+2+j])
		}
	}
	return blocks
}

func putU16LE(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func getU16LE(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
