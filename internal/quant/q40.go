package quant

import (
	"math"

	"github.com/KMouratidis/distributed-llama/internal/threadpool"
)

// QuantizeQ40 encodes in into Q4_0 blocks (§4.1): per block, maxV is the
// signed element of greatest magnitude; d = maxV / -8; codes are
// clamp(round(x_j*id)+8, 0, 15), packed low-nibble-first for the first
// half of the block and high-nibble for the second (§3).
func QuantizeQ40(in []float32, out []BlockQ40, threads, idx int) {
	nBlocks := NumBlocks(len(in))
	start, end := threadpool.Split(nBlocks, threads, idx)
	half := BlockSize / 2

	for i := start; i < end; i++ {
		x := in[i*BlockSize : (i+1)*BlockSize]

		var amax, maxV float32
		for _, v := range x {
			av := v
			if av < 0 {
				av = -av
			}
			if av > amax {
				amax = av
				maxV = v
			}
		}

		d := maxV / -8.0
		var id float32
		if d != 0 {
			id = 1.0 / d
		}

		y := &out[i]
		y.D = d

		for j := 0; j < half; j++ {
			x0 := x[j] * id
			x1 := x[j+half] * id

			c0 := clampNibble(math.Round(float64(x0)) + 8)
			c1 := clampNibble(math.Round(float64(x1)) + 8)

			y.QS[j] = c0 | (c1 << 4)
		}
	}
}

func clampNibble(v float64) byte {
	if v < 0 {
		v = 0
	} else if v > 15 {
		v = 15
	}
	return byte(v)
}

// DequantizeQ40 is the inverse of QuantizeQ40: x_j = d * (c_j - 8).
func DequantizeQ40(in []BlockQ40, out []float32, n, threads, idx int) {
	nBlocks := NumBlocks(n)
	start, end := threadpool.Split(nBlocks, threads, idx)
	half := BlockSize / 2

	for i := start; i < end; i++ {
		b := &in[i]
		y := out[i*BlockSize : (i+1)*BlockSize]
		for j := 0; j < half; j++ {
			c0 := int(b.QS[j] & 0x0F)
			c1 := int(b.QS[j] >> 4)
			y[j] = float32(c0-8) * b.D
			y[j+half] = float32(c1-8) * b.D
		}
	}
}

// EncodeQ40 serializes blocks into the on-disk/on-wire byte layout:
// {f16 d}{16 packed bytes} per block.
func EncodeQ40(blocks []BlockQ40) []byte {
	out := make([]byte, len(blocks)*BytesPerBlock(FQ40))
	for i, b := range blocks {
		off := i * BytesPerBlock(FQ40)
		putU16LE(out[off:], F32ToF16(b.D))
		copy(out[off+2:], b.QS[:])
	}
	return out
}

// DecodeQ40 parses the on-disk/on-wire byte layout back into blocks.
func DecodeQ40(raw []byte) []BlockQ40 {
	n := len(raw) / BytesPerBlock(FQ40)
	blocks := make([]BlockQ40, n)
	for i := range blocks {
		off := i * BytesPerBlock(FQ40)
		blocks[i].D = F16ToF32Table(getU16LE(raw[off:]))
		copy(blocks[i].QS[:], raw[off+2:off+2+len(blocks[i].QS)])
	}
	return blocks
}
