package kernels

import (
	"math"

	"github.com/KMouratidis/distributed-llama/internal/threadpool"
)

// RotaryEmbedding applies the standard interleaved pair rotation to q
// and k in place at position pos (§4.2). headDim is the per-head
// dimension; q has nHeads*headDim elements, k has nKVHeads*headDim.
// base is 10000 for Llama/Grok or 500000 where the architecture
// configures it (§4.2).
//
// Threads split across heads of q; k (always narrower or equal) is
// rotated entirely by thread 0, mirroring the plan's LOCAL tagging of
// this op (§4.4 step 3) — rotary runs after the SHARDED Q/K/V
// projection, once per slice, over whatever heads that slice owns.
func RotaryEmbedding(q, k []float32, pos int, headDim int, base float32, threads, idx int) {
	nHeads := len(q) / headDim
	start, end := threadpool.Split(nHeads, threads, idx)
	for h := start; h < end; h++ {
		rotateHead(q[h*headDim:(h+1)*headDim], pos, headDim, base)
	}

	if idx == 0 {
		nKVHeads := len(k) / headDim
		for h := 0; h < nKVHeads; h++ {
			rotateHead(k[h*headDim:(h+1)*headDim], pos, headDim, base)
		}
	}
}

func rotateHead(v []float32, pos int, headDim int, base float32) {
	for i := 0; i < headDim; i += 2 {
		freq := 1.0 / math.Pow(float64(base), float64(i)/float64(headDim))
		angle := float64(pos) * freq
		fcr := float32(math.Cos(angle))
		fci := float32(math.Sin(angle))
		v0, v1 := v[i], v[i+1]
		v[i] = v0*fcr - v1*fci
		v[i+1] = v0*fci + v1*fcr
	}
}
