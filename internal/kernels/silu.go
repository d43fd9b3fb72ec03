package kernels

import (
	"math"

	"github.com/KMouratidis/distributed-llama/internal/threadpool"
)

// silu returns v * sigmoid(v) for one value, the activation used by the
// gated FFN (§4.2).
func silu(v float32) float32 {
	return v / (1.0 + float32(math.Exp(float64(-v))))
}

// SiLUGate computes dst[i] = silu(gate[i]) * up[i] for i in the thread's
// range — the gated half of "silu(gate*x) ⊙ (up*x)" (§4.2 SiLU-gated
// FFN). gate and up are the already-projected FFN-dimension vectors;
// the caller is responsible for running the gate/up matmuls first.
func SiLUGate(dst, gate, up []float32, threads, idx int) {
	start, end := threadpool.Split(len(dst), threads, idx)
	for i := start; i < end; i++ {
		dst[i] = silu(gate[i]) * up[i]
	}
}
