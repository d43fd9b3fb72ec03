package quant

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KMouratidis/distributed-llama/internal/threadpool"
)

func quantizeAllQ80(in []float32, threads int) []BlockQ80 {
	out := make([]BlockQ80, NumBlocks(len(in)))
	threadpool.New(threads).Run(func(threads, idx int) {
		QuantizeQ80(in, out, threads, idx)
	})
	return out
}

func dequantizeAllQ80(in []BlockQ80, n, threads int) []float32 {
	out := make([]float32, n)
	threadpool.New(threads).Run(func(threads, idx int) {
		DequantizeQ80(in, out, n, threads, idx)
	})
	return out
}

// S2: a Q8_0 block of all zeros round-trips to all zeros with d=0.
func TestQ80AllZeroBlock(t *testing.T) {
	in := make([]float32, BlockSize)
	blocks := quantizeAllQ80(in, 1)
	require.Len(t, blocks, 1)
	require.Equal(t, float32(0), blocks[0].D)
	for _, q := range blocks[0].QS {
		require.Equal(t, int8(0), q)
	}
	out := dequantizeAllQ80(blocks, BlockSize, 1)
	for _, v := range out {
		require.Equal(t, float32(0), v)
	}
}

// Property 1: round-trip error is bounded by ||x||_inf/127/2 + eps.
func TestQ80RoundTripBounded(t *testing.T) {
	n := BlockSize * 4
	in := make([]float32, n)
	for i := range in {
		in[i] = float32(math.Sin(float64(i))) * 9999
	}
	blocks := quantizeAllQ80(in, 1)
	out := dequantizeAllQ80(blocks, n, 1)

	var maxAbs float32
	for _, v := range in {
		if a := math.Abs(float64(v)); a > float64(maxAbs) {
			maxAbs = float32(a)
		}
	}
	bound := maxAbs/127/2 + 1e-3
	for i := range in {
		diff := math.Abs(float64(in[i] - out[i]))
		require.LessOrEqualf(t, diff, float64(bound), "element %d: in=%v out=%v", i, in[i], out[i])
	}
}

// Property 4: thread invariance — same inputs, any thread count in
// {1,2,4,8}, bit-identical F32 output.
func TestQ80ThreadInvariance(t *testing.T) {
	n := BlockSize * 16
	in := make([]float32, n)
	for i := range in {
		in[i] = float32(i%37) - 18
	}

	var reference []BlockQ80
	for _, threads := range []int{1, 2, 4, 8} {
		blocks := quantizeAllQ80(in, threads)
		if reference == nil {
			reference = blocks
			continue
		}
		require.Equal(t, reference, blocks, "threads=%d", threads)

		out := dequantizeAllQ80(blocks, n, threads)
		refOut := dequantizeAllQ80(reference, n, 1)
		require.Equal(t, refOut, out, "threads=%d", threads)
	}
}

func TestQ80EncodeDecodeRoundTrip(t *testing.T) {
	in := make([]float32, BlockSize*3)
	for i := range in {
		in[i] = float32(i) - 48
	}
	blocks := quantizeAllQ80(in, 1)
	raw := EncodeQ80(blocks)
	require.Len(t, raw, len(blocks)*BytesPerBlock(FQ80))
	decoded := DecodeQ80(raw)
	// The wire scale is F16, so D comes back rounded to half precision;
	// the codes are carried exactly.
	want := make([]BlockQ80, len(blocks))
	copy(want, blocks)
	for i := range want {
		want[i].D = F16ToF32(F32ToF16(want[i].D))
	}
	require.Equal(t, want, decoded)
}

func TestNumBlocksPanicsOnMisalignedLength(t *testing.T) {
	require.Panics(t, func() {
		NumBlocks(BlockSize + 1)
	})
}
