package kernels

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KMouratidis/distributed-llama/internal/quant"
	"github.com/KMouratidis/distributed-llama/internal/threadpool"
)

func TestRMSNorm(t *testing.T) {
	x := []float32{3, 4, 0, 0}
	w := []float32{1, 1, 1, 1}
	dst := make([]float32, 4)
	RMSNorm(dst, x, w, 1e-5)
	// mean(x^2) = 25/4 = 6.25, rms = 2.5
	require.InDelta(t, 3.0/2.5, dst[0], 1e-3)
	require.InDelta(t, 4.0/2.5, dst[1], 1e-3)
}

func TestResidualAddThreadInvariance(t *testing.T) {
	n := 128
	base := make([]float32, n)
	delta := make([]float32, n)
	for i := range base {
		base[i] = float32(i)
		delta[i] = float32(n - i)
	}

	var reference []float32
	for _, threads := range []int{1, 2, 4, 8} {
		dst := append([]float32{}, base...)
		threadpool.New(threads).Run(func(threads, idx int) {
			ResidualAdd(dst, delta, threads, idx)
		})
		if reference == nil {
			reference = dst
			continue
		}
		require.Equal(t, reference, dst, "threads=%d", threads)
	}
}

func TestSiLUGate(t *testing.T) {
	gate := []float32{0, 1, -1}
	up := []float32{2, 2, 2}
	dst := make([]float32, 3)
	threadpool.New(2).Run(func(threads, idx int) {
		SiLUGate(dst, gate, up, threads, idx)
	})
	require.InDelta(t, 0, dst[0], 1e-6)
	require.InDelta(t, silu(1)*2, dst[1], 1e-6)
	require.InDelta(t, silu(-1)*2, dst[2], 1e-6)
}

func TestSoftmaxSumsToOne(t *testing.T) {
	x := []float32{1, 2, 3, 4}
	Softmax(x)
	var sum float32
	for _, v := range x {
		sum += v
	}
	require.InDelta(t, 1.0, sum, 1e-5)
}

func TestMatmulQ80F32ThreadInvariance(t *testing.T) {
	rows, cols := 8, quant.BlockSize*2
	weights := make([]float32, rows*cols)
	for i := range weights {
		weights[i] = float32(i%13) - 6
	}
	blocks := make([]quant.BlockQ80, rows*quant.NumBlocks(cols))
	threadpool.New(1).Run(func(threads, idx int) {
		for r := 0; r < rows; r++ {
			quant.QuantizeQ80(weights[r*cols:(r+1)*cols], blocks[r*quant.NumBlocks(cols):(r+1)*quant.NumBlocks(cols)], 1, 0)
		}
	})

	x := make([]float32, cols)
	for i := range x {
		x[i] = float32(i%5) - 2
	}

	var reference []float32
	for _, threads := range []int{1, 2, 4, 8} {
		out := make([]float32, rows)
		threadpool.New(threads).Run(func(threads, idx int) {
			MatmulQ80F32(out, blocks, rows, cols, x, threads, idx)
		})
		if reference == nil {
			reference = out
			continue
		}
		require.Equal(t, reference, out, "threads=%d", threads)
	}
}

func TestMatmulQ80Q80AgreesWithMatmulQ80F32(t *testing.T) {
	rows, cols := 8, quant.BlockSize*2
	weights := make([]float32, rows*cols)
	for i := range weights {
		weights[i] = float32(i%13) - 6
	}
	blocks := make([]quant.BlockQ80, rows*quant.NumBlocks(cols))
	for r := 0; r < rows; r++ {
		quant.QuantizeQ80(weights[r*cols:(r+1)*cols], blocks[r*quant.NumBlocks(cols):(r+1)*quant.NumBlocks(cols)], 1, 0)
	}

	x := make([]float32, cols)
	for i := range x {
		x[i] = float32(i%5) - 2
	}
	xq := make([]quant.BlockQ80, quant.NumBlocks(cols))
	quant.QuantizeQ80(x, xq, 1, 0)

	wantF32 := make([]float32, rows)
	MatmulQ80F32(wantF32, blocks, rows, cols, x, 1, 0)

	gotQ80 := make([]float32, rows)
	MatmulQ80Q80(gotQ80, blocks, rows, cols, xq, 1, 0)

	// MatmulQ80Q80 consumes x already quantized to Q8_0 (xq above), so
	// it only agrees with MatmulQ80F32 up to quantization error, not
	// bit-for-bit.
	require.InDeltaSlice(t, wantF32, gotQ80, 1.0)
}

func TestAttentionSingleHeadSinglePosition(t *testing.T) {
	headDim := 4
	q := []float32{1, 0, 0, 0}
	kCache := []float32{1, 0, 0, 0}
	vCache := []float32{5, 6, 7, 8}
	out := make([]float32, headDim)
	scores := [][]float32{make([]float32, 1)}

	Attention(out, q, kCache, vCache, scores, 0, 1, 1, headDim, headDim, 1, 0)
	require.InDeltaSlice(t, []float32{5, 6, 7, 8}, out, 1e-4)
}

func TestMoERouteNormalizesWeights(t *testing.T) {
	logits := []float32{1, 5, 2, 0.1}
	selected := MoERoute(logits, 2)
	require.Len(t, selected, 2)
	require.Equal(t, 1, selected[0].Index) // highest logit
	var sum float32
	for _, s := range selected {
		sum += s.Weight
	}
	require.InDelta(t, 1.0, sum, 1e-5)
}

func TestRotaryEmbeddingPreservesNormAtPositionZero(t *testing.T) {
	headDim := 4
	q := []float32{1, 2, 3, 4}
	k := []float32{0.5, 0.5, 0.5, 0.5}
	RotaryEmbedding(q, k, 0, headDim, 10000, 1, 0)
	// at pos=0 every angle is 0, so rotation is the identity.
	require.InDeltaSlice(t, []float32{1, 2, 3, 4}, q, 1e-6)
	require.InDeltaSlice(t, []float32{0.5, 0.5, 0.5, 0.5}, k, 1e-6)
}
