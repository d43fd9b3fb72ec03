package driver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KMouratidis/distributed-llama/internal/kernels"
	"github.com/KMouratidis/distributed-llama/internal/model"
	"github.com/KMouratidis/distributed-llama/internal/quant"
	"github.com/KMouratidis/distributed-llama/internal/threadpool"
	"github.com/KMouratidis/distributed-llama/internal/transport"
)

// tinySpec builds a two-slice dense Llama2-shaped spec small enough to
// run a full forward pass in a test: 2 layers, 4 heads, head dim 4,
// ffn 8, vocab 6.
func tinySpec() *model.Spec {
	return &model.Spec{
		Arch:       model.Llama2,
		NLayers:    2,
		HiddenDim:  16,
		NHeads:     4,
		NKVHeads:   4,
		HeadDim:    4,
		FFNDim:     8,
		VocabSize:  6,
		MaxSeqLen:  8,
		WeightType: quant.F32,
		BufferType: quant.F32,
		NSlices:    2,
		RopeBase:   10000,
		NormEps:    1e-5,
	}
}

func fullTensor(rows, cols int, v float32) model.Tensor {
	data := make([]float32, rows*cols)
	for i := range data {
		data[i] = v
	}
	return model.Tensor{Type: quant.F32, Rows: rows, Cols: cols, F32: data}
}

func fullVector(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// fullQ80Tensor is fullTensor for a Q8_0 weight, used by the
// Q8_0-activation variant of tinyWeights to exercise the
// quantized-activation matmul path end to end.
func fullQ80Tensor(rows, cols int, v float32) model.Tensor {
	row := fullVector(cols, v)
	blocksPerRow := quant.NumBlocks(cols)
	blocks := make([]quant.BlockQ80, rows*blocksPerRow)
	for r := 0; r < rows; r++ {
		quant.QuantizeQ80(row, blocks[r*blocksPerRow:(r+1)*blocksPerRow], 1, 0)
	}
	return model.Tensor{Type: quant.FQ80, Rows: rows, Cols: cols, Q80: blocks}
}

// tinyWeights builds sliceIndex's shard of tinySpec's weights, with
// every tensor filled with a small constant so matmuls produce finite,
// non-exploding values.
func tinyWeights(spec *model.Spec, sliceIndex int) *model.Weights {
	qShard := (spec.NHeads / spec.NSlices) * spec.HeadDim
	kvShard := (spec.NKVHeads / spec.NSlices) * spec.HeadDim
	ffnShard := spec.FFNDim / spec.NSlices

	w := &model.Weights{Layers: make([]model.LayerWeights, spec.NLayers)}
	if sliceIndex == 0 {
		w.TokenEmbedding = fullVector(spec.VocabSize*spec.HiddenDim, 0.01)
	}
	for l := 0; l < spec.NLayers; l++ {
		lw := &w.Layers[l]
		lw.AttnNormW = fullVector(spec.HiddenDim, 1)
		lw.WQ = fullTensor(qShard, spec.HiddenDim, 0.01)
		lw.WK = fullTensor(kvShard, spec.HiddenDim, 0.01)
		lw.WV = fullTensor(kvShard, spec.HiddenDim, 0.01)
		lw.WO = fullTensor(spec.HiddenDim, qShard, 0.01)
		lw.FFNNormW = fullVector(spec.HiddenDim, 1)
		lw.WGate = fullTensor(ffnShard, spec.HiddenDim, 0.01)
		lw.WUp = fullTensor(ffnShard, spec.HiddenDim, 0.01)
		lw.WDown = fullTensor(spec.HiddenDim, ffnShard, 0.01)
	}
	w.FinalNormW = fullVector(spec.HiddenDim, 1)
	w.LMHead = fullTensor(spec.VocabSize/spec.NSlices, spec.HiddenDim, 0.01)
	return w
}

// tinyQ80Spec is tinySpec sized so every activation a local matmul
// consumes (HiddenDim, qShard, ffnShard) is a multiple of
// quant.BlockSize, so it can exercise the Q8_0-activation matmul path
// (internal/driver/executor.go's quantizeIfConfigured/localMatmul).
func tinyQ80Spec() *model.Spec {
	return &model.Spec{
		Arch:       model.Llama2,
		NLayers:    2,
		HiddenDim:  64,
		NHeads:     2,
		NKVHeads:   2,
		HeadDim:    32,
		FFNDim:     64,
		VocabSize:  32,
		MaxSeqLen:  8,
		WeightType: quant.FQ80,
		BufferType: quant.FQ80,
		NSlices:    2,
		RopeBase:   10000,
		NormEps:    1e-5,
	}
}

func tinyQ80Weights(spec *model.Spec, sliceIndex int) *model.Weights {
	qShard := (spec.NHeads / spec.NSlices) * spec.HeadDim
	kvShard := (spec.NKVHeads / spec.NSlices) * spec.HeadDim
	ffnShard := spec.FFNDim / spec.NSlices

	w := &model.Weights{Layers: make([]model.LayerWeights, spec.NLayers)}
	if sliceIndex == 0 {
		w.TokenEmbedding = fullVector(spec.VocabSize*spec.HiddenDim, 0.01)
	}
	for l := 0; l < spec.NLayers; l++ {
		lw := &w.Layers[l]
		lw.AttnNormW = fullVector(spec.HiddenDim, 1)
		lw.WQ = fullQ80Tensor(qShard, spec.HiddenDim, 0.01)
		lw.WK = fullQ80Tensor(kvShard, spec.HiddenDim, 0.01)
		lw.WV = fullQ80Tensor(kvShard, spec.HiddenDim, 0.01)
		lw.WO = fullQ80Tensor(spec.HiddenDim, qShard, 0.01)
		lw.FFNNormW = fullVector(spec.HiddenDim, 1)
		lw.WGate = fullQ80Tensor(ffnShard, spec.HiddenDim, 0.01)
		lw.WUp = fullQ80Tensor(ffnShard, spec.HiddenDim, 0.01)
		lw.WDown = fullQ80Tensor(spec.HiddenDim, ffnShard, 0.01)
	}
	w.FinalNormW = fullVector(spec.HiddenDim, 1)
	w.LMHead = fullQ80Tensor(spec.VocabSize/spec.NSlices, spec.HiddenDim, 0.01)
	return w
}

// TestShardWithQ80ActivationsProducesFiniteOutputs exercises the
// quantized-activation matmul path through one slice's shard executor
// (attention partial, FFN partial and LM-head shard; Root.Infer is not
// called): every weight tensor is Q8_0 and spec.BufferType is
// quant.FQ80, so every local matmul in internal/driver/executor.go
// routes through kernels.MatmulQ80Q80 instead of MatmulQ80F32.
func TestShardWithQ80ActivationsProducesFiniteOutputs(t *testing.T) {
	spec := tinyQ80Spec()
	pool := threadpool.New(1)
	shard := NewShard(spec, tinyQ80Weights(spec, 0), 0, pool)

	embedding := fullVector(spec.HiddenDim, 0.1)
	normed := make([]float32, spec.HiddenDim)
	kernels.RMSNorm(normed, embedding, fullVector(spec.HiddenDim, 1), spec.NormEps)

	partial := shard.AttnPartial(0, 0, normed)
	require.Len(t, partial, spec.HiddenDim)
	for _, v := range partial {
		require.False(t, isNaNOrInf(v))
	}

	ffnPartial := shard.FFNPartial(0, normed)
	require.Len(t, ffnPartial, spec.HiddenDim)
	for _, v := range ffnPartial {
		require.False(t, isNaNOrInf(v))
	}

	shardOut := shard.LMHeadShard(normed)
	require.Len(t, shardOut, spec.VocabSize/spec.NSlices)
	for _, v := range shardOut {
		require.False(t, isNaNOrInf(v))
	}
}

func TestInferProducesFullVocabLogits(t *testing.T) {
	spec := tinySpec()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	workerWeights := tinyWeights(spec, 1)
	worker := NewWorker(spec, workerWeights, 1, threadpool.New(1))

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- transport.ServeWorker(ln, worker.Handle, worker.HandleReset)
	}()

	link, err := transport.Dial(ln.Addr().String(), 1, time.Second)
	require.NoError(t, err)
	defer link.Close()

	cluster := &transport.Cluster{Links: []*transport.Link{link}}
	rootWeights := tinyWeights(spec, 0)
	pool := threadpool.New(1)
	root := NewRoot(spec, rootWeights, pool, cluster)

	require.NoError(t, root.Reset())

	embedding := fullVector(spec.HiddenDim, 0.1)
	logits, err := root.Infer(0, embedding)
	require.NoError(t, err)
	require.Len(t, logits, spec.VocabSize)
	for _, v := range logits {
		require.False(t, isNaNOrInf(v))
	}

	logits2, err := root.Infer(1, embedding)
	require.NoError(t, err)
	require.Len(t, logits2, spec.VocabSize)

	link.Close()
	require.NoError(t, <-serverDone)
}

func isNaNOrInf(v float32) bool {
	return v != v || v > 3.4e38 || v < -3.4e38
}
