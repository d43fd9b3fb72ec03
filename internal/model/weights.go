package model

import (
	"github.com/KMouratidis/distributed-llama/internal/kernels"
	"github.com/KMouratidis/distributed-llama/internal/quant"
)

// Tensor is one slice's shard of a weight matrix: Rows x Cols in
// row-major layout, stored in WeightType. For most tensors Rows is
// already the sharded outer dimension for this slice (§3: "the tensor is
// split along its outer dimension into nSlices contiguous shards") and
// Cols is full width; the REDUCE projections WO and WDown are instead
// column-sharded, with full-width Rows and this slice's share of Cols.
type Tensor struct {
	Type quant.Type
	Rows int
	Cols int

	Q80 []quant.BlockQ80 // valid when Type == quant.FQ80
	Q40 []quant.BlockQ40 // valid when Type == quant.FQ40
	F32 []float32        // valid when Type == quant.F32
}

// MatmulInto dispatches to the matmul kernel matching t.Type against
// an F32 activation. out must have length t.Rows, x must have length
// t.Cols.
func (t *Tensor) MatmulInto(out, x []float32, threads, idx int) {
	matmulDispatch(out, t, x, threads, idx)
}

// MatmulQuantizedInto is MatmulInto against an activation already
// quantized to Q8_0, used when spec.BufferType == quant.FQ80 so a
// model prepared for Q8_0 activations (§4.2: "x either F32 or Q8_0")
// runs its local matmuls as an integer reduction end to end, not just
// on the wire to other slices. Only defined for Q8_0 weight tensors;
// callers must check t.Type first, same as MatmulInto's panic on an
// unsupported type.
func (t *Tensor) MatmulQuantizedInto(out []float32, xq []quant.BlockQ80, threads, idx int) {
	kernels.MatmulQ80Q80(out, t.Q80, t.Rows, t.Cols, xq, threads, idx)
}

// ExpertWeights holds one MoE expert's shard of the gated FFN
// (§3: "expert banks"), identical in shape to LayerWeights' dense
// WGate/WUp/WDown but replicated per expert.
type ExpertWeights struct {
	WGate Tensor
	WUp   Tensor
	WDown Tensor
}

// LayerWeights holds one transformer block's weights, already sharded
// to this slice (§3 Transformer weights).
type LayerWeights struct {
	AttnNormW []float32 // replicated on every slice; normalization params are not sharded (§4.4 step 1)

	WQ Tensor // SHARDED rows = (nHeads/nSlices)*headDim, cols = hidden
	WK Tensor // SHARDED rows = (nKVHeads/nSlices)*headDim, cols = hidden
	WV Tensor // SHARDED rows = (nKVHeads/nSlices)*headDim, cols = hidden
	WO Tensor // REDUCE  rows = hidden (full), cols = this slice's attention-output shard width

	FFNNormW []float32

	// Dense FFN (Llama2, Grok1).
	WGate Tensor // SHARDED rows = ffn/nSlices, cols = hidden
	WUp   Tensor // SHARDED rows = ffn/nSlices, cols = hidden
	WDown Tensor // REDUCE  rows = hidden (full), cols = ffn/nSlices

	// MoE (Mixtral only). WRouter is replicated in full on every
	// slice — §4.4's open question about routing is resolved by
	// making every slice compute the identical top-k decision
	// locally from identical router weights, rather than adding a
	// REDUCE round-trip just to agree on which experts fired; see
	// DESIGN.md.
	WRouter []float32 // [NExperts][hidden], replicated
	Experts []ExpertWeights
}

// Weights is one slice's (root's or one worker's) complete set of
// transformer weights (§3).
type Weights struct {
	// TokenEmbedding is replicated in full on the root only — embedding
	// lookup is a LOCAL driver-level operation (§4.6), never sharded,
	// so workers never need it.
	TokenEmbedding []float32 // [VocabSize][HiddenDim], root-only

	Layers []LayerWeights

	FinalNormW []float32 // replicated

	LMHead Tensor // SHARDED rows = vocab/nSlices, cols = hidden
}
