package driver

import (
	"fmt"
	"math"

	"github.com/KMouratidis/distributed-llama/internal/kernels"
	"github.com/KMouratidis/distributed-llama/internal/model"
	"github.com/KMouratidis/distributed-llama/internal/plan"
	"github.com/KMouratidis/distributed-llama/internal/quant"
	"github.com/KMouratidis/distributed-llama/internal/session"
	"github.com/KMouratidis/distributed-llama/internal/threadpool"
	"github.com/KMouratidis/distributed-llama/internal/transport"
)

// Root is the slice-0 inference driver (§4.6). It owns the canonical
// hidden-width residual stream and is the only slice that assembles
// SHARDED/REDUCE results into a full vector: every worker only ever
// sees its own shard.
type Root struct {
	spec    *model.Spec
	weights *model.Weights
	shard   *Shard
	state   *session.State // only X and Xb are used; shard owns its own Q/K/V/KV-cache scratch
	cluster *transport.Cluster

	lmOpID uint32
}

// NewRoot builds the root driver for spec against weights (root's own
// slice-0 shard), running local kernels over pool and reaching workers
// through cluster.
func NewRoot(spec *model.Spec, weights *model.Weights, pool *threadpool.Pool, cluster *transport.Cluster) *Root {
	qShard := (spec.NHeads / spec.NSlices) * spec.HeadDim
	kvShard := (spec.NKVHeads / spec.NSlices) * spec.HeadDim
	ffnShard := spec.FFNDim / spec.NSlices
	nHeadsShard := spec.NHeads / spec.NSlices

	return &Root{
		spec:    spec,
		weights: weights,
		shard:   NewShard(spec, weights, 0, pool),
		state:   session.New(spec, qShard, kvShard, ffnShard, nHeadsShard),
		cluster: cluster,
		lmOpID:  plan.LMHeadOpID(spec),
	}
}

// MaxSeqLen returns the maximum sequence position this model's KV
// cache was sized for (§3 Activation state). The generation loop must
// never call Infer at a position beyond this.
func (r *Root) MaxSeqLen() int { return r.spec.MaxSeqLen }

// abortErrorCode is the opaque ERROR code the root sends to every
// worker when a request aborts mid-generation for a reason other than
// a clean client disconnect (§7: "I/O errors on worker links: treated
// as protocol errors"). §7 only specifies the wire shape of ERROR
// ({u32 code}), not code semantics, so one generic value is enough.
const abortErrorCode uint32 = 1

// ResetCluster issues RESET to every worker without touching the
// root's own residual stream or KV cache, used when a client
// disconnects mid-stream (§5 Cancellation, §8 S6): the request aborts
// cleanly and the cluster is ready for whatever request comes next.
func (r *Root) ResetCluster() error {
	return r.cluster.ResetAll()
}

// ErrorCluster issues ERROR to every worker, used when the request
// aborts for a reason other than a clean client disconnect — a worker
// link failure or a decode-side error mid-generation (§7).
func (r *Root) ErrorCluster() {
	r.cluster.SendErrorAll(abortErrorCode)
}

func (r *Root) weightsAttnNorm(layer int) []float32 { return r.weights.Layers[layer].AttnNormW }
func (r *Root) weightsFFNNorm(layer int) []float32  { return r.weights.Layers[layer].FFNNormW }
func (r *Root) weightsFinalNorm() []float32         { return r.weights.FinalNormW }

// Reset clears the residual stream and every slice's KV cache ahead of
// a fresh conversation (§4.5, §8 S6).
func (r *Root) Reset() error {
	r.state.Reset()
	r.shard.Reset()
	return r.cluster.ResetAll()
}

// Infer runs one forward pass at sequence position pos, starting from
// embedding (the caller's token-embedding lookup), and returns the
// full vocabulary logit vector (§4.6). The driver is the only mutator
// of the residual stream and KV cache; the caller (internal/generate)
// owns advancing pos and choosing the next token.
func (r *Root) Infer(pos int, embedding []float32) ([]float32, error) {
	copy(r.state.X, embedding)

	for l := 0; l < r.spec.NLayers; l++ {
		if err := r.attnSublayer(l, pos); err != nil {
			return nil, fmt.Errorf("driver: layer %d attention: %w", l, err)
		}
		if err := r.ffnSublayer(l); err != nil {
			return nil, fmt.Errorf("driver: layer %d ffn: %w", l, err)
		}
	}

	return r.lmHead()
}

func (r *Root) attnSublayer(layer, pos int) error {
	normW := r.weightsAttnNorm(layer)
	kernels.RMSNorm(r.state.Xb, r.state.X, normW, r.spec.NormEps)

	local := r.shard.AttnPartial(layer, pos, r.state.Xb)

	enc, raw := r.encodeActivation(r.state.Xb)
	workerPartials, err := r.cluster.Broadcast(plan.AttnOpID(layer), pos, enc, r.state.Xb, raw)
	if err != nil {
		return err
	}
	if err := transport.Reduce(local, workerPartials); err != nil {
		return err
	}

	kernels.ResidualAdd(r.state.X, local, 1, 0)
	return nil
}

func (r *Root) ffnSublayer(layer int) error {
	normW := r.weightsFFNNorm(layer)
	kernels.RMSNorm(r.state.Xb, r.state.X, normW, r.spec.NormEps)

	local := r.shard.FFNPartial(layer, r.state.Xb)

	enc, raw := r.encodeActivation(r.state.Xb)
	workerPartials, err := r.cluster.Broadcast(plan.FFNOpID(layer), 0, enc, r.state.Xb, raw)
	if err != nil {
		return err
	}
	if err := transport.Reduce(local, workerPartials); err != nil {
		return err
	}

	kernels.ResidualAdd(r.state.X, local, 1, 0)
	return nil
}

func (r *Root) lmHead() ([]float32, error) {
	normW := r.weightsFinalNorm()
	kernels.RMSNorm(r.state.Xb, r.state.X, normW, r.spec.NormEps)

	localShard := r.shard.LMHeadShard(r.state.Xb)

	enc, raw := r.encodeActivation(r.state.Xb)
	workerShards, err := r.cluster.Broadcast(r.lmOpID, 0, enc, r.state.Xb, raw)
	if err != nil {
		return nil, err
	}
	return transport.Concat(localShard, workerShards), nil
}

// encodeActivation packs x for the wire using spec.BufferType (§4.5:
// "quantized to Q8_0 when the op's input type says so"), read from the
// weight file header rather than a CLI flag — the header is the only
// authoritative source for how this model was prepared.
func (r *Root) encodeActivation(x []float32) (transport.Encoding, []byte) {
	if r.spec.BufferType == quant.FQ80 {
		blocks := make([]quant.BlockQ80, quant.NumBlocks(len(x)))
		quant.QuantizeQ80(x, blocks, 1, 0)
		return transport.EncodingQ80, quant.EncodeQ80(blocks)
	}
	return transport.EncodingF32, encodeF32(x)
}

func encodeF32(x []float32) []byte {
	out := make([]byte, len(x)*4)
	for i, v := range x {
		b := math.Float32bits(v)
		out[i*4] = byte(b)
		out[i*4+1] = byte(b >> 8)
		out[i*4+2] = byte(b >> 16)
		out[i*4+3] = byte(b >> 24)
	}
	return out
}
