// Package driver is the inference driver (§4.6): it walks the
// execution plan one token at a time, dispatching LOCAL ops to
// internal/kernels directly and SHARDED/REDUCE ops across
// internal/transport, maintaining the KV cache and residual stream in
// internal/session.
//
// Every slice — root and every worker — runs the identical per-layer
// shard computation against its own weight shard; only the root keeps
// the canonical hidden-width residual stream, since that's the only
// state a slice needs beyond its own shard to participate (§4.4's
// SHARDED/REDUCE roles only require root to aggregate, never to push
// intermediate activations back down mid-layer).
package driver

import (
	"github.com/KMouratidis/distributed-llama/internal/kernels"
	"github.com/KMouratidis/distributed-llama/internal/model"
	"github.com/KMouratidis/distributed-llama/internal/quant"
	"github.com/KMouratidis/distributed-llama/internal/session"
	"github.com/KMouratidis/distributed-llama/internal/threadpool"
)

// Shard is the per-slice shard executor shared by the root (for its
// own slice-0 contribution) and every worker (for the whole of what it
// does). It owns the math; Root and Worker own the transport plumbing
// around it.
type Shard struct {
	spec    *model.Spec
	weights *model.Weights
	state   *session.State
	pool    *threadpool.Pool

	sliceIndex    int
	nHeadsShard   int
	nKVHeadsShard int
	qShard        int
	kvShard       int
	ffnShard      int
}

// NewShard builds the shard executor for sliceIndex (0 is root, 1..N
// are workers in order) against spec and weights, running kernels over
// pool's threads.
func NewShard(spec *model.Spec, weights *model.Weights, sliceIndex int, pool *threadpool.Pool) *Shard {
	nHeadsShard := spec.NHeads / spec.NSlices
	nKVHeadsShard := spec.NKVHeads / spec.NSlices
	qShard := nHeadsShard * spec.HeadDim
	kvShard := nKVHeadsShard * spec.HeadDim
	ffnShard := spec.FFNDim / spec.NSlices

	return &Shard{
		spec:          spec,
		weights:       weights,
		state:         session.New(spec, qShard, kvShard, ffnShard, nHeadsShard),
		pool:          pool,
		sliceIndex:    sliceIndex,
		nHeadsShard:   nHeadsShard,
		nKVHeadsShard: nKVHeadsShard,
		qShard:        qShard,
		kvShard:       kvShard,
		ffnShard:      ffnShard,
	}
}

// Reset clears this shard's KV cache and scratch buffers, matching the
// RESET frame's effect on a worker (§4.5) and a fresh root request.
func (s *Shard) Reset() {
	s.state.Reset()
}

// quantizeIfConfigured quantizes normedX to Q8_0 once per sublayer
// call when spec.BufferType says this model runs Q8_0 activations
// (§4.2), so every Q8_0 weight tensor fed by normedX in this call
// reuses the same blocks instead of requantizing per tensor. Returns
// nil when the model is F32-activation, in which case localMatmul
// always takes the plain path.
func (s *Shard) quantizeIfConfigured(normedX []float32) []quant.BlockQ80 {
	if s.spec.BufferType != quant.FQ80 {
		return nil
	}
	xq := make([]quant.BlockQ80, quant.NumBlocks(len(normedX)))
	s.pool.Run(func(threads, idx int) {
		quant.QuantizeQ80(normedX, xq, threads, idx)
	})
	return xq
}

// localMatmul runs t's matmul against normedX, taking the Q8_0 x Q8_0
// integer-reduction path (§4.2) when both the model is configured for
// Q8_0 activations and t itself is a Q8_0 weight tensor, and the plain
// F32 path otherwise — a Q4_0 or F32 weight tensor always takes the
// F32 path regardless of xq, since neither kernel has a quantized-x
// variant.
func (s *Shard) localMatmul(out []float32, t *model.Tensor, normedX []float32, xq []quant.BlockQ80, threads, idx int) {
	if xq != nil && t.Type == quant.FQ80 {
		t.MatmulQuantizedInto(out, xq, threads, idx)
		return
	}
	t.MatmulInto(out, normedX, threads, idx)
}

// AttnPartial runs this slice's share of one transformer block's
// attention sub-layer — QKV projection (SHARDED), rotary embedding and
// KV-cache write (LOCAL, but every slice does its own), causal
// attention over this slice's heads (SHARDED), and the output
// projection (REDUCE) — and returns this slice's REDUCE partial: a
// full hidden_dim vector that the root must sum across every slice to
// get the true attention-sublayer delta (§4.4 steps 2-6).
func (s *Shard) AttnPartial(layer, pos int, normedX []float32) []float32 {
	lw := &s.weights.Layers[layer]
	xq := s.quantizeIfConfigured(normedX)

	s.pool.Run(func(threads, idx int) {
		s.localMatmul(s.state.Q, &lw.WQ, normedX, xq, threads, idx)
		s.localMatmul(s.state.K, &lw.WK, normedX, xq, threads, idx)
		s.localMatmul(s.state.V, &lw.WV, normedX, xq, threads, idx)
	})

	s.pool.Run(func(threads, idx int) {
		kernels.RotaryEmbedding(s.state.Q, s.state.K, pos, s.spec.HeadDim, s.spec.RopeBase, threads, idx)
	})

	s.state.WriteKV(layer, pos, s.state.K, s.state.V)

	attnOut := make([]float32, s.qShard)
	s.pool.Run(func(threads, idx int) {
		kernels.Attention(attnOut, s.state.Q, s.state.KLayer(layer), s.state.VLayer(layer), s.state.AttnScores,
			pos, s.nHeadsShard, s.nKVHeadsShard, s.spec.HeadDim, s.kvShard, threads, idx)
	})

	attnOutQ := s.quantizeIfConfigured(attnOut)
	partial := make([]float32, s.spec.HiddenDim)
	s.pool.Run(func(threads, idx int) {
		s.localMatmul(partial, &lw.WO, attnOut, attnOutQ, threads, idx)
	})
	return partial
}

// FFNPartial runs this slice's share of one transformer block's
// feed-forward sub-layer: the gated projection (SHARDED, MoE-routed
// for Mixtral) and the down-projection (REDUCE). Returns this slice's
// REDUCE partial, a full hidden_dim vector (§4.4 steps 8-9).
func (s *Shard) FFNPartial(layer int, normedX []float32) []float32 {
	lw := &s.weights.Layers[layer]

	if s.spec.IsMoE() {
		return s.moeFFNPartial(lw, normedX)
	}

	xq := s.quantizeIfConfigured(normedX)
	s.pool.Run(func(threads, idx int) {
		s.localMatmul(s.state.Hb, &lw.WGate, normedX, xq, threads, idx)
		s.localMatmul(s.state.Hb2, &lw.WUp, normedX, xq, threads, idx)
	})
	gated := make([]float32, s.ffnShard)
	s.pool.Run(func(threads, idx int) {
		kernels.SiLUGate(gated, s.state.Hb, s.state.Hb2, threads, idx)
	})

	gatedQ := s.quantizeIfConfigured(gated)
	partial := make([]float32, s.spec.HiddenDim)
	s.pool.Run(func(threads, idx int) {
		s.localMatmul(partial, &lw.WDown, gated, gatedQ, threads, idx)
	})
	return partial
}

// moeFFNPartial routes normedX through the top-k experts picked from
// WRouter (replicated identically on every slice, so every slice makes
// the same routing decision without a synchronization round-trip — see
// DESIGN.md) and sums each selected expert's gated, weighted
// contribution into this slice's REDUCE partial.
func (s *Shard) moeFFNPartial(lw *model.LayerWeights, normedX []float32) []float32 {
	routerLogits := make([]float32, s.spec.NExperts)
	for e := 0; e < s.spec.NExperts; e++ {
		var dot float32
		row := lw.WRouter[e*s.spec.HiddenDim : (e+1)*s.spec.HiddenDim]
		for i, v := range row {
			dot += v * normedX[i]
		}
		routerLogits[e] = dot
	}
	selected := kernels.MoERoute(routerLogits, s.spec.ExpertsPerTok)

	partial := make([]float32, s.spec.HiddenDim)
	gated := make([]float32, s.ffnShard)
	expertPartial := make([]float32, s.spec.HiddenDim)
	xq := s.quantizeIfConfigured(normedX)

	for _, sel := range selected {
		ew := &lw.Experts[sel.Index]
		s.pool.Run(func(threads, idx int) {
			s.localMatmul(s.state.Hb, &ew.WGate, normedX, xq, threads, idx)
			s.localMatmul(s.state.Hb2, &ew.WUp, normedX, xq, threads, idx)
		})
		s.pool.Run(func(threads, idx int) {
			kernels.SiLUGate(gated, s.state.Hb, s.state.Hb2, threads, idx)
		})
		gatedQ := s.quantizeIfConfigured(gated)
		s.pool.Run(func(threads, idx int) {
			s.localMatmul(expertPartial, &ew.WDown, gated, gatedQ, threads, idx)
		})
		for i, v := range expertPartial {
			partial[i] += v * sel.Weight
		}
	}
	return partial
}

// LMHeadShard projects normedX through this slice's shard of the
// vocabulary (SHARDED; the root concatenates every slice's shard into
// the full logit vector, §4.4 final step).
func (s *Shard) LMHeadShard(normedX []float32) []float32 {
	shardSize := s.spec.VocabSize / s.spec.NSlices
	out := make([]float32, shardSize)
	xq := s.quantizeIfConfigured(normedX)
	s.pool.Run(func(threads, idx int) {
		s.localMatmul(out, &s.weights.LMHead, normedX, xq, threads, idx)
	})
	return out
}
