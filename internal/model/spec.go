// Package model holds the immutable per-run transformer description
// (§3 Data model: "Transformer spec") and the sliced weight storage
// that the execution plan (internal/plan) and the inference driver
// (internal/driver) read from.
package model

import "github.com/KMouratidis/distributed-llama/internal/quant"

// Arch tags which architecture's execution plan applies (§3, §4.4).
type Arch int

const (
	ArchUnknown Arch = iota
	Llama2
	Grok1
	Mixtral
)

func (a Arch) String() string {
	switch a {
	case Llama2:
		return "llama2"
	case Grok1:
		return "grok1"
	case Mixtral:
		return "mixtral"
	default:
		return "unknown"
	}
}

// Spec is the immutable per-run transformer description (§3).
type Spec struct {
	Arch Arch

	NLayers    int
	HiddenDim  int
	NHeads     int
	NKVHeads   int
	HeadDim    int
	FFNDim     int
	NExperts   int // 0 for dense (Llama2/Grok1 without MoE)
	ExpertsPerTok int
	VocabSize  int
	MaxSeqLen  int

	WeightType quant.Type
	BufferType quant.Type

	// NSlices = workers + 1 (§3: "number of slices (= workers + 1)").
	NSlices int

	RopeBase float32
	NormEps  float32
}

// KVHiddenDim is NKVHeads*HeadDim, the width of one position's K or V
// entry in the KV cache (§3 Activation state).
func (s *Spec) KVHiddenDim() int {
	return s.NKVHeads * s.HeadDim
}

// IsMoE reports whether the FFN is a mixture-of-experts layer
// (Mixtral) rather than a single dense SiLU-gated FFN.
func (s *Spec) IsMoE() bool {
	return s.NExperts > 0
}

// ShardDim divides d by NSlices, panicking if d is not evenly
// shardable — §3's invariant "every shardable dimension is divisible
// by nSlices" is an arithmetic-invariant class failure per §7, fatal
// rather than recoverable.
func (s *Spec) ShardDim(d int) int {
	if d%s.NSlices != 0 {
		panic("model: dimension not divisible by nSlices")
	}
	return d / s.NSlices
}

// DefaultRopeBase returns the rotary base frequency for an
// architecture absent an explicit override (§4.2: "base frequency =
// 10000 (Llama/Grok) or 500000 (where configured)").
func DefaultRopeBase(a Arch) float32 {
	return 10000
}

// DefaultNormEps returns the RMS-norm epsilon for an architecture
// (§4.2).
func DefaultNormEps(a Arch) float32 {
	if a == Grok1 {
		return 1e-6
	}
	return 1e-5
}
