// Package session owns the per-request activation state (§3 Activation
// state): the residual stream, scratch buffers, and the KV cache. It
// is created once at driver startup and zeroed per request; the driver
// is the only mutator.
package session

import "github.com/KMouratidis/distributed-llama/internal/model"

// State is one slice's activation buffers for one request. Every slice
// (root and each worker) owns its own State, sized to that slice's
// shard of the relevant dimensions.
type State struct {
	X   []float32 // residual stream, [hidden]
	Xb  []float32 // scratch, [hidden]
	Xb2 []float32 // scratch, [hidden]
	Hb  []float32 // FFN scratch, [ffn] (this slice's shard width for SHARDED ffn ops)
	Hb2 []float32 // FFN scratch, [ffn]

	Q []float32 // query, [this slice's Q shard width]
	K []float32 // key, [this slice's KV shard width]
	V []float32 // value, [this slice's KV shard width]

	// KCache/VCache are [layers][maxSeq][kvHidden] flattened to
	// layers*maxSeq*kvHidden, persisting across positions within one
	// request (§3: "kvCache: ... persists across positions").
	KCache []float32
	VCache []float32

	Logits []float32 // [vocab], root only (workers never need this)

	// AttnScores is per-head scratch for the attention kernel, sized
	// [nHeads][maxSeq] so the kernel never allocates (§5).
	AttnScores [][]float32

	MaxSeqLen int
	KVHidden  int // this slice's shard width of the KV hidden dimension
}

// New allocates a State sized for spec's dimensions on this slice.
// qShard/kvShard/ffnShard are this slice's already-sharded widths
// (computed by the caller, since the caller knows which named weight's
// shard a given buffer backs); nHeadsShard is the number of query heads
// this slice owns.
func New(spec *model.Spec, qShard, kvShard, ffnShard, nHeadsShard int) *State {
	s := &State{
		X:         make([]float32, spec.HiddenDim),
		Xb:        make([]float32, spec.HiddenDim),
		Xb2:       make([]float32, spec.HiddenDim),
		Hb:        make([]float32, ffnShard),
		Hb2:       make([]float32, ffnShard),
		Q:         make([]float32, qShard),
		K:         make([]float32, kvShard),
		V:         make([]float32, kvShard),
		KCache:    make([]float32, spec.NLayers*spec.MaxSeqLen*kvShard),
		VCache:    make([]float32, spec.NLayers*spec.MaxSeqLen*kvShard),
		Logits:    make([]float32, spec.VocabSize),
		MaxSeqLen: spec.MaxSeqLen,
		KVHidden:  kvShard,
	}
	s.AttnScores = make([][]float32, nHeadsShard)
	for i := range s.AttnScores {
		s.AttnScores[i] = make([]float32, spec.MaxSeqLen)
	}
	return s
}

// KLayer returns this slice's K-cache window for layer l: the flat
// [maxSeq][kvHidden] region the attention kernel reads from and the
// KV-write op writes into.
func (s *State) KLayer(l int) []float32 {
	size := s.MaxSeqLen * s.KVHidden
	return s.KCache[l*size : (l+1)*size]
}

// VLayer is KLayer's V-cache counterpart.
func (s *State) VLayer(l int) []float32 {
	size := s.MaxSeqLen * s.KVHidden
	return s.VCache[l*size : (l+1)*size]
}

// WriteKV stores this step's K/V activations for layer l at position
// pos into the KV cache (§4.4 step 4: "KV-cache write (LOCAL; each
// slice keeps its K/V shards)").
func (s *State) WriteKV(l, pos int, k, v []float32) {
	kLayer := s.KLayer(l)
	vLayer := s.VLayer(l)
	copy(kLayer[pos*s.KVHidden:(pos+1)*s.KVHidden], k)
	copy(vLayer[pos*s.KVHidden:(pos+1)*s.KVHidden], v)
}

// Reset zeroes every buffer except AttnScores, matching §3's lifecycle
// rule ("state ... zeroed per request") and the RESET frame's effect on
// a worker. AttnScores is not cleared; the attention kernel writes
// every entry it reads before reading it.
func (s *State) Reset() {
	zero(s.X)
	zero(s.Xb)
	zero(s.Xb2)
	zero(s.Hb)
	zero(s.Hb2)
	zero(s.Q)
	zero(s.K)
	zero(s.V)
	zero(s.KCache)
	zero(s.VCache)
	zero(s.Logits)
}

func zero(x []float32) {
	for i := range x {
		x[i] = 0
	}
}
