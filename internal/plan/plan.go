// Package plan builds the per-architecture, ordered execution plan
// (§4.4): a list of tagged ops where each op is SHARDED (every slice
// executes on its own shard of the weights, root concatenates) or
// REDUCE (every slice computes a partial output, root sums
// element-wise). Every op in the plan is also the unit of network
// traffic: internal/driver assigns each op's ID as the transport op_id
// (§4.5), and internal/transport carries exactly one PLAN_STEP/
// PLAN_RESULT round trip per op.
//
// A naive per-kernel plan would list QKV, rotary, KV-write, attention
// and out-proj as five separate ops, but rotary/KV-write/attention are
// LOCAL — every slice already has everything it needs to run them
// without seeing another slice's data — so collapsing them into the
// surrounding SHARDED/REDUCE op costs nothing and saves four round
// trips per layer. The plan below reflects that: one attention op and
// one FFN op per layer, both REDUCE, plus a final SHARDED LM-head op.
package plan

import "github.com/KMouratidis/distributed-llama/internal/model"

// Role tags how an op's output is assembled across slices (§4.4).
type Role int

const (
	// Sharded: every slice executes on its own shard of the weights;
	// outputs concatenate.
	Sharded Role = iota
	// Reduce: every slice computes a partial output; the root sums
	// element-wise across slices.
	Reduce
)

func (r Role) String() string {
	switch r {
	case Sharded:
		return "SHARDED"
	default:
		return "REDUCE"
	}
}

// Kind names which sub-layer an op covers.
type Kind int

const (
	KindAttention Kind = iota
	KindFFN
	KindLMHead
)

func (k Kind) String() string {
	switch k {
	case KindAttention:
		return "ATTENTION"
	case KindFFN:
		return "FFN"
	default:
		return "LM_HEAD"
	}
}

// Op is one entry in the plan: one network round trip tagged with its
// role and, for per-layer ops, which layer it belongs to. ID is a
// stable index into the whole-plan op list and doubles as the
// transport op_id (§4.5).
type Op struct {
	ID    uint32
	Kind  Kind
	Role  Role
	Layer int // -1 for the whole-model LM-head op
}

// Plan is the full ordered op list for one architecture and one
// transformer spec (§4.4).
type Plan struct {
	Arch model.Arch
	Ops  []Op
}

// Build constructs the plan for spec: two REDUCE ops per layer
// (attention sub-layer, FFN sub-layer) followed by one SHARDED LM-head
// op. Op IDs run 0..2*NLayers-1 for the per-layer ops and 2*NLayers for
// LM-head, matching AttnOpID/FFNOpID/LMHeadOpID below, which
// internal/driver calls instead of deriving op IDs itself. What
// differs per architecture is which
// kernel the FFN op dispatches to (dense vs MoE), decided by the
// driver from spec.IsMoE(), not by the plan.
func Build(spec *model.Spec) *Plan {
	p := &Plan{Arch: spec.Arch}
	for l := 0; l < spec.NLayers; l++ {
		p.Ops = append(p.Ops,
			Op{ID: uint32(l * 2), Kind: KindAttention, Role: Reduce, Layer: l},
			Op{ID: uint32(l*2 + 1), Kind: KindFFN, Role: Reduce, Layer: l},
		)
	}
	p.Ops = append(p.Ops, Op{ID: uint32(spec.NLayers * 2), Kind: KindLMHead, Role: Sharded, Layer: -1})
	return p
}

// AttnOpID and FFNOpID return layer l's op IDs; LMHeadOpID returns the
// final op's ID. internal/driver uses these instead of re-deriving the
// l*2/l*2+1 arithmetic at each call site.
func AttnOpID(l int) uint32   { return uint32(l * 2) }
func FFNOpID(l int) uint32    { return uint32(l*2 + 1) }
func LMHeadOpID(spec *model.Spec) uint32 { return uint32(spec.NLayers * 2) }
