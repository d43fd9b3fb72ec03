package driver

import (
	"fmt"

	"github.com/KMouratidis/distributed-llama/internal/model"
	"github.com/KMouratidis/distributed-llama/internal/plan"
	"github.com/KMouratidis/distributed-llama/internal/threadpool"
)

// Worker is a non-root slice's inference driver (§4.6: "workers never
// see each other; they only compute their shard and reply"). It
// implements transport.OpHandler via Handle.
type Worker struct {
	spec  *model.Spec
	shard *Shard

	attnLayer map[uint32]int
	ffnLayer  map[uint32]int
	lmOpID    uint32
}

// NewWorker builds the worker driver for spec against weights (this
// worker's slice shard, sliceIndex >= 1), running local kernels over
// pool.
func NewWorker(spec *model.Spec, weights *model.Weights, sliceIndex int, pool *threadpool.Pool) *Worker {
	w := &Worker{
		spec:      spec,
		shard:     NewShard(spec, weights, sliceIndex, pool),
		attnLayer: make(map[uint32]int, spec.NLayers),
		ffnLayer:  make(map[uint32]int, spec.NLayers),
		lmOpID:    plan.LMHeadOpID(spec),
	}
	for _, op := range plan.Build(spec).Ops {
		switch op.Kind {
		case plan.KindAttention:
			w.attnLayer[op.ID] = op.Layer
		case plan.KindFFN:
			w.ffnLayer[op.ID] = op.Layer
		}
	}
	return w
}

// Handle dispatches one PLAN_STEP by op_id to this worker's shard
// executor and returns its partial/shard result. Matches
// transport.OpHandler.
func (w *Worker) Handle(opID uint32, pos int, activation []float32) ([]float32, error) {
	if layer, ok := w.attnLayer[opID]; ok {
		return w.shard.AttnPartial(layer, pos, activation), nil
	}
	if layer, ok := w.ffnLayer[opID]; ok {
		return w.shard.FFNPartial(layer, activation), nil
	}
	if opID == w.lmOpID {
		return w.shard.LMHeadShard(activation), nil
	}
	return nil, fmt.Errorf("driver: worker received unknown op_id %d", opID)
}

// HandleReset clears this worker's KV cache and scratch state. Matches
// transport.ResetHandler.
func (w *Worker) HandleReset() {
	w.shard.Reset()
}
