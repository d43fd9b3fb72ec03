package kernels

import (
	"github.com/emirpasic/gods/v2/queues/priorityqueue"
)

// expertScore pairs an expert index with its router score (MoERoute
// stores the softmax probability of the router logit in the logit
// field), ordered so the priority queue below pops the largest first.
type expertScore struct {
	idx   int
	logit float32
}

func expertScoreComparator(a, b expertScore) int {
	switch {
	case a.logit > b.logit:
		return -1
	case a.logit < b.logit:
		return 1
	default:
		return 0
	}
}

// SelectedExpert is one row of the MoE router's top-k result: an
// expert index and its renormalized gating weight.
type SelectedExpert struct {
	Index  int
	Weight float32
}

// MoERoute picks the topK highest-scoring experts from routerLogits by
// softmax, then renormalizes their weights to sum to 1 (§4.2: "MoE
// router: top-k expert selection by softmax of router logits; results
// combined by normalized gating weights"). The input is not mutated.
func MoERoute(routerLogits []float32, topK int) []SelectedExpert {
	probs := make([]float32, len(routerLogits))
	copy(probs, routerLogits)
	Softmax(probs)

	pq := priorityqueue.NewWith(expertScoreComparator)
	for i, p := range probs {
		pq.Enqueue(expertScore{idx: i, logit: p})
	}

	selected := make([]SelectedExpert, 0, topK)
	var total float32
	for i := 0; i < topK; i++ {
		es, ok := pq.Dequeue()
		if !ok {
			break
		}
		selected = append(selected, SelectedExpert{Index: es.idx, Weight: es.logit})
		total += es.logit
	}

	if total > 0 {
		for i := range selected {
			selected[i].Weight /= total
		}
	}
	return selected
}
