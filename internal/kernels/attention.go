package kernels

import (
	"math"

	"github.com/KMouratidis/distributed-llama/internal/threadpool"
)

// Attention computes scaled dot-product causal attention over the
// current and all preceding KV-cache entries, one head at a time, and
// writes the weighted sum into out (§4.2). kCache/vCache are the flat
// [maxSeq][kvHidden] buffers for this layer and this slice's shard of
// heads; scores[h] is caller-owned scratch of length >= pos+1 for head
// h, avoiding any allocation inside the kernel (§5: kernels own no
// heap).
//
// nHeads is the number of query heads this slice owns; nKVHeads is the
// number of key/value heads (grouped-query attention when nKVHeads <
// nHeads — every group of nHeads/nKVHeads query heads shares one KV
// head).
func Attention(out, q, kCache, vCache []float32, scores [][]float32, pos, nHeads, nKVHeads, headDim, kvHidden int, threads, idx int) {
	groupSize := nHeads / nKVHeads
	scale := float32(1.0 / math.Sqrt(float64(headDim)))

	start, end := threadpool.Split(nHeads, threads, idx)
	for h := start; h < end; h++ {
		kvHead := h / groupSize
		query := q[h*headDim : (h+1)*headDim]
		row := scores[h][:pos+1]

		for p := 0; p <= pos; p++ {
			k := kCache[p*kvHidden+kvHead*headDim : p*kvHidden+(kvHead+1)*headDim]
			var dot float32
			for i := 0; i < headDim; i++ {
				dot += query[i] * k[i]
			}
			row[p] = dot * scale
		}

		Softmax(row)

		dst := out[h*headDim : (h+1)*headDim]
		for i := range dst {
			dst[i] = 0
		}
		for p := 0; p <= pos; p++ {
			w := row[p]
			v := vCache[p*kvHidden+kvHead*headDim : p*kvHidden+(kvHead+1)*headDim]
			for i := 0; i < headDim; i++ {
				dst[i] += w * v[i]
			}
		}
	}
}
