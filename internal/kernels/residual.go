package kernels

import "github.com/KMouratidis/distributed-llama/internal/threadpool"

// ResidualAdd performs the in-place F32 add dst += x (§4.2), split
// across threads using the shared §4.3 contract.
func ResidualAdd(dst, x []float32, threads, idx int) {
	start, end := threadpool.Split(len(dst), threads, idx)
	for i := start; i < end; i++ {
		dst[i] += x[i]
	}
}
