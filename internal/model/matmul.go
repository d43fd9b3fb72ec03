package model

import (
	"fmt"

	"github.com/KMouratidis/distributed-llama/internal/kernels"
	"github.com/KMouratidis/distributed-llama/internal/quant"
)

func matmulDispatch(out []float32, t *Tensor, x []float32, threads, idx int) {
	switch t.Type {
	case quant.FQ80:
		kernels.MatmulQ80F32(out, t.Q80, t.Rows, t.Cols, x, threads, idx)
	case quant.FQ40:
		kernels.MatmulQ40F32(out, t.Q40, t.Rows, t.Cols, x, threads, idx)
	case quant.F32:
		kernels.MatmulF32(out, t.F32, t.Rows, t.Cols, x, threads, idx)
	default:
		panic(fmt.Sprintf("model: unsupported tensor type %s for matmul", t.Type))
	}
}
