// Package kernels implements the tensor kernels of §4.2: matmul,
// RMS-norm, rotary embedding, attention, the SiLU-gated FFN, the MoE
// router, and the residual add, over quantized or F32 operands. The
// matmul, rotary, attention, SiLU-gate and residual kernels take a
// (threads, idx) pair for internal/threadpool; RMS-norm, softmax and the
// MoE router run on the calling goroutine.
package kernels

import (
	"github.com/KMouratidis/distributed-llama/internal/quant"
	"github.com/KMouratidis/distributed-llama/internal/threadpool"
)

// MatmulQ80F32 computes out[d] = sum_i w[d,i] * x[i] where w is a
// row-major Q8_0 weight matrix (wRows x wCols) and x is F32 (§4.2:
// "Matmul ... with w quantized (Q8_0 or Q4_0) and x either F32 or
// Q8_0"). Rows of w are partitioned across threads.
func MatmulQ80F32(out []float32, w []quant.BlockQ80, wRows, wCols int, x []float32, threads, idx int) {
	blocksPerRow := quant.NumBlocks(wCols)
	start, end := threadpool.Split(wRows, threads, idx)

	for d := start; d < end; d++ {
		row := w[d*blocksPerRow : (d+1)*blocksPerRow]
		var sum float32
		for bi, b := range row {
			xb := x[bi*quant.BlockSize : (bi+1)*quant.BlockSize]
			var blockSum float32
			for j, q := range b.QS {
				blockSum += float32(q) * xb[j]
			}
			sum += blockSum * b.D
		}
		out[d] = sum
	}
}

// MatmulQ80Q80 is MatmulQ80F32 with the activation already quantized to
// Q8_0 (§4.2: "For Q8_0×Q8_0, the dot product is an integer reduction
// per block multiplied by the product of block scales, then summed
// across blocks in F32").
func MatmulQ80Q80(out []float32, w []quant.BlockQ80, wRows, wCols int, xq []quant.BlockQ80, threads, idx int) {
	blocksPerRow := quant.NumBlocks(wCols)
	start, end := threadpool.Split(wRows, threads, idx)

	for d := start; d < end; d++ {
		row := w[d*blocksPerRow : (d+1)*blocksPerRow]
		var sum float32
		for bi, b := range row {
			xb := &xq[bi]
			var intSum int32
			for j := 0; j < quant.BlockSize; j++ {
				intSum += int32(b.QS[j]) * int32(xb.QS[j])
			}
			sum += float32(intSum) * b.D * xb.D
		}
		out[d] = sum
	}
}

// MatmulQ40F32 is MatmulQ80F32 for Q4_0-packed weights.
func MatmulQ40F32(out []float32, w []quant.BlockQ40, wRows, wCols int, x []float32, threads, idx int) {
	blocksPerRow := quant.NumBlocks(wCols)
	half := quant.BlockSize / 2
	start, end := threadpool.Split(wRows, threads, idx)

	for d := start; d < end; d++ {
		row := w[d*blocksPerRow : (d+1)*blocksPerRow]
		var sum float32
		for bi, b := range row {
			xb := x[bi*quant.BlockSize : (bi+1)*quant.BlockSize]
			var blockSum float32
			for j := 0; j < half; j++ {
				c0 := float32(b.QS[j]&0x0F) - 8
				c1 := float32(b.QS[j]>>4) - 8
				blockSum += c0*xb[j] + c1*xb[j+half]
			}
			sum += blockSum * b.D
		}
		out[d] = sum
	}
}

// MatmulF32 is the unquantized reference path: w is a row-major F32
// matrix. Used for every weight tensor stored as F32 (a weight file
// whose header says F32 weights).
func MatmulF32(out []float32, w []float32, wRows, wCols int, x []float32, threads, idx int) {
	start, end := threadpool.Split(wRows, threads, idx)
	for d := start; d < end; d++ {
		row := w[d*wCols : (d+1)*wCols]
		var sum float32
		for i, v := range row {
			sum += v * x[i]
		}
		out[d] = sum
	}
}
