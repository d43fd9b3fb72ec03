package weights

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/KMouratidis/distributed-llama/internal/model"
	"github.com/KMouratidis/distributed-llama/internal/quant"
)

// reader walks the mmap'd file sequentially, tracking the current byte
// offset so every Read call advances past exactly what it consumed —
// the file has no per-tensor length prefixes, so reading out of order
// is a programming error, not a recoverable one.
type reader struct {
	data []byte
	off  int
}

func (r *reader) bytes(n int) []byte {
	if r.off+n > len(r.data) {
		panic(fmt.Sprintf("weights: read past end of file at offset %d (want %d bytes, have %d)", r.off, n, len(r.data)-r.off))
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) skip(n int) { r.bytes(n) }

// fullVector reads n contiguous F32 values (§3: normalization weights
// are never sharded).
func (r *reader) fullVector(n int) []float32 {
	raw := r.bytes(n * 4)
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// fullTensor reads a complete rows x cols tensor with no sharding.
// Load does not call it: TokenEmbedding and WRouter, both replicated in
// full, are read as plain F32 with fullVector.
func (r *reader) fullTensor(rows, cols int, typ quant.Type) model.Tensor {
	return r.rowRangeTensor(rows, cols, typ, 0, rows)
}

// rowShardTensor reads only this slice's contiguous row range out of a
// rows x cols tensor sharded along its outer (row) dimension (§3: "the
// tensor is split along its outer dimension into nSlices contiguous
// shards"). It still advances past the full tensor's byte length so
// the reader stays correctly positioned for the next field.
func (r *reader) rowShardTensor(rows, cols int, typ quant.Type, sliceIndex, nSlices int) model.Tensor {
	shardRows := rows / nSlices
	start := sliceIndex * shardRows
	return r.rowRangeTensor(rows, cols, typ, start, start+shardRows)
}

// rowRangeTensor reads rows [start,end) of a rows x cols tensor and
// advances the reader past every row of the tensor (0..rows), not just
// the range read, by skipping the rows before start and after end.
func (r *reader) rowRangeTensor(rows, cols int, typ quant.Type, start, end int) model.Tensor {
	switch typ {
	case quant.F32:
		r.skip(start * cols * 4)
		data := r.fullVector((end - start) * cols)
		r.skip((rows - end) * cols * 4)
		return model.Tensor{Type: typ, Rows: end - start, Cols: cols, F32: data}
	case quant.FQ80:
		blocksPerRow := quant.NumBlocks(cols)
		bpb := quant.BytesPerBlock(quant.FQ80)
		r.skip(start * blocksPerRow * bpb)
		raw := r.bytes((end - start) * blocksPerRow * bpb)
		r.skip((rows - end) * blocksPerRow * bpb)
		return model.Tensor{Type: typ, Rows: end - start, Cols: cols, Q80: quant.DecodeQ80(raw)}
	case quant.FQ40:
		blocksPerRow := quant.NumBlocks(cols)
		bpb := quant.BytesPerBlock(quant.FQ40)
		r.skip(start * blocksPerRow * bpb)
		raw := r.bytes((end - start) * blocksPerRow * bpb)
		r.skip((rows - end) * blocksPerRow * bpb)
		return model.Tensor{Type: typ, Rows: end - start, Cols: cols, Q40: quant.DecodeQ40(raw)}
	default:
		panic(fmt.Sprintf("weights: unsupported tensor type %s", typ))
	}
}

// colShardTensor reads only this slice's contiguous column-block range
// out of every row of a rows x cols tensor sharded along its inner
// (column) dimension (used for WO and WDown, whose REDUCE role needs
// each slice to hold a column slice of the full-width output
// projection, §3). Quantized columns shard in whole blocks, which
// §3's "every shardable dimension divides evenly by nSlices" guarantees
// lines up with BlockSize.
func (r *reader) colShardTensor(rows, cols int, typ quant.Type, sliceIndex, nSlices int) model.Tensor {
	switch typ {
	case quant.F32:
		shardCols := cols / nSlices
		start := sliceIndex * shardCols
		out := make([]float32, 0, rows*shardCols)
		for row := 0; row < rows; row++ {
			r.skip(start * 4)
			out = append(out, r.fullVector(shardCols)...)
			r.skip((cols - start - shardCols) * 4)
		}
		return model.Tensor{Type: typ, Rows: rows, Cols: shardCols, F32: out}
	case quant.FQ80:
		blocksPerRow := quant.NumBlocks(cols)
		shardBlocks := blocksPerRow / nSlices
		bpb := quant.BytesPerBlock(quant.FQ80)
		startBlock := sliceIndex * shardBlocks
		blocks := make([]quant.BlockQ80, 0, rows*shardBlocks)
		for row := 0; row < rows; row++ {
			r.skip(startBlock * bpb)
			raw := r.bytes(shardBlocks * bpb)
			blocks = append(blocks, quant.DecodeQ80(raw)...)
			r.skip((blocksPerRow - startBlock - shardBlocks) * bpb)
		}
		return model.Tensor{Type: typ, Rows: rows, Cols: shardBlocks * quant.BlockSize, Q80: blocks}
	case quant.FQ40:
		blocksPerRow := quant.NumBlocks(cols)
		shardBlocks := blocksPerRow / nSlices
		bpb := quant.BytesPerBlock(quant.FQ40)
		startBlock := sliceIndex * shardBlocks
		blocks := make([]quant.BlockQ40, 0, rows*shardBlocks)
		for row := 0; row < rows; row++ {
			r.skip(startBlock * bpb)
			raw := r.bytes(shardBlocks * bpb)
			blocks = append(blocks, quant.DecodeQ40(raw)...)
			r.skip((blocksPerRow - startBlock - shardBlocks) * bpb)
		}
		return model.Tensor{Type: typ, Rows: rows, Cols: shardBlocks * quant.BlockSize, Q40: blocks}
	default:
		panic(fmt.Sprintf("weights: unsupported tensor type %s", typ))
	}
}

// Load reads sliceIndex's shard of the weight file already mapped into
// data (via Mmap) and returns the transformer spec plus that slice's
// weights. sliceIndex 0 is root; 1..nSlices-1 are workers.
func Load(data []byte, sliceIndex, nSlices int) (*model.Spec, *model.Weights, error) {
	spec, off, err := DecodeHeader(data, nSlices)
	if err != nil {
		return nil, nil, err
	}
	if spec.NHeads%nSlices != 0 || spec.NKVHeads%nSlices != 0 || spec.FFNDim%nSlices != 0 || spec.VocabSize%nSlices != 0 {
		return nil, nil, fmt.Errorf("weights: spec dimensions not evenly divisible by nSlices=%d", nSlices)
	}

	r := &reader{data: data, off: off}
	w := &model.Weights{}

	embedRows := spec.VocabSize
	if sliceIndex == 0 {
		w.TokenEmbedding = r.fullVector(embedRows * spec.HiddenDim)
	} else {
		r.skip(embedRows * spec.HiddenDim * 4)
	}

	w.Layers = make([]model.LayerWeights, spec.NLayers)
	for l := 0; l < spec.NLayers; l++ {
		lw := &w.Layers[l]
		lw.AttnNormW = r.fullVector(spec.HiddenDim)

		qRows := spec.NHeads * spec.HeadDim
		kvRows := spec.NKVHeads * spec.HeadDim
		lw.WQ = r.rowShardTensor(qRows, spec.HiddenDim, spec.WeightType, sliceIndex, nSlices)
		lw.WK = r.rowShardTensor(kvRows, spec.HiddenDim, spec.WeightType, sliceIndex, nSlices)
		lw.WV = r.rowShardTensor(kvRows, spec.HiddenDim, spec.WeightType, sliceIndex, nSlices)
		lw.WO = r.colShardTensor(spec.HiddenDim, qRows, spec.WeightType, sliceIndex, nSlices)

		lw.FFNNormW = r.fullVector(spec.HiddenDim)

		if spec.IsMoE() {
			lw.WRouter = r.fullVector(spec.NExperts * spec.HiddenDim)
			lw.Experts = make([]model.ExpertWeights, spec.NExperts)
			for e := 0; e < spec.NExperts; e++ {
				lw.Experts[e].WGate = r.rowShardTensor(spec.FFNDim, spec.HiddenDim, spec.WeightType, sliceIndex, nSlices)
				lw.Experts[e].WUp = r.rowShardTensor(spec.FFNDim, spec.HiddenDim, spec.WeightType, sliceIndex, nSlices)
				lw.Experts[e].WDown = r.colShardTensor(spec.HiddenDim, spec.FFNDim, spec.WeightType, sliceIndex, nSlices)
			}
		} else {
			lw.WGate = r.rowShardTensor(spec.FFNDim, spec.HiddenDim, spec.WeightType, sliceIndex, nSlices)
			lw.WUp = r.rowShardTensor(spec.FFNDim, spec.HiddenDim, spec.WeightType, sliceIndex, nSlices)
			lw.WDown = r.colShardTensor(spec.HiddenDim, spec.FFNDim, spec.WeightType, sliceIndex, nSlices)
		}
	}

	w.FinalNormW = r.fullVector(spec.HiddenDim)
	w.LMHead = r.rowShardTensor(spec.VocabSize, spec.HiddenDim, spec.WeightType, sliceIndex, nSlices)

	return spec, w, nil
}
