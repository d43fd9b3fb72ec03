package weights

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KMouratidis/distributed-llama/internal/quant"
)

// buildHeader encodes a minimal header matching format.go's layout,
// for a tiny dense Llama2, F32-weighted model with the given dimensions.
func buildHeader(hidden, heads, kvHeads, headDim, ffn, vocab, layers int) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], 1) // Llama2
	binary.LittleEndian.PutUint32(buf[12:16], uint32(layers))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(hidden))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(heads))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(kvHeads))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(headDim))
	binary.LittleEndian.PutUint32(buf[32:36], uint32(ffn))
	binary.LittleEndian.PutUint32(buf[36:40], 0)
	binary.LittleEndian.PutUint32(buf[40:44], 0)
	binary.LittleEndian.PutUint32(buf[44:48], uint32(vocab))
	binary.LittleEndian.PutUint32(buf[48:52], 128)
	buf[52] = byte(quant.F32)
	buf[53] = byte(quant.F32)
	binary.LittleEndian.PutUint32(buf[54:58], math.Float32bits(10000))
	binary.LittleEndian.PutUint32(buf[58:62], math.Float32bits(1e-5))
	return buf
}

func appendF32(buf []byte, n int, v float32) []byte {
	raw := make([]byte, n*4)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return append(buf, raw...)
}

func TestLoadSingleSliceF32RoundTrip(t *testing.T) {
	const hidden, heads, kvHeads, headDim, ffn, vocab, layers = 8, 2, 2, 4, 16, 10, 1

	data := buildHeader(hidden, heads, kvHeads, headDim, ffn, vocab, layers)
	data = appendF32(data, vocab*hidden, 0.1) // TokenEmbedding

	data = appendF32(data, hidden, 1) // AttnNormW
	data = appendF32(data, heads*headDim*hidden, 0.01)   // WQ
	data = appendF32(data, kvHeads*headDim*hidden, 0.01) // WK
	data = appendF32(data, kvHeads*headDim*hidden, 0.01) // WV
	data = appendF32(data, hidden*heads*headDim, 0.01)   // WO
	data = appendF32(data, hidden, 1)                    // FFNNormW
	data = appendF32(data, ffn*hidden, 0.01)              // WGate
	data = appendF32(data, ffn*hidden, 0.01)              // WUp
	data = appendF32(data, hidden*ffn, 0.01)              // WDown

	data = appendF32(data, hidden, 1)          // FinalNormW
	data = appendF32(data, vocab*hidden, 0.01) // LMHead

	spec, w, err := Load(data, 0, 1)
	require.NoError(t, err)
	require.Equal(t, layers, spec.NLayers)
	require.Equal(t, hidden, spec.HiddenDim)
	require.Len(t, w.TokenEmbedding, vocab*hidden)
	require.Len(t, w.Layers, layers)
	require.Equal(t, heads*headDim, w.Layers[0].WQ.Rows)
	require.Equal(t, hidden, w.Layers[0].WQ.Cols)
	require.Equal(t, hidden, w.Layers[0].WO.Rows)
	require.Equal(t, heads*headDim, w.Layers[0].WO.Cols)
	require.Equal(t, vocab, w.LMHead.Rows)
}

func TestLoadTwoSliceRowShardIsHalfWidth(t *testing.T) {
	const hidden, heads, kvHeads, headDim, ffn, vocab, layers = 8, 4, 4, 4, 16, 10, 1

	data := buildHeader(hidden, heads, kvHeads, headDim, ffn, vocab, layers)
	data = appendF32(data, vocab*hidden, 0.1)
	data = appendF32(data, hidden, 1)
	data = appendF32(data, heads*headDim*hidden, 0.01)
	data = appendF32(data, kvHeads*headDim*hidden, 0.01)
	data = appendF32(data, kvHeads*headDim*hidden, 0.01)
	data = appendF32(data, hidden*heads*headDim, 0.01)
	data = appendF32(data, hidden, 1)
	data = appendF32(data, ffn*hidden, 0.01)
	data = appendF32(data, ffn*hidden, 0.01)
	data = appendF32(data, hidden*ffn, 0.01)
	data = appendF32(data, hidden, 1)
	data = appendF32(data, vocab*hidden, 0.01)

	spec, w, err := Load(data, 1, 2)
	require.NoError(t, err)
	require.Equal(t, (heads/2)*headDim, w.Layers[0].WQ.Rows)
	require.Equal(t, (heads/2)*headDim, w.Layers[0].WO.Cols)
	require.Nil(t, w.TokenEmbedding)
	require.Equal(t, vocab/2, w.LMHead.Rows)
	_ = spec
}
