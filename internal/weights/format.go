// Package weights loads one slice's shard of a transformer's weights
// from the on-disk weight file (§3 Transformer weights, §6 CLI
// --weights-float-type). The file holds every tensor at full width;
// loading time is when row/column sharding actually happens, since
// §3's invariant that every shardable dimension divides evenly by
// nSlices makes it safe to slice directly out of the mmap'd bytes.
package weights

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/KMouratidis/distributed-llama/internal/model"
	"github.com/KMouratidis/distributed-llama/internal/quant"
)

// Magic identifies a valid weight file.
const Magic = 0x444c4c4d // "DLLM"

// FormatVersion is bumped whenever the on-disk layout below changes.
const FormatVersion = 1

// Header is the file's fixed-size preamble (§3 Transformer spec,
// serialized). Tensor data follows immediately after, in the fixed
// order Load reads it.
type Header struct {
	Magic   uint32
	Version uint32

	Arch uint32

	NLayers       uint32
	HiddenDim     uint32
	NHeads        uint32
	NKVHeads      uint32
	HeadDim       uint32
	FFNDim        uint32
	NExperts      uint32
	ExpertsPerTok uint32
	VocabSize     uint32
	MaxSeqLen     uint32

	WeightType uint8
	BufferType uint8

	RopeBase float32
	NormEps  float32
}

// headerSize is Header's encoded byte length: 3 leading u32 fields
// (magic, version, arch) + 10 u32 dimension fields + 2 type bytes +
// ropeBase + normEps.
const headerSize = 3*4 + 10*4 + 2 + 4 + 4

// DecodeHeader parses the fixed preamble and returns a model.Spec
// ready for plan.Build, plus the byte length of the header (where
// tensor data begins).
func DecodeHeader(data []byte, nSlices int) (*model.Spec, int, error) {
	if len(data) < headerSize {
		return nil, 0, fmt.Errorf("weights: file too short for header (%d bytes)", len(data))
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != Magic {
		return nil, 0, fmt.Errorf("weights: bad magic %#x", magic)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != FormatVersion {
		return nil, 0, fmt.Errorf("weights: unsupported format version %d", version)
	}

	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(data[off : off+4]) }

	spec := &model.Spec{
		Arch:          model.Arch(u32(8)),
		NLayers:       int(u32(12)),
		HiddenDim:     int(u32(16)),
		NHeads:        int(u32(20)),
		NKVHeads:      int(u32(24)),
		HeadDim:       int(u32(28)),
		FFNDim:        int(u32(32)),
		NExperts:      int(u32(36)),
		ExpertsPerTok: int(u32(40)),
		VocabSize:     int(u32(44)),
		MaxSeqLen:     int(u32(48)),
		WeightType:    quant.Type(data[52]),
		BufferType:    quant.Type(data[53]),
		RopeBase:      math.Float32frombits(u32(54)),
		NormEps:       math.Float32frombits(u32(58)),
		NSlices:       nSlices,
	}
	return spec, headerSize, nil
}
