package transport

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/KMouratidis/distributed-llama/internal/quant"
)

// Encoding tags how an activation vector is packed inside a PLAN_STEP
// payload (§4.5: "quantized to Q8_0 when the op's input type says
// so").
type Encoding uint8

const (
	EncodingF32 Encoding = 0
	EncodingQ80 Encoding = 1
)

// EncodePlanStep builds a PLAN_STEP payload: {u32 op_id, u32 pos, u8
// encoding, u32 n, activation bytes}. pos is the sequence position the
// op applies to (rotary and KV-cache indexing both need it); n is the
// number of logical f32 elements the activation represents, regardless
// of encoding.
func EncodePlanStep(opID uint32, pos uint32, enc Encoding, n int, raw []byte) []byte {
	buf := make([]byte, 4+4+1+4+len(raw))
	binary.LittleEndian.PutUint32(buf[0:4], opID)
	binary.LittleEndian.PutUint32(buf[4:8], pos)
	buf[8] = byte(enc)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(n))
	copy(buf[13:], raw)
	return buf
}

// DecodePlanStep parses a PLAN_STEP payload back into an activation
// vector, dequantizing if it was shipped as Q8_0.
func DecodePlanStep(payload []byte) (opID uint32, pos uint32, activation []float32, err error) {
	if len(payload) < 13 {
		return 0, 0, nil, fmt.Errorf("transport: PLAN_STEP payload too short (%d bytes)", len(payload))
	}
	opID = binary.LittleEndian.Uint32(payload[0:4])
	pos = binary.LittleEndian.Uint32(payload[4:8])
	enc := Encoding(payload[8])
	n := int(binary.LittleEndian.Uint32(payload[9:13]))
	raw := payload[13:]

	switch enc {
	case EncodingF32:
		if len(raw) != n*4 {
			return 0, 0, nil, fmt.Errorf("transport: PLAN_STEP F32 payload length mismatch: got %d want %d", len(raw), n*4)
		}
		activation = make([]float32, n)
		for i := range activation {
			activation[i] = float32FromBits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case EncodingQ80:
		blocks := quant.DecodeQ80(raw)
		activation = make([]float32, n)
		quant.DequantizeQ80(blocks, activation, n, 1, 0)
	default:
		return 0, 0, nil, fmt.Errorf("transport: unknown PLAN_STEP encoding %d", enc)
	}
	return opID, pos, activation, nil
}

// EncodePlanResult builds a PLAN_RESULT payload: {u32 op_id, u32 n,
// f32 shard[n]} (§4.5 — results are always shipped as plain F32).
func EncodePlanResult(opID uint32, shard []float32) []byte {
	buf := make([]byte, 4+4+len(shard)*4)
	binary.LittleEndian.PutUint32(buf[0:4], opID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(shard)))
	for i, v := range shard {
		binary.LittleEndian.PutUint32(buf[8+i*4:], float32Bits(v))
	}
	return buf
}

// DecodePlanResult parses a PLAN_RESULT payload.
func DecodePlanResult(payload []byte) (opID uint32, shard []float32, err error) {
	if len(payload) < 8 {
		return 0, nil, fmt.Errorf("transport: PLAN_RESULT payload too short (%d bytes)", len(payload))
	}
	opID = binary.LittleEndian.Uint32(payload[0:4])
	n := int(binary.LittleEndian.Uint32(payload[4:8]))
	if len(payload) != 8+n*4 {
		return 0, nil, fmt.Errorf("transport: PLAN_RESULT payload length mismatch: got %d want %d", len(payload), 8+n*4)
	}
	shard = make([]float32, n)
	for i := range shard {
		shard[i] = float32FromBits(binary.LittleEndian.Uint32(payload[8+i*4:]))
	}
	return opID, shard, nil
}

// EncodeError builds an ERROR payload: {u32 code}.
func EncodeError(code uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, code)
	return buf
}

// DecodeError parses an ERROR payload.
func DecodeError(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("transport: ERROR payload too short (%d bytes)", len(payload))
	}
	return binary.LittleEndian.Uint32(payload[0:4]), nil
}

func float32Bits(v float32) uint32 {
	return math.Float32bits(v)
}

func float32FromBits(b uint32) float32 {
	return math.Float32frombits(b)
}
