package quant

import (
	"sync"

	"github.com/x448/float16"
)

// F32ToF16 converts one float32 to its nearest IEEE-754 half-precision
// bit pattern, bit-identical to the reference x448/float16 codec the
// teacher depends on (§4.1: "f16<->f32: bitwise conversion per IEEE
// 754").
func F32ToF16(v float32) uint16 {
	return uint16(float16.Fromfloat32(v))
}

// F16ToF32 converts one half-precision bit pattern back to float32.
func F16ToF32(bits uint16) float32 {
	return float16.Float16(bits).Float32()
}

var (
	f16LookupOnce  sync.Once
	f16LookupTable [65536]float32
)

// f16ToF32Lookup builds the 65,536-entry table described in §4.1
// ("Optionally a 65,536-entry lookup table is pre-computed once at
// startup for F16->F32") and in original_source's initQuants(). Built
// lazily on first use rather than at package init so a process that
// never touches F16 weights never pays for it.
func f16ToF32Lookup() *[65536]float32 {
	f16LookupOnce.Do(func() {
		for i := 0; i < 65536; i++ {
			f16LookupTable[i] = F16ToF32(uint16(i))
		}
	})
	return &f16LookupTable
}

// F16ToF32Table is F16ToF32 via the precomputed table. Used on the
// decode hot path (dequantizing a weight tensor touches every block's
// scale); must agree byte-for-byte with F16ToF32, which
// TestF16LookupAgreesWithBitwise in f16_test.go checks exhaustively.
func F16ToF32Table(bits uint16) float32 {
	return f16ToF32Lookup()[bits]
}
