// Package sampler implements temperature + top-p token selection with a
// seedable RNG (§4.7).
package sampler

import (
	"math"
	"sort"
)

// Sampler holds the mutable sampling parameters for one request. Seed
// is settable at any point between tokens, never within a token step
// (§4.7).
type Sampler struct {
	vocabSize   int
	temperature float32
	topP        float32
	rng         xorshift64
	indexBuf    []int
	probBuf     []float32
}

// DefaultTemperature and DefaultTopP are §4.7's published defaults.
const (
	DefaultTemperature = 0.8
	DefaultTopP        = 0.9
)

// New builds a Sampler for a vocabulary of size vocabSize.
func New(vocabSize int, temperature, topP float32, seed uint64) *Sampler {
	return &Sampler{
		vocabSize:   vocabSize,
		temperature: temperature,
		topP:        topP,
		rng:         newXorshift64(seed),
		indexBuf:    make([]int, vocabSize),
		probBuf:     make([]float32, vocabSize),
	}
}

// SetTemperature updates the temperature for the next Sample call.
func (s *Sampler) SetTemperature(t float32) { s.temperature = t }

// SetTopP updates top-p for the next Sample call.
func (s *Sampler) SetTopP(p float32) { s.topP = p }

// SetSeed reseeds the RNG. Must only be called between token steps
// (§4.7).
func (s *Sampler) SetSeed(seed uint64) { s.rng = newXorshift64(seed) }

// Sample returns a token id from logits (§4.7): argmax if temperature
// <= 0, otherwise temperature-scaled softmax followed by top-p
// sampling via the seeded RNG.
func (s *Sampler) Sample(logits []float32) int {
	if s.temperature <= 0 {
		return argmax(logits)
	}

	n := len(logits)
	for i := 0; i < n; i++ {
		s.probBuf[i] = logits[i] / s.temperature
	}
	softmaxInPlace(s.probBuf[:n])

	for i := 0; i < n; i++ {
		s.indexBuf[i] = i
	}
	idx := s.indexBuf[:n]
	sort.Slice(idx, func(a, b int) bool {
		return s.probBuf[idx[a]] > s.probBuf[idx[b]]
	})

	var cum float32
	cut := n
	for i, j := range idx {
		cum += s.probBuf[j]
		if cum >= s.topP {
			cut = i + 1
			break
		}
	}
	top := idx[:cut]

	var total float32
	for _, j := range top {
		total += s.probBuf[j]
	}

	r := s.rng.Float32() * total
	var acc float32
	for _, j := range top {
		acc += s.probBuf[j]
		if r < acc {
			return j
		}
	}
	return top[len(top)-1]
}

func argmax(logits []float32) int {
	best := 0
	bestV := logits[0]
	for i, v := range logits[1:] {
		if v > bestV {
			bestV = v
			best = i + 1
		}
	}
	return best
}

func softmaxInPlace(x []float32) {
	max := x[0]
	for _, v := range x[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	for i, v := range x {
		e := float32(math.Exp(float64(v - max)))
		x[i] = e
		sum += float64(e)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}
