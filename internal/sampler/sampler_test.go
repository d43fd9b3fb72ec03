package sampler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSampleArgmaxWhenTemperatureZero(t *testing.T) {
	s := New(4, 0, 0.9, 1)
	logits := []float32{0.1, 5.0, -2.0, 3.0}
	require.Equal(t, 1, s.Sample(logits))
}

func TestSampleDeterministicForSameSeed(t *testing.T) {
	logits := []float32{1, 2, 3, 4, 5}
	a := New(5, 0.8, 0.9, 42)
	b := New(5, 0.8, 0.9, 42)
	for i := 0; i < 20; i++ {
		require.Equal(t, a.Sample(logits), b.Sample(logits))
	}
}

func TestSampleOnlyFromTopP(t *testing.T) {
	s := New(4, 1.0, 0.0, 7)
	logits := []float32{0, 0, 0, 100}
	for i := 0; i < 10; i++ {
		require.Equal(t, 3, s.Sample(logits))
	}
}

func TestSetSeedReseedsDeterministically(t *testing.T) {
	logits := []float32{1, 2, 3}
	s := New(3, 0.8, 0.9, 1)
	first := s.Sample(logits)
	s.SetSeed(1)
	second := s.Sample(logits)
	require.Equal(t, first, second)
}
