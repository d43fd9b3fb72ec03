package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KMouratidis/distributed-llama/internal/model"
)

func TestBuildProducesTwoReduceOpsPerLayerPlusShardedLMHead(t *testing.T) {
	spec := &model.Spec{NLayers: 3}
	p := Build(spec)
	require.Len(t, p.Ops, 3*2+1)

	for l := 0; l < spec.NLayers; l++ {
		attn := p.Ops[l*2]
		require.Equal(t, AttnOpID(l), attn.ID)
		require.Equal(t, KindAttention, attn.Kind)
		require.Equal(t, Reduce, attn.Role)
		require.Equal(t, l, attn.Layer)

		ffn := p.Ops[l*2+1]
		require.Equal(t, FFNOpID(l), ffn.ID)
		require.Equal(t, KindFFN, ffn.Kind)
		require.Equal(t, Reduce, ffn.Role)
	}

	lmHead := p.Ops[len(p.Ops)-1]
	require.Equal(t, LMHeadOpID(spec), lmHead.ID)
	require.Equal(t, KindLMHead, lmHead.Kind)
	require.Equal(t, Sharded, lmHead.Role)
	require.Equal(t, -1, lmHead.Layer)
}
