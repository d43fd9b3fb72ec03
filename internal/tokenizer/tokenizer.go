// Package tokenizer implements a byte-level BPE tokenizer (§6, thin
// wrapper per the scope notes, but load-bearing: it's what turns chat
// template text into the token ids the driver consumes, and decodes
// sampled ids back into text for the generation loop's stop-word
// matching).
package tokenizer

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// mergeKey is the key of the merge-rank table: a pair of adjacent token
// strings. The rank at which they merge (lower merges first) is the
// value stored under it.
type mergeKey struct {
	left, right string
}

// Tokenizer is an immutable byte-level BPE vocabulary plus its merge
// table (§6: token ids are whatever the model's vocabulary defines;
// the tokenizer file on disk is out of scope to parse in full, but the
// in-memory structure it builds is not).
type Tokenizer struct {
	tokenToID map[string]int
	idToToken []string
	merges    *orderedmap.OrderedMap[mergeKey, int]
	pretoken  *regexp2.Regexp

	eosID   int
	bosID   int
	specialIDs map[string]int
}

// gpt2PretokenPattern is the standard GPT-2/Llama byte-level
// pretokenization regex: contractions, runs of letters, runs of
// digits, runs of punctuation/symbols, and whitespace.
const gpt2PretokenPattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

// New builds a Tokenizer from an explicit vocabulary and ordered merge
// list (vocab[i] is the token string for id i; merges is applied in
// the order given, lowest rank first). specialTokens maps reserved
// strings (e.g. "<|eot_id|>") to their ids.
func New(vocab []string, merges [][2]string, specialTokens map[string]int) (*Tokenizer, error) {
	t := &Tokenizer{
		tokenToID:  make(map[string]int, len(vocab)),
		idToToken:  vocab,
		merges:     orderedmap.New[mergeKey, int](),
		specialIDs: specialTokens,
	}
	for id, tok := range vocab {
		t.tokenToID[tok] = id
	}
	for rank, pair := range merges {
		t.merges.Set(mergeKey{pair[0], pair[1]}, rank)
	}

	re, err := regexp2.Compile(gpt2PretokenPattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: compile pretokenizer: %w", err)
	}
	t.pretoken = re

	if id, ok := specialTokens["<|eot_id|>"]; ok {
		t.eosID = id
	} else if id, ok := specialTokens["</s>"]; ok {
		t.eosID = id
	}
	if id, ok := specialTokens["<|begin_of_text|>"]; ok {
		t.bosID = id
	}
	return t, nil
}

// EOS returns the end-of-sequence token id (§4.8: "eos detection").
func (t *Tokenizer) EOS() int { return t.eosID }

// BOS returns the beginning-of-sequence token id.
func (t *Tokenizer) BOS() int { return t.bosID }

// SpecialID returns the id for a reserved token string (e.g. a chat
// template role marker), and whether it exists.
func (t *Tokenizer) SpecialID(s string) (int, bool) {
	id, ok := t.specialIDs[s]
	return id, ok
}

// VocabSize returns the number of ids in the vocabulary.
func (t *Tokenizer) VocabSize() int { return len(t.idToToken) }

// Encode tokenizes text into ids, applying BPE merges within each
// pretoken run independently (§6).
func (t *Tokenizer) Encode(text string) ([]int, error) {
	m, err := t.pretoken.FindStringMatch(text)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: pretokenize: %w", err)
	}

	var ids []int
	for m != nil {
		pieces := t.bpe(m.String())
		for _, p := range pieces {
			id, ok := t.tokenToID[p]
			if !ok {
				return nil, fmt.Errorf("tokenizer: unknown piece %q", p)
			}
			ids = append(ids, id)
		}
		m, err = t.pretoken.FindNextMatch(m)
		if err != nil {
			return nil, fmt.Errorf("tokenizer: pretokenize: %w", err)
		}
	}
	return ids, nil
}

// bpe runs the merge loop over one pretoken run, starting from
// individual UTF-8 characters and repeatedly merging the lowest-rank adjacent
// pair until no merge in the table applies.
func (t *Tokenizer) bpe(run string) []string {
	symbols := strings.Split(run, "")
	if len(symbols) <= 1 {
		return symbols
	}

	for {
		bestRank := -1
		bestIdx := -1
		for i := 0; i < len(symbols)-1; i++ {
			rank, ok := t.merges.Get(mergeKey{symbols[i], symbols[i+1]})
			if ok && (bestRank == -1 || rank < bestRank) {
				bestRank = rank
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			return symbols
		}
		merged := symbols[bestIdx] + symbols[bestIdx+1]
		next := make([]string, 0, len(symbols)-1)
		next = append(next, symbols[:bestIdx]...)
		next = append(next, merged)
		next = append(next, symbols[bestIdx+2:]...)
		symbols = next
	}
}

// Decode renders one token id back into its text piece (§4.8: the
// generation loop decodes each sampled id individually for streaming
// and stop-word matching).
func (t *Tokenizer) Decode(id int) (string, error) {
	if id < 0 || id >= len(t.idToToken) {
		return "", fmt.Errorf("tokenizer: token id %d out of range", id)
	}
	return t.idToToken[id], nil
}

// DecodeAll renders a full id sequence, concatenating pieces (used for
// the non-streaming chat completion response).
func (t *Tokenizer) DecodeAll(ids []int) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		piece, err := t.Decode(id)
		if err != nil {
			return "", err
		}
		sb.WriteString(piece)
	}
	return sb.String(), nil
}
