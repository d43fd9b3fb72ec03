// Package generate implements the token generation loop (§4.8):
// prefill via teacher forcing over the prompt, then decode one
// sampled token at a time, watching for EOS and stop-word matches
// over a trailing window of emitted pieces.
package generate

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/KMouratidis/distributed-llama/internal/driver"
	"github.com/KMouratidis/distributed-llama/internal/sampler"
	"github.com/KMouratidis/distributed-llama/internal/tokenizer"
)

// safePieceWindow is how many trailing decoded pieces are kept
// concatenated for stop-word matching (§4.8: "a ring of at least 7
// trailing safe pieces" — long enough that no realistic stop phrase
// spans more pieces than this without having already matched on a
// shorter window).
const safePieceWindow = 7

// Request is one generation call's parameters (§6: maps directly onto
// the chat completion request fields that affect sampling and
// stopping).
type Request struct {
	PromptIDs   []int
	MaxTokens   int
	Temperature float32
	TopP        float32
	Seed        uint64
	Stop        []string
}

// Result is one generated token delivered to the caller, streaming or
// batched (§6).
type Result struct {
	TokenID  int
	Piece    string
	Finished bool
	Reason   string // "stop", "length", "eos"
}

// Embedder looks up the embedding row for a token id; the engine never
// touches weight storage directly (§4.6: embedding lookup is the
// driver's concern, but the caller owns which row to fetch since only
// it knows the vocabulary layout).
type Embedder func(tokenID int) []float32

// Engine ties the driver, sampler and tokenizer together into the
// generation loop.
type Engine struct {
	root  *driver.Root
	tok   *tokenizer.Tokenizer
	embed Embedder
	smp   *sampler.Sampler
}

// New builds a generation Engine that is reused across requests. Run
// sets seed, temperature and top-p once at the start of every call, so
// they stay fixed for that whole generation, matching §4.7's "settable
// only between token steps."
func New(root *driver.Root, tok *tokenizer.Tokenizer, embed Embedder, vocabSize int) *Engine {
	return &Engine{
		root:  root,
		tok:   tok,
		embed: embed,
		smp:   sampler.New(vocabSize, sampler.DefaultTemperature, sampler.DefaultTopP, 0),
	}
}

// Run drives one full generation: prefill the prompt via teacher
// forcing, then decode up to req.MaxTokens tokens, emitting each via
// emit. Run returns when generation finishes (EOS, stop word, length,
// or ctx cancellation) or on a driver error.
func (e *Engine) Run(ctx context.Context, req Request, emit func(Result) error) (runErr error) {
	if len(req.PromptIDs) == 0 {
		return fmt.Errorf("generate: empty prompt")
	}
	e.smp.SetTemperature(req.Temperature)
	e.smp.SetTopP(req.TopP)
	e.smp.SetSeed(req.Seed)

	if err := e.root.Reset(); err != nil {
		return fmt.Errorf("generate: reset: %w", err)
	}

	// §5 Cancellation / §8 S6: an aborted request leaves every worker
	// mid-op unless told otherwise — a clean client disconnect gets
	// RESET, anything else (a worker link failure, a decode error) gets
	// ERROR, both issued the moment the loop exits rather than waiting
	// for whatever request happens to arrive next.
	defer func() {
		if runErr == nil {
			return
		}
		if ctx.Err() != nil {
			_ = e.root.ResetCluster()
			return
		}
		e.root.ErrorCluster()
	}()

	pos := 0
	var logits []float32
	var err error

	for ; pos < len(req.PromptIDs)-1; pos++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		logits, err = e.root.Infer(pos, e.embed(req.PromptIDs[pos]))
		if err != nil {
			return fmt.Errorf("generate: prefill pos %d: %w", pos, err)
		}
	}

	window := newSafeWindow(req.Stop)
	nextToken := req.PromptIDs[len(req.PromptIDs)-1]

	// §4.8 step 2: pos never advances past min(nPromptTokens+max_tokens,
	// maxSeq) — the KV cache and attention scratch are sized for
	// maxSeq positions, so running past it is an out-of-bounds index,
	// not just a generation-length overrun.
	maxPos := len(req.PromptIDs) + req.MaxTokens
	if req.MaxTokens <= 0 {
		maxPos = e.root.MaxSeqLen()
	}
	if maxPos > e.root.MaxSeqLen() {
		maxPos = e.root.MaxSeqLen()
	}

	for generated := 0; (req.MaxTokens <= 0 || generated < req.MaxTokens) && pos < maxPos; generated++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		logits, err = e.root.Infer(pos, e.embed(nextToken))
		if err != nil {
			return fmt.Errorf("generate: decode pos %d: %w", pos, err)
		}
		pos++

		sampled := e.smp.Sample(logits)
		if sampled == e.tok.EOS() {
			return emit(Result{TokenID: sampled, Finished: true, Reason: "eos"})
		}

		piece, err := e.tok.Decode(sampled)
		if err != nil {
			return fmt.Errorf("generate: decode token %d: %w", sampled, err)
		}

		if isSafePiece(piece) && window.wouldCompleteStop(piece) {
			return emit(Result{Finished: true, Reason: "stop"})
		}
		window.push(piece)

		if err := emit(Result{TokenID: sampled, Piece: piece}); err != nil {
			return err
		}
		nextToken = sampled
	}

	return emit(Result{Finished: true, Reason: "length"})
}

// safeWindow holds the trailing safePieceWindow decoded pieces and the
// stop strings to watch for (§4.8). The stricter open-question
// resolution (see DESIGN.md) never emits the piece that would complete
// a stop match — generation ends one piece early rather than leaking
// part of the stop sequence into the output.
type safeWindow struct {
	pieces []string
	stops  []string
}

func newSafeWindow(stops []string) *safeWindow {
	return &safeWindow{
		pieces: make([]string, 0, safePieceWindow),
		stops:  stops,
	}
}

func (w *safeWindow) wouldCompleteStop(candidate string) bool {
	if len(w.stops) == 0 {
		return false
	}
	tail := strings.Join(w.pieces, "") + candidate
	for _, stop := range w.stops {
		if stop == "" {
			continue
		}
		if strings.Contains(tail, stop) {
			return true
		}
	}
	return false
}

func (w *safeWindow) push(piece string) {
	w.pieces = append(w.pieces, piece)
	if len(w.pieces) > safePieceWindow {
		w.pieces = w.pieces[1:]
	}
}

// isSafePiece reports whether piece is printable and thus eligible for
// stop-word matching (§4.8, GLOSSARY: "safe piece"). A byte-fallback
// token decoded on its own, or one half of a multi-byte codepoint split
// across two tokens, renders as invalid UTF-8 or a control byte — never
// safe to scan for a stop string, matching the original's
// isSafePiece() gate. An unsafe piece is still emitted to the caller
// and still joins the window for later concatenation; only the
// stop-word check itself is skipped for it.
func isSafePiece(piece string) bool {
	if !utf8.ValidString(piece) {
		return false
	}
	for _, r := range piece {
		if r == utf8.RuneError {
			return false
		}
		if r < 0x20 && r != '\n' && r != '\t' {
			return false
		}
	}
	return true
}
