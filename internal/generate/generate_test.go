package generate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeWindowDetectsStopAcrossPieces(t *testing.T) {
	w := newSafeWindow([]string{"STOP"})
	w.push("pre")
	w.push("fix-S")
	require.True(t, w.wouldCompleteStop("TOP-suffix"))
}

func TestSafeWindowNoMatchWithoutStopWords(t *testing.T) {
	w := newSafeWindow(nil)
	w.push("anything")
	require.False(t, w.wouldCompleteStop("STOP"))
}

func TestSafeWindowEvictsOldestPiece(t *testing.T) {
	w := newSafeWindow([]string{"ab"})
	w.push("a")
	for i := 0; i < safePieceWindow; i++ {
		w.push("x")
	}
	// "a" has aged out of the window, so a trailing "b" should not match.
	require.False(t, w.wouldCompleteStop("b"))
}

func TestIsSafePieceAcceptsPrintableText(t *testing.T) {
	require.True(t, isSafePiece("hello"))
	require.True(t, isSafePiece(" world\n"))
}

func TestIsSafePieceRejectsBrokenUTF8(t *testing.T) {
	// A lone continuation byte, as a byte-fallback token emits on its
	// own before the rest of a multi-byte codepoint has been decoded.
	require.False(t, isSafePiece(string([]byte{0x80})))
}

func TestIsSafePieceRejectsControlBytes(t *testing.T) {
	require.False(t, isSafePiece("\x01"))
}
