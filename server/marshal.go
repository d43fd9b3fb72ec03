package server

import (
	"encoding/json"
	"log/slog"
)

// mustMarshal serializes v for an SSE data line. A marshal failure
// here means a response type is broken, not a user-facing condition,
// so it logs and falls back to an empty object rather than panicking
// mid-stream.
func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal SSE chunk failed", "error", err)
		return []byte("{}")
	}
	return b
}
