package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/KMouratidis/distributed-llama/internal/logutil"
)

// OpHandler executes one op on this worker's shard of the weights and
// returns the partial result (§4.6: "workers never see each other").
// The activation is always F32: DecodePlanStep does the Q8_0 dequant
// before the handler ever runs. pos is the sequence position this op
// applies to.
type OpHandler func(opID uint32, pos int, activation []float32) ([]float32, error)

// ResetHandler clears this worker's per-request state (KV cache).
type ResetHandler func()

// ServeWorker accepts exactly one root connection on ln and services
// it until the connection closes or a protocol error occurs, then
// returns. Non-goals (§1) exclude dynamic batching and fault-tolerant
// recovery, so a worker serves one root for its whole lifetime — a
// second accept is a restart, not a reconnect.
func ServeWorker(ln net.Listener, handle OpHandler, reset ResetHandler) error {
	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("transport: accept root connection: %w", err)
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		tag, payload, err := ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("transport: worker read loop: %w", err)
		}

		switch tag {
		case TagPlanStep:
			opID, pos, activation, err := DecodePlanStep(payload)
			if err != nil {
				return err
			}
			logutil.Trace(context.Background(), "worker received PLAN_STEP", "op_id", opID, "pos", pos, "n", len(activation))

			shard, err := handle(opID, int(pos), activation)
			if err != nil {
				slog.Error("op handler failed", "op_id", opID, "error", err)
				_ = WriteFrame(w, TagError, EncodeError(1))
				_ = w.Flush()
				return err
			}
			if err := WriteFrame(w, TagPlanResult, EncodePlanResult(opID, shard)); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("transport: flush PLAN_RESULT: %w", err)
			}

		case TagReset:
			reset()

		case TagError:
			code, _ := DecodeError(payload)
			slog.Warn("root aborted request", "code", code)
			reset()

		default:
			return fmt.Errorf("transport: unexpected tag %s from root", tag)
		}
	}
}
