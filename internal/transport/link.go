package transport

import (
	"bufio"
	"fmt"
	"net"
	"time"
)

// Link is the root's persistent connection to one worker (slice k+1).
// §4.5: "One TCP connection per worker; connections are opened at root
// startup and held for the process lifetime."
type Link struct {
	SliceIndex int // this worker's slice index (1-based: root is slice 0)
	Addr       string

	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// Dial connects to a worker at addr and identifies it as slice
// sliceIndex.
func Dial(addr string, sliceIndex int, timeout time.Duration) (*Link, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial worker %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &Link{
		SliceIndex: sliceIndex,
		Addr:       addr,
		conn:       conn,
		r:          bufio.NewReader(conn),
		w:          bufio.NewWriter(conn),
	}, nil
}

// Close closes the underlying TCP connection.
func (l *Link) Close() error {
	return l.conn.Close()
}

// Step sends one PLAN_STEP and blocks for that worker's PLAN_RESULT in
// reply, enforcing §4.5's "no pipelining across ops" rule at the
// call-site level: the caller cannot issue a second Step before this
// one's result arrives, because Step doesn't return until it does.
func (l *Link) Step(opID uint32, pos int, enc Encoding, activation []float32, raw []byte) ([]float32, error) {
	payload := EncodePlanStep(opID, uint32(pos), enc, len(activation), raw)
	if err := WriteFrame(l.w, TagPlanStep, payload); err != nil {
		return nil, err
	}
	if err := l.w.Flush(); err != nil {
		return nil, fmt.Errorf("transport: flush PLAN_STEP to %s: %w", l.Addr, err)
	}

	tag, resp, err := ReadFrame(l.r)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagPlanResult:
		gotID, shard, err := DecodePlanResult(resp)
		if err != nil {
			return nil, err
		}
		if gotID != opID {
			return nil, fmt.Errorf("transport: worker %s replied to op %d, expected %d", l.Addr, gotID, opID)
		}
		return shard, nil
	case TagError:
		code, _ := DecodeError(resp)
		return nil, fmt.Errorf("transport: worker %s reported error code %d", l.Addr, code)
	default:
		return nil, fmt.Errorf("transport: worker %s sent unexpected tag %s", l.Addr, tag)
	}
}

// Reset sends a RESET frame, clearing the worker's per-request state
// (KV cache) ahead of a fresh conversation (§4.5).
func (l *Link) Reset() error {
	if err := WriteFrame(l.w, TagReset, nil); err != nil {
		return err
	}
	return l.w.Flush()
}

// SendError sends an ERROR frame with the given code; used by the root
// to abort every worker link when a request terminates for any reason
// other than a clean client disconnect, which sends RESET instead (§7).
func (l *Link) SendError(code uint32) error {
	if err := WriteFrame(l.w, TagError, EncodeError(code)); err != nil {
		return err
	}
	return l.w.Flush()
}
