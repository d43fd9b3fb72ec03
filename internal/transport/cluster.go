package transport

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Cluster is the root's view of every worker link, in slice order
// (index 0 is worker slice 1, index 1 is worker slice 2, ...). It is
// the join point §4.6 describes: "concatenation and reduction both
// happen at the root; workers never see each other."
type Cluster struct {
	Links []*Link
}

// Broadcast sends one PLAN_STEP to every worker concurrently and
// blocks until all have replied (§4.5's FIFO-per-connection guarantee
// makes this safe: each link's own request/response ordering is
// independent of every other link's). Concurrency here is fan-out
// across *different* TCP connections, not pipelining within one —
// §4.5's "no pipelining across ops" is per-connection and untouched.
func (c *Cluster) Broadcast(opID uint32, pos int, enc Encoding, activation []float32, raw []byte) ([][]float32, error) {
	results := make([][]float32, len(c.Links))

	var g errgroup.Group
	for i, link := range c.Links {
		i, link := i, link
		g.Go(func() error {
			shard, err := link.Step(opID, pos, enc, activation, raw)
			if err != nil {
				return fmt.Errorf("slice %d: %w", link.SliceIndex, err)
			}
			results[i] = shard
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Concat concatenates per-link shards in slice order, after the root's
// own local shard (slice 0) has already been placed at rootShard —
// §4.4: "SHARDED is used when the output dimension decomposes
// naturally by slice (concatenation is free)".
func Concat(rootShard []float32, workerShards [][]float32) []float32 {
	total := len(rootShard)
	for _, s := range workerShards {
		total += len(s)
	}
	out := make([]float32, 0, total)
	out = append(out, rootShard...)
	for _, s := range workerShards {
		out = append(out, s...)
	}
	return out
}

// Reduce sums the root's local partial vector with every worker's
// partial vector, element-wise, in place into root (§4.4: "REDUCE is
// used when every slice produces an overlapping contribution to the
// same output coordinates"). All partials must have len(root)
// elements.
func Reduce(root []float32, workerPartials [][]float32) error {
	for _, p := range workerPartials {
		if len(p) != len(root) {
			return fmt.Errorf("transport: REDUCE shard length mismatch: got %d want %d", len(p), len(root))
		}
		for i, v := range p {
			root[i] += v
		}
	}
	return nil
}

// ResetAll issues RESET to every worker link, used when the root
// starts a fresh conversation or aborts a request (§4.5, §5
// Cancellation, §8 S6).
func (c *Cluster) ResetAll() error {
	for _, link := range c.Links {
		if err := link.Reset(); err != nil {
			return fmt.Errorf("slice %d: %w", link.SliceIndex, err)
		}
	}
	return nil
}

// SendErrorAll issues ERROR to every worker link, used when a protocol
// error aborts the request (§7).
func (c *Cluster) SendErrorAll(code uint32) {
	for _, link := range c.Links {
		_ = link.SendError(code)
	}
}
