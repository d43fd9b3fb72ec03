// Command distllama-worker runs one worker slice: it loads its shard
// of the model and serves PLAN_STEP/RESET requests from the root over
// a single persistent TCP connection (§4.5, §4.6).
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/KMouratidis/distributed-llama/internal/driver"
	"github.com/KMouratidis/distributed-llama/internal/envconfig"
	"github.com/KMouratidis/distributed-llama/internal/logutil"
	"github.com/KMouratidis/distributed-llama/internal/threadpool"
	"github.com/KMouratidis/distributed-llama/internal/transport"
	"github.com/KMouratidis/distributed-llama/internal/weights"
)

var (
	flagModel      string
	flagSliceIndex int
	flagNSlices    int
	flagPort       int
	flagNThreads   int
)

func main() {
	cmd := &cobra.Command{
		Use:   "distllama-worker",
		Short: "Serve one slice of a sliced transformer to a root process",
		RunE:  runWorker,
	}
	cmd.Flags().StringVar(&flagModel, "model", "", "path to the weight file (required)")
	cmd.Flags().IntVar(&flagSliceIndex, "slice", 1, "this worker's slice index (root is slice 0)")
	cmd.Flags().IntVar(&flagNSlices, "nslices", 2, "total number of slices (workers + root)")
	cmd.Flags().IntVar(&flagPort, "port", envconfig.Port(), "TCP listen port")
	cmd.Flags().IntVar(&flagNThreads, "nthreads", envconfig.NumThreads(), "kernel thread count")
	cmd.MarkFlagRequired("model")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWorker(_ *cobra.Command, _ []string) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr))

	mapped, data, err := weights.Mmap(flagModel)
	if err != nil {
		return err
	}
	defer mapped.Close()

	spec, w, err := weights.Load(data, flagSliceIndex, flagNSlices)
	if err != nil {
		return fmt.Errorf("worker: load weights: %w", err)
	}

	pool := threadpool.New(flagNThreads)
	wk := driver.NewWorker(spec, w, flagSliceIndex, pool)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", flagPort))
	if err != nil {
		return fmt.Errorf("worker: listen: %w", err)
	}
	defer ln.Close()

	slog.Info("worker ready", "slice", flagSliceIndex, "nslices", flagNSlices, "addr", ln.Addr())
	return transport.ServeWorker(ln, wk.Handle, wk.HandleReset)
}
