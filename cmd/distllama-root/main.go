// Command distllama-root runs the root process of a distributed
// inference cluster: it loads slice 0 of the model, dials every
// worker, and serves the OpenAI-compatible chat completions API (§6).
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/KMouratidis/distributed-llama/internal/driver"
	"github.com/KMouratidis/distributed-llama/internal/envconfig"
	"github.com/KMouratidis/distributed-llama/internal/generate"
	"github.com/KMouratidis/distributed-llama/internal/logutil"
	"github.com/KMouratidis/distributed-llama/internal/model"
	"github.com/KMouratidis/distributed-llama/internal/threadpool"
	"github.com/KMouratidis/distributed-llama/internal/tokenizer"
	"github.com/KMouratidis/distributed-llama/internal/transport"
	"github.com/KMouratidis/distributed-llama/internal/weights"
	"github.com/KMouratidis/distributed-llama/server"
)

var (
	flagModel       string
	flagTokenizer   string
	flagWeightsType string
	flagBufferType  string
	flagWorkers     string
	flagPort        int
	flagNThreads    int
)

func main() {
	root := &cobra.Command{
		Use:   "distllama-root",
		Short: "Serve an OpenAI-compatible chat completions API over a sliced transformer",
		RunE:  runServer,
	}
	root.Flags().StringVar(&flagModel, "model", "", "path to the weight file (required)")
	root.Flags().StringVar(&flagTokenizer, "tokenizer", "", "path prefix for <prefix>.vocab/<prefix>.merges (required)")
	root.Flags().StringVar(&flagWeightsType, "weights-float-type", "q80", "weight tensor quantization (informational; the weight file header is authoritative)")
	root.Flags().StringVar(&flagBufferType, "buffer-float-type", "f32", "activation buffer type shipped over the wire (informational; the weight file header's BufferType field is authoritative)")
	root.Flags().StringVar(&flagWorkers, "workers", "", "comma-separated worker addresses, in slice order")
	root.Flags().IntVar(&flagPort, "port", envconfig.Port(), "HTTP listen port")
	root.Flags().IntVar(&flagNThreads, "nthreads", envconfig.NumThreads(), "kernel thread count")
	root.MarkFlagRequired("model")
	root.MarkFlagRequired("tokenizer")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr))

	workerAddrs := splitNonEmpty(flagWorkers)
	nSlices := len(workerAddrs) + 1

	mapped, data, err := weights.Mmap(flagModel)
	if err != nil {
		return err
	}
	defer mapped.Close()

	spec, w, err := weights.Load(data, 0, nSlices)
	if err != nil {
		return fmt.Errorf("root: load weights: %w", err)
	}

	links := make([]*transport.Link, len(workerAddrs))
	for i, addr := range workerAddrs {
		link, err := transport.Dial(addr, i+1, envconfig.LoadTimeout())
		if err != nil {
			return fmt.Errorf("root: dial worker %d (%s): %w", i+1, addr, err)
		}
		links[i] = link
	}
	cluster := &transport.Cluster{Links: links}

	pool := threadpool.New(flagNThreads)
	rootDriver := driver.NewRoot(spec, w, pool, cluster)

	tok, err := tokenizer.LoadFiles(flagTokenizer+".vocab", flagTokenizer+".merges", map[string]int{
		"<|begin_of_text|>": spec.VocabSize - 3,
		"<|start_header_id|>": spec.VocabSize - 2,
		"<|end_header_id|>": spec.VocabSize - 1,
		"<|eot_id|>": spec.VocabSize - 4,
	})
	if err != nil {
		return fmt.Errorf("root: load tokenizer: %w", err)
	}

	embed := func(tokenID int) []float32 {
		return w.TokenEmbedding[tokenID*spec.HiddenDim : (tokenID+1)*spec.HiddenDim]
	}
	gen := generate.New(rootDriver, tok, embed, spec.VocabSize)

	srv := server.New(gen, tok, flagModel)

	printBanner(spec, nSlices, flagPort, workerAddrs)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", flagPort),
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
	}
	return httpServer.ListenAndServe()
}

func splitNonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printBanner(spec *model.Spec, nSlices, port int, workerAddrs []string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"field", "value"})
	table.Append([]string{"architecture", spec.Arch.String()})
	table.Append([]string{"layers", fmt.Sprintf("%d", spec.NLayers)})
	table.Append([]string{"hidden dim", fmt.Sprintf("%d", spec.HiddenDim)})
	table.Append([]string{"slices", fmt.Sprintf("%d", nSlices)})
	table.Append([]string{"port", fmt.Sprintf("%d", port)})
	for i, addr := range workerAddrs {
		table.Append([]string{fmt.Sprintf("worker slice %d", i+1), addr})
	}
	table.Render()
}
