// Command dirlayer-bench drives a directory.Layer through a batch of
// create/open/list/move/remove operations and prints the high-contention
// allocator's introspection counters, the same "run it, report the
// counters" shape the teacher's own administrative commands follow for
// ad-hoc storage benchmarking, built here with the standard library's flag
// package rather than cobra/viper since this is a single-purpose internal
// tool rather than a subcommand of a larger CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dirlayer/fdbdirectory/directory"
	"github.com/dirlayer/fdbdirectory/dirpath"
	"github.com/dirlayer/fdbdirectory/kv"
	"github.com/dirlayer/fdbdirectory/kv/badgerkv"
	"github.com/dirlayer/fdbdirectory/kv/memkv"
	"github.com/dirlayer/fdbdirectory/logging"
	"github.com/dirlayer/fdbdirectory/metrics"
	"github.com/dirlayer/fdbdirectory/txnstate"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		backend     = flag.String("backend", "mem", `kv backend to use: "mem" or "badger"`)
		dir         = flag.String("dir", "", "on-disk directory for the badger backend (ignored for mem)")
		n           = flag.Int("n", 1000, "number of sibling directories to create under /bench")
		metricsAddr = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090) until the run completes")
		verbose     = flag.Bool("v", false, "log at Debug level")
	)
	flag.Parse()

	logger := logging.New()
	if *verbose {
		logger.SetLevel(logging.Debug)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	registry := metrics.NewRegistry(reg)

	var stopMetricsServer func()
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server: %v", err)
			}
		}()
		stopMetricsServer = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}
	}

	db, closeDB, err := openBackend(*backend, *dir, logger)
	if err != nil {
		log.Fatalf("open backend: %v", err)
	}
	defer closeDB()

	layer := directory.New(db, directory.Options{Logger: logger, Metrics: registry})

	ctx := context.Background()
	start := time.Now()
	if err := run(ctx, layer, *n); err != nil {
		log.Fatalf("run: %v", err)
	}
	elapsed := time.Since(start)

	stats := layer.RootAllocatorStats()
	fmt.Printf("created %d directories in %s (%s/op)\n", *n, elapsed, elapsed/time.Duration(*n))
	fmt.Printf("allocator: allocations=%d retries=%d window_start=%d window_size=%d window_advances=%d\n",
		stats.Allocations, stats.Retries, stats.WindowStart, stats.WindowSize, stats.WindowAdvances)

	if stopMetricsServer != nil {
		stopMetricsServer()
	}
}

func openBackend(backend, dir string, logger logging.Logger) (kv.Database, func(), error) {
	switch backend {
	case "mem":
		db := memkv.New()
		return db, func() {}, nil
	case "badger":
		db, err := badgerkv.New(badgerkv.Options{Dir: dir, InMemory: dir == "", Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	default:
		fmt.Fprintf(os.Stderr, "unknown backend %q (want mem or badger)\n", backend)
		os.Exit(2)
		return nil, nil, nil
	}
}

// run creates n sibling directories under /bench, opens the first one back,
// lists the parent, moves the first one aside, and removes each of the n
// children (/bench itself is left in place) — exercising
// CreateOrOpen, Open, List, Move, and Remove end to end in one pass.
func run(ctx context.Context, layer *directory.Layer, n int) error {
	parent := dirpath.Root().Add("bench")

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("dir-%06d", i)
		_, err := layer.Do(ctx, func(ctx context.Context, tr kv.Transaction, state *txnstate.State) (interface{}, error) {
			return layer.Create(ctx, tr, state, parent.Add(name), "")
		})
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
	}

	_, err := layer.Do(ctx, func(ctx context.Context, tr kv.Transaction, state *txnstate.State) (interface{}, error) {
		return layer.TryOpen(ctx, tr, state, parent.Add("dir-000000"), "")
	})
	if err != nil {
		return fmt.Errorf("open dir-000000: %w", err)
	}

	_, err = layer.Do(ctx, func(ctx context.Context, tr kv.Transaction, state *txnstate.State) (interface{}, error) {
		return layer.List(ctx, tr, state, parent)
	})
	if err != nil {
		return fmt.Errorf("list /bench: %w", err)
	}

	_, err = layer.Do(ctx, func(ctx context.Context, tr kv.Transaction, state *txnstate.State) (interface{}, error) {
		return layer.Move(ctx, tr, state, parent.Add("dir-000000"), parent.Add("moved-aside"))
	})
	if err != nil {
		return fmt.Errorf("move dir-000000: %w", err)
	}

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("dir-%06d", i)
		if name == "dir-000000" {
			name = "moved-aside"
		}
		_, err := layer.Do(ctx, func(ctx context.Context, tr kv.Transaction, state *txnstate.State) (interface{}, error) {
			return layer.TryRemove(ctx, tr, state, parent.Add(name))
		})
		if err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}

	return nil
}
