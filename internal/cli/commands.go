package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julianstephens/go-utils/cliutil"
	"github.com/julianstephens/go-utils/jsonutil"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/julianstephens/blockid/internal/blockid"
	"github.com/julianstephens/blockid/internal/blockid/alloc"
	"github.com/julianstephens/blockid/internal/blockid/audit"
	"github.com/julianstephens/blockid/internal/blockid/metrics"
	"github.com/julianstephens/blockid/internal/blockid/source"
	"github.com/julianstephens/blockid/internal/blockid/tracker"
	"github.com/julianstephens/blockid/internal/logger"
	"github.com/julianstephens/blockid/internal/server"
)

// ErrBenchFailed is returned when a bench run finds duplicates or too many
// gaps.
var ErrBenchFailed = errors.New("bench failed")

// stdout is swapped by tests.
var stdout io.Writer = os.Stdout

// InitCmd creates a sequence in the selected store.
type InitCmd struct {
	StoreOpts `embed:""`

	Start uint64 `help:"First identifier of the sequence" default:"1"`
}

func (c *InitCmd) Run(lg logger.Logger) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	cfg.Start = c.Start
	if err := source.Init(cfg); err != nil {
		if errors.Is(err, source.ErrAlreadyExists) {
			cliutil.PrintError(fmt.Sprintf("sequence %q already exists at %s", cfg.Name, cfg.Path()))
		}
		return err
	}
	lg.Info("sequence initialized", "store", cfg.Kind, "path", cfg.Path(), "name", cfg.Name, "start", c.Start)
	_, _ = fmt.Fprintf(stdout, "initialized %s sequence %q at %s\n", cfg.Kind, cfg.Name, cfg.Path())
	return nil
}

// NextCmd prints the next identifiers of a sequence.
type NextCmd struct {
	StoreOpts `embed:""`
	AllocOpts `embed:""`

	Count int  `help:"Number of identifiers to print" default:"1" short:"n"`
	JSON  bool `help:"Print a JSON object instead of one id per line"`
}

func (c *NextCmd) Run(lg logger.Logger) error {
	if c.Count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", c.Count)
	}
	s, err := openSession(lg, c.StoreOpts, c.AllocOpts, nil, 0)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			lg.Error("failed to close store", err)
		}
	}()

	futures := make([]*alloc.Future, c.Count)
	for i := range futures {
		futures[i] = s.alloc.GenerateAsync(i)
	}
	ids := make([]uint64, 0, c.Count)
	for _, f := range futures {
		id, err := f.Wait(context.Background())
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	if c.JSON {
		data, err := jsonutil.Marshal(server.IDsResponse{IDs: ids})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(stdout, string(data))
		return nil
	}
	for _, id := range ids {
		_, _ = fmt.Fprintln(stdout, id)
	}
	return nil
}

// PeekCmd prints the start of the next block without reserving it.
type PeekCmd struct {
	StoreOpts `embed:""`
}

func (c *PeekCmd) Run(lg logger.Logger) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	store, err := source.Open(cfg, lg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	next, err := store.Peek()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, next)
	return nil
}

// BenchCmd runs concurrent workers against one allocator and checks that no
// identifier is handed out twice.
type BenchCmd struct {
	StoreOpts `embed:""`
	AllocOpts `embed:""`

	Workers  int           `help:"Concurrent workers" default:"${bench_workers}"`
	IDs      int           `help:"Identifiers requested per worker" default:"${bench_ids}" name:"ids"`
	GapSlack uint64        `help:"Allowed gaps per worker" default:"${bench_gap_slack}"`
	Delay    time.Duration `help:"Artificial latency added to every counter call" default:"0s"`
}

func (c *BenchCmd) Run(lg logger.Logger) error {
	if c.Workers < 1 || c.IDs < 1 {
		return fmt.Errorf("workers and ids must be positive, got %d and %d", c.Workers, c.IDs)
	}
	tr := tracker.New()
	s, err := openSession(lg, c.StoreOpts, c.AllocOpts, tr, c.Delay)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			lg.Error("failed to close store", err)
		}
	}()

	base, err := s.store.Peek()
	if err != nil {
		return err
	}
	total := c.Workers * c.IDs
	col := audit.NewCollector(base, uint(total))

	start := time.Now()
	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < c.Workers; w++ {
		g.Go(func() error {
			for i := 0; i < c.IDs; i++ {
				id, err := s.alloc.Generate(ctx)
				if err != nil {
					return err
				}
				col.Add(id)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		tr.Dump(lg)
		return err
	}
	elapsed := time.Since(start)

	sum := col.Summary()
	stats := s.alloc.Stats()
	lg.Info("bench finished",
		"workers", c.Workers,
		"ids", total,
		"elapsed", elapsed,
		"fetches", stats.Fetches,
		"overflows", stats.Overflows,
		"summary", sum.String(),
	)
	_, _ = fmt.Fprintf(stdout, "%s fetches=%d overflows=%d elapsed=%s\n", sum, stats.Fetches, stats.Overflows, elapsed.Round(time.Millisecond))

	if err := sum.Check(c.GapSlack * uint64(c.Workers)); err != nil {
		cliutil.PrintError(err.Error())
		return fmt.Errorf("%w: %w", ErrBenchFailed, err)
	}
	return nil
}

// ServeCmd serves identifiers over HTTP until interrupted.
type ServeCmd struct {
	StoreOpts `embed:""`
	AllocOpts `embed:""`

	Addr    string        `help:"Listen address" default:"${listen_addr}" envvar:"BLOCKID_ADDR"`
	Timeout time.Duration `help:"Per-request wait limit" default:"5s"`
}

func (c *ServeCmd) Run(lg logger.Logger) error {
	reg := prometheus.NewRegistry()
	obs, err := metrics.New(reg, metrics.DefaultNamespace)
	if err != nil {
		return err
	}
	tr := tracker.New()
	s, err := openSession(lg, c.StoreOpts, c.AllocOpts, alloc.Observers(obs, tr), 0)
	if err != nil {
		return err
	}
	if err := reg.Register(metrics.NewCollector(s.alloc, metrics.DefaultNamespace)); err != nil {
		_ = s.Close()
		return err
	}

	srv := server.New(s.alloc, server.Options{Addr: c.Addr, Registry: reg, Timeout: c.Timeout}, lg)
	if err := srv.Start(); err != nil {
		_ = s.Close()
		return err
	}
	_, _ = fmt.Fprintf(stdout, "serving on http://%s\n", srv.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopErr := srv.Stop(shutdownCtx)
	if n := tr.Dump(lg); n > 0 {
		lg.Warn("refills still in flight at shutdown", "count", n)
	}
	if err := s.Close(); err != nil {
		return err
	}
	return stopErr
}

// Vars returns the kong variables referenced by the command defaults.
func Vars() map[string]string {
	return map[string]string{
		"store_kind":      blockid.DefaultStoreKind,
		"sequence":        blockid.DefaultSequenceName,
		"block_size":      fmt.Sprint(blockid.DefaultBlockSize),
		"retry_attempts":  fmt.Sprint(blockid.DefaultRetryAttempts),
		"retry_initial":   fmt.Sprintf("%dms", blockid.DefaultRetryInitialMs),
		"bench_workers":   fmt.Sprint(blockid.DefaultBenchWorkers),
		"bench_ids":       fmt.Sprint(blockid.DefaultBenchIDs),
		"bench_gap_slack": fmt.Sprint(blockid.DefaultBenchGapSlack),
		"listen_addr":     blockid.DefaultListenAddr,
	}
}
