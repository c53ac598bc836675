// Package server exposes an allocator over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/julianstephens/go-utils/jsonutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/julianstephens/blockid/internal/blockid"
	"github.com/julianstephens/blockid/internal/blockid/alloc"
	"github.com/julianstephens/blockid/internal/logger"
)

// Generator is satisfied by *alloc.Allocator.
type Generator interface {
	GenerateAsync(token any) *alloc.Future
}

type Options struct {
	Addr     string
	Registry *prometheus.Registry // served on /metrics when set
	Timeout  time.Duration        // per-request limit on waiting for ids
}

// IDsResponse is the body of a successful /ids request.
type IDsResponse struct {
	IDs []uint64 `json:"ids"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	gen    Generator
	opt    Options
	mux    *http.ServeMux
	http   *http.Server
	logger logger.Logger

	mu   sync.Mutex
	addr string
	wg   sync.WaitGroup
}

func New(gen Generator, opt Options, lg logger.Logger) *Server {
	if opt.Addr == "" {
		opt.Addr = blockid.DefaultListenAddr
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 5 * time.Second
	}
	s := &Server{
		gen:    gen,
		opt:    opt,
		mux:    http.NewServeMux(),
		logger: logger.OrNoOp(lg),
	}

	s.mux.HandleFunc("/ids", s.handleIDs)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	if opt.Registry != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(opt.Registry, promhttp.HandlerOpts{}))
	}

	s.http = &http.Server{
		Addr:              opt.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opt.Addr)
	if err != nil {
		return wrapServerErr("listen", s.opt.Addr, ErrListen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.logger.Info("http server listening", "addr", s.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", err, "addr", s.Addr())
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == "" {
		return s.opt.Addr
	}
	return s.addr
}

func (s *Server) Stop(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return wrapServerErr("shutdown", s.Addr(), ErrShutdown, err)
	}
	return nil
}

// ParseCount reads the count query parameter. Missing or non-numeric values
// yield 1; others are clamped to [MinIDsPerRequest, MaxIDsPerRequest].
func ParseCount(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return blockid.MinIDsPerRequest
	}
	return min(max(n, blockid.MinIDsPerRequest), blockid.MaxIDsPerRequest)
}

func (s *Server) handleIDs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		s.writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
		return
	}
	count := ParseCount(r.URL.Query().Get("count"))

	// Queue every request before waiting so they share refills.
	futures := make([]*alloc.Future, count)
	for i := range futures {
		futures[i] = s.gen.GenerateAsync(i)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opt.Timeout)
	defer cancel()

	ids := make([]uint64, count)
	for i, f := range futures {
		id, err := f.Wait(ctx)
		if err != nil {
			s.logger.Error("id request failed", err, "count", count, "served", i)
			s.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
			return
		}
		ids[i] = id
	}
	s.writeJSON(w, http.StatusOK, IDsResponse{IDs: ids})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := jsonutil.Marshal(v)
	if err != nil {
		s.logger.Error("encode response", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
