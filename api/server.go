package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/eth2030/aggsettle/log"
	"github.com/eth2030/aggsettle/metrics"
)

// Config configures the HTTP listener.
type Config struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
}

// DefaultConfig returns the API defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8545",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		MaxBodySize:     5 * 1024 * 1024,
	}
}

// NewRouter registers every endpoint of h. A nil metricsHandler leaves
// /metrics unrouted.
func NewRouter(h *Handler, metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.instrument)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/certificates", h.SubmitCertificate).Methods(http.MethodPost)
	v1.HandleFunc("/certificates/{id}", h.GetCertificateHeader).Methods(http.MethodGet)
	v1.HandleFunc("/networks/{network:[0-9]+}/certificates/{height:[0-9]+}", h.GetHeaderByHeight).Methods(http.MethodGet)
	v1.HandleFunc("/networks/{network:[0-9]+}/settled", h.GetLatestSettled).Methods(http.MethodGet)
	v1.HandleFunc("/epochs/{epoch:[0-9]+}", h.GetEpoch).Methods(http.MethodGet)

	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet, http.MethodHead)
	}
	return r
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.APIRequests.Inc()
		if rec.status >= http.StatusBadRequest {
			metrics.APIErrors.Inc()
		}
		h.log.Debug("request served", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "elapsed", time.Since(start))
	})
}

// Server runs the API on a listener.
type Server struct {
	config Config
	srv    *http.Server
	log    *log.Logger
}

// NewServer creates a server for handler.
func NewServer(config Config, handler http.Handler, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		config: config,
		srv: &http.Server{
			Addr:         config.ListenAddr,
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		},
		log: logger.Module("api"),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(ln) }()
	s.log.Info("api listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
