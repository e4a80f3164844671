package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"reddot-watch/ingestor/internal/process"
	"reddot-watch/ingestor/internal/server/api"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// Options wires the server to the rest of the application. A nil Runner
// disables the refresh trigger; a nil Gatherer disables /metrics.
type Options struct {
	ListenAddr   string
	Secrets      []string
	Runner       api.Runner
	Items        api.ItemLister
	Sources      SourceLister
	Health       HealthChecker
	Gatherer     prometheus.Gatherer
	WriteTimeout time.Duration
}

// requireSecret accepts a request carrying one of secrets either as a bearer
// token or in X-API-Key. Anything else is rejected before next runs.
func requireSecret(secrets []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authorized(r, secrets) {
				hlog.FromRequest(r).Warn().Msg("Unauthorized request")
				api.WriteError(w, r, http.StatusUnauthorized, process.ErrUnauthorized.Error(), time.Now())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authorized(r *http.Request, secrets []string) bool {
	var presented []string
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			presented = append(presented, strings.TrimSpace(token))
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		presented = append(presented, key)
	}

	for _, p := range presented {
		for _, s := range secrets {
			if s != "" && subtle.ConstantTimeCompare([]byte(p), []byte(s)) == 1 {
				return true
			}
		}
	}
	return false
}

// NewHandler builds the routed handler with the logging middleware chain.
func NewHandler(opts Options, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	auth := requireSecret(opts.Secrets)
	if opts.Runner != nil {
		refresh := auth(http.HandlerFunc(api.NewRefreshHandler(opts.Runner).Refresh))
		mux.Handle("POST /v1/refresh", refresh)
		mux.Handle("GET /v1/refresh", refresh)
		logger.Info().Msg("Refresh trigger enabled")
	} else {
		logger.Info().Msg("Refresh trigger disabled")
	}
	if opts.Items != nil {
		mux.HandleFunc("GET /v1/items", api.NewItemsHandler(opts.Items).GetItems)
	}
	if opts.Sources != nil {
		mux.Handle("GET /v1/sources", auth(exportSourcesHandler(opts.Sources)))
	}
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /health", healthCheckHandler(opts.Health))

	// Set up middleware chain for logging and request tracking
	h := hlog.NewHandler(logger)(mux)
	h = hlog.MethodHandler("method")(h)
	h = hlog.URLHandler("url")(h)
	h = hlog.RemoteAddrHandler("remote_addr")(h)
	h = hlog.UserAgentHandler("user_agent")(h)
	h = hlog.RequestIDHandler("req_id", "Request-Id")(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		idReq, _ := hlog.IDFromRequest(r)

		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Str("req_id", idReq.String()).
			Msg("HTTP Request")
	})(h)

	return h
}

// RunServer starts the HTTP server and blocks until SIGINT/SIGTERM, then
// shuts down gracefully.
func RunServer(opts Options, logger zerolog.Logger) error {
	logger = logger.With().Str("service", "ingestor-api").Logger()

	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	httpServer := &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           NewHandler(opts, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", opts.ListenAddr).Msg("API Server starting")
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErr:
		return err

	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
			if err := httpServer.Close(); err != nil {
				logger.Error().Err(err).Msg("HTTP server force close error")
			}
		} else {
			logger.Info().Msg("HTTP server shutdown complete.")
		}
		if err := <-serverErr; err != nil {
			logger.Error().Err(err).Msg("ListenAndServe error during shutdown")
		}
	}

	logger.Info().Msg("Server exiting.")
	return nil
}

// healthCheckHandler answers 200 OK while the database responds to a ping.
func healthCheckHandler(db HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		log.Debug().Msg("Health check request received")

		w.Header().Set("Content-Type", "text/plain")
		if db != nil {
			if err := db.Check(r.Context()); err != nil {
				log.Error().Err(err).Msg("Health check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("UNAVAILABLE"))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("Error writing health check response")
		}
	}
}
