package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zsiec/fcbus/internal/config"
	"github.com/zsiec/fcbus/internal/errors"
	"github.com/zsiec/fcbus/internal/harness"
	"github.com/zsiec/fcbus/internal/health"
	"github.com/zsiec/fcbus/internal/logger"
)

// healthInterval is the period of the background health checks.
const healthInterval = 15 * time.Second

// Server exposes a bench over HTTP, and over HTTP/3 when TLS is configured.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	http3Server  *http3.Server
	logger       *logrus.Logger
	bench        *harness.Bench
	healthMgr    *health.Manager
	errorHandler *errors.ErrorHandler
	stepLimiter  *rate.Limiter

	routesReady      bool
	additionalRoutes []func(*mux.Router)
}

// New creates a server for bench. bench may be nil, in which case the bus API is not
// registered.
func New(cfg *config.ServerConfig, log *logrus.Logger, bench *harness.Bench) *Server {
	s := &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		bench:        bench,
		healthMgr:    health.NewManager(log),
		errorHandler: errors.NewErrorHandler(log),
		stepLimiter:  rate.NewLimiter(rate.Limit(50), 10),
	}

	if bench != nil {
		s.healthMgr.Register(health.NewBenchChecker(bench.Snapshot))
	}

	return s
}

// RegisterChecker adds a health checker, e.g. for the frame source.
func (s *Server) RegisterChecker(c health.Checker) {
	s.healthMgr.Register(c)
}

// RegisterRoutes adds route handlers, applied when the routes are built.
func (s *Server) RegisterRoutes(registerFunc func(*mux.Router)) {
	s.additionalRoutes = append(s.additionalRoutes, registerFunc)
}

// Handler builds the routes once and returns the router.
func (s *Server) Handler() http.Handler {
	if !s.routesReady {
		s.setupRoutes()
		s.routesReady = true
	}
	return s.router
}

// GetRouter returns the router for testing.
func (s *Server) GetRouter() *mux.Router {
	s.Handler()
	return s.router
}

// Start serves until ctx ends, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()

	go s.healthMgr.StartPeriodicChecks(ctx, healthInterval)

	errCh := make(chan error, 2)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.WithField("port", s.config.HTTPPort).Info("Starting HTTP server")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.config.HTTP3Enabled() {
		if err := s.startHTTP3(handler, errCh); err != nil {
			_ = s.httpServer.Close()
			return err
		}
	}

	select {
	case err := <-errCh:
		_ = s.Shutdown()
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

func (s *Server) startHTTP3(handler http.Handler, errCh chan<- error) error {
	cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificates: %w", err)
	}

	s.http3Server = &http3.Server{
		Addr:    fmt.Sprintf(":%d", s.config.HTTP3Port),
		Handler: handler,
		QUICConfig: &quic.Config{
			MaxIncomingStreams:    s.config.MaxIncomingStreams,
			MaxIncomingUniStreams: s.config.MaxIncomingUniStreams,
			MaxIdleTimeout:        s.config.MaxIdleTimeout,
		},
		TLSConfig: &tls.Config{
			MinVersion:   tls.VersionTLS13,
			NextProtos:   []string{"h3"},
			Certificates: []tls.Certificate{cert},
		},
	}

	s.logger.WithField("port", s.config.HTTP3Port).Info("Starting HTTP/3 server")
	go func() {
		if err := s.http3Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http3 server: %w", err)
		}
	}()
	return nil
}

// Shutdown stops both listeners.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down server")

	var firstErr error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = fmt.Errorf("failed to shutdown http server: %w", err)
		}
	}

	// http3.Server.Close has no graceful variant
	if s.http3Server != nil {
		if err := s.http3Server.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to shutdown http3 server: %w", err)
		}
	}

	s.logger.Info("Server shutdown complete")
	return firstErr
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.config.ShutdownTimeout > 0 {
		return s.config.ShutdownTimeout
	}
	return 10 * time.Second
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	if s.bench != nil {
		api := s.router.PathPrefix("/api/v1").Subrouter()
		api.HandleFunc("/bus", s.handleBus).Methods("GET")
		api.HandleFunc("/bus/beats", s.handleBeats).Methods("GET")
		api.Handle("/bus/step", s.rateLimitMiddleware(http.HandlerFunc(s.handleStep))).Methods("POST")
	}

	for _, registerFunc := range s.additionalRoutes {
		registerFunc(s.router)
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}
