// Package agent serves stored runs, reports and capture uploads over HTTP,
// optionally behind mutual TLS, and provides the matching client
package agent

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/googleinterns/cros-hummingbird/pkg/report"
)

// Server represents the agent server
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *log.Logger
	logFile    io.Closer
	database   *db.DB
	reports    *report.Generator
}

// NewServer creates a new agent server over database. A nil logger logs to
// stdout, or to config.LogFile when set
func NewServer(config Config, database *db.DB, logger *log.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	server := &Server{
		config:   config,
		logger:   logger,
		database: database,
		reports:  report.NewGenerator(database),
	}

	if server.logger == nil {
		server.logger = log.New(os.Stdout, "[agent] ", log.LstdFlags)
		if config.LogFile != "" {
			logFile, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file: %w", err)
			}
			server.logFile = logFile
			server.logger = log.New(logFile, "[agent] ", log.LstdFlags)
		}
	}

	if config.UploadDir != "" {
		if err := os.MkdirAll(config.UploadDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create upload directory: %w", err)
		}
	}

	tlsConfig, err := config.LoadTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS config: %w", err)
	}

	server.httpServer = &http.Server{
		Addr:         config.Addr(),
		Handler:      server.Handler(),
		TLSConfig:    tlsConfig,
		ErrorLog:     server.logger,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return server, nil
}

// Handler returns the routes of the agent
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.loggingMiddleware(healthHandler))
	mux.HandleFunc("GET /sysinfo", s.loggingMiddleware(s.sysinfoHandler))
	mux.HandleFunc("GET /formats", s.loggingMiddleware(formatsHandler))
	mux.HandleFunc("GET /runs", s.loggingMiddleware(s.runsHandler))
	mux.HandleFunc("GET /runs/{id}", s.loggingMiddleware(s.runHandler))
	mux.HandleFunc("GET /runs/{id}/report", s.loggingMiddleware(s.reportHandler))
	mux.HandleFunc("GET /runs/{id}/csv", s.loggingMiddleware(s.csvHandler))
	mux.HandleFunc("POST /analyze", s.loggingMiddleware(s.analyzeHandler))
	return mux
}

// Start listens on the configured address until Shutdown
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Shutdown
func (s *Server) Serve(listener net.Listener) error {
	if s.config.TLSEnabled() {
		s.logger.Printf("Starting agent server on %s with mTLS", listener.Addr())
		// certificates are already loaded in the TLS config
		err := s.httpServer.ServeTLS(listener, "", "")
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	s.logger.Printf("Starting agent server on %s without TLS", listener.Addr())
	err := s.httpServer.Serve(listener)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Println("Shutting down agent server...")
	err := s.httpServer.Shutdown(ctx)
	if s.logFile != nil {
		_ = s.logFile.Close()
	}
	return err
}

// loggingMiddleware logs incoming requests
func (s *Server) loggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientCert := "none"
		if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
			clientCert = r.TLS.PeerCertificates[0].Subject.CommonName
		}

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(wrapped, r)

		s.logger.Printf("%s %s %d %s client=%s duration=%s",
			r.Method,
			r.URL.Path,
			wrapped.statusCode,
			r.RemoteAddr,
			clientCert,
			time.Since(start),
		)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
