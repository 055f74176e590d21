package share

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/webdav"
)

const (
	// DefaultPort is the port the share listens on when none is configured.
	DefaultPort     = 8080
	shutdownTimeout = 5 * time.Second
)

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	"PROPFIND":         true,
}

// NewHandler serves root as a read-only WebDAV tree.
func NewHandler(root string, logger *slog.Logger) (http.Handler, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat share directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("share path %q is not a directory", root)
	}

	dav := &webdav.Handler{
		FileSystem: webdav.Dir(root),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn("share request failed", "method", r.Method, "path", r.URL.Path, "error", err)
				return
			}
			logger.Debug("share request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowedMethods[r.Method] {
			w.Header().Set("Allow", "GET, HEAD, OPTIONS, PROPFIND")
			http.Error(w, "share is read-only", http.StatusMethodNotAllowed)
			return
		}
		dav.ServeHTTP(w, r)
	}), nil
}

// Server is a running share endpoint.
type Server struct {
	listener net.Listener
	srv      *http.Server
	log      *slog.Logger
	done     chan struct{}
	serveErr error
	// grace bounds how long Close waits for open connections before dropping them.
	grace time.Duration
}

// Listen starts serving root on addr, for example ":8080" or "127.0.0.1:0".
func Listen(addr, root string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	handler, err := NewHandler(root, logger)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	s := &Server{
		listener: listener,
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log:   logger,
		done:  make(chan struct{}),
		grace: shutdownTimeout,
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErr = err
			s.log.Error("share server stopped", "error", err)
		}
	}()
	s.log.Info("sharing directory", "root", root, "addr", listener.Addr().String())
	return s, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Close stops accepting requests and waits for in-flight ones to finish. Connections
// still open after the grace period are closed forcibly.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("share shutdown timed out, closing connections", "error", err)
		if err := s.srv.Close(); err != nil {
			<-s.done
			return fmt.Errorf("close share server: %w", err)
		}
	}
	<-s.done
	return s.serveErr
}
