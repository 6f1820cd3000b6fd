// Package status serves the controller's live state over HTTP and a
// websocket stream.
package status

import (
	"context"
	"net"
	"net/http"
	"time"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"github.com/gin-gonic/gin"
)

const (
	maxHeaderBytes    = 1 << 20
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 5 * time.Second
)

const ErrListen = errors.ErrorCode("status_listen_failed")

// Server wraps an *http.Server to provide start/shutdown lifecycle.
type Server struct {
	httpServer *http.Server
}

func NewServer(addr string, handler *Handler) *Server {
	gin.SetMode(gin.ReleaseMode)

	srv := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler.InitRoutes(),
			MaxHeaderBytes:    maxHeaderBytes,
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
		},
	}
	srv.httpServer.RegisterOnShutdown(handler.Close)

	return srv
}

// Serve listens on the configured address and blocks until Shutdown.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.New().Wrap(ErrListen, err)
	}

	return s.ServeListener(ln)
}

func (s *Server) ServeListener(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New().Wrap(ErrListen, err)
	}
	return nil
}

// Shutdown stops accepting connections, ends websocket streams and waits
// briefly for in-flight requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}
