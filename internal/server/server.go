package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/dtvplus/internal/devices"
	"github.com/muurk/dtvplus/internal/dtvclient"
	"github.com/muurk/dtvplus/internal/hub"
	"github.com/muurk/dtvplus/internal/logging"
	"github.com/muurk/dtvplus/internal/metrics"
)

// shutdownTimeout bounds how long in-flight requests get to finish
const shutdownTimeout = 10 * time.Second

// Config holds the server configuration
type Config struct {
	Listen string
}

// Controllers is the hub surface the API reads from. *hub.Hub implements it.
type Controllers interface {
	KnownControllers() []hub.KnownController
	Snapshot(address string) (dtvclient.SystemInfo, dtvclient.Values, bool)
}

// Devices is the device surface the API drives. *devices.Manager implements it.
type Devices interface {
	List() []devices.Device
	Get(id string) (devices.Device, bool)
	Set(ctx context.Context, id, capability string, value any) error
	OnChange(fn func(devices.Device))
}

// Server is the bridge's HTTP API
type Server struct {
	config      *Config
	controllers Controllers
	devices     Devices
	metrics     *metrics.Metrics
	stream      *Stream
	httpServer  *http.Server
	listener    net.Listener
}

// New creates a Server. m may be nil, in which case /metrics is not served.
func New(config *Config, controllers Controllers, devs Devices, m *metrics.Metrics) *Server {
	s := &Server{
		config:      config,
		controllers: controllers,
		devices:     devs,
		metrics:     m,
		stream:      NewStream(),
	}
	devs.OnChange(func(d devices.Device) {
		s.stream.Broadcast(devices.Describe(d))
	})
	s.httpServer = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Listen binds the configured address. Start calls it when needed.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start serves the API and blocks until ctx is cancelled, a shutdown signal
// arrives or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	logging.Info("Bridge API listening",
		zap.String("addr", s.listener.Addr().String()),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-sigChan:
		logging.Info("Shutdown signal received, stopping server...")
	case <-ctx.Done():
		logging.Info("Context cancelled, stopping server...")
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, closes stream clients and waits for
// in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down server...")

	s.stream.Close()
	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		logging.Warn("Shutdown timeout, forcing close")
		err = s.httpServer.Close()
	}

	logging.Sync()
	return err
}

// StreamClients returns the number of connected stream clients
func (s *Server) StreamClients() int {
	return s.stream.Clients()
}
