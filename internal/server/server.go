package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

type Stopper interface {
	Stop(ctx context.Context) error
}

type StopFunc func(ctx context.Context) error

func (s StopFunc) Stop(ctx context.Context) error {
	return s(ctx)
}

type Options struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownGrace     time.Duration

	// Stoppers run before the listeners drain (probe loops, watchers);
	// Closers run last (stores, queues).
	Stoppers []Stopper
	Closers  []io.Closer
}

func applyDefaults(options Options) Options {
	if options.ReadHeaderTimeout <= 0 {
		options.ReadHeaderTimeout = 10 * time.Second
	}
	if options.ReadTimeout <= 0 {
		options.ReadTimeout = 30 * time.Second
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = 60 * time.Second
	}
	if options.IdleTimeout <= 0 {
		options.IdleTimeout = 120 * time.Second
	}
	if options.ShutdownGrace <= 0 {
		options.ShutdownGrace = 10 * time.Second
	}
	return options
}

type Server struct {
	GatewayAddr string
	AdminAddr   string

	gatewaySrv *http.Server
	adminSrv   *http.Server
	gatewayLn  net.Listener
	adminLn    net.Listener

	options      Options
	shutdownOnce sync.Once
	shutdownErr  error
}

// StartServers brings up the public gateway listener and the admin
// listener and serves both in the background.
func StartServers(gatewayHandler http.Handler, adminHandler http.Handler, gatewayAddr string, adminAddr string, options Options) (*Server, error) {
	if gatewayHandler == nil {
		return nil, errors.New("gateway handler is nil")
	}
	options = applyDefaults(options)

	gatewayLn, err := net.Listen("tcp", gatewayAddr)
	if err != nil {
		return nil, err
	}
	gatewaySrv := newHTTPServer(gatewayHandler, options)
	go serve(gatewaySrv, gatewayLn)

	var adminSrv *http.Server
	var adminLn net.Listener
	if adminHandler != nil && adminAddr != "" {
		adminLn, err = net.Listen("tcp", adminAddr)
		if err != nil {
			_ = gatewayLn.Close()
			return nil, err
		}
		adminSrv = newHTTPServer(adminHandler, options)
		go serve(adminSrv, adminLn)
	}

	return &Server{
		GatewayAddr: addrString(gatewayLn),
		AdminAddr:   addrString(adminLn),
		gatewaySrv:  gatewaySrv,
		adminSrv:    adminSrv,
		gatewayLn:   gatewayLn,
		adminLn:     adminLn,
		options:     options,
	}, nil
}

func newHTTPServer(handler http.Handler, options Options) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: options.ReadHeaderTimeout,
		ReadTimeout:       options.ReadTimeout,
		WriteTimeout:      options.WriteTimeout,
		IdleTimeout:       options.IdleTimeout,
	}
}

func serve(server *http.Server, ln net.Listener) {
	if server == nil || ln == nil {
		return
	}
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server error: %v", err)
	}
}

func addrString(ln net.Listener) string {
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	return s.Shutdown()
}

// Shutdown stops background work first, then drains the listeners,
// then closes the durable stores, so no handler observes a closed
// store.
func (s *Server) Shutdown() error {
	if s == nil {
		return nil
	}
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdownSequence()
	})
	return s.shutdownErr
}

func (s *Server) shutdownSequence() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownGrace)
	defer cancel()

	for _, stopper := range s.options.Stoppers {
		if stopper != nil {
			_ = stopper.Stop(ctx)
		}
	}

	var firstErr error
	if s.gatewaySrv != nil {
		if err := s.gatewaySrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			firstErr = err
		}
	}
	if s.adminSrv != nil {
		if err := s.adminSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && firstErr == nil {
			firstErr = err
		}
	}

	for _, closer := range s.options.Closers {
		if closer == nil {
			continue
		}
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
