// Package gateway hosts the chat transports, the dispatch workers and the
// status server in one process.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/cache"
	"mehranbot/pkg/channel"
	"mehranbot/pkg/config"
	"mehranbot/pkg/logger"
)

const (
	defaultHealthHost   = "0.0.0.0"
	defaultHealthPort   = 18790
	healthCheckInterval = 30 * time.Second
	eventBuffer         = 64
)

// Engine is the dispatch side driven by the gateway.
type Engine interface {
	Run(ctx context.Context, workers int) error
	InFlight() int64
	CacheStats() cache.Stats
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the collaborators built by the caller. LLM may be nil.
type Deps struct {
	Engine Engine
	Bus    *bus.MessageBus
	LLM    HealthChecker
}

type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	engine   Engine
	bus      *bus.MessageBus
	llm      HealthChecker
	channels []channel.Adapter
	metrics  *metrics
	board    *statusBoard

	addr atomic.Pointer[string]
}

func NewService(cfg *config.Config, adapters []channel.Adapter, deps Deps, log *slog.Logger) (*Service, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("config is required")
	case len(adapters) == 0:
		return nil, errors.New("at least one channel adapter is required")
	case deps.Engine == nil:
		return nil, errors.New("dispatch engine is required")
	case deps.Bus == nil:
		return nil, errors.New("message bus is required")
	}

	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return &Service{
		cfg:      cfg,
		log:      logger.Component(log, "gateway.service"),
		engine:   deps.Engine,
		bus:      deps.Bus,
		llm:      deps.LLM,
		channels: adapters,
		metrics:  newMetrics(deps.Engine, deps.Bus),
		board:    newStatusBoard(names...),
	}, nil
}

// Run blocks until ctx is cancelled or a component fails. Cancelling ctx is
// a clean shutdown and returns nil.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.board.markStarted(time.Now())

	listener, err := s.listen()
	if err != nil {
		return err
	}

	// Subscribe before any worker can publish so no early event is lost.
	events, unsubscribe := s.bus.SubscribeEvents(ctx, eventBuffer)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.serveStatus(groupCtx, listener)
	})
	group.Go(func() error {
		defer unsubscribe()
		s.observeEvents(groupCtx, events)
		return nil
	})
	group.Go(func() error {
		return s.engine.Run(groupCtx, s.cfg.Dispatch.Workers)
	})
	if s.llm != nil {
		group.Go(func() error {
			s.watchLLMHealth(groupCtx)
			return nil
		})
	}

	for _, adapter := range s.channels {
		s.board.setChannel(adapter.Name(), true, nil)

		group.Go(func() error {
			err := adapter.Run(groupCtx, s.enqueue)
			s.board.setChannel(adapter.Name(), false, err)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
			return nil
		})
	}

	err = group.Wait()
	s.bus.Close()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// enqueue is the channel.Handler given to every adapter. It only queues;
// dispatch workers do the work.
func (s *Service) enqueue(ctx context.Context, msg bus.InboundMessage, replier bus.Replier) error {
	if !s.bus.PublishInbound(ctx, bus.Envelope{Message: msg, Reply: replier}) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errors.New("dispatch queue closed")
	}
	return nil
}

func (s *Service) listen() (net.Listener, error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}
	port := s.cfg.Gateway.Port
	if port < 0 {
		port = defaultHealthPort
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("start status server: %w", err)
	}

	addr := listener.Addr().String()
	s.addr.Store(&addr)
	return listener, nil
}

// Addr returns the status server address once Run has started listening.
func (s *Service) Addr() string {
	if addr := s.addr.Load(); addr != nil {
		return *addr
	}
	return ""
}

// Handler serves /healthz, /readyz and /metrics.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", s.probeHandler(alwaysOK, "ok", "ok"))
	mux.Handle("/readyz", s.probeHandler(s.board.ready, "ready", "not_ready"))
	mux.Handle("/metrics", s.metrics.handler())
	return mux
}

func (s *Service) serveStatus(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve status: %w", err)
	}
	return nil
}

func (s *Service) watchLLMHealth(ctx context.Context) {
	s.checkLLMHealth(ctx)

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkLLMHealth(ctx)
		}
	}
}

func (s *Service) checkLLMHealth(ctx context.Context) {
	err := s.llm.Health(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}
	if !s.board.recordLLM(err, time.Now()) {
		return
	}
	if err != nil {
		s.log.Warn("LLM backend unhealthy", "error", err)
	} else {
		s.log.Info("LLM backend recovered")
	}
}
