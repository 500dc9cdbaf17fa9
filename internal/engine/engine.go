// Package engine owns the process-scoped state of the watcher. Components are
// built once, in a fixed order, and torn down in reverse:
//
//	logger -> config -> chain provider -> redis -> registry -> sink ->
//	multiplexer -> gateway -> HTTP / gRPC
//
// The logger and config are built by the caller and handed to New.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/eth-engine-go/internal/chain"
	"github.com/rmacdonaldsmith/eth-engine-go/internal/config"
	"github.com/rmacdonaldsmith/eth-engine-go/internal/gateway"
	"github.com/rmacdonaldsmith/eth-engine-go/internal/health"
	"github.com/rmacdonaldsmith/eth-engine-go/internal/httpapi"
	"github.com/rmacdonaldsmith/eth-engine-go/internal/metrics"
	"github.com/rmacdonaldsmith/eth-engine-go/internal/multiplexer"
	registryimpl "github.com/rmacdonaldsmith/eth-engine-go/internal/registry"
	sinkimpl "github.com/rmacdonaldsmith/eth-engine-go/internal/sink"
	chainpkg "github.com/rmacdonaldsmith/eth-engine-go/pkg/chain"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/registry"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/sink"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/subscription"
)

var (
	// ErrClosed is returned by Run after Close
	ErrClosed = errors.New("engine is closed")
	// ErrAlreadyRunning is returned by a second concurrent Run
	ErrAlreadyRunning = errors.New("engine is already running")
)

const shutdownTimeout = 10 * time.Second

// Option overrides a component New would otherwise build from config.
type Option func(*options)

type options struct {
	provider chainpkg.Provider
	redis    redis.UniversalClient
	source   gateway.Source
	mailer   sinkimpl.Mailer
	metrics  *metrics.Metrics
}

// WithProvider uses p instead of dialing WebsocketURL. The engine does not
// close it.
func WithProvider(p chainpkg.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithRedisClient uses c instead of connecting to the configured server. The
// engine does not close it.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *options) { o.redis = c }
}

// WithSource reads commands from s instead of Redis pub/sub. The engine does
// not close it.
func WithSource(s gateway.Source) Option {
	return func(o *options) { o.source = s }
}

// WithMailer delivers email notifications through m instead of dialing the
// configured SMTP relay.
func WithMailer(m sinkimpl.Mailer) Option {
	return func(o *options) { o.mailer = m }
}

// WithMetrics registers the engine's collectors on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

type closer struct {
	name  string
	close func() error
}

// Engine wires the watcher's components together.
type Engine struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	provider chainpkg.Provider
	redis    redis.UniversalClient
	registry registry.Registry
	sink     sink.Sink
	mux      *multiplexer.Multiplexer
	source   gateway.Source
	gateway  *gateway.Gateway
	http     *httpapi.Server
	health   *health.Server

	// closers in construction order
	closers []closer

	mu      sync.RWMutex
	running bool
	closed  bool
}

// New builds every component. On failure the components already built are
// torn down before returning.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	e := &Engine{
		config:  cfg,
		logger:  logger.With(zap.String("component", "engine")),
		metrics: o.metrics,
	}
	if err := e.build(ctx, logger, o); err != nil {
		if cerr := e.teardown(); cerr != nil {
			e.logger.Warn("Teardown after failed start reported errors", zap.Error(cerr))
		}
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(ctx context.Context, logger *zap.Logger, o options) error {
	cfg := e.config

	// chain provider
	if o.provider != nil {
		e.provider = o.provider
	} else {
		p, err := chain.Dial(ctx, cfg.WebsocketURL, chain.Config{}, logger)
		if err != nil {
			return fmt.Errorf("failed to create chain provider: %w", err)
		}
		e.provider = p
		e.own("chain provider", p.Close)
	}

	// shared redis pool
	if o.redis != nil {
		e.redis = o.redis
	} else {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		e.own("redis", client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr(), err)
		}
		e.redis = client
	}

	switch cfg.RegistryBackend {
	case config.BackendRedis:
		e.registry = registryimpl.NewRedisRegistry(e.redis, cfg.RegistryPrefix)
	default:
		e.registry = registryimpl.NewInMemoryRegistry()
	}

	switch cfg.SinkBackend {
	case config.BackendRedis:
		e.sink = sinkimpl.NewRedisStreamSink(e.redis, cfg.SinkStream, cfg.SinkMaxLen)
	case config.BackendEmail:
		s, err := newEmailSink(cfg.Email, o.mailer)
		if err != nil {
			return err
		}
		e.sink = s
	default:
		e.sink = sinkimpl.NewInMemorySink()
	}
	e.own("sink", e.sink.Close)

	mux, err := multiplexer.New(multiplexer.Config{
		Registry:        e.registry,
		Provider:        e.provider,
		Logger:          logger,
		Metrics:         e.metrics,
		CallbackTimeout: cfg.CallbackTimeout,
	})
	if err != nil {
		return err
	}
	e.mux = mux
	e.own("multiplexer", mux.Close)

	e.source = o.source
	if e.source == nil {
		source := gateway.NewRedisSource(e.redis)
		e.source = source
		e.own("command source", source.Close)
	}

	gw, err := gateway.New(gateway.Config{
		SubscribeChannel:   cfg.SubscribeChannel,
		UnsubscribeChannel: cfg.UnsubscribeChannel,
		ResponsePrefix:     cfg.ResponsePrefix,
		CommandTimeout:     cfg.CommandTimeout,
		Multiplexer:        mux,
		Source:             e.source,
		Responder:          gateway.NewRedisResponder(e.redis),
		Callback:           e.notify,
		Logger:             logger,
		Metrics:            e.metrics,
	})
	if err != nil {
		return err
	}
	e.gateway = gw

	if cfg.HTTPAddr != "" {
		if cfg.JWTSecret == "" {
			e.logger.Warn("Admin HTTP API disabled: no JWT secret configured")
		} else {
			srv, err := httpapi.NewServer(e, httpapi.Config{
				Addr:      cfg.HTTPAddr,
				SecretKey: cfg.JWTSecret,
				Metrics:   e.metrics.Handler(),
				Logger:    logger,
			})
			if err != nil {
				return fmt.Errorf("failed to create admin API: %w", err)
			}
			e.http = srv
		}
	}

	if cfg.GRPCAddr != "" {
		e.health = health.NewServer(cfg.GRPCAddr, logger)
	}
	return nil
}

func newEmailSink(cfg config.EmailConfig, mailer sinkimpl.Mailer) (*sinkimpl.EmailSink, error) {
	if mailer == nil {
		client, err := sinkimpl.NewSMTPMailer(sinkimpl.SMTPConfig{
			Host:       cfg.Host,
			Port:       cfg.Port,
			Username:   cfg.Username,
			Password:   cfg.Password,
			RequireTLS: cfg.RequireTLS,
		})
		if err != nil {
			return nil, err
		}
		mailer = client
	}
	s, err := sinkimpl.NewEmailSink(mailer, cfg.From, cfg.To)
	if err != nil {
		return nil, fmt.Errorf("failed to create email sink: %w", err)
	}
	return s, nil
}

func (e *Engine) own(name string, fn func() error) {
	e.closers = append(e.closers, closer{name: name, close: fn})
}

// notify forwards a crossed threshold to the sink.
func (e *Engine) notify(ctx context.Context, match subscription.Match) error {
	err := e.sink.Send(ctx, sink.NewNotification(match))
	e.metrics.NotificationSent(err)
	if err != nil {
		return fmt.Errorf("failed to forward notification: %w", err)
	}
	return nil
}

// Run serves commands, the admin API and the health endpoint until ctx is
// cancelled or one of them fails.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		if e.health != nil {
			e.health.SetServing(false)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.gateway.Run(gctx)
	})

	if e.http != nil {
		g.Go(e.http.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return e.http.Stop(shutdownCtx)
		})
	}

	if e.health != nil {
		e.health.SetServing(true)
		g.Go(e.health.Start)
		g.Go(func() error {
			<-gctx.Done()
			e.health.Stop()
			return nil
		})
	}

	e.logger.Info("Engine running",
		zap.String("subscribe_channel", e.config.SubscribeChannel),
		zap.String("unsubscribe_channel", e.config.UnsubscribeChannel),
		zap.String("http", e.config.HTTPAddr),
		zap.String("grpc", e.config.GRPCAddr))

	err := g.Wait()
	e.logger.Info("Engine stopped", zap.Error(err))
	return err
}

// Healthy reports whether the engine is serving.
func (e *Engine) Healthy() (bool, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch {
	case e.closed:
		return false, "closed"
	case e.running:
		return true, "running"
	default:
		return false, "not started"
	}
}

// SubscribedEvents returns every live subscriber in subscribe order.
func (e *Engine) SubscribedEvents() []subscription.EventRef {
	return e.mux.SubscribedEvents()
}

// KeyCount returns the number of live chain listeners.
func (e *Engine) KeyCount() int {
	return e.mux.KeyCount()
}

// Multiplexer exposes the multiplexer for in-process callers.
func (e *Engine) Multiplexer() *multiplexer.Multiplexer {
	return e.mux
}

// Registry exposes the configured registry.
func (e *Engine) Registry() registry.Registry {
	return e.registry
}

// Sink exposes the configured sink.
func (e *Engine) Sink() sink.Sink {
	return e.sink
}

// Close tears every owned component down in reverse construction order.
// Safe to call multiple times.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	return e.teardown()
}

func (e *Engine) teardown() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		c := e.closers[i]
		if err := c.close(); err != nil {
			e.logger.Warn("Failed to close component", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

var _ httpapi.Status = (*Engine)(nil)
