package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"

	"github.com/Olgitta/kirk-ws/internal/config"
	"github.com/Olgitta/kirk-ws/internal/patterns"
	"github.com/Olgitta/kirk-ws/internal/pubsub"
	"github.com/Olgitta/kirk-ws/internal/relay"
	"github.com/Olgitta/kirk-ws/internal/server"
	"github.com/Olgitta/kirk-ws/internal/websocket"
)

// Tracing is the tracer shared by the bus and the relay, plus the function
// that flushes it.
type Tracing struct {
	Tracer   trace.Tracer
	Shutdown func()
}

// Bus holds the two bus roles. The subscriber is a connection of its own,
// never the one used for publishing.
type Bus struct {
	Publisher  pubsub.Publisher
	Subscriber pubsub.Subscriber
}

// Dependencies are the values the container is built from.
type Dependencies struct {
	Config  *config.Config
	Logger  *slog.Logger
	Fs      afero.Fs
	Version string
}

// register wires every service into i. Services are built lazily on first
// use; those holding resources hand a release function to track.
func register(i do.Injector, deps Dependencies, track func(func() error)) {
	do.ProvideValue(i, deps.Config)
	do.ProvideValue(i, deps.Logger)
	do.ProvideValue(i, deps.Fs)

	do.Provide(i, func(i do.Injector) (*Tracing, error) {
		cfg := do.MustInvoke[*config.Config](i)
		tracer, shutdown, err := pubsub.SetupOTel(context.Background(), cfg.Tracing, deps.Version)
		if err != nil {
			return nil, err
		}
		track(func() error {
			shutdown()
			return nil
		})
		return &Tracing{Tracer: tracer, Shutdown: shutdown}, nil
	})

	do.Provide(i, func(i do.Injector) (*prometheus.Registry, error) {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		return reg, nil
	})

	do.Provide(i, func(i do.Injector) (*relay.Metrics, error) {
		return relay.NewMetrics(do.MustInvoke[*prometheus.Registry](i)), nil
	})

	do.Provide(i, func(i do.Injector) (*Bus, error) {
		bus, err := newBus(i)
		if err != nil {
			return nil, err
		}
		track(func() error {
			return errors.Join(bus.Subscriber.Close(), bus.Publisher.Close())
		})
		return bus, nil
	})

	do.Provide(i, func(i do.Injector) (*patterns.Table, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.PatternsFile == "" {
			return patterns.Default(), nil
		}
		return patterns.LoadFile(do.MustInvoke[afero.Fs](i), cfg.PatternsFile)
	})

	do.Provide(i, func(i do.Injector) (*relay.Relay, error) {
		bus, err := do.Invoke[*Bus](i)
		if err != nil {
			return nil, err
		}
		table, err := do.Invoke[*patterns.Table](i)
		if err != nil {
			return nil, err
		}
		tracing, err := do.Invoke[*Tracing](i)
		if err != nil {
			return nil, err
		}
		return relay.New(table, bus.Subscriber,
			relay.WithLogger(do.MustInvoke[*slog.Logger](i)),
			relay.WithTracer(tracing.Tracer),
			relay.WithMetrics(do.MustInvoke[*relay.Metrics](i)),
		), nil
	})

	do.Provide(i, func(i do.Injector) (*websocket.Bridge, error) {
		r, err := do.Invoke[*relay.Relay](i)
		if err != nil {
			return nil, err
		}
		cfg := do.MustInvoke[*config.Config](i)
		return websocket.NewBridge(r, websocket.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			SendBuffer:     cfg.SendBuffer,
			Logger:         do.MustInvoke[*slog.Logger](i),
		}), nil
	})

	do.Provide(i, func(i do.Injector) (*server.Server, error) {
		r, err := do.Invoke[*relay.Relay](i)
		if err != nil {
			return nil, err
		}
		bridge, err := do.Invoke[*websocket.Bridge](i)
		if err != nil {
			return nil, err
		}
		cfg := do.MustInvoke[*config.Config](i)
		serverDeps := server.Dependencies{
			Relay:          r,
			Bridge:         bridge,
			Registry:       do.MustInvoke[*prometheus.Registry](i),
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         do.MustInvoke[*slog.Logger](i),
		}
		// The in-memory bus lives inside this process, so the relay itself
		// is the only way to publish on it.
		if cfg.Bus == config.BusMemory {
			bus, err := do.Invoke[*Bus](i)
			if err != nil {
				return nil, err
			}
			serverDeps.Publisher = bus.Publisher
		}
		return server.New(serverDeps)
	})
}

// newBus connects the bus selected in the configuration.
func newBus(i do.Injector) (*Bus, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)
	tracing, err := do.Invoke[*Tracing](i)
	if err != nil {
		return nil, err
	}

	switch cfg.Bus {
	case config.BusMemory:
		bus, err := pubsub.NewMemoryBus(logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Using in-memory bus")
		return &Bus{
			Publisher:  pubsub.NewPublisherTracingMiddleware(bus, tracing.Tracer),
			Subscriber: bus,
		}, nil

	case config.BusRedis:
		redisCfg := cfg.Redis()
		client := pubsub.NewRedisClient(redisCfg, logger)
		logger.Info("Using Redis bus", "addr", redisCfg.Addr(), "tls", redisCfg.TLS)
		return &Bus{
			Publisher:  pubsub.NewPublisherTracingMiddleware(pubsub.NewRedisPublisher(client), tracing.Tracer),
			Subscriber: pubsub.NewRedisSubscriber(client, logger),
		}, nil

	default:
		return nil, fmt.Errorf("unknown bus %q", cfg.Bus)
	}
}
