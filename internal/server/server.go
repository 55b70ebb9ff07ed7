package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	appmw "github.com/Olgitta/kirk-ws/internal/middleware"
	"github.com/Olgitta/kirk-ws/internal/pubsub"
	"github.com/Olgitta/kirk-ws/internal/relay"
	"github.com/Olgitta/kirk-ws/internal/websocket"
)

// Dependencies are what the HTTP server serves.
type Dependencies struct {
	Relay  *relay.Relay
	Bridge *websocket.Bridge
	// Registry backs /metrics. Nil disables the endpoint.
	Registry *prometheus.Registry
	// Publisher backs POST /publish. Nil leaves the endpoint out; it is only
	// set for the in-memory bus, which nothing outside the process can reach.
	Publisher pubsub.Publisher
	// AllowedOrigins are sent in CORS responses. Empty allows any origin.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server is the relay's HTTP front: the websocket endpoint plus health,
// pattern and metrics endpoints.
type Server struct {
	E         *echo.Echo
	relay     *relay.Relay
	bridge    *websocket.Bridge
	publisher pubsub.Publisher
	logger    *slog.Logger
}

// New creates the server and registers its routes.
func New(deps Dependencies) (*Server, error) {
	if deps.Relay == nil || deps.Bridge == nil {
		return nil, errors.New("server: relay and bridge are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewCustomValidator()
	setupErrorHandling(e, logger)

	e.Use(middleware.RequestID())
	e.Use(appmw.Logger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: corsOrigins(deps.AllowedOrigins),
	}))
	if deps.Registry != nil {
		e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Subsystem:  "http",
			Registerer: deps.Registry,
			Skipper: func(c echo.Context) bool {
				return c.Path() == "/metrics"
			},
		}))
	}

	s := &Server{
		E:         e,
		relay:     deps.Relay,
		bridge:    deps.Bridge,
		publisher: deps.Publisher,
		logger:    logger,
	}
	s.RegisterRoutes(deps.Registry)
	return s, nil
}

func corsOrigins(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{"*"}
	}
	return allowed
}

// Shutdown stops accepting requests, closes the websocket clients and waits
// for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(
		s.bridge.Close(ctx),
		s.E.Shutdown(ctx),
	)
}
