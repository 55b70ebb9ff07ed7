package server

import (
	"net/http"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Olgitta/kirk-ws/internal/middleware"
	"github.com/Olgitta/kirk-ws/internal/relay"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status        string          `json:"status"`
	Subscriptions string          `json:"subscriptions"`
	Connections   int             `json:"connections"`
	Patterns      []PatternHealth `json:"patterns"`
}

// PatternHealth reports one pattern subscription.
type PatternHealth struct {
	Pattern    string `json:"pattern"`
	Subscribed bool   `json:"subscribed"`
	Error      string `json:"error,omitempty"`
}

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes(registry *prometheus.Registry) {
	s.E.GET("/ws", s.bridge.Handler(), middleware.RateLimiter())
	s.E.GET("/healthz", s.health)
	s.E.GET("/patterns", s.patterns)
	if s.publisher != nil {
		s.E.POST("/publish", s.publish)
	}
	if registry != nil {
		s.E.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
			Gatherer: registry,
		}))
	}
}

// health reports 200 once every pattern subscription was attempted and
// succeeded, 503 otherwise.
func (s *Server) health(c echo.Context) error {
	subs := s.relay.Subscriptions()
	state := subs.State()

	resp := HealthResponse{
		Status:        "ok",
		Subscriptions: state.String(),
		Connections:   s.relay.Registry().Len(),
		Patterns:      []PatternHealth{},
	}
	for _, o := range subs.Outcomes() {
		p := PatternHealth{Pattern: o.Pattern, Subscribed: o.OK()}
		if o.Err != nil {
			p.Error = o.Err.Error()
			resp.Status = "degraded"
		}
		resp.Patterns = append(resp.Patterns, p)
	}

	code := http.StatusOK
	if state != relay.StateReady {
		resp.Status = "starting"
		code = http.StatusServiceUnavailable
	} else if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func (s *Server) patterns(c echo.Context) error {
	return c.JSON(http.StatusOK, s.relay.Table().Entries())
}

// publish puts a message on the bus, as an external publisher would.
func (s *Server) publish(c echo.Context) error {
	var req PublishRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.publisher.Publish(c.Request().Context(), req.Channel, req.Message); err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to publish", "channel", req.Channel, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "bus unavailable")
	}
	return c.JSON(http.StatusAccepted, PublishResponse{Channel: req.Channel})
}
