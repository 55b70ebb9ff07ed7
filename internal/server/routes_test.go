package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Olgitta/kirk-ws/internal/patterns"
	"github.com/Olgitta/kirk-ws/internal/pubsub"
	"github.com/Olgitta/kirk-ws/internal/relay"
	"github.com/Olgitta/kirk-ws/internal/server"
	ws "github.com/Olgitta/kirk-ws/internal/websocket"
)

// failingSubscriber refuses one pattern and accepts the rest.
type failingSubscriber struct {
	*pubsub.MemoryBus
	reject string
}

func (s *failingSubscriber) PSubscribe(ctx context.Context, pattern string) (int, error) {
	if pattern == s.reject {
		return 0, errors.New("NOPERM")
	}
	return s.MemoryBus.PSubscribe(ctx, pattern)
}

type fixture struct {
	relay  *relay.Relay
	bus    *pubsub.MemoryBus
	server *server.Server
	http   *httptest.Server
}

func setup(t *testing.T, sub func(*pubsub.MemoryBus) pubsub.Subscriber) *fixture {
	t.Helper()

	bus, err := pubsub.NewMemoryBus(nil)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	var subscriber pubsub.Subscriber = bus
	if sub != nil {
		subscriber = sub(bus)
	}
	r := relay.New(patterns.Default(), subscriber, relay.WithMetrics(relay.NewMetrics(reg)))
	bridge := ws.NewBridge(r, ws.Options{})

	s, err := server.New(server.Dependencies{
		Relay:    r,
		Bridge:   bridge,
		Registry: reg,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(s.E)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = bridge.Close(ctx)
		ts.Close()
		_ = r.Close()
	})
	return &fixture{relay: r, bus: bus, server: s, http: ts}
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	f := setup(t, nil)

	code, body := get(t, f.http.URL+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"status":"starting","subscriptions":"uninitialized","connections":0,"patterns":[]}`, string(body))

	_, err := f.relay.Start(context.Background())
	require.NoError(t, err)

	code, body = get(t, f.http.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)

	var health server.HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ready", health.Subscriptions)
	require.Len(t, health.Patterns, 2)
	assert.True(t, health.Patterns[0].Subscribed)
}

func TestHealth_Degraded(t *testing.T) {
	f := setup(t, func(bus *pubsub.MemoryBus) pubsub.Subscriber {
		return &failingSubscriber{MemoryBus: bus, reject: "login:*:event:*"}
	})
	_, err := f.relay.Start(context.Background())
	require.NoError(t, err)

	code, body := get(t, f.http.URL+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	var health server.HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "ready", health.Subscriptions)
	assert.Equal(t, []server.PatternHealth{
		{Pattern: "seat:events:*_*", Subscribed: true},
		{Pattern: "login:*:event:*", Subscribed: false, Error: "NOPERM"},
	}, health.Patterns)
}

func TestPatterns(t *testing.T) {
	f := setup(t, nil)

	code, body := get(t, f.http.URL+"/patterns")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[
		{"pattern":"seat:events:*_*","event":"seat_events"},
		{"pattern":"login:*:event:*","event":"login_events"}
	]`, string(body))
}

func TestCORS(t *testing.T) {
	f := setup(t, nil)

	req, err := http.NewRequest(http.MethodGet, f.http.URL+"/patterns", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://anywhere.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocketEndToEnd(t *testing.T) {
	f := setup(t, nil)
	_, err := f.relay.Start(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "test complete")

	require.Eventually(t, func() bool {
		return f.relay.Registry().Len() == 1
	}, time.Second, 5*time.Millisecond)

	t.Run("bus message is relayed", func(t *testing.T) {
		require.NoError(t, f.bus.Publish(ctx, "seat:events:42_hold", "locked"))

		_, p, err := conn.Read(ctx)
		require.NoError(t, err)
		assert.JSONEq(t,
			`{"event":"seat_events","data":{"pattern":"seat:events:*_*","channel":"seat:events:42_hold","message":"locked"}}`,
			string(p))
	})

	t.Run("client message is acknowledged", func(t *testing.T) {
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"event":"message_from_client","data":"ping","id":1}`)))

		_, p, err := conn.Read(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, `{"event":"message_from_client","data":"Server received: ping","id":1}`, string(p))
	})

	t.Run("metrics reflect the traffic", func(t *testing.T) {
		// The upgrade is still open; HTTP metrics only count finished requests.
		code, _ := get(t, f.http.URL+"/healthz")
		require.Equal(t, http.StatusOK, code)

		code, body := get(t, f.http.URL+"/metrics")
		require.Equal(t, http.StatusOK, code)
		metrics := string(body)
		assert.Contains(t, metrics, "relay_connections 1")
		assert.Contains(t, metrics, `relay_events_dispatched_total{event="seat_events"} 1`)
		assert.Contains(t, metrics, `relay_subscription_up{pattern="seat:events:*_*"} 1`)
		assert.Contains(t, metrics, `http_requests_total{code="200",host=`)
		assert.Contains(t, metrics, `url="/healthz"`)
	})
}

func TestStartAndShutdown(t *testing.T) {
	f := setup(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Start(ctx, "127.0.0.1:0") }()

	require.Eventually(t, func() bool {
		return f.server.E.ListenerAddr() != nil
	}, 2*time.Second, 10*time.Millisecond)

	code, _ := get(t, "http://"+f.server.E.ListenerAddr().String()+"/patterns")
	assert.Equal(t, http.StatusOK, code)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(server.ShutdownTimeout):
		t.Fatal("server did not shut down")
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := server.New(server.Dependencies{})
	assert.Error(t, err)
}

// erroringPublisher fails every publish.
type erroringPublisher struct{}

func (erroringPublisher) Publish(ctx context.Context, channel, payload string) error {
	return pubsub.ErrClosed
}

func (erroringPublisher) Close() error { return nil }

func newPublishServer(t *testing.T, pub pubsub.Publisher) (*relay.Relay, *httptest.Server) {
	t.Helper()
	bus, err := pubsub.NewMemoryBus(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	if pub == nil {
		pub = bus
	}

	r := relay.New(patterns.Default(), bus)
	_, err = r.Start(context.Background())
	require.NoError(t, err)

	s, err := server.New(server.Dependencies{
		Relay:     r,
		Bridge:    ws.NewBridge(r, ws.Options{}),
		Publisher: pub,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(s.E)
	t.Cleanup(ts.Close)
	return r, ts
}

func postJSON(t *testing.T, url, body string) (int, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func TestPublish(t *testing.T) {
	r, ts := newPublishServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "test complete")
	require.Eventually(t, func() bool {
		return r.Registry().Len() == 1
	}, time.Second, 5*time.Millisecond)

	code, body := postJSON(t, ts.URL+"/publish", `{"channel":"seat:events:42_hold","message":"locked"}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.JSONEq(t, `{"channel":"seat:events:42_hold"}`, string(body))

	_, p, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"event":"seat_events","data":{"pattern":"seat:events:*_*","channel":"seat:events:42_hold","message":"locked"}}`,
		string(p))
}

func TestPublish_InvalidRequests(t *testing.T) {
	_, ts := newPublishServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"channel":`},
		{name: "missing channel", body: `{"message":"locked"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := postJSON(t, ts.URL+"/publish", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}
}

func TestPublish_BusFailure(t *testing.T) {
	_, ts := newPublishServer(t, erroringPublisher{})

	code, _ := postJSON(t, ts.URL+"/publish", `{"channel":"seat:1","message":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestPublish_NotRegisteredWithoutPublisher(t *testing.T) {
	f := setup(t, nil)

	code, _ := postJSON(t, f.http.URL+"/publish", `{"channel":"seat:1","message":"x"}`)
	assert.Equal(t, http.StatusNotFound, code)
}
