package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Olgitta/kirk-ws/internal/pubsub"
)

var errConnGone = errors.New("connection gone")

// fakeConn records every frame sent to it.
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errConnGone
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) setFail(fail bool) {
	c.mu.Lock()
	c.fail = fail
	c.mu.Unlock()
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// decodedEvent is the generic JSON shape of a frame.
type decodedEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func decodeFrame(t *testing.T, frame []byte) decodedEvent {
	t.Helper()
	var ev decodedEvent
	require.NoError(t, json.Unmarshal(frame, &ev))
	return ev
}

// recordingBroadcaster captures broadcasts instead of delivering them.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, name string, data any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, Event{Name: name, Data: data})
	return 1
}

func (b *recordingBroadcaster) all() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// fakeSubscriber is a scripted pubsub.Subscriber.
type fakeSubscriber struct {
	mu        sync.Mutex
	onPattern pubsub.PatternHandler
	onMessage pubsub.MessageHandler
	failures  map[string]error
	block     map[string]bool
	// handlersSetAtSubscribe records, per pattern, whether the pattern
	// handler had been registered when PSubscribe was called.
	handlersSetAtSubscribe map[string]bool
	subscribed             []string
	closed                 bool
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		failures:               make(map[string]error),
		block:                  make(map[string]bool),
		handlersSetAtSubscribe: make(map[string]bool),
	}
}

func (s *fakeSubscriber) PSubscribe(ctx context.Context, pattern string) (int, error) {
	s.mu.Lock()
	s.handlersSetAtSubscribe[pattern] = s.onPattern != nil
	err := s.failures[pattern]
	block := s.block[pattern]
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, pattern)
	return len(s.subscribed), nil
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, channel string) (int, error) {
	return 0, errors.New("not supported")
}

func (s *fakeSubscriber) OnPatternMessage(h pubsub.PatternHandler) {
	s.mu.Lock()
	s.onPattern = h
	s.mu.Unlock()
}

func (s *fakeSubscriber) OnMessage(h pubsub.MessageHandler) {
	s.mu.Lock()
	s.onMessage = h
	s.mu.Unlock()
}

func (s *fakeSubscriber) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSubscriber) deliverPattern(pattern, channel, payload string) {
	s.mu.Lock()
	h := s.onPattern
	s.mu.Unlock()
	h(context.Background(), pubsub.PatternMessage{Pattern: pattern, Channel: channel, Payload: payload})
}

func (s *fakeSubscriber) deliverMessage(channel, payload string) {
	s.mu.Lock()
	h := s.onMessage
	s.mu.Unlock()
	h(context.Background(), pubsub.Message{Channel: channel, Payload: payload})
}

func (s *fakeSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
