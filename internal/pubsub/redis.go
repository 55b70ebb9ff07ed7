package pubsub

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	kindPSubscribe   = "psubscribe"
	kindSubscribe    = "subscribe"
	kindPUnsubscribe = "punsubscribe"
	kindUnsubscribe  = "unsubscribe"

	// Backoff bounds for the receive loop after a connection error. The
	// go-redis PubSub reconnects and resubscribes on the next receive.
	minReceiveBackoff = 100 * time.Millisecond
	maxReceiveBackoff = 5 * time.Second
)

// RedisConfig holds the connection settings for the Redis bus.
type RedisConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	DB       int
	TLS      bool
}

// Addr returns the host:port address.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewRedisClient creates a Redis client from cfg. Every new connection is
// logged.
func NewRedisClient(cfg RedisConfig, logger *slog.Logger) *redis.Client {
	if logger == nil {
		logger = slog.Default()
	}
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		OnConnect: func(ctx context.Context, cn *redis.Conn) error {
			logger.Info("Successfully connected to Redis", "host", cfg.Host, "port", cfg.Port)
			return nil
		},
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.Host,
		}
	}
	return redis.NewClient(opts)
}

// RedisPublisher publishes on a regular (non-subscribing) Redis connection.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps client as a Publisher.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish implements the Publisher interface.
func (p *RedisPublisher) Publish(ctx context.Context, channel, payload string) error {
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Close implements the Publisher interface.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// RedisSubscriber owns a dedicated Redis pub/sub connection. Subscribe calls
// write the command and then wait for the server's reply, which arrives on the
// same stream as the messages and is picked up by the receive loop.
//
// Redis answers commands on a connection in the order they were sent, so
// waiters are kept in a queue in write order. A confirmation is matched to its
// waiter by kind and name; an error reply carries no name and goes to the
// oldest waiter.
type RedisSubscriber struct {
	ps     *redis.PubSub
	logger *slog.Logger

	// sendMu keeps the queue order equal to the write order.
	sendMu sync.Mutex

	mu        sync.Mutex
	pending   []*waiter
	active    map[string]struct{}
	onPattern PatternHandler
	onMessage MessageHandler

	startOnce sync.Once
	started   atomic.Bool
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

type subscribeResult struct {
	count int
	err   error
}

// waiter is one command awaiting its reply. A detached waiter has nobody
// listening: its caller gave up, or it is an unsubscribe sent by the
// subscriber itself.
type waiter struct {
	kind     string
	name     string
	result   chan subscribeResult
	detached bool
}

// NewRedisSubscriber takes a pub/sub connection of its own from client, so it
// never shares a connection with publishers using the same client.
func NewRedisSubscriber(client redis.UniversalClient, logger *slog.Logger) *RedisSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisSubscriber{
		// No patterns yet: go-redis defers the connection until the first
		// subscribe call.
		ps:     client.PSubscribe(ctx),
		logger: logger.With("component", "redis_subscriber"),
		active: make(map[string]struct{}),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// PSubscribe implements the Subscriber interface.
func (s *RedisSubscriber) PSubscribe(ctx context.Context, pattern string) (int, error) {
	return s.subscribe(ctx, kindPSubscribe, pattern, s.ps.PSubscribe)
}

// Subscribe implements the Subscriber interface.
func (s *RedisSubscriber) Subscribe(ctx context.Context, channel string) (int, error) {
	return s.subscribe(ctx, kindSubscribe, channel, s.ps.Subscribe)
}

func (s *RedisSubscriber) subscribe(ctx context.Context, kind, name string, send func(context.Context, ...string) error) (int, error) {
	select {
	case <-s.ctx.Done():
		return 0, ErrClosed
	default:
	}

	wasActive := s.isActive(kind, name)
	w := &waiter{kind: kind, name: name, result: make(chan subscribeResult, 1)}
	s.sendMu.Lock()
	s.enqueue(w)
	err := send(ctx, name)
	if err != nil {
		s.dequeue(w)
	}
	s.sendMu.Unlock()

	if err != nil {
		// go-redis remembers the name even when the write fails and would
		// subscribe it again on the next reconnect.
		if !wasActive {
			s.forget(kind, name)
		}
		return 0, fmt.Errorf("%s %q: %w", kind, name, err)
	}
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.receive()
	})

	select {
	case res := <-w.result:
		if res.err != nil {
			return 0, fmt.Errorf("%s %q: %w", kind, name, res.err)
		}
		return res.count, nil
	case <-ctx.Done():
		s.detach(w)
		if !wasActive {
			s.forget(kind, name)
		}
		return 0, ctx.Err()
	case <-s.ctx.Done():
		return 0, ErrClosed
	}
}

func pendingKey(kind, name string) string {
	return kind + "\x00" + name
}

func (s *RedisSubscriber) enqueue(w *waiter) {
	s.mu.Lock()
	s.pending = append(s.pending, w)
	s.mu.Unlock()
}

func (s *RedisSubscriber) dequeue(w *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.pending, w); i >= 0 {
		s.pending = slices.Delete(s.pending, i, i+1)
	}
}

// detach keeps w queued so later replies still line up, but stops delivering
// its result to anyone.
func (s *RedisSubscriber) detach(w *waiter) {
	s.mu.Lock()
	w.detached = true
	s.mu.Unlock()
}

func (s *RedisSubscriber) isActive(kind, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[pendingKey(kind, name)]
	return ok
}

// forget unsubscribes a name whose subscribe was reported as failed, so
// neither a late confirmation nor go-redis's resubscribe set brings it back.
func (s *RedisSubscriber) forget(kind, name string) {
	s.mu.Lock()
	delete(s.active, pendingKey(kind, name))
	s.mu.Unlock()

	unsubKind, unsend := kindPUnsubscribe, s.ps.PUnsubscribe
	if kind == kindSubscribe {
		unsubKind, unsend = kindUnsubscribe, s.ps.Unsubscribe
	}
	w := &waiter{kind: unsubKind, name: name, result: make(chan subscribeResult, 1), detached: true}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.enqueue(w)
	if err := unsend(context.Background(), name); err != nil {
		s.dequeue(w)
		s.logger.Debug("Failed to drop unconfirmed subscription", "kind", kind, "name", name, "error", err)
	}
}

// confirm completes the oldest waiter for kind and name. It reports false
// when nothing was waiting, as for go-redis resubscribing after a reconnect.
func (s *RedisSubscriber) confirm(kind, name string, count int) bool {
	s.mu.Lock()
	i := slices.IndexFunc(s.pending, func(w *waiter) bool {
		return w.kind == kind && w.name == name
	})
	switch kind {
	case kindPSubscribe, kindSubscribe:
		s.active[pendingKey(kind, name)] = struct{}{}
	case kindPUnsubscribe:
		delete(s.active, pendingKey(kindPSubscribe, name))
	case kindUnsubscribe:
		delete(s.active, pendingKey(kindSubscribe, name))
	}
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	w := s.pending[i]
	s.pending = slices.Delete(s.pending, i, i+1)
	detached := w.detached
	s.mu.Unlock()

	if !detached {
		w.result <- subscribeResult{count: count}
	}
	return true
}

// reject fails the oldest waiter with an error reply from the server.
func (s *RedisSubscriber) reject(err error) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		s.logger.Error("Redis error reply with no pending command", "error", err)
		return
	}
	w := s.pending[0]
	s.pending = s.pending[1:]
	detached := w.detached
	s.mu.Unlock()

	s.logger.Warn("Redis rejected command", "kind", w.kind, "name", w.name, "error", err)
	if (w.kind == kindPSubscribe || w.kind == kindSubscribe) && !s.isActive(w.kind, w.name) {
		go s.forget(w.kind, w.name)
	}
	if !detached {
		w.result <- subscribeResult{err: err}
	}
}

// dropDetached discards waiters nobody listens to. After a connection error
// their replies are lost; go-redis resubscribes the live ones by itself.
func (s *RedisSubscriber) dropDetached() {
	s.mu.Lock()
	s.pending = slices.DeleteFunc(s.pending, func(w *waiter) bool { return w.detached })
	s.mu.Unlock()
}

// OnPatternMessage implements the Subscriber interface.
func (s *RedisSubscriber) OnPatternMessage(h PatternHandler) {
	s.mu.Lock()
	s.onPattern = h
	s.mu.Unlock()
}

// OnMessage implements the Subscriber interface.
func (s *RedisSubscriber) OnMessage(h MessageHandler) {
	s.mu.Lock()
	s.onMessage = h
	s.mu.Unlock()
}

func (s *RedisSubscriber) handlers() (PatternHandler, MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onPattern, s.onMessage
}

// receive reads the pub/sub stream until the subscriber is closed. Messages
// are handed to the handlers one at a time, in the order Redis sent them.
func (s *RedisSubscriber) receive() {
	defer close(s.done)
	backoff := minReceiveBackoff

	for {
		msg, err := s.ps.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				s.logger.Debug("Redis receive loop ended")
				return
			}
			// An error reply answers one command; the connection stays usable.
			var replyErr redis.Error
			if errors.As(err, &replyErr) {
				s.reject(err)
				continue
			}
			s.dropDetached()
			s.logger.Error("Redis subscriber connection error", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-s.ctx.Done():
				return
			}
			backoff = min(backoff*2, maxReceiveBackoff)
			continue
		}
		backoff = minReceiveBackoff

		switch m := msg.(type) {
		case *redis.Subscription:
			if !s.confirm(m.Kind, m.Channel, m.Count) {
				s.logger.Info("Redis subscription confirmed", "kind", m.Kind, "name", m.Channel, "count", m.Count)
			}
		case *redis.Message:
			onPattern, onMessage := s.handlers()
			if m.Pattern != "" {
				if onPattern != nil {
					onPattern(s.ctx, PatternMessage{Pattern: m.Pattern, Channel: m.Channel, Payload: m.Payload})
				}
				continue
			}
			if onMessage != nil {
				onMessage(s.ctx, Message{Channel: m.Channel, Payload: m.Payload})
			}
		case *redis.Pong:
		default:
			s.logger.Warn("Unexpected message on Redis subscriber", "type", fmt.Sprintf("%T", msg))
		}
	}
}

// Close implements the Subscriber interface.
func (s *RedisSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.ps.Close()
		if s.started.Load() {
			<-s.done
		}
	})
	return err
}
