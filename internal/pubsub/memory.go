package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gobwas/glob"
)

const (
	// memoryTopic is the single watermill topic every bus message travels on.
	// Channel routing happens on our side so that glob patterns work.
	memoryTopic = "relay.bus"

	// Metadata key used to transfer the bus channel through watermill's message.
	metaKeyChannel = "channel"
)

type memoryPattern struct {
	raw     string
	matcher glob.Glob
}

// MemoryBus is an in-process bus with Redis-like pattern semantics, built on
// watermill's GoChannel. It serves as both Publisher and Subscriber and backs
// the relay when no Redis server is configured.
type MemoryBus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger

	mu        sync.RWMutex
	patterns  []memoryPattern
	channels  map[string]struct{}
	onPattern PatternHandler
	onMessage MessageHandler
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemoryBus initializes an in-memory bus and starts its delivery loop.
func NewMemoryBus(logger *slog.Logger) (*MemoryBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{
			// Publish returns only after the delivery loop acked, which keeps
			// the order of a single publisher intact.
			BlockPublishUntilSubscriberAck: true,
		},
		watermill.NewStdLogger(false, false),
	)

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := goChannel.Subscribe(ctx, memoryTopic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to memory bus: %w", err)
	}

	b := &MemoryBus{
		pubsub:   goChannel,
		logger:   logger.With("component", "memory_bus"),
		channels: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go b.deliver(messages)
	return b, nil
}

// Publish implements the Publisher interface.
func (b *MemoryBus) Publish(ctx context.Context, channel, payload string) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	wmMsg := message.NewMessage(watermill.NewUUID(), []byte(payload))
	wmMsg.Metadata.Set(metaKeyChannel, channel)
	wmMsg.SetContext(ctx)
	return b.pubsub.Publish(memoryTopic, wmMsg)
}

// PSubscribe implements the Subscriber interface. Subscribing to a pattern
// twice is a no-op, as it is on Redis.
func (b *MemoryBus) PSubscribe(ctx context.Context, pattern string) (int, error) {
	matcher, err := compilePattern(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	for _, p := range b.patterns {
		if p.raw == pattern {
			return b.countLocked(), nil
		}
	}
	b.patterns = append(b.patterns, memoryPattern{raw: pattern, matcher: matcher})
	return b.countLocked(), nil
}

// Subscribe implements the Subscriber interface.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	b.channels[channel] = struct{}{}
	return b.countLocked(), nil
}

func (b *MemoryBus) countLocked() int {
	return len(b.patterns) + len(b.channels)
}

// OnPatternMessage implements the Subscriber interface.
func (b *MemoryBus) OnPatternMessage(h PatternHandler) {
	b.mu.Lock()
	b.onPattern = h
	b.mu.Unlock()
}

// OnMessage implements the Subscriber interface.
func (b *MemoryBus) OnMessage(h MessageHandler) {
	b.mu.Lock()
	b.onMessage = h
	b.mu.Unlock()
}

// deliver fans each bus message out to every matching pattern and, if the
// channel is directly subscribed, to the message handler.
func (b *MemoryBus) deliver(messages <-chan *message.Message) {
	defer close(b.done)
	for wmMsg := range messages {
		channel := wmMsg.Metadata.Get(metaKeyChannel)
		payload := string(wmMsg.Payload)

		b.mu.RLock()
		var matched []string
		for _, p := range b.patterns {
			if p.matcher.Match(channel) {
				matched = append(matched, p.raw)
			}
		}
		_, direct := b.channels[channel]
		onPattern, onMessage := b.onPattern, b.onMessage
		b.mu.RUnlock()

		if onPattern != nil {
			for _, pattern := range matched {
				onPattern(b.ctx, PatternMessage{Pattern: pattern, Channel: channel, Payload: payload})
			}
		}
		if direct && onMessage != nil {
			onMessage(b.ctx, Message{Channel: channel, Payload: payload})
		}
		if len(matched) == 0 && !direct {
			b.logger.Debug("No subscription matched channel", "channel", channel)
		}
		wmMsg.Ack()
	}
	b.logger.Debug("Memory bus delivery loop ended")
}

// Close implements the Publisher and Subscriber interfaces.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	err := b.pubsub.Close()
	<-b.done
	return err
}
