package pubsub_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Olgitta/kirk-ws/internal/pubsub"
)

// collector records everything a subscriber delivers.
type collector struct {
	mu       sync.Mutex
	patterns []pubsub.PatternMessage
	direct   []pubsub.Message
}

func (c *collector) onPattern(ctx context.Context, msg pubsub.PatternMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns = append(c.patterns, msg)
}

func (c *collector) onMessage(ctx context.Context, msg pubsub.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.direct = append(c.direct, msg)
}

func (c *collector) patternMessages() []pubsub.PatternMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]pubsub.PatternMessage, len(c.patterns))
	copy(out, c.patterns)
	return out
}

func (c *collector) directMessages() []pubsub.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]pubsub.Message, len(c.direct))
	copy(out, c.direct)
	return out
}

func newMemoryBus(t *testing.T) (*pubsub.MemoryBus, *collector) {
	t.Helper()
	bus, err := pubsub.NewMemoryBus(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	c := &collector{}
	bus.OnPatternMessage(c.onPattern)
	bus.OnMessage(c.onMessage)
	return bus, c
}

func TestMemoryBus_PSubscribe(t *testing.T) {
	ctx := context.Background()
	bus, c := newMemoryBus(t)

	count, err := bus.PSubscribe(ctx, "seat:events:*_*")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = bus.PSubscribe(ctx, "seat:*")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	t.Run("duplicate pattern keeps the count", func(t *testing.T) {
		count, err := bus.PSubscribe(ctx, "seat:*")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("channel matching both patterns is delivered once per pattern", func(t *testing.T) {
		require.NoError(t, bus.Publish(ctx, "seat:events:42_hold", "locked"))

		require.Eventually(t, func() bool {
			return len(c.patternMessages()) == 2
		}, time.Second, 10*time.Millisecond)

		msgs := c.patternMessages()
		assert.ElementsMatch(t, []pubsub.PatternMessage{
			{Pattern: "seat:events:*_*", Channel: "seat:events:42_hold", Payload: "locked"},
			{Pattern: "seat:*", Channel: "seat:events:42_hold", Payload: "locked"},
		}, msgs)
	})

	t.Run("unmatched channel is not delivered", func(t *testing.T) {
		before := len(c.patternMessages())
		require.NoError(t, bus.Publish(ctx, "chat:room:1", "hello"))
		require.NoError(t, bus.Publish(ctx, "seat:x", "marker"))

		require.Eventually(t, func() bool {
			return len(c.patternMessages()) == before+1
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, "seat:x", c.patternMessages()[before].Channel)
	})
}

func TestMemoryBus_InvalidPattern(t *testing.T) {
	bus, _ := newMemoryBus(t)
	_, err := bus.PSubscribe(context.Background(), "seat:[")
	assert.Error(t, err)
}

func TestMemoryBus_RedisPatternSyntax(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		published []string
		want      []string
	}{
		{
			name:      "caret negates a class",
			pattern:   "h[^e]llo",
			published: []string{"hello", "hallo"},
			want:      []string{"hallo"},
		},
		{
			name:      "braces are literal",
			pattern:   "a{b,c}",
			published: []string{"ab", "ac", "a{b,c}"},
			want:      []string{"a{b,c}"},
		},
		{
			name:      "escaped star is literal",
			pattern:   `seat:\*`,
			published: []string{"seat:1", "seat:*"},
			want:      []string{"seat:*"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			bus, c := newMemoryBus(t)
			_, err := bus.PSubscribe(ctx, tt.pattern)
			require.NoError(t, err)

			for _, ch := range tt.published {
				require.NoError(t, bus.Publish(ctx, ch, "x"))
			}

			// Publish returns once the message was handled.
			var got []string
			for _, m := range c.patternMessages() {
				assert.Equal(t, tt.pattern, m.Pattern)
				got = append(got, m.Channel)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemoryBus_Subscribe(t *testing.T) {
	ctx := context.Background()
	bus, c := newMemoryBus(t)

	count, err := bus.Subscribe(ctx, "news")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, bus.Publish(ctx, "news", "breaking"))

	require.Eventually(t, func() bool {
		return len(c.directMessages()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, pubsub.Message{Channel: "news", Payload: "breaking"}, c.directMessages()[0])
	assert.Empty(t, c.patternMessages())
}

func TestMemoryBus_PreservesPublishOrder(t *testing.T) {
	ctx := context.Background()
	bus, c := newMemoryBus(t)
	_, err := bus.PSubscribe(ctx, "seq:*")
	require.NoError(t, err)

	payloads := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	for _, p := range payloads {
		require.NoError(t, bus.Publish(ctx, "seq:n", p))
	}

	require.Eventually(t, func() bool {
		return len(c.patternMessages()) == len(payloads)
	}, time.Second, 10*time.Millisecond)

	var got []string
	for _, m := range c.patternMessages() {
		got = append(got, m.Payload)
	}
	assert.Equal(t, payloads, got)
}

func TestMemoryBus_Close(t *testing.T) {
	bus, err := pubsub.NewMemoryBus(nil)
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close(), "closing twice is a no-op")

	assert.ErrorIs(t, bus.Publish(context.Background(), "a", "b"), pubsub.ErrClosed)
	_, err = bus.PSubscribe(context.Background(), "a:*")
	assert.ErrorIs(t, err, pubsub.ErrClosed)
}
