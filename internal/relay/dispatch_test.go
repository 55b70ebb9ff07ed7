package relay

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Olgitta/kirk-ws/internal/patterns"
	"github.com/Olgitta/kirk-ws/internal/pubsub"
)

func TestDispatcher_HandlePattern(t *testing.T) {
	tests := []struct {
		name      string
		msg       pubsub.PatternMessage
		wantEvent string
	}{
		{
			name:      "mapped pattern",
			msg:       pubsub.PatternMessage{Pattern: "seat:events:*_*", Channel: "seat:events:42_hold", Payload: "locked"},
			wantEvent: "seat_events",
		},
		{
			name:      "second mapped pattern",
			msg:       pubsub.PatternMessage{Pattern: "login:*:event:*", Channel: "login:7:event:ok", Payload: "{}"},
			wantEvent: "login_events",
		},
		{
			name:      "unmapped pattern falls back",
			msg:       pubsub.PatternMessage{Pattern: "chat:*", Channel: "chat:1", Payload: "hi"},
			wantEvent: UnknownEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &recordingBroadcaster{}
			d := NewDispatcher(patterns.Default(), out, nil, nil)

			d.HandlePattern(context.Background(), tt.msg)

			events := out.all()
			require.Len(t, events, 1, "exactly one broadcast per message")
			assert.Equal(t, tt.wantEvent, events[0].Name)
			assert.Equal(t, Body{Pattern: tt.msg.Pattern, Channel: tt.msg.Channel, Payload: tt.msg.Payload}, events[0].Data)
		})
	}
}

func TestDispatcher_HandleMessage(t *testing.T) {
	out := &recordingBroadcaster{}
	d := NewDispatcher(patterns.Default(), out, nil, nil)

	d.HandleMessage(context.Background(), pubsub.Message{Channel: "news", Payload: "breaking"})

	events := out.all()
	require.Len(t, events, 1)
	assert.Equal(t, DirectEvent, events[0].Name)
	assert.Equal(t, "breaking", events[0].Data, "direct messages forward only the payload")
}

func TestDispatcher_Metrics(t *testing.T) {
	metrics := NewMetrics(nil)
	d := NewDispatcher(patterns.Default(), &recordingBroadcaster{}, metrics, nil)
	ctx := context.Background()

	d.HandlePattern(ctx, pubsub.PatternMessage{Pattern: "seat:events:*_*", Channel: "seat:events:1_a"})
	d.HandlePattern(ctx, pubsub.PatternMessage{Pattern: "seat:events:*_*", Channel: "seat:events:2_b"})
	d.HandlePattern(ctx, pubsub.PatternMessage{Pattern: "nope:*", Channel: "nope:1"})

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.dispatched.WithLabelValues("seat_events")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dispatched.WithLabelValues(UnknownEvent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.unmapped))
}

func TestDispatcher_Resolve(t *testing.T) {
	d := NewDispatcher(patterns.Default(), &recordingBroadcaster{}, nil, nil)

	event, ok := d.Resolve("seat:events:*_*")
	assert.True(t, ok)
	assert.Equal(t, "seat_events", event)

	event, ok = d.Resolve("seat:events:42_hold")
	assert.False(t, ok)
	assert.Equal(t, UnknownEvent, event)
}
