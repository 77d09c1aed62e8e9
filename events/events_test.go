package events_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/cosmoscope/events"
)

func serve(t *testing.T) (*events.Publisher, string) {
	t.Helper()
	p := events.NewPublisher(events.DefaultSettings())
	srv := httptest.NewServer(p)
	t.Cleanup(func() {
		p.Close()
		srv.Close()
	})
	return p, "ws" + strings.TrimPrefix(srv.URL, "http") + events.Path
}

func subscribe(t *testing.T, p *events.Publisher, url string, want int) *events.Subscriber {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := events.Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	require.Eventually(t, func() bool { return p.Subscribers() == want }, 5*time.Second, 10*time.Millisecond)
	return sub
}

func next(t *testing.T, sub *events.Subscriber) events.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestEventsArriveInOrder(t *testing.T) {
	p, url := serve(t)
	a := subscribe(t, p, url, 1)
	b := subscribe(t, p, url, 2)

	for i := 0; i < 20; i++ {
		p.Publish("data_loaded", map[string]any{"identifier": "a1", "i": i})
	}

	for _, sub := range []*events.Subscriber{a, b} {
		var last uint64
		for i := 0; i < 20; i++ {
			ev := next(t, sub)
			assert.Equal(t, "data_loaded", ev.Name)
			assert.Greater(t, ev.Seq, last)
			last = ev.Seq
			payload, ok := ev.Payload.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, float64(i), payload["i"])
		}
	}
}

func TestNoReplayForLateSubscribers(t *testing.T) {
	p, url := serve(t)
	early := subscribe(t, p, url, 1)
	p.Publish("before", nil)
	late := subscribe(t, p, url, 2)
	p.Publish("after", nil)

	assert.Equal(t, "before", next(t, early).Name)
	assert.Equal(t, "after", next(t, early).Name)
	assert.Equal(t, "after", next(t, late).Name)
}

func TestSubscriberCloseUnregisters(t *testing.T) {
	p, url := serve(t)
	sub := subscribe(t, p, url, 1)
	require.NoError(t, sub.Close())
	assert.Eventually(t, func() bool { return p.Subscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestNextHonoursDeadline(t *testing.T) {
	p, url := serve(t)
	sub := subscribe(t, p, url, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:4243/events", events.URL("tcp://127.0.0.1:4243"))
}

func TestZeroTimingsKeepSubscribersConnected(t *testing.T) {
	p := events.NewPublisher(events.Settings{QueueSize: 4})
	srv := httptest.NewServer(p)
	t.Cleanup(func() {
		p.Close()
		srv.Close()
	})
	sub := subscribe(t, p, "ws"+strings.TrimPrefix(srv.URL, "http")+events.Path, 1)

	time.Sleep(50 * time.Millisecond)
	p.Publish("data_loaded", nil)
	assert.Equal(t, "data_loaded", next(t, sub).Name)
	assert.Equal(t, 1, p.Subscribers())
}
