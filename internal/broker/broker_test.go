package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDisabledClient(t *testing.T) {
	c := New(nil, "geonotify", zap.NewNop())

	assert.False(t, c.Enabled())
	assert.ErrorIs(t, c.Connect(context.Background()), ErrDisabled)
	assert.Equal(t, uuid.Nil, c.Publish(context.Background(), "post", "created", map[string]int{"postId": 1}))
	assert.ErrorIs(t, c.Subscribe(context.Background(), func(context.Context, Envelope) {}, "post"), ErrDisabled)
	assert.NoError(t, c.Close())
}

func TestPublishEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(&redis.Options{Addr: mr.Addr()}, "geonotify", zap.NewNop())
	defer c.Close()

	raw := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer raw.Close()
	ctx := context.Background()
	sub := raw.Subscribe(ctx, "geonotify:post:created")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	id := c.Publish(ctx, "post", "created", map[string]any{"postId": 7, "title": "Tbilisi view"})
	require.NotEqual(t, uuid.Nil, id)

	select {
	case msg := <-sub.Channel():
		var body map[string]json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &body))
		assert.ElementsMatch(t, []string{"id", "resource", "action", "createdAt", "payload"}, keys(body))
		assert.JSONEq(t, `"post"`, string(body["resource"]))
		assert.JSONEq(t, `"created"`, string(body["action"]))
		assert.JSONEq(t, `{"postId":7,"title":"Tbilisi view"}`, string(body["payload"]))
		assert.JSONEq(t, `"`+id.String()+`"`, string(body["id"]))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(&redis.Options{Addr: mr.Addr()}, "geonotify", zap.NewNop())
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Envelope, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Subscribe(ctx, func(_ context.Context, env Envelope) { got <- env }, "notification")
	}()

	require.Eventually(t, func() bool { return mr.PubSubNumPat() == 1 }, 2*time.Second, 10*time.Millisecond)

	c.Publish(ctx, "post", "created", 1)
	c.Publish(ctx, "notification", "created", map[string]int64{"userId": 3})

	select {
	case env := <-got:
		assert.Equal(t, "notification", env.Resource)
		assert.Equal(t, "created", env.Action)
		assert.JSONEq(t, `{"userId":3}`, string(env.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not stop")
	}
}

func TestConnectFailureBacksOff(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c := New(&redis.Options{Addr: addr, MaxRetries: -1, DialTimeout: 200 * time.Millisecond}, "geonotify", zap.NewNop())
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.Error(t, c.Connect(ctx))
	assert.ErrorIs(t, c.Connect(ctx), ErrBackingOff)
	assert.Equal(t, uuid.Nil, c.Publish(ctx, "post", "created", 1), "publish swallows the failure")
	assert.False(t, c.initialized)

	require.NoError(t, mr.Restart())
	now = now.Add(time.Minute)
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.initialized)
	require.NoError(t, c.Connect(ctx), "connect is idempotent")
	c.Close()
}

func TestPublishConcurrentWithClose(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(&redis.Options{Addr: mr.Addr()}, "geonotify", zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Publish(ctx, "post", "created", map[string]int{"postId": j})
			}
		}()
	}
	for j := 0; j < 50; j++ {
		c.Close()
	}
	wg.Wait()

	assert.NoError(t, c.Close())
	assert.NotEqual(t, uuid.Nil, c.Publish(ctx, "post", "created", map[string]int{"postId": 1}), "reconnects after close")
	assert.NoError(t, c.Close())
}
