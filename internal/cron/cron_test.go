package cron

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestLocker(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	locker := NewLocker(client)

	lock, err := locker.Acquire(ctx, "cron-locker:reminders", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lock)

	other, err := locker.Acquire(ctx, "cron-locker:reminders", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, lock.Release(ctx))
	assert.False(t, mr.Exists("cron-locker:reminders"))

	lock, err = locker.Acquire(ctx, "cron-locker:reminders", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lock)

	mr.FastForward(2 * time.Minute)
	_, err = locker.Acquire(ctx, "cron-locker:reminders", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))
	assert.True(t, mr.Exists("cron-locker:reminders"), "an expired lock never releases its successor")
}

func TestRunHonoursLock(t *testing.T) {
	_, client := newRedis(t)
	s := New(context.Background(), client, zap.NewNop())

	calls := 0
	job := Job{
		Name:    "reminders",
		LockKey: "cron-locker:reminders",
		LockTTL: time.Minute,
		Run: func(context.Context) error {
			calls++
			return nil
		},
	}

	assert.True(t, s.run(job))
	assert.Equal(t, 1, calls)

	held, err := NewLocker(client).Acquire(context.Background(), job.LockKey, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.False(t, s.run(job))
	assert.Equal(t, 1, calls)
}

func TestRunWithoutRedis(t *testing.T) {
	s := New(context.Background(), nil, zap.NewNop())
	ran := false
	assert.True(t, s.run(Job{Name: "reminders", LockKey: "k", Run: func(context.Context) error {
		ran = true
		return errors.New("smtp down")
	}}))
	assert.True(t, ran)
}

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(context.Background(), nil, zap.NewNop())
	assert.Error(t, s.Add(Job{Name: "x", Spec: "every tuesday", Run: func(context.Context) error { return nil }}))
	assert.NoError(t, s.Add(Job{Name: "x", Spec: "@every 15m", Run: func(context.Context) error { return nil }}))
	s.Start()
	s.Stop()
}
