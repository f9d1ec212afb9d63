package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return New(rdb)
}

func TestEnqueueDequeue_RoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job := Job{MessageID: "<m1@x>", EmailID: "email-1", Handle: "ask", EnqueuedAt: time.Now()}
	require.NoError(t, q.Enqueue(ctx, job))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)

	got, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, job.MessageID, got.MessageID)
	require.Equal(t, job.Handle, got.Handle)
}

func TestDequeue_TimesOutWhenEmpty(t *testing.T) {
	q := newTestQueue(t)

	_, ok, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}
