package tasks

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestRunnerDispatchesByTaskType(t *testing.T) {
	q, _ := newTestQueues(t)
	r := NewRunner(q, 2)

	var voice, content atomic.Int32
	r.Handle(TaskProcessVoice, func(_ context.Context, _ *Job) error {
		voice.Add(1)
		return nil
	})
	r.Handle(TaskProcessContent, func(_ context.Context, job *Job) error {
		content.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	_, err := q.Enqueue(ctx, TaskProcessVoice, ContentPayload{ContentUUID: "v"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, TaskProcessContent, ContentPayload{ContentUUID: "c"})
	require.NoError(t, err)

	waitFor(t, 5*time.Second, func() bool {
		return voice.Load() == 1 && content.Load() == 1
	})

	cancel()
	require.NoError(t, <-done)

	// Everything acked; nothing left parked.
	depths, err := q.Depths(context.Background())
	require.NoError(t, err)
	for _, n := range depths {
		assert.Zero(t, n)
	}
}

func TestRunnerRetriesThenBuries(t *testing.T) {
	q, mr := newTestQueues(t)
	r := NewRunner(q, 1)
	r.retryBase = 10 * time.Millisecond

	var calls atomic.Int32
	r.Handle(TaskProcessContent, func(_ context.Context, _ *Job) error {
		calls.Add(1)
		return fmt.Errorf("transient failure")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	_, err := q.Enqueue(ctx, TaskProcessContent, ContentPayload{ContentUUID: "u"})
	require.NoError(t, err)

	waitFor(t, 5*time.Second, func() bool { return calls.Load() == maxAttempts })
	waitFor(t, 5*time.Second, func() bool {
		dead, err := mr.List(deadLetterKey)
		return err == nil && len(dead) == 1
	})

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestRunnerBuriesUnknownTaskType(t *testing.T) {
	q, mr := newTestQueues(t)
	r := NewRunner(q, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	_, err := q.Enqueue(ctx, "unregistered", nil)
	require.NoError(t, err)

	waitFor(t, 5*time.Second, func() bool {
		dead, err := mr.List(deadLetterKey)
		return err == nil && len(dead) == 1
	})

	cancel()
	require.NoError(t, <-done)
}

func TestRunnerRecoversFromHandlerPanic(t *testing.T) {
	q, _ := newTestQueues(t)
	r := NewRunner(q, 1)
	r.retryBase = 10 * time.Millisecond

	var calls atomic.Int32
	r.Handle(TaskProcessContent, func(_ context.Context, _ *Job) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	_, err := q.Enqueue(ctx, TaskProcessContent, ContentPayload{ContentUUID: "u"})
	require.NoError(t, err)

	// The panic is retried like any failure; the second attempt succeeds.
	waitFor(t, 5*time.Second, func() bool { return calls.Load() == 2 })

	cancel()
	require.NoError(t, <-done)
}

func TestLimitsFor(t *testing.T) {
	soft, hard := limitsFor(TaskProcessBook)
	assert.Equal(t, bookSoftLimit, soft)
	assert.Equal(t, bookHardLimit, hard)

	soft, hard = limitsFor(TaskProcessContent)
	assert.Equal(t, softLimit, soft)
	assert.Equal(t, hardLimit, hard)
}
