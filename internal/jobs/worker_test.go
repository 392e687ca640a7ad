package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu      sync.Mutex
	ran     []string
	block   chan struct{}
	started chan string
	panicOn string
}

func (r *recordingRunner) Run(ctx context.Context, task Task) {
	if r.started != nil {
		r.started <- task.SessionID
	}
	if r.block != nil {
		<-r.block
	}
	if task.SessionID == r.panicOn {
		panic("boom")
	}
	r.mu.Lock()
	r.ran = append(r.ran, task.SessionID)
	r.mu.Unlock()
}

func (r *recordingRunner) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func TestPoolRunsTasksInOrderWithSingleWorker(t *testing.T) {
	runner := &recordingRunner{}
	pool, err := NewPool(runner, 1, 8, zerolog.Nop())
	require.NoError(t, err)
	pool.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, pool.Dispatch(context.Background(), Task{SessionID: id}))
	}
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, runner.snapshot())
}

func TestPoolDispatchQueueFull(t *testing.T) {
	runner := &recordingRunner{block: make(chan struct{}), started: make(chan string, 1)}
	pool, err := NewPool(runner, 1, 1, zerolog.Nop())
	require.NoError(t, err)
	pool.Start(context.Background())

	require.NoError(t, pool.Dispatch(context.Background(), Task{SessionID: "running"}))
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not pick up the first task")
	}

	require.NoError(t, pool.Dispatch(context.Background(), Task{SessionID: "waiting"}))
	require.ErrorIs(t, pool.Dispatch(context.Background(), Task{SessionID: "rejected"}), ErrQueueFull)

	close(runner.block)
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.ElementsMatch(t, []string{"running", "waiting"}, runner.snapshot())
}

func TestPoolDispatchAfterShutdown(t *testing.T) {
	pool, err := NewPool(&recordingRunner{}, 2, 4, zerolog.Nop())
	require.NoError(t, err)
	pool.Start(context.Background())
	require.NoError(t, pool.Shutdown(context.Background()))

	require.ErrorIs(t, pool.Dispatch(context.Background(), Task{SessionID: "late"}), ErrDispatcherClosed)
	// 二重の Shutdown は何もしない
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPoolRecoversFromPanic(t *testing.T) {
	runner := &recordingRunner{panicOn: "bad"}
	pool, err := NewPool(runner, 1, 4, zerolog.Nop())
	require.NoError(t, err)
	pool.Start(context.Background())

	require.NoError(t, pool.Dispatch(context.Background(), Task{SessionID: "bad"}))
	require.NoError(t, pool.Dispatch(context.Background(), Task{SessionID: "good"}))
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.Equal(t, []string{"good"}, runner.snapshot())
}

func TestPoolShutdownHonoursContext(t *testing.T) {
	runner := &recordingRunner{block: make(chan struct{})}
	pool, err := NewPool(runner, 1, 1, zerolog.Nop())
	require.NoError(t, err)
	pool.Start(context.Background())
	require.NoError(t, pool.Dispatch(context.Background(), Task{SessionID: "slow"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, pool.Shutdown(ctx), context.DeadlineExceeded)

	close(runner.block)
}

func TestNewPoolValidation(t *testing.T) {
	_, err := NewPool(nil, 1, 1, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewPool(&recordingRunner{}, 0, 1, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewPool(&recordingRunner{}, 1, -1, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewPipelineTask(t *testing.T) {
	_, err := newPipelineTask(Task{})
	require.Error(t, err)

	task, err := newPipelineTask(Task{SessionID: "s", DocumentPath: "uploads/s_a.pdf", FormatMode: "2"})
	require.NoError(t, err)
	assert.Equal(t, taskTypePipeline, task.Type())
	assert.JSONEq(t, `{"sessionId":"s","documentPath":"uploads/s_a.pdf","formatMode":"2"}`, string(task.Payload()))
}
