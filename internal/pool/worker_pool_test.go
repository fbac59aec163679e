package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool_ExecutesTasks(t *testing.T) {
	p := NewWorkerPool(4, 16, zap.NewNop())
	p.Start(context.Background())

	var done int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := p.Submit(func(context.Context) {
			atomic.AddInt64(&done, 1)
			wg.Done()
		})
		require.NoError(t, err)
	}
	wg.Wait()
	p.Stop()

	assert.Equal(t, int64(10), atomic.LoadInt64(&done))
}

func TestWorkerPool_QueueFull(t *testing.T) {
	p := NewWorkerPool(1, 1, zap.NewNop())
	p.Start(context.Background())
	defer p.Stop()

	block := make(chan struct{})
	release := make(chan struct{})

	// 占住唯一的工作协程
	require.NoError(t, p.Submit(func(context.Context) {
		close(block)
		<-release
	}))
	<-block

	// 填满队列
	require.NoError(t, p.Submit(func(context.Context) {}))

	// 队列已满，立即拒绝
	err := p.Submit(func(context.Context) {})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, p.Pending())

	close(release)
}

func TestWorkerPool_RecoverFromPanic(t *testing.T) {
	p := NewWorkerPool(1, 4, zap.NewNop())
	p.Start(context.Background())

	require.NoError(t, p.Submit(func(context.Context) {
		panic("boom")
	}))

	// panic 后协程继续工作
	done := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) {
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
	p.Stop()
}

func TestWorkerPool_StopWaitsForTasks(t *testing.T) {
	p := NewWorkerPool(2, 8, zap.NewNop())
	p.Start(context.Background())

	var done int64
	for i := 0; i < 6; i++ {
		require.NoError(t, p.Submit(func(context.Context) {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&done, 1)
		}))
	}
	p.Stop()

	assert.Equal(t, int64(6), atomic.LoadInt64(&done))
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	p := NewWorkerPool(1, 4, zap.NewNop())
	p.Start(context.Background())
	p.Stop()

	// 停止后的投递返回错误而不是 panic
	err := p.Submit(func(context.Context) {})
	assert.ErrorIs(t, err, ErrQueueFull)
}
