package concurrency

import (
	"sync/atomic"
	"testing"

	"portsim/internal/core"

	"github.com/stretchr/testify/assert"
)

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, fields ...interface{})               {}
func (l *noopLogger) Info(msg string, fields ...interface{})                {}
func (l *noopLogger) Warn(msg string, fields ...interface{})                {}
func (l *noopLogger) Error(msg string, fields ...interface{})               {}
func (l *noopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *noopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *noopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func TestWorkerPool_SubmitAndWait(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "TestPool",
		MaxWorkers:  4,
		MaxCapacity: 100,
	}, &noopLogger{})
	defer pool.Stop()

	var counter int64
	pool.SubmitAndWait(func() {
		atomic.AddInt64(&counter, 1)
	})
	assert.Equal(t, int64(1), atomic.LoadInt64(&counter))
}

func TestWorkerPool_Group(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "TestGroupPool",
		MaxWorkers:  4,
		MaxCapacity: 100,
	}, &noopLogger{})
	defer pool.Stop()

	var counter int64
	group := pool.Group()
	for i := 0; i < 16; i++ {
		group.Submit(func() {
			atomic.AddInt64(&counter, 1)
		})
	}
	group.Wait()
	assert.Equal(t, int64(16), atomic.LoadInt64(&counter))
}

func TestWorkerPool_NonBlockingFull(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "TestFullPool",
		MaxWorkers:  1,
		MaxCapacity: 1,
		NonBlocking: true,
	}, &noopLogger{})
	defer pool.Stop()

	block := make(chan struct{})
	_ = pool.Submit(func() { <-block })

	// Fill the queue, then expect a rejection
	sawError := false
	for i := 0; i < 10; i++ {
		if err := pool.Submit(func() {}); err != nil {
			sawError = true
			break
		}
	}
	close(block)
	assert.True(t, sawError, "expected non-blocking submit to reject when full")
}
