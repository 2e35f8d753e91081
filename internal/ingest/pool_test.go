package ingest

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAsyncPoolRunsSubmittedTasks(t *testing.T) {
	p := newAsyncPool(2)

	var ran int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		ok := p.submit(func() {
			atomic.AddInt64(&ran, 1)
			wg.Done()
		})
		assert.True(t, ok)
	}
	wg.Wait()
	p.close()

	assert.EqualValues(t, 20, ran)
}

func TestAsyncPoolDropsWhenSaturated(t *testing.T) {
	p := newAsyncPool(1)
	defer p.close()

	block := make(chan struct{})
	// Occupy the single worker.
	p.submit(func() { <-block })

	// Fill the buffer well past capacity; the overflow must be dropped,
	// never blocked on.
	accepted := 0
	for i := 0; i < asyncPoolBuffer+10; i++ {
		if p.submit(func() {}) {
			accepted++
		}
	}
	assert.Less(t, accepted, asyncPoolBuffer+10)
	close(block)
}

func TestAsyncPoolCloseDrainsPending(t *testing.T) {
	p := newAsyncPool(1)

	var ran int64
	for i := 0; i < 5; i++ {
		p.submit(func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&ran, 1)
		})
	}
	p.close()

	assert.EqualValues(t, 5, atomic.LoadInt64(&ran))
	assert.False(t, p.submit(func() {}), "submit after close must be rejected")
}
