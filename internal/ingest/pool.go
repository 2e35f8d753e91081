package ingest

import "sync"

const asyncPoolBuffer = 256

// asyncPool runs post-commit side effects on a fixed set of goroutines.
// submit never blocks: when the buffer is full the task is dropped and
// the caller records the drop.
type asyncPool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newAsyncPool(workers int) *asyncPool {
	if workers <= 0 {
		workers = 4
	}
	p := &asyncPool{tasks: make(chan func(), asyncPoolBuffer)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// submit enqueues a task, reporting false when the pool is saturated or
// closed.
func (p *asyncPool) submit(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// close stops intake and waits for queued tasks to finish.
func (p *asyncPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.tasks)
	p.wg.Wait()
}
