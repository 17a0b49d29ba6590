// Package workerpool provides a small fixed-size goroutine pool for
// fanning out work items to a handler function, adapted from the
// nyan233-ddio event loop's worker pool for the EVFILT_PROC reaper
// (a ticker goroutine feeding one worker that runs the wait4 sweep).
package workerpool

import "context"

// Pool runs a fixed number of goroutines, each pulling items off a
// shared channel and passing them to handleFn.
type Pool struct {
	size    int
	onError func(err error)

	cancel   context.CancelFunc
	task     chan interface{}
	handleFn func(data interface{}) error
}

func New(size, bufSize int, handleFn func(data interface{}) error, onErr func(err error)) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		size:     size,
		onError:  onErr,
		cancel:   cancel,
		task:     make(chan interface{}, bufSize),
		handleFn: handleFn,
	}
	p.open(ctx)
	return p
}

func (p *Pool) open(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		go func() {
			for {
				select {
				case data := <-p.task:
					if err := p.handleFn(data); err != nil && p.onError != nil {
						p.onError(err)
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// Stop cancels every worker goroutine. Pending queued tasks are dropped.
func (p *Pool) Stop() {
	p.cancel()
}

// Push enqueues one task, blocking if the buffer is full.
func (p *Pool) Push(data interface{}) {
	p.task <- data
}
