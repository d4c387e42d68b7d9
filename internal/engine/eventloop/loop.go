// Package eventloop provides the small fixed pools of named worker
// goroutines modelled on spec section 5's event-loop threads. The proxy's
// accept loop runs on one via Submit; each accepted connection is assigned
// a Loop whose name it carries, but its blocking reads and writes run on
// the connection's own goroutine, not on the Loop. It is grounded on
// the teacher's pkg/eventbus worker-goroutine pattern, generalised from a
// pub/sub event bus into a task-submission loop because the engine needs
// ordered, connection-affine execution rather than fan-out delivery.
package eventloop

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Loop is one worker goroutine with a bounded task queue. A connection is
// bound to exactly one Loop for its lifetime (spec section 5 "permanently
// bound to one worker thread").
type Loop struct {
	name  string
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup
}

const defaultQueueDepth = 1024

func newLoop(name string) *Loop {
	l := &Loop{
		name:  name,
		tasks: make(chan func(), defaultQueueDepth),
		done:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		select {
		case task := <-l.tasks:
			task()
		case <-l.done:
			// Drain whatever was already queued before this loop was asked
			// to stop, so in-flight disconnect/cleanup callbacks still run.
			for {
				select {
				case task := <-l.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Name returns the thread name this loop was created with, e.g.
// "<proxyName>-client-3" (spec section 4.1 "threads named by
// <proxyName>-<role>-<n>").
func (l *Loop) Name() string { return l.name }

// Submit schedules f to run on this loop's goroutine. Submit never blocks
// the caller on f's execution; it only blocks if the loop's queue is full,
// which signals the loop is falling behind.
func (l *Loop) Submit(f func()) {
	select {
	case l.tasks <- f:
	case <-l.done:
	}
}

// SubmitWithTimeout is Submit bounded by ctx, for callers (e.g. cross-loop
// timers) that must not block indefinitely if the loop is shutting down.
func (l *Loop) SubmitWithTimeout(ctx context.Context, f func()) error {
	select {
	case l.tasks <- f:
		return nil
	case <-l.done:
		return fmt.Errorf("eventloop %s: stopped", l.name)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) stop() {
	close(l.done)
}

func (l *Loop) awaitStop(timeout time.Duration) bool {
	stopped := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return true
	case <-time.After(timeout):
		return false
	}
}
