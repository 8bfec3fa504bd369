package history

import (
	"sync"
	"sync/atomic"

	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
)

// DefaultQueueSize is the event buffer used when NewQueue is given a
// non-positive size.
const DefaultQueueSize = 4096

// Queue records limiter events into a Log from a single background
// goroutine, so streaming writes and slow listeners never run on the
// goroutine making the admission decision. Events that arrive while the
// buffer is full, or after Close, are dropped and counted.
type Queue struct {
	log    *Log
	events chan limiter.Event

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// NewQueue starts a queue feeding log.
func NewQueue(log *Log, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{
		log:     log,
		events:  make(chan limiter.Event, size),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

// Observe enqueues ev without blocking.
func (q *Queue) Observe(ev limiter.Event) {
	select {
	case <-q.done:
		q.drop(ev)
		return
	default:
	}

	select {
	case q.events <- ev:
	default:
		q.drop(ev)
	}
}

func (q *Queue) drop(ev limiter.Event) {
	// Log at 1, 2, 4, 8... drops so a sustained overflow stays quiet.
	if n := q.dropped.Add(1); n&(n-1) == 0 {
		q.log.logger.Warn("history queue full, dropping events",
			"limiter", ev.Limiter, "dropped", n, "size", cap(q.events))
	}
}

// Dropped returns how many events were discarded.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

func (q *Queue) run() {
	defer close(q.stopped)
	for {
		select {
		case ev := <-q.events:
			q.log.Observe(ev)
		case <-q.done:
			for {
				select {
				case ev := <-q.events:
					q.log.Observe(ev)
				default:
					return
				}
			}
		}
	}
}

// Close stops accepting events and returns once every buffered event has
// been recorded. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
	<-q.stopped
}
