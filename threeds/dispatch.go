package threeds

import (
	"sync"
	"sync/atomic"
)

// Dispatcher delivers completions on the caller's callback context.
type Dispatcher interface {
	Dispatch(fn func())
}

type DispatcherFunc func(fn func())

func (f DispatcherFunc) Dispatch(fn func()) { f(fn) }

// InlineDispatcher runs completions on the goroutine that finished the work.
var InlineDispatcher Dispatcher = DispatcherFunc(func(fn func()) { fn() })

// QueueDispatcher runs completions one at a time, in order, on a single
// goroutine.
type QueueDispatcher struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

func NewQueueDispatcher(buffer int) *QueueDispatcher {
	d := &QueueDispatcher{
		queue: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		for fn := range d.queue {
			fn()
		}
	}()
	return d
}

func (d *QueueDispatcher) Dispatch(fn func()) {
	d.queue <- fn
}

// Close drains queued completions and stops the goroutine. Dispatch must not
// be called afterwards.
func (d *QueueDispatcher) Close() {
	d.once.Do(func() { close(d.queue) })
	<-d.done
}

// completionBox delivers a result to a completion at most once. A panic in
// the completion is recovered and passed to onPanic.
type completionBox[T any] struct {
	fired      atomic.Bool
	fn         func(T, error)
	dispatcher Dispatcher
	onPanic    func(any)
}

func newCompletionBox[T any](fn func(T, error), d Dispatcher, onPanic func(any)) *completionBox[T] {
	if fn == nil {
		fn = func(T, error) {}
	}
	if d == nil {
		d = InlineDispatcher
	}
	if onPanic == nil {
		onPanic = func(any) {}
	}
	return &completionBox[T]{fn: fn, dispatcher: d, onPanic: onPanic}
}

func (b *completionBox[T]) fire(v T, err error) error {
	if !b.fired.CompareAndSwap(false, true) {
		return ErrCompletionAlreadyFired
	}
	b.dispatcher.Dispatch(func() {
		defer func() {
			if r := recover(); r != nil {
				b.onPanic(r)
			}
		}()
		b.fn(v, err)
	})
	return nil
}
