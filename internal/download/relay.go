package download

import (
	"sync"
	"sync/atomic"
)

// Relay fans progress events out to subscribers. The subscriber set is owned
// by a single goroutine; workers hand events over a buffered channel and never
// touch subscriber state directly.
//
// Delivery is best-effort and at-most-once: a subscriber whose buffer is full
// misses the event, and non-terminal events are dropped when the ingress
// queue is full. Terminal events wait for queue space so a job's outcome is
// not lost. Events for one job keep their publish order.
type Relay struct {
	in          chan ProgressEvent
	subscribe   chan *subscription
	unsubscribe chan *subscription
	stop        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once

	subBuffer int
	active    atomic.Int64
	dropped   atomic.Int64
}

type subscription struct {
	ch chan ProgressEvent
}

// NewRelay starts a relay with an ingress queue of queueSize events and a
// per-subscriber buffer of subBuffer events.
func NewRelay(queueSize, subBuffer int) *Relay {
	if queueSize <= 0 {
		queueSize = 256
	}
	if subBuffer <= 0 {
		subBuffer = 64
	}
	r := &Relay{
		in:          make(chan ProgressEvent, queueSize),
		subscribe:   make(chan *subscription),
		unsubscribe: make(chan *subscription),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		subBuffer:   subBuffer,
	}
	go r.run()
	return r
}

// Publish queues ev for broadcast and reports whether it was accepted.
// It is safe to call from any goroutine.
func (r *Relay) Publish(ev ProgressEvent) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	if ev.Status.Terminal() {
		select {
		case r.in <- ev:
			return true
		case <-r.done:
			return false
		}
	}
	select {
	case r.in <- ev:
		return true
	case <-r.done:
		return false
	default:
		r.dropped.Add(1)
		return false
	}
}

// Subscribe registers a new subscriber. The returned channel is closed when
// the subscriber is removed or the relay stops. The cancel function is
// idempotent.
func (r *Relay) Subscribe() (<-chan ProgressEvent, func()) {
	s := &subscription{ch: make(chan ProgressEvent, r.subBuffer)}
	select {
	case r.subscribe <- s:
	case <-r.done:
		close(s.ch)
		return s.ch, func() {}
	}
	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			select {
			case r.unsubscribe <- s:
			case <-r.done:
			}
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (r *Relay) Subscribers() int { return int(r.active.Load()) }

// Dropped returns how many deliveries were skipped because a queue was full.
func (r *Relay) Dropped() int64 { return r.dropped.Load() }

// Close stops the relay and closes every subscriber channel.
func (r *Relay) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Relay) run() {
	subs := make(map[*subscription]struct{})
	defer func() {
		for s := range subs {
			close(s.ch)
		}
		r.active.Store(0)
		close(r.done)
	}()

	for {
		select {
		case <-r.stop:
			return
		case s := <-r.subscribe:
			subs[s] = struct{}{}
			r.active.Store(int64(len(subs)))
		case s := <-r.unsubscribe:
			if _, ok := subs[s]; ok {
				delete(subs, s)
				close(s.ch)
				r.active.Store(int64(len(subs)))
			}
		case ev := <-r.in:
			for s := range subs {
				select {
				case s.ch <- ev:
				default:
					r.dropped.Add(1)
				}
			}
		}
	}
}
