package recorder

import "sync"

const subscriberBufferSize = 32

// Fanout multiplexes one camera's stream to live viewers. Each subscriber has
// a bounded buffer; a slow viewer loses its oldest frame rather than stalling
// the writer or the other viewers.
type Fanout struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// Subscriber is one live-view attachment
type Subscriber struct {
	ch     chan []byte
	fanout *Fanout
}

// NewFanout creates an empty fan-out point
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[*Subscriber]struct{})}
}

// Subscribe attaches a viewer
func (f *Fanout) Subscribe() *Subscriber {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &Subscriber{ch: make(chan []byte, subscriberBufferSize), fanout: f}
	if f.closed {
		close(sub.ch)
		return sub
	}
	f.subs[sub] = struct{}{}
	return sub
}

// Publish delivers a chunk to every subscriber without blocking
func (f *Fanout) Publish(chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		for {
			select {
			case sub.ch <- chunk:
			default:
				select {
				case <-sub.ch:
					continue
				default:
				}
			}
			break
		}
	}
}

// Close detaches all subscribers
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for sub := range f.subs {
		close(sub.ch)
		delete(f.subs, sub)
	}
}

// Frames is the subscriber's receive channel; it is closed when the pipeline
// stops.
func (s *Subscriber) Frames() <-chan []byte {
	return s.ch
}

// Unsubscribe detaches the viewer
func (s *Subscriber) Unsubscribe() {
	f := s.fanout
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[s]; ok {
		delete(f.subs, s)
		close(s.ch)
	}
}
