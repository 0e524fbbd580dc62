package rtclient

import "sync"

// Subscription detaches an observer. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

type subscriptionFunc struct {
	once sync.Once
	fn   func()
}

func (s *subscriptionFunc) Unsubscribe() {
	s.once.Do(s.fn)
}

// observers is a registry of callbacks for one event type.
type observers[T any] struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(T)
}

func (o *observers[T]) add(fn func(T), onRemove func()) Subscription {
	o.mu.Lock()
	if o.fns == nil {
		o.fns = make(map[int]func(T))
	}
	id := o.nextID
	o.nextID++
	o.fns[id] = fn
	o.mu.Unlock()

	return &subscriptionFunc{fn: func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
		if onRemove != nil {
			onRemove()
		}
	}}
}

func (o *observers[T]) emit(v T) {
	o.mu.Lock()
	fns := make([]func(T), 0, len(o.fns))
	for _, fn := range o.fns {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (o *observers[T]) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.fns)
}

func (o *observers[T]) clear() {
	o.mu.Lock()
	o.fns = nil
	o.mu.Unlock()
}
