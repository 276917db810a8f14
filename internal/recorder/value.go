package recorder

import "sync"

// Value is a current value that can be read at any time and observed for
// changes. Subscribers receive the latest value; intermediate values may be
// skipped for a slow subscriber.
type Value[T comparable] struct {
	mu     sync.RWMutex
	value  T
	subs   map[int]chan T
	nextID int
}

// NewValue creates a Value holding initial.
func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{value: initial, subs: make(map[int]chan T)}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set stores x and notifies subscribers if it differs from the current value.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.value == x {
		return
	}
	v.value = x
	for _, ch := range v.subs {
		select {
		case <-ch:
		default:
		}
		ch <- x
	}
}

// Subscribe returns a channel that first yields the current value and then
// every later change. cancel closes the channel.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = ch
	ch <- v.value
	v.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			v.mu.Unlock()
			close(ch)
		})
	}
}
