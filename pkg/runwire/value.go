package runwire

import "sync"

// ReadOnly is the observer's view of a Value: it can be read and watched, never set.
type ReadOnly[T any] interface {
	Get() T
	// Watch registers fn to be called with every new value. The returned
	// function removes the watcher.
	Watch(fn func(T)) (stop func())
}

// Value is a mutable observable value. Watchers are called synchronously,
// outside the lock, only when the value actually changes.
type Value[T comparable] struct {
	mu       sync.RWMutex
	value    T
	watchers map[uint64]func(T)
	nextID   uint64
}

func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{
		value:    initial,
		watchers: make(map[uint64]func(T)),
	}
}

func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set stores value and reports whether it differed from the previous one.
func (v *Value[T]) Set(value T) bool {
	v.mu.Lock()
	if v.value == value {
		v.mu.Unlock()
		return false
	}
	v.value = value
	watchers := make([]func(T), 0, len(v.watchers))
	for _, fn := range v.watchers {
		watchers = append(watchers, fn)
	}
	v.mu.Unlock()

	for _, fn := range watchers {
		fn(value)
	}
	return true
}

func (v *Value[T]) Watch(fn func(T)) func() {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.watchers[id] = fn
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.watchers, id)
			v.mu.Unlock()
		})
	}
}
