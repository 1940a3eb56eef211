// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package observable provides host visible values with change subscriptions.
package observable

import "sync"

// Value holds a value and notifies subscribers when it changes.
// Subscribers run synchronously on the goroutine calling Set and must not
// block.
type Value[T comparable] struct {
	mu    sync.Mutex
	value T
	subs  subscribers[T]
}

// NewValue creates a Value holding initial.
func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{value: initial}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.value
}

// Set stores value and reports whether it changed.
func (v *Value[T]) Set(value T) bool {
	v.mu.Lock()
	if v.value == value {
		v.mu.Unlock()

		return false
	}
	v.value = value
	handlers := v.subs.snapshot()
	v.mu.Unlock()

	for _, fn := range handlers {
		fn(value)
	}

	return true
}

// Subscribe registers fn for future changes. The returned func removes it.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.subs.add(fn)

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		v.subs.remove(id)
	}
}

// Feed delivers every published value to its subscribers.
type Feed[T any] struct {
	mu   sync.Mutex
	subs subscribers[T]
}

// Publish sends value to all current subscribers.
func (f *Feed[T]) Publish(value T) {
	f.mu.Lock()
	handlers := f.subs.snapshot()
	f.mu.Unlock()

	for _, fn := range handlers {
		fn(value)
	}
}

// Subscribe registers fn. The returned func removes it.
func (f *Feed[T]) Subscribe(fn func(T)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.subs.add(fn)

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.subs.remove(id)
	}
}

type subscribers[T any] struct {
	next     int
	handlers map[int]func(T)
	order    []int
}

func (s *subscribers[T]) add(fn func(T)) int {
	if s.handlers == nil {
		s.handlers = make(map[int]func(T))
	}
	id := s.next
	s.next++
	s.handlers[id] = fn
	s.order = append(s.order, id)

	return id
}

func (s *subscribers[T]) remove(id int) {
	if _, ok := s.handlers[id]; !ok {
		return
	}
	delete(s.handlers, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)

			break
		}
	}
}

func (s *subscribers[T]) snapshot() []func(T) {
	handlers := make([]func(T), 0, len(s.order))
	for _, id := range s.order {
		handlers = append(handlers, s.handlers[id])
	}

	return handlers
}
