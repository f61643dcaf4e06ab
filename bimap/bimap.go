/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

// Package bimap provides a concurrency safe bijection between two comparable key spaces.
//
// Both directions are updated under one write lock, so a reader never observes a key bound
// to a value whose reverse entry points elsewhere.
package bimap

import (
	"errors"
	"fmt"
	"sync"
)

// ErrValueConflict is returned by Set when the value is already bound to another key
var ErrValueConflict = errors.New(`bimap: value already bound to a different key`)

// Map is a bidirectional map. The zero value is not usable, use New.
type Map[K comparable, V comparable] struct {
	mu      sync.RWMutex
	forward map[K]V
	reverse map[V]K
}

// New returns an empty Map
func New[K comparable, V comparable]() *Map[K, V] {
	return &Map[K, V]{
		forward: make(map[K]V),
		reverse: make(map[V]K),
	}
}

// Get returns the value bound to key
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.forward[key]
	return v, ok
}

// GetKey returns the key bound to value
func (m *Map[K, V]) GetKey(value V) (K, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.reverse[value]
	return k, ok
}

// TryAdd binds key and value only if neither is bound yet
func (m *Map[K, V]) TryAdd(key K, value V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.forward[key]; ok {
		return false
	}
	if _, ok := m.reverse[value]; ok {
		return false
	}

	m.forward[key] = value
	m.reverse[value] = key

	return true
}

// Set binds key to value, replacing the previous value of key. It fails with ErrValueConflict
// when value is bound to a different key.
func (m *Map[K, V]) Set(key K, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, ok := m.reverse[value]; ok {
		if owner == key {
			return nil
		}
		return fmt.Errorf(`%w: [%v] is bound to [%v]`, ErrValueConflict, value, owner)
	}

	if previous, ok := m.forward[key]; ok {
		delete(m.reverse, previous)
	}

	m.forward[key] = value
	m.reverse[value] = key

	return nil
}

// Remove unbinds key and its value
func (m *Map[K, V]) Remove(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.forward[key]
	if !ok {
		return v, false
	}

	delete(m.forward, key)
	delete(m.reverse, v)

	return v, true
}

// RemoveByValue unbinds value and its key
func (m *Map[K, V]) RemoveByValue(value V) (K, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.reverse[value]
	if !ok {
		return k, false
	}

	delete(m.reverse, value)
	delete(m.forward, k)

	return k, true
}

// Len returns the number of bound pairs
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.forward)
}

// Keys returns a snapshot of the bound keys
func (m *Map[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]K, 0, len(m.forward))
	for k := range m.forward {
		keys = append(keys, k)
	}

	return keys
}

// Range calls fn for each pair of a consistent snapshot until fn returns false.
// fn may call back into the map.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	m.mu.RLock()
	pairs := make([]struct {
		k K
		v V
	}, 0, len(m.forward))
	for k, v := range m.forward {
		pairs = append(pairs, struct {
			k K
			v V
		}{k, v})
	}
	m.mu.RUnlock()

	for _, p := range pairs {
		if !fn(p.k, p.v) {
			return
		}
	}
}
