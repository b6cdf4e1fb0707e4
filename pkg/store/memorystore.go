// Package store implements a simple key-value store scoped to one release
// run. Set is first-write-wins so a key can only ever record one value.
package store

import (
	"errors"
	"sync"
)

var (
	ErrKeyExists      = errors.New("store: key already exists")
	ErrKeyDoesntExist = errors.New("store: key does not exist")
)

type Store interface {
	Set(key string, value any) error
	Get(key string) (any, error)
	Delete(key string) error
	Update(key string, newValue any) error
}

type MemStore struct {
	lock  sync.Mutex
	store map[string]any
}

func NewMemStore() Store {
	return &MemStore{
		store: make(map[string]any),
	}
}

// Set records a value for a new key. Setting an existing key fails with
// ErrKeyExists.
func (m *MemStore) Set(key string, value any) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.store[key]; ok {
		return ErrKeyExists
	}
	m.store[key] = value
	return nil
}

// Get returns the value recorded for key.
func (m *MemStore) Get(key string) (any, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.store[key]; !ok {
		return nil, ErrKeyDoesntExist
	}
	return m.store[key], nil
}

// Delete removes the specified key and value.
func (m *MemStore) Delete(key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.store[key]; !ok {
		return ErrKeyDoesntExist
	}
	delete(m.store, key)
	return nil
}

// Update changes the value for an existing key.
func (m *MemStore) Update(key string, value any) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.store[key]; !ok {
		return ErrKeyDoesntExist
	}
	m.store[key] = value
	return nil
}
