// Package blobstore stores relocation files and validation run artifacts.
package blobstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotExist is returned by Read for a missing object.
var ErrNotExist = errors.New("blobstore: object does not exist")

// Bucket is a flat namespace of objects addressed by slash separated names.
type Bucket interface {
	Write(ctx context.Context, name string, data []byte) error
	Read(ctx context.Context, name string) ([]byte, error)
	// List returns the names under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Name is the bucket name used in gs:// URLs.
	Name() string
}

// Memory is an in-process Bucket.
type Memory struct {
	name string

	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory returns an empty in-memory bucket.
func NewMemory(name string) *Memory {
	return &Memory{name: name, objects: make(map[string][]byte)}
}

// Name implements Bucket.
func (m *Memory) Name() string { return m.name }

// Write implements Bucket.
func (m *Memory) Write(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = append([]byte(nil), data...)
	return nil
}

// Read implements Bucket.
func (m *Memory) Read(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[name]
	if !ok {
		return nil, ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

// List implements Bucket.
func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name := range m.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes an object. Missing objects are ignored.
func (m *Memory) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
}
