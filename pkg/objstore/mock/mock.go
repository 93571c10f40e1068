// Package mock provides an in-memory test double for [objstore.Store].
//
// Objects live in a map; every call is recorded so tests can assert on
// reads and writes. Set the Err fields to inject failures.
package mock

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/meetscribe/pkg/objstore"
)

var _ objstore.Store = (*Store)(nil)

// PutCall records one Put invocation.
type PutCall struct {
	Key         string
	Data        []byte
	ContentType string
}

// Store is an in-memory [objstore.Store]. The zero value is ready to use.
type Store struct {
	mu      sync.Mutex
	objects map[string][]byte

	// GetErr, PutErr and ListErr, when non-nil, are returned by the
	// corresponding method instead of touching the map.
	GetErr  error
	PutErr  error
	ListErr error

	GetCalls  []string
	PutCalls  []PutCall
	ListCalls []string
}

// Set stores an object directly without recording a call.
func (s *Store) Set(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = slices.Clone(data)
}

// Object returns the stored object and whether it exists.
func (s *Store) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return slices.Clone(data), ok
}

// Keys returns all stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Get implements [objstore.Store].
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetCalls = append(s.GetCalls, key)
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", objstore.ErrNotFound, key)
	}
	return slices.Clone(data), nil
}

// Put implements [objstore.Store].
func (s *Store) Put(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PutCalls = append(s.PutCalls, PutCall{Key: key, Data: slices.Clone(data), ContentType: contentType})
	if s.PutErr != nil {
		return s.PutErr
	}
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = slices.Clone(data)
	return nil
}

// List implements [objstore.Store].
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListCalls = append(s.ListCalls, prefix)
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var names []string
	for k := range s.objects {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, rest)
	}
	slices.Sort(names)
	return names, nil
}

// Exists implements [objstore.Store].
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

// URI implements [objstore.Store].
func (s *Store) URI(key string) string {
	return "mem://" + key
}
