package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/meetscribe/pkg/provider/embeddings"
	"github.com/MrWong99/meetscribe/pkg/provider/llm"
	"github.com/MrWong99/meetscribe/pkg/provider/recognizer"
	"github.com/MrWong99/meetscribe/pkg/provider/transcribe"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Registry maps provider names to factories for each provider kind. It is
// safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        factories[llm.Provider]
	embeddings factories[embeddings.Provider]
	recognizer factories[recognizer.Provider]
	transcribe factories[transcribe.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        newFactories[llm.Provider]("llm"),
		embeddings: newFactories[embeddings.Provider]("embeddings"),
		recognizer: newFactories[recognizer.Provider]("recognizer"),
		transcribe: newFactories[transcribe.Provider]("transcribe"),
	}
}

// RegisterLLM registers an LLM factory under name, replacing any previous
// registration.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = f
}

// RegisterEmbeddings registers an embeddings factory under name.
func (r *Registry) RegisterEmbeddings(name string, f Factory[embeddings.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings.m[name] = f
}

// RegisterRecognizer registers a speech recognizer factory under name.
func (r *Registry) RegisterRecognizer(name string, f Factory[recognizer.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizer.m[name] = f
}

// RegisterTranscribe registers a secondary transcription engine factory
// under name.
func (r *Registry) RegisterTranscribe(name string, f Factory[transcribe.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribe.m[name] = f
}

// CreateLLM builds the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateEmbeddings builds the embeddings provider named by entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embeddings.create(entry)
}

// CreateRecognizer builds the recognizer named by entry.Name.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (recognizer.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recognizer.create(entry)
}

// CreateTranscribe builds the secondary engine named by entry.Name.
func (r *Registry) CreateTranscribe(entry ProviderEntry) (transcribe.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transcribe.create(entry)
}

// Names returns the registered names of one kind ("llm", "embeddings",
// "recognizer" or "transcribe"), sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "llm":
		return r.llm.names()
	case "embeddings":
		return r.embeddings.names()
	case "recognizer":
		return r.recognizer.names()
	case "transcribe":
		return r.transcribe.names()
	}
	return nil
}
