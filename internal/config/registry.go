package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cierra-ai/cierra/pkg/provider/llm"
	"github.com/cierra-ai/cierra/pkg/provider/voice"
)

// ErrProviderNotRegistered is returned by the Create methods when the
// requested provider name has no factory.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry resolves provider names from the config file into live provider
// instances. The binary registers one factory per supported backend at
// startup; [Registry.CreateLLM] and [Registry.CreateVoice] then construct
// whatever the config names. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	llm   map[string]func(ProviderEntry) (llm.Provider, error)
	voice map[string]func(ProviderEntry) (voice.Provider, error)
}

// NewRegistry returns a [Registry] with no factories installed.
func NewRegistry() *Registry {
	return &Registry{
		llm:   make(map[string]func(ProviderEntry) (llm.Provider, error)),
		voice: make(map[string]func(ProviderEntry) (voice.Provider, error)),
	}
}

// RegisterLLM installs a completion provider factory under name. Registering
// the same name twice keeps the later factory.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	r.llm[name] = factory
	r.mu.Unlock()
}

// RegisterVoice installs a speech synthesis provider factory under name.
func (r *Registry) RegisterVoice(name string, factory func(ProviderEntry) (voice.Provider, error)) {
	r.mu.Lock()
	r.voice[name] = factory
	r.mu.Unlock()
}

// CreateLLM builds the completion provider that entry names.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVoice builds the speech synthesis provider that entry names.
func (r *Registry) CreateVoice(entry ProviderEntry) (voice.Provider, error) {
	r.mu.RLock()
	factory, ok := r.voice[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: voice/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
