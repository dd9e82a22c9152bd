package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/google/uuid"
)

// Content is the rendered message handed to a provider.
type Content struct {
	NotificationID uuid.UUID
	Subject        string
	Body           string
}

// Provider transmits one message and returns the provider's message id.
type Provider interface {
	Send(ctx context.Context, recipient string, content Content) (string, error)
	Name() string
}

// Factory maps provider identifiers to adapters.
type Factory struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewFactory(providers ...Provider) *Factory {
	f := &Factory{providers: make(map[string]Provider)}
	for _, p := range providers {
		f.Register(p)
	}
	return f
}

func (f *Factory) Register(p Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[p.Name()] = p
}

// Get returns the adapter registered under identifier.
func (f *Factory) Get(identifier string) (Provider, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.providers[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotFound, identifier)
	}
	return p, nil
}

// Has reports whether an adapter is registered under identifier.
func (f *Factory) Has(identifier string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.providers[identifier]
	return ok
}

func (f *Factory) Identifiers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]string, 0, len(f.providers))
	for id := range f.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
