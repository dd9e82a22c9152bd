package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/google/uuid"
)

// ProviderRepository is the persistent side of the registry.
type ProviderRepository interface {
	ListProviders(ctx context.Context) ([]domain.ProviderDetails, error)
	UpdateProvider(ctx context.Context, id uuid.UUID, upd domain.ProviderUpdate) (*domain.ProviderDetails, error)
}

// AdapterSet reports which provider identifiers have a configured adapter.
type AdapterSet interface {
	Has(identifier string) bool
}

// ProviderRegistry caches provider configuration and selects a provider per
// send. It holds configuration only; adapters live in the provider factory.
type ProviderRegistry struct {
	repo   ProviderRepository
	logger *slog.Logger

	mu        sync.RWMutex
	providers []domain.ProviderDetails
	adapters  AdapterSet

	intN func(n int) int
}

func NewProviderRegistry(repo ProviderRepository, logger *slog.Logger) *ProviderRegistry {
	return &ProviderRegistry{
		repo:   repo,
		logger: logger,
		intN:   rand.IntN,
	}
}

// UseAdapters limits selection to providers with a configured adapter. An
// active row without one is never returned by Select or SelectByIdentifier.
func (r *ProviderRegistry) UseAdapters(adapters AdapterSet) {
	r.mu.Lock()
	r.adapters = adapters
	r.mu.Unlock()
}

// Load replaces the cached snapshot with the repository's current rows.
func (r *ProviderRegistry) Load(ctx context.Context) error {
	providers, err := r.repo.ListProviders(ctx)
	if err != nil {
		return fmt.Errorf("loading providers: %w", err)
	}

	r.mu.Lock()
	r.providers = providers
	r.mu.Unlock()
	return nil
}

// StartRefresh reloads the snapshot every interval until ctx is done, so
// admin changes made through another instance are picked up.
func (r *ProviderRegistry) StartRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Load(ctx); err != nil {
				r.logger.Error("provider registry refresh failed", "error", err)
			}
		}
	}
}

// ActiveProviders returns active providers for the channel, best priority
// first, ties broken by identifier.
func (r *ProviderRegistry) ActiveProviders(channel domain.Channel) []domain.ProviderDetails {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []domain.ProviderDetails
	for _, p := range r.providers {
		if p.Active && p.Channel == channel {
			active = append(active, p)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority < active[j].Priority
		}
		return active[i].Identifier < active[j].Identifier
	})
	return active
}

// Select picks a provider from the best priority tier, weighted-random when
// any tier member carries a load-balancing weight.
func (r *ProviderRegistry) Select(channel domain.Channel, requiresInternational bool) (domain.ProviderDetails, error) {
	candidates := r.servable(filterInternational(r.ActiveProviders(channel), requiresInternational))
	if len(candidates) == 0 {
		return domain.ProviderDetails{}, &domain.NoProviderAvailableError{Channel: channel, International: requiresInternational}
	}
	return pickFromTopTier(candidates, r.intN), nil
}

// SelectByIdentifier returns the named provider when it can serve the send.
func (r *ProviderRegistry) SelectByIdentifier(channel domain.Channel, identifier string, requiresInternational bool) (domain.ProviderDetails, error) {
	for _, p := range r.servable(filterInternational(r.ActiveProviders(channel), requiresInternational)) {
		if p.Identifier == identifier {
			return p, nil
		}
	}
	return domain.ProviderDetails{}, &domain.NoProviderAvailableError{Channel: channel, International: requiresInternational}
}

// RecordVersionChange applies an admin update. The repository bumps the
// version and appends history in the same transaction.
func (r *ProviderRegistry) RecordVersionChange(ctx context.Context, id uuid.UUID, upd domain.ProviderUpdate) (*domain.ProviderDetails, error) {
	updated, err := r.repo.UpdateProvider(ctx, id, upd)
	if err != nil {
		return nil, err
	}

	if err := r.Load(ctx); err != nil {
		return nil, err
	}

	r.logger.Info("provider updated",
		"provider", updated.Identifier,
		"version", updated.Version,
		"priority", updated.Priority,
		"active", updated.Active,
	)
	return updated, nil
}

func (r *ProviderRegistry) servable(providers []domain.ProviderDetails) []domain.ProviderDetails {
	r.mu.RLock()
	adapters := r.adapters
	r.mu.RUnlock()
	if adapters == nil {
		return providers
	}

	var out []domain.ProviderDetails
	for _, p := range providers {
		if adapters.Has(p.Identifier) {
			out = append(out, p)
		}
	}
	return out
}

func filterInternational(providers []domain.ProviderDetails, required bool) []domain.ProviderDetails {
	if !required {
		return providers
	}
	var out []domain.ProviderDetails
	for _, p := range providers {
		if p.SupportsInternational {
			out = append(out, p)
		}
	}
	return out
}

// pickFromTopTier expects candidates sorted by priority then identifier.
func pickFromTopTier(candidates []domain.ProviderDetails, intN func(int) int) domain.ProviderDetails {
	best := candidates[0].Priority
	var tier []domain.ProviderDetails
	weighted := false
	for _, p := range candidates {
		if p.Priority != best {
			break
		}
		tier = append(tier, p)
		if p.LoadBalancingWeight != nil {
			weighted = true
		}
	}

	if !weighted || len(tier) == 1 {
		return tier[0]
	}

	total := 0
	for _, p := range tier {
		total += weightOf(p)
	}
	if total <= 0 {
		return tier[0]
	}

	n := intN(total)
	for _, p := range tier {
		n -= weightOf(p)
		if n < 0 {
			return p
		}
	}
	return tier[len(tier)-1]
}

func weightOf(p domain.ProviderDetails) int {
	if p.LoadBalancingWeight == nil {
		return 1
	}
	if *p.LoadBalancingWeight < 0 {
		return 0
	}
	return *p.LoadBalancingWeight
}
