package policy

import (
	"context"

	"github.com/straja-ai/apiguard/internal/audit"
)

// Lister fetches the active policy set. audit.Recorder satisfies it and
// already resolves failures to an empty list.
type Lister interface {
	ActivePolicies(ctx context.Context) []audit.Policy
}

// Source serves active policies through a cache.
type Source struct {
	lister Lister
	cache  Cache
}

func NewSource(lister Lister, cache Cache) *Source {
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	return &Source{lister: lister, cache: cache}
}

// Active returns the active policies. It never returns nil.
func (s *Source) Active(ctx context.Context) []audit.Policy {
	if s == nil || s.lister == nil {
		return []audit.Policy{}
	}
	if cached, ok := s.cache.Get(ctx); ok {
		return cached
	}
	policies := s.lister.ActivePolicies(ctx)
	if len(policies) == 0 {
		// an empty set may be an outage; refetch next time instead of caching it
		return []audit.Policy{}
	}
	s.cache.Set(ctx, policies)
	return policies
}
