package search

import (
	"time"

	"musicdiscovery/searchcore/internal/domain"
)

// Diagnostics returns one health entry per provider so callers can tell
// "no provider was available" apart from "nothing matched".
func (s *Service) Diagnostics(now time.Time) []domain.ProviderHealth {
	items := make([]domain.ProviderHealth, 0, len(s.providers))
	for _, provider := range s.providers {
		if reporter, ok := provider.(HealthReporter); ok {
			item := reporter.Health(now)
			if item.Name == "" {
				item.Name = providerKey(provider)
			}
			items = append(items, item)
			continue
		}
		healthy := provider.Healthy(now)
		state := domain.BreakerClosed
		if !healthy {
			state = domain.BreakerOpen
		}
		items = append(items, domain.ProviderHealth{
			Name:    providerKey(provider),
			State:   state,
			Healthy: healthy,
		})
	}
	return items
}

// Available counts providers that would be dispatched at now.
func (s *Service) Available(now time.Time) int {
	count := 0
	for _, provider := range s.providers {
		if provider.Healthy(now) {
			count++
		}
	}
	return count
}
