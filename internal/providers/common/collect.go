package common

import (
	"errors"

	"musicdiscovery/searchcore/internal/domain"
	"musicdiscovery/searchcore/internal/metadata"
	"musicdiscovery/searchcore/internal/metrics"
)

// BuildResult fills absent metadata from the title and validates the input.
func BuildResult(in domain.ResultInput) (domain.Result, error) {
	metadata.Annotate(&in)
	return domain.NewResult(in)
}

// Collector accumulates one provider's results, skipping malformed records
// and counting them by reason.
type Collector struct {
	provider string
	items    []domain.Result
}

func NewCollector(provider string, capacity int) *Collector {
	if capacity < 0 {
		capacity = 0
	}
	return &Collector{provider: provider, items: make([]domain.Result, 0, capacity)}
}

// Add reports whether the record was kept.
func (c *Collector) Add(in domain.ResultInput) bool {
	if in.SourceName == "" {
		in.SourceName = c.provider
	}
	result, err := BuildResult(in)
	if err != nil {
		c.Drop(dropReason(err))
		return false
	}
	c.items = append(c.items, result)
	return true
}

func (c *Collector) Drop(reason string) {
	metrics.ProviderResultsDropped.WithLabelValues(c.provider, reason).Inc()
}

func (c *Collector) Len() int {
	return len(c.items)
}

func (c *Collector) Results() []domain.Result {
	return c.items
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidLocator):
		return "invalid_locator"
	case errors.Is(err, domain.ErrEmptyTitle):
		return "empty_title"
	case errors.Is(err, domain.ErrNegativeValue):
		return "negative_value"
	case errors.Is(err, domain.ErrMissingSource):
		return "missing_source"
	default:
		return "invalid"
	}
}
