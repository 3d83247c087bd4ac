package domain

import (
	"strings"
	"time"
)

// Filters are applied after deduplication. Zero values disable a filter.
type Filters struct {
	Format     string `json:"format,omitempty"`
	MinSeeders int    `json:"minSeeders,omitempty"`
}

func (f Filters) Active() bool {
	return strings.TrimSpace(f.Format) != "" || f.MinSeeders > 0
}

// Match reports whether a result passes both filters. Format comparison is
// exact and case-insensitive; a result without a format never matches a
// format filter.
func (f Filters) Match(result Result) bool {
	if wanted := strings.TrimSpace(f.Format); wanted != "" {
		format, ok := result.Format().Get()
		if !ok || !strings.EqualFold(format, wanted) {
			return false
		}
	}
	if f.MinSeeders > 0 && result.Seeders() < f.MinSeeders {
		return false
	}
	return true
}

// ProviderStatus summarizes what one provider contributed to a search.
// Skipped means the circuit was open and no call was made; Failed means the
// call was made and ended in an error, timeout or panic.
type ProviderStatus struct {
	Name    string `json:"name"`
	Skipped bool   `json:"skipped,omitempty"`
	Failed  bool   `json:"failed,omitempty"`
	Count   int    `json:"count"`
}

type SearchResponse struct {
	Query     string           `json:"query"`
	Filters   Filters          `json:"filters"`
	Items     []Result         `json:"items"`
	Providers []ProviderStatus `json:"providers"`
	Healthy   int              `json:"healthyProviders"`
	ElapsedMS int64            `json:"elapsedMs"`
	Cached    bool             `json:"cached,omitempty"`
	FetchedAt time.Time        `json:"fetchedAt"`
}
