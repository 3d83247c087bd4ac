package ranking

import (
	"sort"
	"strings"

	"musicdiscovery/searchcore/internal/domain"
)

// Compare orders two results: negative when left ranks ahead of right.
// Ties on score fall through seeders (higher first), publishedAt (earlier
// first, unknown last), source name, identity key and title, so the order is
// total for any pair of distinct results.
func Compare(left, right domain.Result) int {
	return compareScored(scored{left, QualityScore(left)}, scored{right, QualityScore(right)})
}

type scored struct {
	result domain.Result
	score  float64
}

func compareScored(left, right scored) int {
	switch {
	case left.score > right.score:
		return -1
	case left.score < right.score:
		return 1
	}
	l, r := left.result, right.result
	if l.Seeders() != r.Seeders() {
		if l.Seeders() > r.Seeders() {
			return -1
		}
		return 1
	}
	if cmp := comparePublished(l, r); cmp != 0 {
		return cmp
	}
	if cmp := strings.Compare(l.SourceName(), r.SourceName()); cmp != 0 {
		return cmp
	}
	if cmp := strings.Compare(l.IdentityKey(), r.IdentityKey()); cmp != 0 {
		return cmp
	}
	return strings.Compare(l.Title(), r.Title())
}

func comparePublished(left, right domain.Result) int {
	switch {
	case left.HasPublishedAt() && !right.HasPublishedAt():
		return -1
	case !left.HasPublishedAt() && right.HasPublishedAt():
		return 1
	case !left.HasPublishedAt():
		return 0
	case left.PublishedAt().Before(right.PublishedAt()):
		return -1
	case left.PublishedAt().After(right.PublishedAt()):
		return 1
	default:
		return 0
	}
}

// Sort orders items in place, best first. Scores are computed once per item.
func Sort(items []domain.Result) {
	if len(items) < 2 {
		return
	}
	entries := make([]scored, len(items))
	for i, item := range items {
		entries[i] = scored{result: item, score: QualityScore(item)}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return compareScored(entries[i], entries[j]) < 0
	})
	for i := range entries {
		items[i] = entries[i].result
	}
}

// Prefer decides which of two results sharing an identity key survives
// deduplication: the higher score, then the lexically smaller source name,
// then the general ordering.
func Prefer(candidate, existing domain.Result) bool {
	candidateScore := QualityScore(candidate)
	existingScore := QualityScore(existing)
	if candidateScore != existingScore {
		return candidateScore > existingScore
	}
	if candidate.SourceName() != existing.SourceName() {
		return candidate.SourceName() < existing.SourceName()
	}
	return compareScored(scored{candidate, candidateScore}, scored{existing, existingScore}) < 0
}
