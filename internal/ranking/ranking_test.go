package ranking

import (
	"strings"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musicdiscovery/searchcore/internal/domain"
)

type resultFields struct {
	hash      string
	title     string
	source    string
	format    string
	bitrate   string
	seeders   int
	sizeBytes int64
	published time.Time
}

func build(t *testing.T, fields resultFields) domain.Result {
	t.Helper()
	if fields.title == "" {
		fields.title = "release " + fields.hash
	}
	if fields.source == "" {
		fields.source = "alpha"
	}
	in := domain.ResultInput{
		Title:       fields.title,
		Locator:     "magnet:?xt=urn:btih:" + strings.Repeat("0", 40-len(fields.hash)) + fields.hash,
		SizeBytes:   fields.sizeBytes,
		Seeders:     fields.seeders,
		SourceName:  fields.source,
		PublishedAt: fields.published,
	}
	if fields.format != "" {
		in.Format = mo.Some(fields.format)
	}
	if fields.bitrate != "" {
		in.Bitrate = mo.Some(fields.bitrate)
	}
	result, err := domain.NewResult(in)
	require.NoError(t, err)
	return result
}

func TestFormatScoreTiers(t *testing.T) {
	tiers := []resultFields{
		{hash: "1", format: "FLAC", bitrate: "24bit"},
		{hash: "2", format: "FLAC"},
		{hash: "3", format: "MP3", bitrate: "320kbps"},
		{hash: "4", format: "MP3", bitrate: "V0"},
		{hash: "5", format: "MP3", bitrate: "192kbps"},
		{hash: "6", format: "MP3"},
		{hash: "7", format: "MP3", bitrate: "128kbps"},
		{hash: "8"},
	}
	previous := 1e9
	for _, fields := range tiers {
		score := FormatScore(build(t, fields))
		assert.Less(t, score, previous, "tier %+v must score below the one before it", fields)
		previous = score
	}
	assert.Greater(t, previous, 0.0, "unknown format keeps a non-zero floor")
}

func TestSeederBonusIsCapped(t *testing.T) {
	assert.Equal(t, 0.0, SeederBonus(0))
	assert.Equal(t, 20.0, SeederBonus(10))
	assert.Equal(t, 100.0, SeederBonus(50))
	assert.Equal(t, 100.0, SeederBonus(5000))
}

func TestSizeBonusSaturates(t *testing.T) {
	assert.Equal(t, 0.0, SizeBonus(0))
	small := SizeBonus(100 << 20)
	large := SizeBonus(4 << 30)
	huge := SizeBonus(400 << 30)
	assert.Less(t, small, large)
	assert.LessOrEqual(t, large, huge)
	assert.LessOrEqual(t, huge, 50.0)
}

func TestLosslessBeatsPopularLossy(t *testing.T) {
	lossless := build(t, resultFields{hash: "a", format: "FLAC", seeders: 50})
	lossy := build(t, resultFields{hash: "b", format: "MP3", bitrate: "320kbps", seeders: 100, sizeBytes: 100 << 30})

	assert.Greater(t, QualityScore(lossless), QualityScore(lossy))
	assert.Negative(t, Compare(lossless, lossy))
}

func TestSortTieBreaks(t *testing.T) {
	early := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(24 * time.Hour)

	items := []domain.Result{
		build(t, resultFields{hash: "5", format: "FLAC", seeders: 10, source: "beta"}),
		build(t, resultFields{hash: "4", format: "FLAC", seeders: 10, published: late}),
		build(t, resultFields{hash: "3", format: "FLAC", seeders: 10, published: early}),
		build(t, resultFields{hash: "2", format: "FLAC", seeders: 10, source: "alpha"}),
		build(t, resultFields{hash: "1", format: "FLAC", seeders: 20}),
	}
	Sort(items)

	got := make([]string, 0, len(items))
	for _, item := range items {
		got = append(got, item.IdentityKey()[39:])
	}
	// 1: more seeders; 3 before 4: earlier date; dated before undated;
	// 2 before 5: source name.
	assert.Equal(t, []string{"1", "3", "4", "2", "5"}, got)
}

func TestSortIsDeterministicAcrossInputOrders(t *testing.T) {
	base := []domain.Result{
		build(t, resultFields{hash: "1", format: "MP3", bitrate: "V0", seeders: 3}),
		build(t, resultFields{hash: "2", format: "FLAC", seeders: 3}),
		build(t, resultFields{hash: "3", seeders: 3}),
		build(t, resultFields{hash: "4", format: "FLAC", seeders: 3, source: "zeta"}),
	}
	forward := append([]domain.Result(nil), base...)
	reversed := []domain.Result{base[3], base[2], base[1], base[0]}
	Sort(forward)
	Sort(reversed)

	for i := range forward {
		assert.Equal(t, forward[i].IdentityKey(), reversed[i].IdentityKey())
	}
	for i := 1; i < len(forward); i++ {
		assert.GreaterOrEqual(t, QualityScore(forward[i-1]), QualityScore(forward[i]))
	}
}

func TestPrefer(t *testing.T) {
	better := build(t, resultFields{hash: "1", format: "FLAC", source: "zeta"})
	worse := build(t, resultFields{hash: "1", format: "MP3", source: "alpha"})
	assert.True(t, Prefer(better, worse))
	assert.False(t, Prefer(worse, better))

	fromAlpha := build(t, resultFields{hash: "1", format: "FLAC", source: "alpha"})
	fromBeta := build(t, resultFields{hash: "1", format: "FLAC", source: "beta"})
	assert.True(t, Prefer(fromAlpha, fromBeta))
	assert.False(t, Prefer(fromBeta, fromAlpha))
}
