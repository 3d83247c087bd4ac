package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musicdiscovery/searchcore/internal/domain"
)

func TestCollectorAnnotatesAndSkipsMalformed(t *testing.T) {
	collector := NewCollector("htmlindex", 2)

	kept := collector.Add(domain.ResultInput{
		Title:   "Artist - Album (2019) [FLAC 24bit WEB]",
		Locator: BuildMagnet(testHash, "Album", nil),
		Seeders: 5,
	})
	dropped := collector.Add(domain.ResultInput{
		Title:   "Broken",
		Locator: "https://example.org/x.torrent",
	})

	assert.True(t, kept)
	assert.False(t, dropped)
	require.Equal(t, 1, collector.Len())
	result := collector.Results()[0]
	assert.Equal(t, "htmlindex", result.SourceName())
	assert.Equal(t, "FLAC", result.Format().OrEmpty())
	assert.Equal(t, "24bit", result.Bitrate().OrEmpty())
	assert.Equal(t, "WEB", result.SourceMedium().OrEmpty())
}

func TestDropReason(t *testing.T) {
	assert.Equal(t, "invalid_locator", dropReason(domain.ErrInvalidLocator))
	assert.Equal(t, "empty_title", dropReason(domain.ErrEmptyTitle))
	assert.Equal(t, "invalid", dropReason(domain.ErrInvalidResult))
}
