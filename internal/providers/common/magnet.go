package common

import (
	"net/url"
	"strings"

	"musicdiscovery/searchcore/internal/domain"
)

// BuildMagnet returns "" when infoHash is not a 40-char hex or 32-char
// base32 btih value.
func BuildMagnet(infoHash, name string, trackers []string) string {
	hash := domain.NormalizeInfoHash(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(infoHash)), "urn:btih:"))
	if hash == "" {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("magnet:?xt=urn:btih:")
	builder.WriteString(hash)
	if strings.TrimSpace(name) != "" {
		builder.WriteString("&dn=")
		builder.WriteString(url.QueryEscape(strings.TrimSpace(name)))
	}
	for _, tracker := range trackers {
		value := strings.TrimSpace(tracker)
		if value == "" {
			continue
		}
		builder.WriteString("&tr=")
		builder.WriteString(url.QueryEscape(value))
	}
	return builder.String()
}

// MagnetName returns the dn parameter of a magnet uri, if any.
func MagnetName(locator string) string {
	names := domain.MagnetValues(strings.TrimSpace(locator), "dn")
	if len(names) == 0 {
		return ""
	}
	return strings.TrimSpace(names[0])
}
