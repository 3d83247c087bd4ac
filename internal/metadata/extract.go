// Package metadata infers audio attributes from free-text release titles.
// Every function is pure and returns mo.None when nothing matches.
package metadata

import (
	"regexp"

	"github.com/samber/mo"

	"musicdiscovery/searchcore/internal/domain"
)

type token struct {
	value   string
	pattern *regexp.Regexp
}

func newToken(value, expr string) token {
	return token{value: value, pattern: regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(?:` + expr + `)(?:$|[^\p{L}\p{N}])`)}
}

// Lossless formats come first so "FLAC + MP3" bundles are classified by
// their best payload.
var formatTokens = []token{
	newToken("FLAC", `flac`),
	newToken("ALAC", `alac`),
	newToken("APE", `ape|monkey'?s audio`),
	newToken("WV", `wv|wavpack`),
	newToken("WAV", `wav|pcm`),
	newToken("DSD", `dsd(?:64|128|256)?|dsf|dff`),
	newToken("AIFF", `aiff?`),
	newToken("MP3", `mp3|lame`),
	newToken("AAC", `aac|m4a`),
	newToken("OGG", `ogg|vorbis`),
	newToken("OPUS", `opus`),
	newToken("WMA", `wma`),
}

var bitrateTokens = []token{
	newToken("24bit", `24[\s-]?bits?|24[/-](?:44|48|88|96|176|192)(?:[.,]\d)?(?:\s?khz)?|hi[\s-]?res`),
	newToken("16bit", `16[\s-]?bits?|16[/-](?:44|48)(?:[.,]\d)?(?:\s?khz)?`),
	newToken("320kbps", `320\s?(?:kbps|kbit/?s|kb/s|k)?`),
	newToken("V0", `v0|vbr\s?v0`),
	newToken("256kbps", `256\s?(?:kbps|kbit/?s|kb/s|k)?`),
	newToken("V2", `v2|vbr\s?v2`),
	newToken("192kbps", `192\s?(?:kbps|kbit/?s|kb/s|k)?`),
	newToken("128kbps", `128\s?(?:kbps|kbit/?s|kb/s|k)?`),
	newToken("VBR", `vbr`),
	newToken("CBR", `cbr`),
}

var mediumTokens = []token{
	newToken("SACD", `sacd`),
	newToken("WEB", `web(?:[\s-]?(?:dl|rip|flac))?|digital(?:\s?release)?|itunes|bandcamp|qobuz|tidal|deezer`),
	newToken("CD", `cd(?:[\s-]?rip)?|cdda`),
	newToken("VINYL", `vinyl(?:[\s-]?rip)?|lp|12"|7"`),
	newToken("CASSETTE", `cassette|tape(?:[\s-]?rip)?`),
	newToken("DVD", `dvd(?:[\s-]?a(?:udio)?)?`),
	newToken("BLURAY", `blu[\s-]?ray|bd[\s-]?(?:a|rip)`),
	newToken("RADIO", `radio|broadcast|fm|dab`),
}

func firstMatch(tokens []token, title string) mo.Option[string] {
	if title == "" {
		return mo.None[string]()
	}
	for _, t := range tokens {
		if t.pattern.MatchString(title) {
			return mo.Some(t.value)
		}
	}
	return mo.None[string]()
}

func ExtractFormat(title string) mo.Option[string] {
	return firstMatch(formatTokens, title)
}

func ExtractBitrate(title string) mo.Option[string] {
	return firstMatch(bitrateTokens, title)
}

func ExtractSourceMedium(title string) mo.Option[string] {
	return firstMatch(mediumTokens, title)
}

// Annotate fills the optional attributes a provider left empty from the title.
// Values the provider set explicitly are kept.
func Annotate(in *domain.ResultInput) {
	if in == nil {
		return
	}
	if in.Format.IsAbsent() {
		in.Format = ExtractFormat(in.Title)
	}
	if in.Bitrate.IsAbsent() {
		in.Bitrate = ExtractBitrate(in.Title)
	}
	if in.SourceMedium.IsAbsent() {
		in.SourceMedium = ExtractSourceMedium(in.Title)
	}
}
