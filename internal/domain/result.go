package domain

import (
	"encoding/base32"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/samber/mo"
)

const (
	magnetPrefix = "magnet:?"
	btihPrefix   = "urn:btih:"
)

// ResultInput carries the raw fields a provider extracted for one item.
// It is validated and frozen by NewResult.
type ResultInput struct {
	Title        string
	Locator      string
	SizeBytes    int64
	Seeders      int
	Leechers     int
	PublishedAt  time.Time
	SourceName   string
	Format       mo.Option[string]
	Bitrate      mo.Option[string]
	SourceMedium mo.Option[string]
}

// Result is a normalized search hit. The zero value is not valid; build one
// with NewResult.
type Result struct {
	title        string
	locator      string
	identityKey  string
	sizeBytes    int64
	seeders      int
	leechers     int
	publishedAt  time.Time
	sourceName   string
	format       mo.Option[string]
	bitrate      mo.Option[string]
	sourceMedium mo.Option[string]
}

func NewResult(in ResultInput) (Result, error) {
	title := in.Title
	if strings.TrimSpace(title) == "" {
		return Result{}, ErrEmptyTitle
	}
	source := strings.ToLower(strings.TrimSpace(in.SourceName))
	if source == "" {
		return Result{}, ErrMissingSource
	}
	if in.SizeBytes < 0 || in.Seeders < 0 || in.Leechers < 0 {
		return Result{}, fmt.Errorf("%w (size=%d seeders=%d leechers=%d)", ErrNegativeValue, in.SizeBytes, in.Seeders, in.Leechers)
	}
	locator := strings.TrimSpace(in.Locator)
	key := IdentityKey(locator)
	if key == "" {
		return Result{}, ErrInvalidLocator
	}

	var publishedAt time.Time
	if !in.PublishedAt.IsZero() {
		publishedAt = in.PublishedAt.UTC()
	}

	return Result{
		title:        title,
		locator:      locator,
		identityKey:  key,
		sizeBytes:    in.SizeBytes,
		seeders:      in.Seeders,
		leechers:     in.Leechers,
		publishedAt:  publishedAt,
		sourceName:   source,
		format:       normalizeOption(in.Format),
		bitrate:      normalizeOption(in.Bitrate),
		sourceMedium: normalizeOption(in.SourceMedium),
	}, nil
}

func normalizeOption(value mo.Option[string]) mo.Option[string] {
	raw, ok := value.Get()
	if !ok {
		return mo.None[string]()
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return mo.None[string]()
	}
	return mo.Some(raw)
}

func (r Result) Title() string                   { return r.title }
func (r Result) Locator() string                 { return r.locator }
func (r Result) IdentityKey() string             { return r.identityKey }
func (r Result) SizeBytes() int64                { return r.sizeBytes }
func (r Result) Seeders() int                    { return r.seeders }
func (r Result) Leechers() int                   { return r.leechers }
func (r Result) SourceName() string              { return r.sourceName }
func (r Result) Format() mo.Option[string]       { return r.format }
func (r Result) Bitrate() mo.Option[string]      { return r.bitrate }
func (r Result) SourceMedium() mo.Option[string] { return r.sourceMedium }

// PublishedAt returns the zero time when the source did not report a date.
func (r Result) PublishedAt() time.Time { return r.publishedAt }

func (r Result) HasPublishedAt() bool { return !r.publishedAt.IsZero() }

type resultJSON struct {
	Title        string     `json:"title"`
	Locator      string     `json:"locator"`
	IdentityKey  string     `json:"identityKey"`
	SizeBytes    int64      `json:"sizeBytes"`
	Seeders      int        `json:"seeders"`
	Leechers     int        `json:"leechers"`
	PublishedAt  *time.Time `json:"publishedAt"`
	SourceName   string     `json:"sourceName"`
	Format       *string    `json:"format"`
	Bitrate      *string    `json:"bitrate"`
	SourceMedium *string    `json:"sourceMedium"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	payload := resultJSON{
		Title:        r.title,
		Locator:      r.locator,
		IdentityKey:  r.identityKey,
		SizeBytes:    r.sizeBytes,
		Seeders:      r.seeders,
		Leechers:     r.leechers,
		SourceName:   r.sourceName,
		Format:       r.format.ToPointer(),
		Bitrate:      r.bitrate.ToPointer(),
		SourceMedium: r.sourceMedium.ToPointer(),
	}
	if r.HasPublishedAt() {
		publishedAt := r.publishedAt
		payload.PublishedAt = &publishedAt
	}
	return json.Marshal(payload)
}

// UnmarshalJSON re-validates the payload so cached results obey the same
// invariants as freshly built ones.
func (r *Result) UnmarshalJSON(data []byte) error {
	var payload resultJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	in := ResultInput{
		Title:        payload.Title,
		Locator:      payload.Locator,
		SizeBytes:    payload.SizeBytes,
		Seeders:      payload.Seeders,
		Leechers:     payload.Leechers,
		SourceName:   payload.SourceName,
		Format:       mo.PointerToOption(payload.Format),
		Bitrate:      mo.PointerToOption(payload.Bitrate),
		SourceMedium: mo.PointerToOption(payload.SourceMedium),
	}
	if payload.PublishedAt != nil {
		in.PublishedAt = *payload.PublishedAt
	}
	built, err := NewResult(in)
	if err != nil {
		return err
	}
	*r = built
	return nil
}

// IdentityKey extracts the content hash from a magnet locator and returns it
// as lowercase hex. Base32 hashes are converted so every source yields the
// same key for the same item. It returns "" for anything that is not a
// well-formed magnet uri. Loosely encoded parameters such as a raw "%" or
// ";" in dn do not invalidate the hash.
func IdentityKey(locator string) string {
	value := strings.TrimSpace(locator)
	if len(value) < len(magnetPrefix) || !strings.EqualFold(value[:len(magnetPrefix)], magnetPrefix) {
		return ""
	}
	for _, xt := range MagnetValues(value, "xt") {
		xt = strings.TrimSpace(xt)
		if len(xt) <= len(btihPrefix) || !strings.EqualFold(xt[:len(btihPrefix)], btihPrefix) {
			continue
		}
		if hash := NormalizeInfoHash(xt[len(btihPrefix):]); hash != "" {
			return hash
		}
	}
	return ""
}

// MagnetValues returns every value of key in the query part of a magnet uri.
// Pairs are split on "&" only and each value is unescaped on its own; a
// value that fails to unescape is returned as written.
func MagnetValues(locator, key string) []string {
	raw := locator
	if idx := strings.Index(raw, "?"); idx >= 0 {
		raw = raw[idx+1:]
	}
	var values []string
	for _, pair := range strings.Split(raw, "&") {
		name, value, _ := strings.Cut(pair, "=")
		if !strings.EqualFold(name, key) {
			continue
		}
		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}
		values = append(values, value)
	}
	return values
}

// NormalizeInfoHash accepts a 40-char hex or 32-char base32 btih value and
// returns lowercase hex, or "" if the value is neither.
func NormalizeInfoHash(raw string) string {
	value := strings.TrimSpace(raw)
	switch len(value) {
	case 40:
		decoded, err := hex.DecodeString(value)
		if err != nil {
			return ""
		}
		return hex.EncodeToString(decoded)
	case 32:
		decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(value))
		if err != nil || len(decoded) != 20 {
			return ""
		}
		return hex.EncodeToString(decoded)
	default:
		return ""
	}
}
