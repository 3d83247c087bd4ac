// Package bittorrentindex queries a public index that answers searches with a
// JSON array, restricted to its audio categories.
package bittorrentindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"musicdiscovery/searchcore/internal/domain"
	"musicdiscovery/searchcore/internal/providers/circuit"
	"musicdiscovery/searchcore/internal/providers/common"
)

const (
	providerName    = "apibay"
	defaultEndpoint = "https://apibay.org/q.php"
	jsonAccept      = "application/json"

	// audioCategory is the top-level audio section; sub-categories are
	// 101 music, 102 audio books, 103 sound clips, 104 FLAC, 199 other.
	audioCategory     = 100
	audioBookCategory = 102
)

var defaultTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.stealth.si:80/announce",
	"udp://tracker.torrent.eu.org:451/announce",
}

var errUnexpectedPayload = errors.New("unexpected provider payload")

type Config struct {
	Endpoint      string
	UserAgent     string
	Trackers      []string
	Client        *http.Client
	RatePerSecond float64
	Breaker       circuit.Config
	GuardOptions  []circuit.GuardOption
}

type Provider struct {
	*circuit.Guard

	fetcher  common.Fetcher
	endpoint string
	trackers []string
}

// apiItem mirrors one element of the JSON answer. Numeric fields arrive as
// strings on some mirrors and as numbers on others.
type apiItem struct {
	ID       flexString `json:"id"`
	Name     string     `json:"name"`
	InfoHash string     `json:"info_hash"`
	Size     flexString `json:"size"`
	Seeders  flexString `json:"seeders"`
	Leechers flexString `json:"leechers"`
	Added    flexString `json:"added"`
	Category flexString `json:"category"`
}

type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*s = flexString(value)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}
	*s = flexString(number.String())
	return nil
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	trackers := cfg.Trackers
	if len(trackers) == 0 {
		trackers = append([]string(nil), defaultTrackers...)
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &Provider{
		Guard: circuit.NewGuard(providerName, cfg.Breaker, cfg.GuardOptions...),
		fetcher: common.Fetcher{
			Client:    client,
			UserAgent: cfg.UserAgent,
			Limiter:   limiter,
			Retry:     common.DefaultRetryConfig(),
		},
		endpoint: endpoint,
		trackers: trackers,
	}
}

func (p *Provider) Name() string {
	return providerName
}

func (p *Provider) Search(ctx context.Context, query string) []domain.Result {
	return p.Run(ctx, query, func(ctx context.Context) ([]domain.Result, error) {
		return p.search(ctx, query)
	})
}

func (p *Provider) search(ctx context.Context, query string) ([]domain.Result, error) {
	uri, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	params := uri.Query()
	params.Set("q", strings.TrimSpace(query))
	params.Set("cat", strconv.Itoa(audioCategory))
	uri.RawQuery = params.Encode()

	payload, err := p.fetcher.GetRaw(ctx, uri.String(), jsonAccept)
	if err != nil {
		return nil, err
	}
	items, malformed, err := parseAPIItems(payload)
	if err != nil {
		return nil, err
	}

	collector := common.NewCollector(providerName, len(items))
	for range malformed {
		collector.Drop("malformed")
	}
	for _, item := range items {
		if isEmptyMarker(item) {
			continue
		}
		if !isMusicCategory(string(item.Category)) {
			collector.Drop("category")
			continue
		}
		in, ok := p.toInput(item)
		if !ok {
			collector.Drop("missing_hash")
			continue
		}
		collector.Add(in)
	}
	return collector.Results(), nil
}

// parseAPIItems decodes the answer element by element. A malformed element
// is counted and skipped; only a payload that is not an array or object is
// an error.
func parseAPIItems(payload []byte) ([]apiItem, int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		var single map[string]any
		if err := json.Unmarshal(payload, &single); err == nil {
			return []apiItem{}, 0, nil
		}
		return nil, 0, errUnexpectedPayload
	}

	items := make([]apiItem, 0, len(raw))
	malformed := 0
	for _, element := range raw {
		var item apiItem
		if err := json.Unmarshal(element, &item); err != nil {
			malformed++
			continue
		}
		items = append(items, item)
	}
	return items, malformed, nil
}

// isEmptyMarker recognizes the placeholder row the index returns instead of
// an empty array.
func isEmptyMarker(item apiItem) bool {
	return strings.TrimSpace(string(item.ID)) == "0" ||
		strings.Contains(strings.ToLower(item.Name), "no results returned")
}

// isMusicCategory keeps the audio section minus audio books. A missing
// category is trusted because the request already asked for audio.
func isMusicCategory(raw string) bool {
	value := strings.TrimSpace(raw)
	if value == "" {
		return true
	}
	category, err := strconv.Atoi(value)
	if err != nil {
		return false
	}
	return category >= audioCategory && category < audioCategory+100 && category != audioBookCategory
}

func (p *Provider) toInput(item apiItem) (domain.ResultInput, bool) {
	name := strings.TrimSpace(item.Name)
	locator := common.BuildMagnet(item.InfoHash, name, p.trackers)
	if locator == "" {
		return domain.ResultInput{}, false
	}
	return domain.ResultInput{
		Title:       name,
		Locator:     locator,
		SizeBytes:   atoi64(string(item.Size)),
		Seeders:     atoi(string(item.Seeders)),
		Leechers:    atoi(string(item.Leechers)),
		PublishedAt: parseUnixTS(string(item.Added)),
		SourceName:  providerName,
	}, true
}

func atoi(raw string) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func atoi64(raw string) int64 {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

// parseUnixTS returns the zero time for missing or invalid timestamps.
func parseUnixTS(raw string) time.Time {
	ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
