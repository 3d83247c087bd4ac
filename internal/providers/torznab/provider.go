// Package torznab queries a Torznab-compatible indexer proxy (Jackett,
// Prowlarr) restricted to its audio categories.
package torznab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"

	"musicdiscovery/searchcore/internal/domain"
	"musicdiscovery/searchcore/internal/providers/circuit"
	"musicdiscovery/searchcore/internal/providers/common"
)

const (
	defaultName = "torznab"
	// Audio sub-categories minus 3030 (Audio/Audiobook): MP3, video,
	// lossless, other.
	audioCategories        = "3010,3020,3040,3050"
	audioCategoryMin       = 3000
	audioCategoryMax       = 3999
	audioBookCategory      = 3030
	maxConcurrentDownloads = 5
	torrentDownloadTimeout = 4 * time.Second
	feedAccept             = "application/xml,text/xml,application/rss+xml"
	torrentAccept          = "application/x-bittorrent,application/octet-stream,*/*"
)

var errNotConfigured = errors.New("provider is not configured")

var defaultTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.stealth.si:80/announce",
	"udp://tracker.torrent.eu.org:451/announce",
}

type Config struct {
	Name         string
	Endpoint     string
	APIKey       string
	UserAgent    string
	Client       *http.Client
	Trackers     []string
	Breaker      circuit.Config
	GuardOptions []circuit.GuardOption
}

type Provider struct {
	*circuit.Guard

	name     string
	endpoint string
	apiKey   string
	fetcher  common.Fetcher
	trackers []string
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	if name == "" {
		name = defaultName
	}
	trackers := cfg.Trackers
	if len(trackers) == 0 {
		trackers = append([]string(nil), defaultTrackers...)
	}
	return &Provider{
		Guard:    circuit.NewGuard(name, cfg.Breaker, cfg.GuardOptions...),
		name:     name,
		endpoint: strings.TrimSpace(cfg.Endpoint),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		fetcher: common.Fetcher{
			Client:    client,
			UserAgent: cfg.UserAgent,
			Retry:     common.DefaultRetryConfig(),
		},
		trackers: trackers,
	}
}

func (p *Provider) Name() string {
	return p.name
}

// Configured reports whether an endpoint and an api key are available.
func (p *Provider) Configured() bool {
	if p.endpoint == "" {
		return false
	}
	return p.apiKey != "" || endpointHasAPIKey(p.endpoint)
}

func (p *Provider) Search(ctx context.Context, query string) []domain.Result {
	return p.Run(ctx, query, func(ctx context.Context) ([]domain.Result, error) {
		return p.search(ctx, query)
	})
}

func (p *Provider) search(ctx context.Context, query string) ([]domain.Result, error) {
	if !p.Configured() {
		return nil, errNotConfigured
	}

	items, err := p.fetchFeed(ctx, "music", query)
	if musicSearchUnsupported(err) {
		items, err = p.fetchFeed(ctx, "search", query)
	}
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []domain.Result{}, nil
	}

	collector := common.NewCollector(p.name, len(items))
	items = lo.Filter(items, func(item torznabItem, _ int) bool {
		if isAudioItem(item) {
			return true
		}
		collector.Drop("category")
		return false
	})

	hashes := p.prefetchMissingInfoHashes(ctx, items)
	for _, item := range items {
		in, ok := p.itemToInput(item, hashes)
		if !ok {
			collector.Drop("missing_locator")
			continue
		}
		collector.Add(in)
	}
	return collector.Results(), nil
}

// musicSearchUnsupported reports whether the indexer rejected t=music itself
// rather than failing.
func musicSearchUnsupported(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.unsupportedFunction()
	}
	var statusErr *common.StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusBadRequest
}

func (p *Provider) fetchFeed(ctx context.Context, mode, query string) ([]torznabItem, error) {
	uri, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	params := uri.Query()
	params.Set("t", mode)
	params.Set("q", strings.TrimSpace(query))
	params.Set("cat", audioCategories)
	if strings.TrimSpace(params.Get("extended")) == "" {
		params.Set("extended", "1")
	}
	if strings.TrimSpace(params.Get("apikey")) == "" && p.apiKey != "" {
		params.Set("apikey", p.apiKey)
	}
	uri.RawQuery = params.Encode()

	payload, err := p.fetcher.GetRaw(ctx, uri.String(), feedAccept)
	if err != nil {
		return nil, err
	}
	return parseTorznabResponse(payload)
}

// isAudioItem keeps music items and drops audio books. Items without any
// category information are kept; the request already asked for music only.
func isAudioItem(item torznabItem) bool {
	ids := item.categories()
	if len(ids) == 0 {
		return true
	}
	if lo.Contains(ids, audioBookCategory) {
		return false
	}
	return lo.SomeBy(ids, func(id int) bool {
		return id >= audioCategoryMin && id <= audioCategoryMax
	})
}

func (p *Provider) itemToInput(item torznabItem, hashes map[string]string) (domain.ResultInput, bool) {
	name := strings.TrimSpace(item.Title)
	attrs := item.attrs()

	magnet := firstMagnet(item.Guid, item.Link, item.Enclosure.URL, attrs["magneturl"])
	if magnet == "" {
		infoHash := domain.NormalizeInfoHash(attrs["infohash"])
		if infoHash == "" {
			infoHash = hashes[downloadURL(item)]
		}
		magnet = common.BuildMagnet(infoHash, name, p.trackers)
	}
	if magnet == "" {
		return domain.ResultInput{}, false
	}

	sizeBytes := parseI64(attrs["size"])
	if sizeBytes <= 0 && item.Enclosure.Length > 0 {
		sizeBytes = item.Enclosure.Length
	}
	seeders := parseInt(attrs["seeders"])
	leechers := parseInt(attrs["leechers"])
	if leechers == 0 {
		if peers := parseInt(attrs["peers"]); peers > seeders {
			leechers = peers - seeders
		}
	}

	return domain.ResultInput{
		Title:       name,
		Locator:     magnet,
		SizeBytes:   sizeBytes,
		Seeders:     seeders,
		Leechers:    leechers,
		PublishedAt: parsePubDate(item.PubDate),
		SourceName:  p.name,
	}, true
}

func needsTorrentDownload(item torznabItem) bool {
	if firstMagnet(item.Guid, item.Link, item.Enclosure.URL, item.attrs()["magneturl"]) != "" {
		return false
	}
	if domain.NormalizeInfoHash(item.attrs()["infohash"]) != "" {
		return false
	}
	return downloadURL(item) != ""
}

func downloadURL(item torznabItem) string {
	if value := strings.TrimSpace(item.Enclosure.URL); value != "" {
		return value
	}
	return strings.TrimSpace(item.Link)
}

// prefetchMissingInfoHashes downloads .torrent files in parallel for items
// that carry neither a magnet nor an infohash. It returns download URL to
// infohash.
func (p *Provider) prefetchMissingInfoHashes(ctx context.Context, items []torznabItem) map[string]string {
	urls := lo.Uniq(lo.FilterMap(items, func(item torznabItem, _ int) (string, bool) {
		return downloadURL(item), needsTorrentDownload(item)
	}))
	if len(urls) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(maxConcurrentDownloads)
	results := make(map[string]string, len(urls))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, rawURL := range urls {
		wg.Add(1)
		go func(rawURL string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			downloadCtx, cancel := context.WithTimeout(ctx, torrentDownloadTimeout)
			defer cancel()

			payload, err := p.fetcher.GetRaw(downloadCtx, rawURL, torrentAccept)
			if err != nil {
				return
			}
			hash, err := ExtractInfoHashFromTorrent(payload)
			if err != nil {
				return
			}
			mu.Lock()
			results[rawURL] = hash
			mu.Unlock()
		}(rawURL)
	}
	wg.Wait()
	return results
}

func endpointHasAPIKey(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return strings.TrimSpace(parsed.Query().Get("apikey")) != ""
}
