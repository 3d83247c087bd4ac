// Package htmlindex scrapes a public torrent index that exposes an HTML
// listing page per query and one detail page per item.
package htmlindex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"musicdiscovery/searchcore/internal/domain"
	"musicdiscovery/searchcore/internal/metrics"
	"musicdiscovery/searchcore/internal/providers/circuit"
	"musicdiscovery/searchcore/internal/providers/common"
)

const (
	providerName             = "htmlindex"
	defaultEndpoint          = "https://x1337x.ws"
	defaultMaxDetails        = 20
	defaultDetailConcurrency = 4
	htmlAccept               = "text/html,application/xhtml+xml"
)

type Config struct {
	// Endpoints is a comma-separated mirror list tried in order.
	Endpoints         string
	UserAgent         string
	Client            *http.Client
	RatePerSecond     float64
	MaxDetails        int
	DetailConcurrency int
	Breaker           circuit.Config
	GuardOptions      []circuit.GuardOption
}

type Provider struct {
	*circuit.Guard

	fetcher           common.Fetcher
	endpoints         []string
	maxDetails        int
	detailConcurrency int64
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	maxDetails := cfg.MaxDetails
	if maxDetails <= 0 {
		maxDetails = defaultMaxDetails
	}
	concurrency := cfg.DetailConcurrency
	if concurrency <= 0 {
		concurrency = defaultDetailConcurrency
	}
	return &Provider{
		Guard: circuit.NewGuard(providerName, cfg.Breaker, cfg.GuardOptions...),
		fetcher: common.Fetcher{
			Client:    client,
			UserAgent: cfg.UserAgent,
			Limiter:   limiter,
			Retry:     common.DefaultRetryConfig(),
		},
		endpoints:         parseEndpoints(cfg.Endpoints),
		maxDetails:        maxDetails,
		detailConcurrency: int64(concurrency),
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
	var (
		rows    []listingRow
		baseURL *url.URL
		err     error
	)
	for _, endpoint := range p.endpoints {
		rows, baseURL, err = p.fetchListing(ctx, endpoint, query)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if len(rows) > p.maxDetails {
		rows = rows[:p.maxDetails]
	}

	details := p.fetchDetails(ctx, baseURL, rows)

	collector := common.NewCollector(providerName, len(rows))
	for i, row := range rows {
		detail, ok := details[i].Get()
		if !ok {
			collector.Drop("detail_fetch")
			continue
		}
		if detail.Magnet == "" {
			collector.Drop("missing_magnet")
			continue
		}
		name := row.Name
		if name == "" {
			name = common.MagnetName(detail.Magnet)
		}
		collector.Add(domain.ResultInput{
			Title:      name,
			Locator:    detail.Magnet,
			SizeBytes:  lo.Ternary(detail.foundSize && detail.Size > 0, detail.Size, row.Size),
			Seeders:    lo.Ternary(detail.foundSeeders, detail.Seeders, row.Seeders),
			Leechers:   lo.Ternary(detail.foundLeechers, detail.Leechers, row.Leechers),
			SourceName: providerName,
		})
	}
	return collector.Results(), nil
}

func (p *Provider) fetchListing(ctx context.Context, endpoint, query string) ([]listingRow, *url.URL, error) {
	baseURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	term := strings.TrimSpace(query)
	searchURL := baseURL.ResolveReference(&url.URL{
		Path:    "/search/" + term + "/1/",
		RawPath: "/search/" + url.PathEscape(term) + "/1/",
	})

	payload, err := p.fetcher.Get(ctx, searchURL.String(), htmlAccept)
	if err != nil {
		return nil, nil, err
	}
	rows, skipped := parseListing(payload)
	if skipped > 0 {
		metrics.ProviderResultsDropped.WithLabelValues(providerName, "missing_link").Add(float64(skipped))
	}
	return rows, searchURL, nil
}

// fetchDetails loads detail pages with bounded concurrency. The returned
// slice is index-aligned with rows; failed fetches stay absent.
func (p *Provider) fetchDetails(ctx context.Context, baseURL *url.URL, rows []listingRow) []mo.Option[detailInfo] {
	out := make([]mo.Option[detailInfo], len(rows))
	sem := semaphore.NewWeighted(p.detailConcurrency)
	var wg sync.WaitGroup
	for i, row := range rows {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, row listingRow) {
			defer wg.Done()
			defer sem.Release(1)

			detailURL, err := url.Parse(strings.TrimSpace(row.Path))
			if err != nil {
				return
			}
			payload, err := p.fetcher.Get(ctx, baseURL.ResolveReference(detailURL).String(), htmlAccept)
			if err != nil {
				return
			}
			out[i] = mo.Some(parseDetail(payload))
		}(i, row)
	}
	wg.Wait()
	return out
}

func parseEndpoints(raw string) []string {
	value := strings.TrimSpace(raw)
	if value == "" {
		value = defaultEndpoint + ",https://1337x.to,https://1377x.to"
	}
	items := lo.Uniq(lo.FilterMap(strings.Split(value, ","), func(part string, _ int) (string, bool) {
		endpoint := strings.TrimRight(strings.TrimSpace(part), "/")
		return endpoint, endpoint != ""
	}))
	if len(items) == 0 {
		return []string{defaultEndpoint}
	}
	return items
}
