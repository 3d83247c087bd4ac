package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/mo"

	"musicdiscovery/searchcore/internal/domain"
	"musicdiscovery/searchcore/internal/providers/circuit"
)

type resultFields struct {
	title   string
	hash    string
	source  string
	seeders int
	format  string
}

func mustResult(t *testing.T, fields resultFields) domain.Result {
	t.Helper()
	in := domain.ResultInput{
		Title:      fields.title,
		Locator:    "magnet:?xt=urn:btih:" + strings.Repeat("0", 40-len(fields.hash)) + fields.hash,
		Seeders:    fields.seeders,
		SourceName: fields.source,
	}
	if fields.format != "" {
		in.Format = mo.Some(fields.format)
	}
	result, err := domain.NewResult(in)
	if err != nil {
		t.Fatalf("build result: %v", err)
	}
	return result
}

type fakeProvider struct {
	name    string
	items   []domain.Result
	healthy atomic.Bool
	calls   atomic.Int32
}

func newFakeProvider(name string, items ...domain.Result) *fakeProvider {
	p := &fakeProvider{name: name, items: items}
	p.healthy.Store(true)
	return p
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Healthy(time.Time) bool { return p.healthy.Load() }

func (p *fakeProvider) Search(ctx context.Context, query string) []domain.Result {
	p.calls.Add(1)
	return append([]domain.Result(nil), p.items...)
}

// guardedProvider runs fetch through a real breaker so orchestrator tests
// see genuine health transitions.
type guardedProvider struct {
	*circuit.Guard
	name  string
	fetch circuit.Fetch
	calls atomic.Int32
}

func (p *guardedProvider) Name() string { return p.name }

func (p *guardedProvider) Search(ctx context.Context, query string) []domain.Result {
	p.calls.Add(1)
	return p.Run(ctx, query, p.fetch)
}

// ---------------------------------------------------------------------------
// Search: basic scenarios
// ---------------------------------------------------------------------------

func TestSearchDedupesFiltersAndRanks(t *testing.T) {
	flacA := mustResult(t, resultFields{title: "Album [FLAC]", hash: "a1", source: "alpha", seeders: 5, format: "FLAC"})
	flacB := mustResult(t, resultFields{title: "Album [FLAC] mirror", hash: "a1", source: "beta", seeders: 30, format: "FLAC"})
	mp3 := mustResult(t, resultFields{title: "Album [MP3 320]", hash: "b2", source: "beta", seeders: 100, format: "MP3"})
	unknown := mustResult(t, resultFields{title: "Album", hash: "c3", source: "alpha", seeders: 1})

	service := NewService([]Provider{
		newFakeProvider("alpha", flacA, unknown),
		newFakeProvider("beta", flacB, mp3),
	})

	items, err := service.Search(context.Background(), "  album ", domain.Filters{})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 unique items, got %d", len(items))
	}
	if items[0].SourceName() != "beta" || items[0].IdentityKey() != flacB.IdentityKey() {
		t.Fatalf("expected better-seeded FLAC duplicate first, got %s from %s", items[0].Title(), items[0].SourceName())
	}
	if items[1].IdentityKey() != mp3.IdentityKey() || items[2].IdentityKey() != unknown.IdentityKey() {
		t.Fatalf("unexpected order: %s, %s", items[1].Title(), items[2].Title())
	}

	keys := map[string]struct{}{}
	for _, item := range items {
		if _, dup := keys[item.IdentityKey()]; dup {
			t.Fatalf("duplicate identity key %s", item.IdentityKey())
		}
		keys[item.IdentityKey()] = struct{}{}
	}
}

func TestSearchAppliesFilters(t *testing.T) {
	service := NewService([]Provider{newFakeProvider("alpha",
		mustResult(t, resultFields{title: "A", hash: "a1", source: "alpha", seeders: 5, format: "FLAC"}),
		mustResult(t, resultFields{title: "B", hash: "b2", source: "alpha", seeders: 50, format: "FLAC"}),
		mustResult(t, resultFields{title: "C", hash: "c3", source: "alpha", seeders: 80, format: "MP3"}),
		mustResult(t, resultFields{title: "D", hash: "d4", source: "alpha", seeders: 90}),
	)})

	items, err := service.Search(context.Background(), "album", domain.Filters{Format: "flac", MinSeeders: 10})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(items) != 1 || items[0].Title() != "B" {
		t.Fatalf("expected only B to pass both filters, got %d items", len(items))
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	service := NewService([]Provider{newFakeProvider("alpha")})
	for _, query := range []string{"", "   \t"} {
		_, err := service.Search(context.Background(), query, domain.Filters{})
		if !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("expected ErrInvalidQuery for %q, got %v", query, err)
		}
	}
}

func TestSearchWithoutProvidersReturnsEmptyList(t *testing.T) {
	service := NewService(nil)
	response, err := service.SearchDetailed(context.Background(), "album", domain.Filters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if response.Items == nil || len(response.Items) != 0 || response.Healthy != 0 {
		t.Fatalf("expected empty non-nil items and no healthy providers: %+v", response)
	}
}

func TestSearchIsIdempotent(t *testing.T) {
	service := NewService([]Provider{
		newFakeProvider("alpha",
			mustResult(t, resultFields{title: "A", hash: "a1", source: "alpha", seeders: 5}),
			mustResult(t, resultFields{title: "B", hash: "b2", source: "alpha", seeders: 5}),
		),
		newFakeProvider("beta",
			mustResult(t, resultFields{title: "A'", hash: "a1", source: "beta", seeders: 5}),
			mustResult(t, resultFields{title: "C", hash: "c3", source: "beta", seeders: 5}),
		),
	})

	first, err := service.Search(context.Background(), "album", domain.Filters{})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	for run := 0; run < 20; run++ {
		next, err := service.Search(context.Background(), "album", domain.Filters{})
		if err != nil {
			t.Fatalf("search error: %v", err)
		}
		if len(next) != len(first) {
			t.Fatalf("run %d: expected %d items, got %d", run, len(first), len(next))
		}
		for i := range next {
			if next[i].IdentityKey() != first[i].IdentityKey() || next[i].SourceName() != first[i].SourceName() {
				t.Fatalf("run %d: order differs at %d", run, i)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Search: provider health
// ---------------------------------------------------------------------------

func TestSearchProviderFailureDoesNotAffectOthers(t *testing.T) {
	healthy := newFakeProvider("healthy", mustResult(t, resultFields{title: "A", hash: "a1", source: "healthy", seeders: 3}))
	broken := &guardedProvider{
		Guard: circuit.NewGuard("broken", circuit.Config{}),
		name:  "broken",
		fetch: func(ctx context.Context) ([]domain.Result, error) {
			return nil, errors.New("connection refused")
		},
	}
	panicking := &guardedProvider{
		Guard: circuit.NewGuard("panicking", circuit.Config{}),
		name:  "panicking",
		fetch: func(ctx context.Context) ([]domain.Result, error) {
			panic("parser exploded")
		},
	}

	service := NewService([]Provider{healthy, broken, panicking})
	response, err := service.SearchDetailed(context.Background(), "album", domain.Filters{})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(response.Items) != 1 {
		t.Fatalf("expected healthy provider's result, got %d items", len(response.Items))
	}
	if response.Healthy != 3 {
		t.Fatalf("expected all providers dispatched, got %d", response.Healthy)
	}
	for _, status := range response.Providers {
		wantFailed := status.Name != "healthy"
		if status.Failed != wantFailed || status.Skipped {
			t.Fatalf("unexpected status for %s: %+v", status.Name, status)
		}
	}
}

func TestSearchSkipsOpenCircuitAndProbesAfterCooldown(t *testing.T) {
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	var fail atomic.Bool
	fail.Store(true)
	flaky := &guardedProvider{
		Guard: circuit.NewGuard("flaky", circuit.Config{}, circuit.WithClock(clock)),
		name:  "flaky",
	}
	flaky.fetch = func(ctx context.Context) ([]domain.Result, error) {
		if fail.Load() {
			return nil, fmt.Errorf("provider HTTP 503: busy")
		}
		return []domain.Result{mustResult(t, resultFields{title: "A", hash: "a1", source: "flaky", seeders: 1})}, nil
	}
	service := NewService([]Provider{flaky}, WithClock(clock))

	for i := 0; i < 3; i++ {
		if _, err := service.Search(context.Background(), "album", domain.Filters{}); err != nil {
			t.Fatalf("search error: %v", err)
		}
	}
	if flaky.Healthy(current) {
		t.Fatalf("expected circuit to open after 3 failures")
	}

	response, err := service.SearchDetailed(context.Background(), "album", domain.Filters{})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if got := flaky.calls.Load(); got != 3 {
		t.Fatalf("expected open circuit to be skipped, provider called %d times", got)
	}
	if !response.Providers[0].Skipped || response.Healthy != 0 {
		t.Fatalf("expected skipped status, got %+v", response.Providers)
	}
	if service.Available(current) != 0 {
		t.Fatalf("expected no available providers")
	}

	current = current.Add(circuit.DefaultCooldown)
	fail.Store(false)
	items, err := service.Search(context.Background(), "album", domain.Filters{})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if flaky.calls.Load() != 4 || len(items) != 1 {
		t.Fatalf("expected half-open probe to run and succeed")
	}
	if state := flaky.Health(current).State; state != domain.BreakerClosed {
		t.Fatalf("expected closed breaker after successful probe, got %s", state)
	}
}

func TestSearchCancellationReturnsPromptly(t *testing.T) {
	stuck := &guardedProvider{
		Guard: circuit.NewGuard("stuck", circuit.Config{}),
		name:  "stuck",
		fetch: func(ctx context.Context) ([]domain.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	service := NewService([]Provider{stuck})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	startedAt := time.Now()
	_, err := service.Search(ctx, "album", domain.Filters{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(startedAt); elapsed > time.Second {
		t.Fatalf("search did not return promptly: %v", elapsed)
	}
	if failures := stuck.Health(time.Now()).ConsecutiveFailures; failures != 0 {
		t.Fatalf("caller cancellation must not count as provider failure, got %d", failures)
	}
}

// ---------------------------------------------------------------------------
// Construction and diagnostics
// ---------------------------------------------------------------------------

func TestNewServiceSkipsNilAndDuplicateProviders(t *testing.T) {
	service := NewService([]Provider{nil, newFakeProvider("Beta"), newFakeProvider("alpha"), newFakeProvider("beta")})
	names := service.Providers()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Fatalf("unexpected providers: %v", names)
	}
}

func TestDiagnostics(t *testing.T) {
	plain := newFakeProvider("plain")
	plain.healthy.Store(false)
	guarded := &guardedProvider{Guard: circuit.NewGuard("guarded", circuit.Config{}), name: "guarded"}

	service := NewService([]Provider{plain, guarded})
	diagnostics := service.Diagnostics(time.Now())
	if len(diagnostics) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(diagnostics))
	}
	if diagnostics[0].Name != "guarded" || diagnostics[0].State != domain.BreakerClosed {
		t.Fatalf("unexpected guarded entry: %+v", diagnostics[0])
	}
	if diagnostics[1].Name != "plain" || diagnostics[1].Healthy {
		t.Fatalf("unexpected plain entry: %+v", diagnostics[1])
	}
	if service.Available(time.Now()) != 1 {
		t.Fatalf("expected one available provider")
	}
}
