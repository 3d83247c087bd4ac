package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

const (
	DefaultUserAgent = "musicsearch/1.0"
	maxPageBytes     = 4 * 1024 * 1024
)

// ErrBodyTooLarge is returned instead of a truncated page.
var ErrBodyTooLarge = errors.New("response body too large")

// StatusError is returned for any non-200 upstream response.
type StatusError struct {
	Code    int
	Snippet string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider HTTP %d: %s", e.Code, e.Snippet)
}

// Fetcher performs GET requests on behalf of one provider. Limiter and Retry
// are optional; MaxBytes defaults to 4 MiB.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
	Limiter   *rate.Limiter
	Retry     RetryConfig
	MaxBytes  int64
}

// Get fetches rawURL and returns the body decoded to UTF-8. Transient
// failures are retried according to f.Retry.
func (f Fetcher) Get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	return f.get(ctx, rawURL, accept, true)
}

// GetRaw is Get without charset conversion, for binary payloads.
func (f Fetcher) GetRaw(ctx context.Context, rawURL, accept string) ([]byte, error) {
	return f.get(ctx, rawURL, accept, false)
}

func (f Fetcher) get(ctx context.Context, rawURL, accept string, decode bool) ([]byte, error) {
	var payload []byte
	err := RetryWithBackoff(ctx, f.Retry, func() error {
		body, err := f.getOnce(ctx, rawURL, accept, decode)
		if err != nil {
			return err
		}
		payload = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (f Fetcher) getOnce(ctx context.Context, rawURL, accept string, decode bool) ([]byte, error) {
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	userAgent := strings.TrimSpace(f.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &StatusError{Code: resp.StatusCode, Snippet: CompactSnippet(string(body), 220)}
	}
	limit := f.MaxBytes
	if limit <= 0 {
		limit = maxPageBytes
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(payload)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	if !decode {
		return payload, nil
	}
	return DecodeText(payload, resp.Header.Get("Content-Type")), nil
}

// DecodeText converts payload to UTF-8 using the charset named in the
// Content-Type header or a <meta> tag. Valid UTF-8 is kept unless the header
// or a BOM says otherwise, and undecodable input is returned as is.
func DecodeText(payload []byte, contentType string) []byte {
	enc, name, certain := charset.DetermineEncoding(payload, contentType)
	if enc == nil || strings.EqualFold(name, "utf-8") {
		return payload
	}
	if !certain && utf8.Valid(payload) {
		return payload
	}
	decoded, err := enc.NewDecoder().Bytes(payload)
	if err != nil {
		return payload
	}
	return decoded
}
