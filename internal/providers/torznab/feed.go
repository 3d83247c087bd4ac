package torznab

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

type torznabResponse struct {
	Channel torznabChannel `xml:"channel"`
}

type torznabChannel struct {
	Items []torznabItem `xml:"item"`
}

type torznabItem struct {
	Title      string           `xml:"title"`
	Guid       string           `xml:"guid"`
	Link       string           `xml:"link"`
	Comments   string           `xml:"comments"`
	PubDate    string           `xml:"pubDate"`
	Categories []string         `xml:"category"`
	Enclosure  torznabEnclosure `xml:"enclosure"`
	Attrs      []torznabAttr    `xml:"attr"`
}

type torznabEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
}

type torznabAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// torznabError is the <error code=".." description=".."/> document an
// indexer returns instead of a feed.
type torznabError struct {
	XMLName     xml.Name `xml:"error"`
	Code        int      `xml:"code,attr"`
	Description string   `xml:"description,attr"`
}

// APIError is a protocol-level error reported by the indexer.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("torznab error %d: %s", e.Code, e.Description)
}

// unsupportedFunction reports codes that mean "this t= mode is not
// available here", which is the cue to retry with t=search.
func (e *APIError) unsupportedFunction() bool {
	return e.Code == 201 || e.Code == 202 || e.Code == 203
}

func newXMLDecoder(payload []byte) *xml.Decoder {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	decoder.CharsetReader = charset.NewReaderLabel
	return decoder
}

func parseTorznabResponse(payload []byte) ([]torznabItem, error) {
	trimmed := bytes.TrimSpace(payload)
	if isErrorDocument(trimmed) {
		var apiErr torznabError
		if err := newXMLDecoder(trimmed).Decode(&apiErr); err == nil {
			return nil, &APIError{Code: apiErr.Code, Description: apiErr.Description}
		}
	}
	var rss torznabResponse
	if err := newXMLDecoder(trimmed).Decode(&rss); err != nil {
		return nil, fmt.Errorf("invalid torznab XML: %w", err)
	}
	return rss.Channel.Items, nil
}

func isErrorDocument(payload []byte) bool {
	decoder := newXMLDecoder(payload)
	for {
		token, err := decoder.Token()
		if err != nil {
			return false
		}
		if start, ok := token.(xml.StartElement); ok {
			return start.Name.Local == "error"
		}
	}
}

func (item torznabItem) attrs() map[string]string {
	attrs := make(map[string]string, len(item.Attrs))
	for _, attr := range item.Attrs {
		key := strings.ToLower(strings.TrimSpace(attr.Name))
		if key == "" {
			continue
		}
		if _, exists := attrs[key]; exists {
			continue
		}
		attrs[key] = strings.TrimSpace(attr.Value)
	}
	return attrs
}

// categories collects numeric ids from <category> elements and every
// category attr; indexers repeat the attr once per category.
func (item torznabItem) categories() []int {
	var ids []int
	add := func(raw string) {
		if id, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			ids = append(ids, id)
		}
	}
	for _, raw := range item.Categories {
		add(raw)
	}
	for _, attr := range item.Attrs {
		if strings.EqualFold(strings.TrimSpace(attr.Name), "category") {
			add(attr.Value)
		}
	}
	return ids
}

func firstMagnet(candidates ...string) string {
	for _, candidate := range candidates {
		value := strings.TrimSpace(candidate)
		if strings.HasPrefix(strings.ToLower(value), "magnet:?") {
			return value
		}
	}
	return ""
}

func parseInt(raw string) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func parseI64(raw string) int64 {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

// parsePubDate returns the zero time for missing or unparseable dates.
func parsePubDate(raw string) time.Time {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}
	}
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
		time.RFC3339,
	}
	for _, format := range formats {
		parsed, err := time.Parse(format, value)
		if err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}
