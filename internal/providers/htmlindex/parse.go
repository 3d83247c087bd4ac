package htmlindex

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"musicdiscovery/searchcore/internal/metadata"
	"musicdiscovery/searchcore/internal/providers/common"
)

// listingRow is one table row of a search listing page.
type listingRow struct {
	Name     string
	Path     string
	Seeders  int
	Leechers int
	Size     int64
}

// detailInfo is what a torrent detail page contributes.
type detailInfo struct {
	Magnet   string
	Seeders  int
	Leechers int
	Size     int64
	// found* distinguish "reported as 0" from "not reported".
	foundSeeders  bool
	foundLeechers bool
	foundSize     bool
}

// parseListing returns the rows of every <tr> that carries a detail link.
// The second return value counts rows that did not.
func parseListing(payload []byte) ([]listingRow, int) {
	doc, err := html.Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, 0
	}

	var (
		rows    []listingRow
		skipped int
		seen    = map[string]struct{}{}
	)
	for _, tr := range findAll(doc, atom.Tr) {
		if len(findAll(tr, atom.Td)) == 0 {
			continue
		}
		link := findFirst(tr, func(n *html.Node) bool {
			return n.DataAtom == atom.A && strings.Contains(attr(n, "href"), "/torrent/")
		})
		if link == nil {
			skipped++
			continue
		}
		path := strings.TrimSpace(attr(link, "href"))
		if _, ok := seen[path]; ok {
			continue
		}
		name := textOf(link)
		if name == "" {
			skipped++
			continue
		}
		seen[path] = struct{}{}
		rows = append(rows, listingRow{
			Name:     name,
			Path:     path,
			Seeders:  atoi(textOf(cellWithClass(tr, "seeds"))),
			Leechers: atoi(textOf(cellWithClass(tr, "leeches"))),
			Size:     metadata.ParseSize(firstText(cellWithClass(tr, "size"))),
		})
	}
	return rows, skipped
}

// parseDetail reads the magnet link and the labelled statistics
// ("Seeders", "Leechers", "Total size") of a detail page.
func parseDetail(payload []byte) detailInfo {
	var info detailInfo
	doc, err := html.Parse(bytes.NewReader(payload))
	if err != nil {
		return info
	}

	if link := findFirst(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.A && strings.HasPrefix(strings.ToLower(strings.TrimSpace(attr(n, "href"))), "magnet:?")
	}); link != nil {
		info.Magnet = strings.TrimSpace(attr(link, "href"))
	}

	for _, item := range findAll(doc, atom.Li) {
		label := findFirst(item, func(n *html.Node) bool { return n.DataAtom == atom.Strong })
		value := findFirst(item, func(n *html.Node) bool { return n.DataAtom == atom.Span })
		if label == nil || value == nil {
			continue
		}
		text := textOf(value)
		switch strings.TrimSuffix(strings.ToLower(textOf(label)), ":") {
		case "seeders", "seeds":
			info.Seeders, info.foundSeeders = atoi(text), true
		case "leechers", "peers":
			info.Leechers, info.foundLeechers = atoi(text), true
		case "total size", "size":
			info.Size, info.foundSize = metadata.ParseSize(text), true
		}
	}
	return info
}

func findAll(root *html.Node, tag atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == tag {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	if root == nil {
		return nil
	}
	if root.Type == html.ElementNode && match(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func cellWithClass(row *html.Node, class string) *html.Node {
	return findFirst(row, func(n *html.Node) bool {
		if n.DataAtom != atom.Td {
			return false
		}
		for _, value := range strings.Fields(attr(n, "class")) {
			if value == class {
				return true
			}
		}
		return false
	})
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteByte(' ')
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return common.CleanHTMLText(sb.String())
}

// firstText returns the cell's own leading text, ignoring nested elements
// such as the hidden seeder count some listings repeat inside a <span>.
func firstText(n *html.Node) string {
	if n == nil {
		return ""
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode && strings.TrimSpace(c.Data) != "" {
			return strings.TrimSpace(c.Data)
		}
	}
	return textOf(n)
}

func atoi(raw string) int {
	value := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
