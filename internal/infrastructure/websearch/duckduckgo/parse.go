package duckduckgo

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/lawgraph/counsel/internal/core/domain"
)

// parseResults walks the result page and collects up to n organic results.
// Ad blocks carry the result--ad class and are skipped.
func parseResults(doc *html.Node, n int) []domain.WebResult {
	out := make([]domain.WebResult, 0, n)

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if len(out) >= n {
			return
		}
		if node.Type == html.ElementNode && hasClass(node, "result") {
			if !hasClass(node, "result--ad") {
				if result, ok := extractResult(node); ok {
					out = append(out, result)
				}
			}
			return
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return out
}

func extractResult(container *html.Node) (domain.WebResult, bool) {
	var result domain.WebResult

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			switch {
			case node.Data == "a" && hasClass(node, "result__a") && result.Title == "":
				result.Title = nodeText(node)
				result.URL = resolveHref(attrValue(node, "href"))
				return
			case hasClass(node, "result__snippet") && result.Snippet == "":
				result.Snippet = nodeText(node)
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(container)

	if result.Title == "" || result.URL == "" {
		return domain.WebResult{}, false
	}
	return result, true
}

// resolveHref unwraps the /l/?uddg=... redirect the endpoint wraps around
// result links.
func resolveHref(href string) string {
	if href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if strings.HasSuffix(parsed.Host, "duckduckgo.com") && strings.HasPrefix(parsed.Path, "/l/") {
		if target := parsed.Query().Get("uddg"); target != "" {
			return target
		}
	}
	return href
}

func hasClass(node *html.Node, name string) bool {
	for _, class := range strings.Fields(attrValue(node, "class")) {
		if class == name {
			return true
		}
	}
	return false
}

func attrValue(node *html.Node, key string) string {
	for _, attr := range node.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// nodeText concatenates the text nodes under node with whitespace collapsed.
func nodeText(node *html.Node) string {
	var b strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)

	return strings.Join(strings.Fields(b.String()), " ")
}
