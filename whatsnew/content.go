package whatsnew

import (
	"bytes"
	"log/slog"
	nurl "net/url"
	"strings"

	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// minContentLength is the minimum readability text length accepted as the
// article body.
const minContentLength = 50

// isolate returns the outer HTML of every element matching selector. When
// nothing matches it falls back to readability, and when that fails too the
// raw page is returned so the parser still has something to work with.
func isolate(rawHTML, selector, sourceURL string) (string, error) {
	if selector != "" {
		sel, err := cascadia.Parse(selector)
		if err != nil {
			return "", err
		}
		doc, err := html.Parse(strings.NewReader(rawHTML))
		if err != nil {
			return "", err
		}
		if matches := cascadia.QueryAll(doc, sel); len(matches) > 0 {
			var buf bytes.Buffer
			for _, node := range matches {
				if err := html.Render(&buf, node); err != nil {
					return "", err
				}
			}
			return buf.String(), nil
		}
		slog.Debug("whatsnew: content selector matched nothing, trying readability", "selector", selector)
	}
	return readable(rawHTML, sourceURL), nil
}

func readable(rawHTML, sourceURL string) string {
	parsedURL, err := nurl.Parse(sourceURL)
	if err != nil {
		slog.Warn("whatsnew: invalid source URL, using raw HTML", "url", sourceURL, "error", err)
		return rawHTML
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if err != nil {
		slog.Warn("whatsnew: readability failed, using raw HTML", "url", sourceURL, "error", err)
		return rawHTML
	}
	if len(strings.TrimSpace(article.TextContent)) < minContentLength {
		slog.Warn("whatsnew: readability content too short, using raw HTML",
			"url", sourceURL, "length", len(article.TextContent),
		)
		return rawHTML
	}
	return article.Content
}
