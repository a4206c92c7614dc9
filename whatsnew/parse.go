package whatsnew

import (
	"fmt"
	nurl "net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/use-agent/changehub/models"
)

// labelFields maps the lowercase metadata labels printed under each item
// heading to the field they fill.
var labelFields = map[string]func(*models.WhatsNewItem, string){
	"type":               func(it *models.WhatsNewItem, v string) { it.Type = v },
	"service category":   func(it *models.WhatsNewItem, v string) { it.ServiceCategory = v },
	"product capability": func(it *models.WhatsNewItem, v string) { it.ProductCapability = v },
}

// parser turns the article body into items: every h2 opens a month and
// every h3 below it is one item, described by its siblings up to the next
// heading.
type parser struct {
	conv   *converter.Converter
	page   string // page URL without fragment, for item anchors
	domain string // scheme://host, for relative links
}

func newParser(conv *converter.Converter, pageURL string) (*parser, error) {
	u, err := nurl.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("whatsnew: parse page URL: %w", err)
	}
	u.Fragment = ""
	p := &parser{conv: conv, page: u.String()}
	if u.Scheme != "" && u.Host != "" {
		p.domain = u.Scheme + "://" + u.Host
	}
	return p, nil
}

func (p *parser) parse(fragment string) ([]models.WhatsNewItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("whatsnew: parse HTML: %w", err)
	}

	var (
		items    []models.WhatsNewItem
		month    string
		firstErr error
	)
	doc.Find("h2, h3").Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "h2":
			month = cleanText(s.Text())
		case "h3":
			// Headings before the first month are page intro, not items.
			if month == "" {
				return
			}
			it, err := p.item(month, s)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			items = append(items, it)
		}
	})
	return items, firstErr
}

func (p *parser) item(month string, h *goquery.Selection) (models.WhatsNewItem, error) {
	it := models.WhatsNewItem{Month: month, Title: cleanText(h.Text())}
	if id, ok := h.Attr("id"); ok && id != "" {
		it.URL = p.page + "#" + id
	}

	var parts []string
	h.NextUntil("h2, h3").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "hr" {
			return
		}
		if goquery.NodeName(s) == "p" && applyLabels(&it, s) {
			return
		}
		if frag, err := goquery.OuterHtml(s); err == nil {
			parts = append(parts, frag)
		}
	})
	if len(parts) == 0 {
		return it, nil
	}

	md, err := toMarkdown(p.conv, strings.Join(parts, "\n"), p.domain)
	if err != nil {
		return it, fmt.Errorf("whatsnew: convert %q: %w", it.Title, err)
	}
	it.Description = md
	return it, nil
}

// applyLabels reads "<strong>Label:</strong> value" pairs from a metadata
// paragraph. It reports whether any known label was found.
func applyLabels(it *models.WhatsNewItem, p *goquery.Selection) bool {
	found := false
	p.Find("strong, b").Each(func(_ int, s *goquery.Selection) {
		label := strings.ToLower(strings.TrimSuffix(cleanText(s.Text()), ":"))
		set, ok := labelFields[label]
		if !ok {
			return
		}
		set(it, labelValue(s.Nodes[0]))
		found = true
	})
	return found
}

// labelValue collects the text after a label node up to the next label or
// line break.
func labelValue(label *html.Node) string {
	var sb strings.Builder
	for n := label.NextSibling; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode && (n.Data == "strong" || n.Data == "b" || n.Data == "br") {
			break
		}
		sb.WriteString(nodeText(n))
	}
	return strings.TrimSpace(strings.TrimPrefix(cleanText(sb.String()), ":"))
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}

// cleanText collapses runs of whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
