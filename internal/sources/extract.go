package sources

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/DeafMist/crypto-news-radar/internal/models"
	"github.com/DeafMist/crypto-news-radar/internal/processing"
)

// Extractor pulls article fields out of a fetched page. Fields it cannot
// find are left empty.
type Extractor interface {
	Extract(html, pageURL string) (models.Article, error)
}

var articleSelectors = []string{
	"article",
	"div.article-content",
	"div.post-body",
	"div.entry-content",
}

var publishedSelectors = []string{
	`meta[property="article:published_time"]`,
	`meta[name="pubdate"]`,
	`meta[name="date"]`,
	"time",
}

// GenericExtractor reads OpenGraph/meta tags and the first article-like
// container, falling back to readability when a page has no paragraphs.
type GenericExtractor struct{}

func (GenericExtractor) Extract(html, pageURL string) (models.Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.Article{}, fmt.Errorf("parse html: %w", err)
	}

	a := models.Article{
		Title:       genericTitle(doc),
		Summary:     genericSummary(doc),
		Content:     genericBody(doc),
		PublishedAt: genericPublished(doc),
	}

	if a.Content == "" {
		readabilityFallback(html, pageURL, &a)
	}
	return a, nil
}

func genericTitle(doc *goquery.Document) string {
	if v, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if t := processing.NormalizeWhitespace(v); t != "" {
			return t
		}
	}
	return processing.NormalizeWhitespace(doc.Find("title").First().Text())
}

func genericSummary(doc *goquery.Document) string {
	for _, sel := range []string{`meta[name="description"]`, `meta[property="og:description"]`} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if s := processing.NormalizeWhitespace(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func genericBody(doc *goquery.Document) string {
	for _, sel := range articleSelectors {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		if body := paragraphs(container); body != "" {
			return body
		}
	}
	return paragraphs(doc.Selection)
}

func genericPublished(doc *goquery.Document) *time.Time {
	for _, sel := range publishedSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if ts := nodeTime(node); ts != nil {
			return ts
		}
	}
	return nil
}

func nodeTime(node *goquery.Selection) *time.Time {
	for _, attr := range []string{"content", "datetime"} {
		if v, ok := node.Attr(attr); ok {
			if ts := processing.ParseTimestamp(v); ts != nil {
				return ts
			}
		}
	}
	return processing.ParseTimestamp(node.Text())
}

// paragraphs joins the non-empty <p> texts under sel with newlines.
func paragraphs(sel *goquery.Selection) string {
	var out []string
	sel.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := processing.NormalizeWhitespace(p.Text()); text != "" {
			out = append(out, text)
		}
	})
	return strings.Join(out, "\n")
}

func readabilityFallback(html, pageURL string, a *models.Article) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return
	}

	if a.Title == "" {
		a.Title = processing.NormalizeWhitespace(article.Title)
	}
	if a.Summary == "" {
		a.Summary = processing.NormalizeWhitespace(article.Excerpt)
	}
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content)); err == nil {
		a.Content = processing.NormalizeWhitespace(doc.Text())
	}
}

// siteOverride layers site-specific selectors over the generic result.
func siteOverride(html, pageURL, bodySelector string) (models.Article, error) {
	base, err := GenericExtractor{}.Extract(html, pageURL)
	if err != nil {
		return base, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return base, fmt.Errorf("parse html: %w", err)
	}

	if body := doc.Find(bodySelector).First(); body.Length() > 0 {
		if text := paragraphs(body); text != "" {
			base.Content = text
		}
	}
	if t := processing.NormalizeWhitespace(doc.Find("h1").First().Text()); t != "" {
		base.Title = t
	}
	if s := processing.NormalizeWhitespace(doc.Find("h2").First().Text()); s != "" {
		base.Summary = s
	}
	if v, ok := doc.Find("time").First().Attr("datetime"); ok {
		if ts := processing.ParseTimestamp(v); ts != nil {
			base.PublishedAt = ts
		}
	}
	return base, nil
}

// CoinDeskExtractor reads the article-page layout of coindesk.com.
type CoinDeskExtractor struct{}

func (CoinDeskExtractor) Extract(html, pageURL string) (models.Article, error) {
	return siteOverride(html, pageURL, "div.article-page div.article-text")
}

// CointelegraphExtractor reads cointelegraph.com article pages.
type CointelegraphExtractor struct{}

func (CointelegraphExtractor) Extract(html, pageURL string) (models.Article, error) {
	return siteOverride(html, pageURL, "article")
}
