package sources

import (
	"context"
	"fmt"

	"github.com/DeafMist/crypto-news-radar/internal/httpclient"
	"github.com/DeafMist/crypto-news-radar/internal/models"
)

// ArticleFetcher downloads a page and runs the source's extractor on it.
type ArticleFetcher struct {
	http *httpclient.Client
}

func NewArticleFetcher(client *httpclient.Client) *ArticleFetcher {
	return &ArticleFetcher{http: client}
}

func (f *ArticleFetcher) Fetch(ctx context.Context, def Definition, pageURL string) (models.Article, error) {
	html, err := f.http.GetText(ctx, pageURL)
	if err != nil {
		return models.Article{}, fmt.Errorf("fetch article: %w", err)
	}

	ex := def.Extractor
	if ex == nil {
		ex = GenericExtractor{}
	}
	return ex.Extract(html, pageURL)
}
