package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/DeafMist/crypto-news-radar/internal/httpclient"
	"github.com/DeafMist/crypto-news-radar/internal/models"
	"github.com/DeafMist/crypto-news-radar/internal/processing"
)

// FeedReader downloads and parses RSS/Atom feeds.
type FeedReader struct {
	http *httpclient.Client
}

func NewFeedReader(client *httpclient.Client) *FeedReader {
	return &FeedReader{http: client}
}

// Read returns at most limit entries of the feed at feedURL, in feed order.
func (r *FeedReader) Read(ctx context.Context, feedURL string, limit int) ([]models.FeedEntry, error) {
	body, err := r.http.GetText(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	return ParseFeed(body, limit)
}

// ParseFeed converts a raw feed document into entries.
func ParseFeed(body string, limit int) ([]models.FeedEntry, error) {
	feed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := feed.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	entries := make([]models.FeedEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, models.FeedEntry{
			Title:       processing.NormalizeWhitespace(item.Title),
			Link:        item.Link,
			Summary:     processing.NormalizeWhitespace(item.Description),
			PublishedAt: entryTime(item),
		})
	}
	return entries, nil
}

func entryTime(item *gofeed.Item) *time.Time {
	for _, ts := range []*time.Time{item.PublishedParsed, item.UpdatedParsed} {
		if ts != nil {
			utc := ts.UTC()
			return &utc
		}
	}
	for _, raw := range []string{item.Published, item.Updated} {
		if ts := processing.ParseTimestamp(raw); ts != nil {
			return ts
		}
	}
	return nil
}
