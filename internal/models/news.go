package models

import "time"

// NewsItem is a normalized, deduplicated article accepted by an ingestion run.
// ID and Hash are both deterministicHash(source, canonical URL, title).
type NewsItem struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
	FetchedAt    time.Time `json:"fetched_at"`
	ContentText  string    `json:"content_text,omitempty"`
	Language     string    `json:"language,omitempty"`
	Hash         string    `json:"hash"`
	SourceWeight float64   `json:"score_hint"`
	Origin       string    `json:"origin,omitempty"`
}

// NewsCluster groups reports of the same event from several publishers.
type NewsCluster struct {
	ClusterID      string    `json:"cluster_id"`
	Origin         string    `json:"origin,omitempty"`
	CanonicalTitle string    `json:"canonical_title"`
	Summary        string    `json:"summary,omitempty"`
	Score          float64   `json:"score"`
	SourceCount    int       `json:"source_count"`
	Entities       []string  `json:"entities"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	SentimentHint  string    `json:"sentiment_hint,omitempty"`
	Links          []string  `json:"links"`
}

// FeedEntry is a single entry read from a source feed.
type FeedEntry struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Summary     string     `json:"summary,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Article is what an extractor pulls out of a fetched page. Empty fields are unknown.
type Article struct {
	Title       string     `json:"title,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Content     string     `json:"content,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}
