// Package cluster groups deduplicated news items into scored multi-source events.
package cluster

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/DeafMist/crypto-news-radar/internal/models"
	"github.com/DeafMist/crypto-news-radar/internal/processing"
	"github.com/DeafMist/crypto-news-radar/internal/similarity"
)

const (
	similarityWeight = 0.6
	sourceWeight     = 0.3
	freshnessWeight  = 0.1

	// DefaultSourceWeight applies to sources missing from the weight table.
	DefaultSourceWeight = 0.5

	DefaultWindowMinutes       = 180
	DefaultSimilarityThreshold = 0.82

	clusterIDPrefixLen = 12
	freshnessHorizon   = 24 * time.Hour
)

var ErrNoItems = errors.New("no items to cluster")

// SourceWeigher returns how much a single report from source contributes to
// a cluster's score.
type SourceWeigher interface {
	Weight(source string) float64
}

// WeightTable maps source names to weights; unknown sources get DefaultSourceWeight.
type WeightTable map[string]float64

func (w WeightTable) Weight(source string) float64 {
	if v, ok := w[source]; ok {
		return v
	}
	return DefaultSourceWeight
}

// DefaultWeights elevates low-noise wires and the aggregator.
var DefaultWeights = WeightTable{
	"coindesk":    1.0,
	"theblock":    1.0,
	"blockworks":  1.0,
	"cryptopanic": 2.0,
	"messari":     1.0,
}

type entityPattern struct {
	label string
	re    *regexp.Regexp
}

var entityPatterns = []entityPattern{
	{"BTC", regexp.MustCompile(`(?i)\bBTC\b`)},
	{"ETH", regexp.MustCompile(`(?i)\bETH\b`)},
	{"SOL", regexp.MustCompile(`(?i)\bSOL\b`)},
	{"ETF", regexp.MustCompile(`(?i)\bETF\b`)},
	{"SEC", regexp.MustCompile(`(?i)\bSEC\b`)},
	{"HACK", regexp.MustCompile(`(?i)\bhack(ed|ing)?\b`)},
	{"FUNDING", regexp.MustCompile(`(?i)\bfunding rate\b`)},
}

var (
	positiveKeywords = []string{"launch", "growth", "profit", "surge"}
	negativeKeywords = []string{"hack", "lawsuit", "layoff", "bankrupt"}
)

// Engine runs the greedy first-match clustering pass. It holds no state
// between calls and is safe for concurrent use.
type Engine struct {
	weights SourceWeigher
	origin  string
	now     func() time.Time
}

type Option func(*Engine)

func WithWeights(w SourceWeigher) Option {
	return func(e *Engine) {
		if w != nil {
			e.weights = w
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithOrigin stamps every produced cluster with origin.
func WithOrigin(origin string) Option {
	return func(e *Engine) { e.origin = origin }
}

func New(opts ...Option) *Engine {
	e := &Engine{weights: DefaultWeights, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type candidate struct {
	canonicalTitle string
	normTitle      string
	items          []models.NewsItem
	simSum         float64
	bestSim        float64
	firstSeen      time.Time
	lastSeen       time.Time
}

func (c *candidate) add(item models.NewsItem, sim float64) {
	if len(c.items) == 0 || sim > c.bestSim {
		c.canonicalTitle = item.Title
		c.normTitle = processing.NormalizeTitle(item.Title)
		c.bestSim = sim
	}
	if len(c.items) == 0 || item.PublishedAt.Before(c.firstSeen) {
		c.firstSeen = item.PublishedAt
	}
	if len(c.items) == 0 || item.PublishedAt.After(c.lastSeen) {
		c.lastSeen = item.PublishedAt
	}
	c.items = append(c.items, item)
	c.simSum += sim
}

// Cluster places items into clusters. An item joins the first cluster, in
// creation order, whose first-seen time is within windowMinutes of its own
// publish time and whose canonical title is at least threshold similar (0..1).
// Otherwise it opens a new cluster. Clusters are returned in creation order.
func (e *Engine) Cluster(items []models.NewsItem, windowMinutes int, threshold float64) ([]models.NewsCluster, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	sorted := make([]models.NewsItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PublishedAt.Before(sorted[j].PublishedAt)
	})

	window := time.Duration(windowMinutes) * time.Minute
	var candidates []*candidate

	for _, item := range sorted {
		title := processing.NormalizeTitle(item.Title)
		matched := false
		for _, c := range candidates {
			if absDuration(item.PublishedAt.Sub(c.firstSeen)) > window {
				continue
			}
			sim := similarity.TokenSetRatio(title, c.normTitle)
			if sim/100 >= threshold {
				c.add(item, sim)
				matched = true
				break
			}
		}
		if !matched {
			c := &candidate{}
			c.add(item, 100)
			candidates = append(candidates, c)
		}
	}

	now := e.now()
	out := make([]models.NewsCluster, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, e.finalize(c, now))
	}
	return out, nil
}

func (e *Engine) finalize(c *candidate, now time.Time) models.NewsCluster {
	simScore := c.simSum / float64(len(c.items))

	var srcScore float64
	sources := make(map[string]struct{}, len(c.items))
	links := make([]string, 0, len(c.items))
	titles := make([]string, 0, len(c.items))
	for _, item := range c.items {
		srcScore += e.weights.Weight(item.Source)
		sources[item.Source] = struct{}{}
		links = append(links, item.URL)
		titles = append(titles, item.Title)
	}

	score := simScore*similarityWeight +
		srcScore*10*sourceWeight +
		Freshness(c.firstSeen, now)*freshnessWeight

	first := c.items[0]
	return models.NewsCluster{
		ClusterID:      clusterID(first),
		Origin:         e.origin,
		CanonicalTitle: c.canonicalTitle,
		Summary:        first.Summary,
		Score:          roundScore(score),
		SourceCount:    len(sources),
		Entities:       DetectEntities(titles),
		FirstSeen:      c.firstSeen,
		LastSeen:       c.lastSeen,
		SentimentHint:  Sentiment(titles),
		Links:          links,
	}
}

// roundScore rounds to two decimals, ties to even.
func roundScore(score float64) float64 {
	return math.RoundToEven(score*100) / 100
}

// Freshness decays linearly from 100 at firstSeen to 0 a day later.
func Freshness(firstSeen, now time.Time) float64 {
	age := now.Sub(firstSeen)
	f := 1 - float64(age)/float64(freshnessHorizon)
	if f < 0 {
		return 0
	}
	return f * 100
}

// DetectEntities returns the labels whose pattern occurs in the joined titles,
// each at most once, in vocabulary order.
func DetectEntities(titles []string) []string {
	text := strings.Join(titles, " ")
	entities := make([]string, 0, len(entityPatterns))
	for _, p := range entityPatterns {
		if p.re.MatchString(text) {
			entities = append(entities, p.label)
		}
	}
	return entities
}

// Sentiment scores each title +1 for any positive keyword and -1 for any
// negative keyword. It needs a net of two either way to commit.
func Sentiment(titles []string) string {
	score := 0
	for _, t := range titles {
		t = strings.ToLower(t)
		if containsAny(t, positiveKeywords) {
			score++
		}
		if containsAny(t, negativeKeywords) {
			score--
		}
	}
	switch {
	case score > 1:
		return "positive"
	case score < -1:
		return "negative"
	}
	return ""
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func clusterID(first models.NewsItem) string {
	h := first.Hash
	if h == "" {
		h = first.ID
	}
	if h == "" {
		h = processing.DeterministicHash(first.Source, first.URL, first.Title)
	}
	if len(h) > clusterIDPrefixLen {
		h = h[:clusterIDPrefixLen]
	}
	return "cluster-" + h
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
