package dedupe

import (
	"github.com/DeafMist/crypto-news-radar/internal/processing"
	"github.com/DeafMist/crypto-news-radar/internal/similarity"
)

// ContentPrefixRunes bounds how much of an article body feeds the content hash.
const ContentPrefixRunes = 5000

// DefaultNearDuplicateThreshold is the token-set score at which two titles are
// considered the same story.
const DefaultNearDuplicateThreshold = 90.0

// Index remembers URL and content hashes seen during one ingestion run.
// It is owned by a single run and is not safe for concurrent use; keys are
// never evicted, so a fresh Index must be created per run.
type Index struct {
	urls    map[string]string
	content map[string]string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		urls:    make(map[string]string),
		content: make(map[string]string),
	}
}

// Add records an item and reports whether it is new. The returned key is the
// URL hash for accepted items, or the stored hash that caused the rejection.
func (i *Index) Add(rawURL, content, title string) (bool, string) {
	canonicalURL := processing.CanonicalizeURL(rawURL)
	titleKey := processing.NormalizeTitle(title)

	urlKey := processing.DeterministicHash(canonicalURL)
	if existing, ok := i.urls[urlKey]; ok {
		return false, existing
	}

	contentKey := processing.DeterministicHash(processing.Truncate(content, ContentPrefixRunes), titleKey)
	if existing, ok := i.content[contentKey]; ok {
		return false, existing
	}

	i.urls[urlKey] = urlKey
	i.content[contentKey] = contentKey
	return true, urlKey
}

// Len returns the number of accepted items.
func (i *Index) Len() int {
	return len(i.urls)
}

// NearDuplicate reports whether title scores at least threshold against any of
// existing. It is linear in len(existing), so callers pass a small working set.
func NearDuplicate(title string, existing []string, threshold float64) bool {
	candidate := processing.NormalizeTitle(title)
	for _, other := range existing {
		if similarity.TokenSetRatio(candidate, processing.NormalizeTitle(other)) >= threshold {
			return true
		}
	}
	return false
}
