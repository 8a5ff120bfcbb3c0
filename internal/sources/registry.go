// Package sources knows the supported publishers: where their feeds live,
// how much a report from each one weighs, and how to pull an article out of
// their pages.
package sources

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source names a supported publisher.
type Source string

const (
	CoinDesk      Source = "coindesk"
	TheBlock      Source = "theblock"
	Blockworks    Source = "blockworks"
	Cointelegraph Source = "cointelegraph"
	Defiant       Source = "defiant"
	DLNews        Source = "dlnews"
	Protos        Source = "protos"
	Decrypt       Source = "decrypt"
	CryptoPanic   Source = "cryptopanic"
	Messari       Source = "messari"
	Glassnode     Source = "glassnode"
)

var ErrUnsupportedSource = errors.New("unsupported source")

const defaultWeight = 0.5

// Definition is everything the ingester needs about one source.
type Definition struct {
	Name      Source
	FeedURL   string
	Weight    float64
	Enabled   bool
	Extractor Extractor
}

// Registry resolves source names to definitions. It is built once at startup
// and read-only afterwards.
type Registry struct {
	defs map[Source]Definition
}

func defaultDefinitions() []Definition {
	generic := GenericExtractor{}
	return []Definition{
		{Name: CoinDesk, FeedURL: "https://www.coindesk.com/arc/outboundfeeds/rss/", Weight: 1.0, Extractor: CoinDeskExtractor{}},
		{Name: TheBlock, FeedURL: "https://www.theblock.co/rss.xml", Weight: 1.0, Extractor: generic},
		{Name: Blockworks, FeedURL: "https://blockworks.co/feed", Weight: 1.0, Extractor: generic},
		{Name: Cointelegraph, FeedURL: "https://cointelegraph.com/rss", Weight: defaultWeight, Extractor: CointelegraphExtractor{}},
		{Name: Defiant, FeedURL: "https://thedefiant.io/feed", Weight: defaultWeight, Extractor: generic},
		{Name: DLNews, FeedURL: "https://dlnews.com/feed", Weight: defaultWeight, Extractor: generic},
		{Name: Protos, FeedURL: "https://protos.com/feed", Weight: defaultWeight, Extractor: generic},
		{Name: Decrypt, FeedURL: "https://decrypt.co/feed", Weight: defaultWeight, Extractor: generic},
		{Name: CryptoPanic, FeedURL: "https://cryptopanic.com/news/rss/", Weight: 2.0, Extractor: generic},
		{Name: Messari, FeedURL: "https://messari.io/rss", Weight: 1.0, Extractor: generic},
		{Name: Glassnode, FeedURL: "https://insights.glassnode.com/feed/", Weight: defaultWeight, Extractor: generic},
	}
}

// NewRegistry returns the built-in source table with every source enabled.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[Source]Definition)}
	for _, d := range defaultDefinitions() {
		d.Enabled = true
		r.defs[d.Name] = d
	}
	return r
}

// Resolve returns the definition of an enabled source.
func (r *Registry) Resolve(name string) (Definition, error) {
	d, ok := r.defs[Source(strings.ToLower(strings.TrimSpace(name)))]
	if !ok || !d.Enabled {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnsupportedSource, name)
	}
	return d, nil
}

// Weight satisfies cluster.SourceWeigher. Unknown sources weigh 0.5.
func (r *Registry) Weight(source string) float64 {
	if d, ok := r.defs[Source(source)]; ok {
		return d.Weight
	}
	return defaultWeight
}

// Names lists enabled sources in lexical order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.defs))
	for name, d := range r.defs {
		if d.Enabled {
			out = append(out, string(name))
		}
	}
	sort.Strings(out)
	return out
}

// Override is one entry of the sources file. Nil fields keep the built-in value.
type Override struct {
	FeedURL *string  `yaml:"feed_url"`
	Weight  *float64 `yaml:"weight"`
	Enabled *bool    `yaml:"enabled"`
}

// File is the YAML layout of SOURCES_FILE:
//
//	sources:
//	  coindesk:
//	    weight: 1.5
//	  glassnode:
//	    enabled: false
type File struct {
	Sources map[string]Override `yaml:"sources"`
}

// LoadFile applies the overrides in path. Names outside the built-in table
// are rejected.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open sources file: %w", err)
	}
	defer f.Close()

	var file File
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return fmt.Errorf("decode sources file: %w", err)
	}
	return r.Apply(file)
}

// Apply merges overrides into the registry.
func (r *Registry) Apply(file File) error {
	for name, o := range file.Sources {
		key := Source(strings.ToLower(strings.TrimSpace(name)))
		d, ok := r.defs[key]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnsupportedSource, name)
		}
		if o.FeedURL != nil {
			d.FeedURL = strings.TrimSpace(*o.FeedURL)
		}
		if o.Weight != nil {
			if *o.Weight < 0 {
				return fmt.Errorf("source %s: weight cannot be negative", name)
			}
			d.Weight = *o.Weight
		}
		if o.Enabled != nil {
			d.Enabled = *o.Enabled
		}
		r.defs[key] = d
	}
	return nil
}
