package sources

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"

	"github.com/DeafMist/crypto-news-radar/internal/httpclient"
)

// RobotsPolicy answers whether the configured user agent may fetch a URL.
// robots.txt is fetched once per scheme+host and cached for the lifetime of
// the policy.
type RobotsPolicy struct {
	http  *httpclient.Client
	agent string
	log   *slog.Logger

	mu     sync.RWMutex
	groups map[string]*robotstxt.Group
	flight singleflight.Group
}

func NewRobotsPolicy(client *httpclient.Client, logger *slog.Logger) *RobotsPolicy {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RobotsPolicy{
		http:   client,
		agent:  client.UserAgent(),
		log:    logger,
		groups: make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether rawURL may be fetched. An unreachable robots.txt
// allows everything; 4xx allows everything and 5xx denies everything.
func (p *RobotsPolicy) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	base := u.Scheme + "://" + u.Host

	group := p.group(ctx, base)
	if group == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	allowed := group.Test(path)
	if !allowed {
		p.log.Info("blocked by robots.txt", "url", rawURL)
	}
	return allowed
}

func (p *RobotsPolicy) group(ctx context.Context, base string) *robotstxt.Group {
	p.mu.RLock()
	g, ok := p.groups[base]
	p.mu.RUnlock()
	if ok {
		return g
	}

	v, _, _ := p.flight.Do(base, func() (any, error) {
		g, err := p.fetch(ctx, base)
		if err != nil {
			// not cached, the next URL on this host tries again
			p.log.Warn("robots.txt unavailable", "host", base, "err", err)
			return (*robotstxt.Group)(nil), nil
		}
		p.mu.Lock()
		p.groups[base] = g
		p.mu.Unlock()
		return g, nil
	})
	return v.(*robotstxt.Group)
}

func (p *RobotsPolicy) fetch(ctx context.Context, base string) (*robotstxt.Group, error) {
	resp, err := p.http.Get(ctx, base+"/robots.txt", nil)
	if err != nil {
		return nil, err
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	if err != nil {
		return nil, err
	}
	return data.FindGroup(p.agent), nil
}
