package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// URLPlaceholder is replaced by the query-escaped target URL in proxy templates,
// e.g. "https://proxy.example/raw?url={url}".
const URLPlaceholder = "{url}"

// ProxyFetcher retrieves documents through an ordered list of retrieval
// proxies, returning the first successful response.
type ProxyFetcher struct {
	templates []string
	via       Fetcher
}

// NewProxyFetcher validates the templates and returns a fetcher that sends
// the proxied requests through via.
func NewProxyFetcher(templates []string, via Fetcher) (*ProxyFetcher, error) {
	if len(templates) == 0 {
		return nil, errors.New("no proxy templates configured")
	}
	for _, t := range templates {
		if !strings.Contains(t, URLPlaceholder) {
			return nil, fmt.Errorf("proxy template %q has no %s placeholder", t, URLPlaceholder)
		}
		if _, err := url.Parse(strings.ReplaceAll(t, URLPlaceholder, "x")); err != nil {
			return nil, fmt.Errorf("invalid proxy template %q: %w", t, err)
		}
	}
	return &ProxyFetcher{templates: templates, via: via}, nil
}

// Fetch implements Fetcher.
func (p *ProxyFetcher) Fetch(ctx context.Context, target string) ([]byte, error) {
	var errs []error
	for _, t := range p.templates {
		proxied := strings.ReplaceAll(t, URLPlaceholder, url.QueryEscape(target))
		body, err := p.via.Fetch(ctx, proxied)
		if err == nil {
			return body, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &Error{URL: target, Err: errors.Join(errs...)}
}
