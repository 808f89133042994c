package poll

import (
	"context"
	"time"

	"feedmill/internal/parse"
)

// Probe fetches a candidate URL and parses feed identity only, skipping
// entries. Subscription flows use this to validate a URL and capture a
// title before any feed record exists.
func (e *Engine) Probe(ctx context.Context, url string, timeout time.Duration) (parse.Feed, error) {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	doc, err := e.cfg.Fetcher.Feed(ctx, url, timeout)
	if err != nil {
		return parse.Feed{}, err
	}

	return e.cfg.Parser.Parse(doc.Body, true)
}
