package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/socialpulse/ig-insights/internal/errs"
	"github.com/socialpulse/ig-insights/internal/metrics"
)

// ErrPagerDone is returned by NextPage once the sequence has ended
var ErrPagerDone = errors.New("graph: no more pages")

// Page is one page of a paginated Graph API response
type Page struct {
	Records []json.RawMessage
	// Next is the continuation cursor supplied by upstream; empty when the
	// upstream sequence is exhausted.
	Next string
}

type pageEnvelope struct {
	Data   []json.RawMessage `json:"data"`
	Paging struct {
		Cursors struct {
			Before string `json:"before"`
			After  string `json:"after"`
		} `json:"cursors"`
		Next     string `json:"next"`
		Previous string `json:"previous"`
	} `json:"paging"`
}

// FetchOption bounds a paginated fetch
type FetchOption func(*Pager)

// WithMaxPages stops the sequence after n pages
func WithMaxPages(n int) FetchOption {
	return func(p *Pager) { p.maxPages = n }
}

// WithMaxRecords stops the sequence once n records have been produced
func WithMaxRecords(n int) FetchOption {
	return func(p *Pager) { p.maxRecords = n }
}

// Pager is a lazy, single-use sequence of pages. Pages are requested one at
// a time in cursor order; a new Fetch is the only way to start over.
type Pager struct {
	client   *Client
	endpoint string
	params   url.Values
	cursor   string
	done     bool
	capped   bool

	pages      int
	records    int
	maxPages   int
	maxRecords int
}

// Fetch returns a pager over endpoint. No request is made until NextPage.
func (c *Client) Fetch(endpoint string, params url.Values, opts ...FetchOption) *Pager {
	p := &Pager{
		client:   c,
		endpoint: endpoint,
		params:   cloneValues(params),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// More reports whether NextPage may return another page
func (p *Pager) More() bool {
	return !p.done
}

// NextPage fetches the next page. Any error ends the sequence.
func (p *Pager) NextPage(ctx context.Context) (*Page, error) {
	if p.done {
		return nil, ErrPagerDone
	}

	params := cloneValues(p.params)
	if p.cursor != "" {
		params.Set("after", p.cursor)
	}

	body, err := p.client.get(ctx, p.endpoint, params)
	if err != nil {
		p.done = true
		return nil, err
	}

	var env pageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		p.done = true
		return nil, errs.Wrap(errs.UpstreamUnavailable, err, "invalid JSON response from %s", p.endpoint)
	}

	page := &Page{Records: env.Data}
	// insights responses page through time with since/until links and no
	// cursors; only cursor-based continuation is followed
	if env.Paging.Next != "" && env.Paging.Cursors.After != "" {
		page.Next = env.Paging.Cursors.After
	}

	p.pages++
	metrics.GraphPages.Inc()

	if p.maxRecords > 0 && p.records+len(page.Records) >= p.maxRecords {
		if p.records+len(page.Records) > p.maxRecords || page.Next != "" {
			p.capped = true
		}
		page.Records = page.Records[:p.maxRecords-p.records]
		p.done = true
	}
	p.records += len(page.Records)

	if page.Next == "" {
		p.done = true
	} else if p.maxPages > 0 && p.pages >= p.maxPages {
		p.capped = true
		p.done = true
	}
	p.cursor = page.Next

	logrus.WithFields(logrus.Fields{
		"endpoint": p.endpoint,
		"page":     p.pages,
		"records":  len(page.Records),
		"has_next": page.Next != "",
	}).Debug("Fetched Graph API page")

	return page, nil
}

// Truncated reports whether a page or record cap ended the sequence while
// upstream still had data. Stop does not count as truncation.
func (p *Pager) Truncated() bool {
	return p.capped
}

// Stop ends the sequence early without further requests
func (p *Pager) Stop() {
	p.done = true
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
