package elexon

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// Response is the subset of an HTTP response the client inspects.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Fetcher performs a single GET. Network failures must be returned as
// *TransportError; non-2xx statuses are not errors at this layer.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) (*Response, error)
}

type restyFetcher struct {
	client *resty.Client
}

// NewRestyFetcher builds a Fetcher on top of resty. A nil http.Client uses
// resty's default transport.
func NewRestyFetcher(hc *http.Client) Fetcher {
	var client *resty.Client
	if hc != nil {
		client = resty.NewWithClient(hc)
	} else {
		client = resty.New()
	}
	client.SetHeader("Accept", "application/json")
	return &restyFetcher{client: client}
}

func (f *restyFetcher) Get(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get(rawURL)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	return &Response{
		Status: resp.StatusCode(),
		Header: resp.Header(),
		Body:   resp.Body(),
	}, nil
}
