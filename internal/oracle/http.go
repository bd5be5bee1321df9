package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPOracle fetches quotes from a price-service endpoint. The endpoint is
// expected to answer GET {endpoint}?feed={feedID} with a JSON body:
//
//	{"price": "2000.50", "decimals": 8, "updated_at": 1735000000}
//
// The decimal price string is scaled to the advertised feed decimals.
type HTTPOracle struct {
	client   HTTPDoer
	endpoint string
}

// NewHTTPOracle constructs an HTTP oracle adapter. When client is nil,
// http.DefaultClient is used.
func NewHTTPOracle(client HTTPDoer, endpoint string) *HTTPOracle {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPOracle{client: client, endpoint: strings.TrimSpace(endpoint)}
}

// LatestPrice implements PriceOracle.
func (o *HTTPOracle) LatestPrice(ctx context.Context, feedID string) (Price, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint, nil)
	if err != nil {
		return Price{}, err
	}
	values := url.Values{}
	values.Set("feed", feedID)
	req.URL.RawQuery = values.Encode()

	resp, err := o.client.Do(req)
	if err != nil {
		return Price{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return Price{}, fmt.Errorf("%w: %s", ErrUnknownFeed, feedID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Price{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Price     string `json:"price"`
		Decimals  uint8  `json:"decimals"`
		UpdatedAt int64  `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Price{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}

	d, err := decimal.NewFromString(strings.TrimSpace(payload.Price))
	if err != nil {
		return Price{}, fmt.Errorf("%w: invalid price %q", ErrUnavailable, payload.Price)
	}
	scaled := d.Shift(int32(payload.Decimals))
	if !scaled.IsInteger() {
		return Price{}, fmt.Errorf("%w: price %q finer than %d decimals", ErrUnavailable, payload.Price, payload.Decimals)
	}

	return Price{
		Value:     scaled.BigInt(),
		Decimals:  payload.Decimals,
		UpdatedAt: time.Unix(payload.UpdatedAt, 0),
	}, nil
}
