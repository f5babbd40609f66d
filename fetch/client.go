// Package fetch implements the retrying, caching Socrata API client.
package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/city"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/metrico/openlake/frame"
)

const (
	// retries of the outer loop on transport errors (timeouts, connection
	// failures surfaced by the HTTP client)
	maxReadRetries = 3
	// extra retries when an HTTP 200 carries an empty record payload
	maxEmptyRetries = 2
	// retries performed by the underlying transport on retryable statuses
	maxStatusRetries = 5

	defaultTimeout = 90 * time.Second
)

var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

type Config struct {
	AppToken string
	Timeout  time.Duration
	// Backoff is the base of the exponential backoff (1s -> 2s -> 4s).
	Backoff time.Duration
}

// Client issues authenticated paginated requests against the data API.
// Construct one per ingestion run and Close it at the end; it is not
// safe for concurrent use (ingestion is sequential per asset).
type Client struct {
	http    *retryablehttp.Client
	token   string
	backoff time.Duration
	log     *logrus.Entry

	// one-slot response cache: most recent (endpoint, params) fetch only,
	// guards against accidental duplicate calls within one run
	cacheKey  uint64
	cacheRecs []frame.Record
	hasCache  bool
}

func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Second
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = maxStatusRetries
	rc.RetryWaitMin = cfg.Backoff
	rc.RetryWaitMax = 64 * cfg.Backoff
	rc.Logger = nil
	rc.HTTPClient.Timeout = cfg.Timeout
	// the status layer only retries the listed statuses; transport errors
	// propagate to the read-retry loop in Fetch
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return false, err
		}
		return retryStatuses[resp.StatusCode], nil
	}
	return &Client{
		http:    rc,
		token:   cfg.AppToken,
		backoff: cfg.Backoff,
		log:     logrus.WithField("component", "fetch"),
	}
}

// Close releases idle connections. Cleanup failures are never escalated.
func (c *Client) Close() {
	c.http.HTTPClient.CloseIdleConnections()
}

// Fetch issues GET <endpoint>?<params> and decodes the payload into records.
// Geo endpoints (.geojson) yield the properties object of each feature.
// Transport errors exceeding the retry budget are fatal for the caller's
// ingestion run; an empty payload is retried and then accepted.
func (c *Client) Fetch(ctx context.Context, endpoint string, params url.Values) ([]frame.Record, error) {
	key := cacheFingerprint(endpoint, params)
	if c.hasCache && c.cacheKey == key {
		return c.cacheRecs, nil
	}

	requestURL := endpoint
	if encoded := params.Encode(); encoded != "" {
		requestURL += "?" + encoded
	}

	var records []frame.Record
	attempt := 0
	for {
		attempt++
		recs, err := c.get(ctx, endpoint, requestURL)
		if err != nil {
			var terminal *terminalError
			if errors.As(err, &terminal) {
				return nil, terminal.err
			}
			if attempt > maxReadRetries {
				return nil, errors.Wrapf(err, "fetch %s: read retries exhausted", endpoint)
			}
			c.log.WithError(err).Warnf("transport error, retrying (attempt %d)", attempt)
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}
		if len(recs) == 0 && attempt <= maxEmptyRetries {
			// an empty body under a positive limit is likely a silent
			// truncation; retry from the same offset
			c.log.Warnf("empty payload from %s, retrying (attempt %d)", endpoint, attempt)
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}
		if len(recs) == 0 {
			c.log.Warnf("accepting empty payload from %s after %d attempts", endpoint, attempt)
		}
		records = recs
		break
	}

	c.cacheKey = key
	c.cacheRecs = records
	c.hasCache = true
	return records, nil
}

// terminalError marks conditions the read-retry loop must not retry
// (non-retryable HTTP statuses, malformed payloads).
type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }

func (c *Client) get(ctx context.Context, endpoint, requestURL string) ([]frame.Record, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, &terminalError{errors.Wrap(err, "build request")}
	}
	if c.token != "" {
		req.Header.Set("X-App-Token", c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &terminalError{errors.Errorf("fetch %s: status %s", endpoint, resp.Status)}
	}

	var records []frame.Record
	if strings.HasSuffix(endpoint, ".geojson") {
		records, err = frame.DecodeFeatureProperties(body)
	} else {
		records, err = frame.DecodeRecords(body)
	}
	if err != nil {
		return nil, &terminalError{errors.Wrapf(err, "fetch %s", endpoint)}
	}
	return records, nil
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	d := c.backoff * (1 << (attempt - 1))
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cacheFingerprint hashes (endpoint, params) into the one-slot cache key.
// url.Values.Encode sorts keys, so equal parameter sets hash equally.
func cacheFingerprint(endpoint string, params url.Values) uint64 {
	return city.CH64([]byte(endpoint + "?" + params.Encode()))
}
