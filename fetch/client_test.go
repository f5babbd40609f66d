package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	return New(Config{AppToken: "tok", Timeout: 5 * time.Second, Backoff: time.Millisecond})
}

func TestFetchDecodesRecords(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "tok", r.Header.Get("X-App-Token"))
		assert.Equal(t, "5", r.URL.Query().Get("$limit"))
		w.Write([]byte(`[{"id": "1"}, {"id": "2"}]`))
	}))
	defer srv.Close()

	c := testClient()
	defer c.Close()

	params := url.Values{}
	params.Set("$limit", "5")
	recs, err := c.Fetch(context.Background(), srv.URL+"/resource/abcd.json", params)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "1", recs[0]["id"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchRetriesRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"id": "1"}]`))
	}))
	defer srv.Close()

	c := testClient()
	defer c.Close()

	recs, err := c.Fetch(context.Background(), srv.URL, url.Values{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchTerminalStatusNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient()
	defer c.Close()

	_, err := c.Fetch(context.Background(), srv.URL, url.Values{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type failingTransport struct{ calls int32 }

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, errors.New("connection reset")
}

type flakyTransport struct {
	calls    int32
	failures int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if atomic.AddInt32(&f.calls, 1) <= f.failures {
		return nil, errors.New("timeout")
	}
	return f.next.RoundTrip(req)
}

func TestFetchTransportErrorRecoversWithinBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": "1"}]`))
	}))
	defer srv.Close()

	c := testClient()
	defer c.Close()
	ft := &flakyTransport{failures: 2, next: http.DefaultTransport}
	c.http.HTTPClient.Transport = ft

	recs, err := c.Fetch(context.Background(), srv.URL, url.Values{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&ft.calls))
}

func TestFetchTransportErrorExhaustsReadRetries(t *testing.T) {
	c := testClient()
	defer c.Close()
	ft := &failingTransport{}
	c.http.HTTPClient.Transport = ft

	_, err := c.Fetch(context.Background(), "http://example.invalid/resource/x.json", url.Values{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read retries exhausted")
	// initial attempt plus three read retries
	assert.Equal(t, int32(4), atomic.LoadInt32(&ft.calls))
}

func TestFetchEmptyPayloadRetriedThenAccepted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := testClient()
	defer c.Close()

	recs, err := c.Fetch(context.Background(), srv.URL, url.Values{})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchMalformedPayloadIsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"not": "an array"`))
	}))
	defer srv.Close()

	c := testClient()
	defer c.Close()

	_, err := c.Fetch(context.Background(), srv.URL, url.Values{})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchCachesLastRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`[{"id": "1"}]`))
	}))
	defer srv.Close()

	c := testClient()
	defer c.Close()

	params := url.Values{}
	params.Set("$offset", "0")
	_, err := c.Fetch(context.Background(), srv.URL, params)
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), srv.URL, params)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// a different parameter set evicts the slot
	params.Set("$offset", "100")
	_, err = c.Fetch(context.Background(), srv.URL, params)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchGeoJSONUsesFeatureProperties(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type": "FeatureCollection", "features": [
			{"type": "Feature", "properties": {"ward": "3"}, "geometry": null}
		]}`))
	}))
	defer srv.Close()

	c := testClient()
	defer c.Close()

	recs, err := c.Fetch(context.Background(), srv.URL+"/resource/abcd.geojson", url.Values{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "3", recs[0]["ward"])
}
