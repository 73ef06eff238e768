package elexon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battery-tracker/pkg/timeseries"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *recordingSleeper) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	sleeper := &recordingSleeper{}
	base := []Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithSleeper(sleeper.Sleep),
		WithTimeout(2 * time.Second),
	}
	return NewClient(append(base, opts...)...), sleeper
}

func TestClientPhysicalNotificationsQuery(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/balancing/physical", r.URL.Path)
		assert.Equal(t, "T_DRAXX-1", r.URL.Query().Get("bmUnit"))
		assert.Equal(t, "2025-01-01T00:00:00Z", r.URL.Query().Get("from"))
		assert.Equal(t, "2025-01-08T00:00:00Z", r.URL.Query().Get("to"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"dataset":"PN","timeFrom":"2025-01-01T00:00:00Z","levelFrom":10.5}]}`))
	})

	window := timeseries.Window{
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC),
	}
	records, err := client.PhysicalNotifications(context.Background(), window, "T_DRAXX-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "PN", records[0]["dataset"])
	require.Equal(t, "10.5", fmt.Sprint(records[0]["levelFrom"]))
}

func TestClientPhysicalNotificationsRequiresUnit(t *testing.T) {
	client := NewClient(WithFetcher(fetcherFunc(func(context.Context, string, url.Values, time.Duration) (*Response, error) {
		t.Fatal("fetcher must not be called")
		return nil, nil
	})))
	_, err := client.PhysicalNotifications(context.Background(), timeseries.Window{}, " ")
	require.Error(t, err)
}

func TestClientMarketIndexProvider(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/datasets/MID", r.URL.Path)
		assert.Equal(t, "APXMIDP", r.URL.Query().Get("dataProvider"))
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	records, err := client.MarketIndex(context.Background(), timeseries.Window{
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}, "APXMIDP")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestClientSystemPricesForDatePath(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/balancing/settlement/system-prices/2025-01-02", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"settlementDate":"2025-01-02","settlementPeriod":1,"systemSellPrice":71.2,"systemBuyPrice":71.2}]}`))
	})
	records, err := client.SystemPricesForDate(context.Background(), time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var calls int32
	client, sleeper := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			http.Error(w, "upstream busy", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"a":1}]}`))
	})

	records, err := client.Get(context.Background(), "/datasets/MID", nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.delays)
	for i := 1; i < len(sleeper.delays); i++ {
		require.GreaterOrEqual(t, sleeper.delays[i], sleeper.delays[i-1])
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	client, sleeper := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "maintenance window", http.StatusServiceUnavailable)
	}, WithMaxAttempts(4))

	_, err := client.Get(context.Background(), "/datasets/MID", nil)
	require.Error(t, err)
	require.EqualValues(t, 4, atomic.LoadInt32(&calls))
	require.Len(t, sleeper.delays, 3)

	var unavailable *UpstreamUnavailableError
	require.True(t, errors.As(err, &unavailable))
	require.Equal(t, 4, unavailable.Attempts)

	var status *StatusError
	require.True(t, errors.As(err, &status))
	require.Equal(t, http.StatusServiceUnavailable, status.Status)
	require.Contains(t, status.Body, "maintenance window")
}

func TestClientClientErrorEndsLoop(t *testing.T) {
	var calls int32
	client, sleeper := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"bad bmUnit"}`, http.StatusBadRequest)
	})

	_, err := client.Get(context.Background(), "/balancing/physical", nil)
	var status *StatusError
	require.True(t, errors.As(err, &status))
	require.Contains(t, err.Error(), "bad bmUnit")
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	require.Empty(t, sleeper.delays)
}

func TestClientClientErrorRetriedByPolicy(t *testing.T) {
	var calls int32
	policy := DefaultRetryPolicy()
	policy.RetryClientErrors = true
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusNotFound)
	}, WithRetryPolicy(policy))

	_, err := client.Get(context.Background(), "/x", nil)
	var unavailable *UpstreamUnavailableError
	require.True(t, errors.As(err, &unavailable))
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClientFormatErrorIsNotRetried(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"items":[]}`))
	})

	_, err := client.Get(context.Background(), "/x", nil)
	var format *UpstreamFormatError
	require.True(t, errors.As(err, &format))
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClientRetriesMalformedJSON(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			_, _ = w.Write([]byte(`{"data":[`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	_, err := client.Get(context.Background(), "/x", nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

type fetcherFunc func(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) (*Response, error)

func (f fetcherFunc) Get(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) (*Response, error) {
	return f(ctx, rawURL, params, timeout)
}

func TestClientRetriesTransportErrors(t *testing.T) {
	calls := 0
	fetcher := fetcherFunc(func(_ context.Context, rawURL string, _ url.Values, timeout time.Duration) (*Response, error) {
		calls++
		require.Equal(t, 5*time.Second, timeout)
		if calls < 3 {
			return nil, &TransportError{URL: rawURL, Err: errors.New("connection reset")}
		}
		return &Response{Status: http.StatusOK, Body: []byte(`{"data":[]}`)}, nil
	})
	sleeper := &recordingSleeper{}
	client := NewClient(WithFetcher(fetcher), WithSleeper(sleeper.Sleep), WithTimeout(5*time.Second))

	_, err := client.Get(context.Background(), "/x", nil)
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Len(t, sleeper.delays, 2)
}

func TestClientStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := fetcherFunc(func(_ context.Context, rawURL string, _ url.Values, _ time.Duration) (*Response, error) {
		cancel()
		return nil, &TransportError{URL: rawURL, Err: context.Canceled}
	})
	client := NewClient(WithFetcher(fetcher), WithSleeper(func(context.Context, time.Duration) error {
		t.Fatal("must not sleep after cancellation")
		return nil
	}))

	_, err := client.Get(ctx, "/x", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClientBareListOption(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"a":1}]`))
	}
	strict, _ := newTestClient(t, handler)
	_, err := strict.Get(context.Background(), "/legacy", nil)
	var format *UpstreamFormatError
	require.True(t, errors.As(err, &format))

	lenient, _ := newTestClient(t, handler, WithAllowBareList(true))
	records, err := lenient.Get(context.Background(), "/legacy", nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestClientRateLimitOptionDoesNotBlockFirstCall(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}, WithRateLimit(1, 1))
	require.NotNil(t, client.limiter)
	_, err := client.Get(context.Background(), "/x", nil)
	require.NoError(t, err)
}

func TestEndpointsDefaults(t *testing.T) {
	client := NewClient(WithEndpoints(Endpoints{BaseURL: "http://localhost:9999/"}))
	e := client.Endpoints()
	require.Equal(t, "http://localhost:9999/", e.BaseURL)
	require.Equal(t, systemPricesPath, e.SystemPrices)
	require.Equal(t, "http://localhost:9999/datasets/MID", e.url(e.MarketIndex))
}
