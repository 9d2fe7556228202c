package scraper

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EvgenyQA404/perfume/internal/config"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productPage = `<!doctype html>
<html><head><title>Shop | Chanel No 5</title></head>
<body>
  <h1 id="pagetitle">  Chanel   No 5 </h1>
  <span class="values_wrapper">
    <span class="price_value">1 234,50</span><span class="price_currency"> USD</span>
  </span>
</body></html>`

func testConfig() config.ScraperConfig {
	cfg := config.DefaultConfig().Scraper
	cfg.Selectors = config.Selectors{
		Name:     "#pagetitle",
		Price:    ".values_wrapper .price_value",
		Currency: ".values_wrapper .price_currency",
	}
	cfg.MaxRetries = 2
	cfg.RetryDelaySeconds = 0
	cfg.TimeoutSeconds = 5
	return cfg
}

func doc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return d
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		currency     string
		fallback     string
		exponent     int32
		wantAmount   int64
		wantCurrency string
	}{
		{"plain integer", "232", " USD", "", 2, 23200, "USD"},
		{"space groups", "12 990 ₽", "", "", 2, 1299000, "RUB"},
		{"nbsp groups", "12 990 руб.", "", "", 0, 12990, "RUB"},
		{"comma decimals", "1 234,56", "", "EUR", 2, 123456, "EUR"},
		{"us format", "$1,234.56", "", "", 2, 123456, "USD"},
		{"european format", "1.234,56 €", "", "", 2, 123456, "EUR"},
		{"dot thousands", "1.234", "", "", 0, 1234, ""},
		{"one decimal", "99.5", "", "", 2, 9950, ""},
		{"rounding", "1,000.005", "", "", 2, 100001, ""},
		{"zero", "0", "", "", 2, 0, ""},
		{"currency text wins", "500 ₽", "usd", "", 2, 50000, "USD"},
		{"surrounding words", "Цена: 4 500 р.", "", "", 2, 450000, "RUB"},
		{"discount badge skipped", "-20% 1 500 ₽", "", "", 2, 150000, "RUB"},
		{"spaced percent skipped", "скидка 15 % 990", "", "", 0, 990, ""},
		{"range dash", "1 500-2 000 ₽", "", "", 0, 1500, "RUB"},
		{"word is not a currency", "Now 1 200", "", "", 2, 120000, ""},
		{"unknown code falls back", "1 200 NEW", "", "EUR", 2, 120000, "EUR"},
		{"iso code after word", "Price 15 USD", "", "", 2, 1500, "USD"},
		{"largest amount", "9223372036854775807", "", "", 0, math.MaxInt64, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, currency, err := ParsePrice(tt.value, tt.currency, tt.fallback, tt.exponent)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAmount, amount)
			assert.Equal(t, tt.wantCurrency, currency)
		})
	}
}

func TestParsePriceRejectsBadAmounts(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		exponent int32
		want     string
	}{
		{"overflows int64", "99999999999999999999", 2, "out of range"},
		{"overflows after shift", "92233720368547758.08", 2, "out of range"},
		{"negative", "-500 ₽", 2, "negative"},
		{"unicode minus", "\u2212 500", 2, "negative"},
		{"only a percentage", "-20%", 2, "price not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParsePrice(tt.value, "", "", tt.exponent)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNoPrice)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParsePriceRejectsTextWithoutDigits(t *testing.T) {
	_, _, err := ParsePrice("нет в наличии", "", "", 2)
	assert.ErrorIs(t, err, ErrNoPrice)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestExtract(t *testing.T) {
	cfg := testConfig()
	ex, err := Extract(doc(t, productPage), cfg.Selectors)
	require.NoError(t, err)

	assert.Equal(t, "Chanel No 5", ex.Name)
	assert.Equal(t, "1 234,50", ex.PriceText)
	assert.Equal(t, "USD", ex.CurrencyText)
}

func TestExtractNameFallbacks(t *testing.T) {
	sel := config.Selectors{Name: ".missing", Price: "[itemprop='price']"}

	withOG := `<html><head><meta property="og:title" content="OG Name"><title>Title Name</title></head>
		<body><meta itemprop="price" content="150.00"><meta itemprop="priceCurrency" content="EUR"></body></html>`
	ex, err := Extract(doc(t, withOG), sel)
	require.NoError(t, err)
	assert.Equal(t, "OG Name", ex.Name)
	assert.Equal(t, "150.00", ex.PriceText)
	assert.Equal(t, "EUR", ex.CurrencyText)

	withTitle := `<html><head><title>Title Name</title></head><body><span itemprop="price">10</span></body></html>`
	ex, err = Extract(doc(t, withTitle), sel)
	require.NoError(t, err)
	assert.Equal(t, "Title Name", ex.Name)
}

func TestExtractMissingPrice(t *testing.T) {
	_, err := Extract(doc(t, `<html><body><h1>Name</h1></body></html>`), config.Selectors{Name: "h1", Price: ".price"})
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestExtractMissingName(t *testing.T) {
	_, err := Extract(doc(t, `<html><body><span class="price">1</span></body></html>`), config.Selectors{Name: "h2", Price: ".price"})
	assert.ErrorIs(t, err, ErrNoName)
}

func TestHTTPFetcherFetch(t *testing.T) {
	var userAgent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(productPage))
	}))
	defer srv.Close()

	cfg := testConfig()
	f := NewHTTPFetcher(cfg, "")
	defer f.Close()

	listing, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Chanel No 5", listing.Name)
	assert.Equal(t, int64(123450), listing.Amount)
	assert.Equal(t, "USD", listing.Currency)
	assert.Equal(t, srv.URL, listing.URL)
	assert.Equal(t, cfg.UserAgent, userAgent.Load())
}

func TestHTTPFetcherRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(productPage))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(testConfig(), "")
	listing, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Chanel No 5", listing.Name)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPFetcherDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(testConfig(), "")
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPFetcherOpensBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.BreakerThreshold = 2
	f := NewHTTPFetcher(cfg, "")

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), srv.URL)
		assert.ErrorIs(t, err, ErrUpstream)
	}

	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, f.Breaker().Status().Open)
}

func TestHTTPFetcherUnparsablePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><h1 id="pagetitle">X</h1></body></html>`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(testConfig(), "")
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestHTTPFetcherHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := NewHTTPFetcher(testConfig(), "")
	_, err := f.Fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrUpstream))
}

func TestCircuitBreakerResets(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure(http.StatusTooManyRequests)
	assert.True(t, cb.CanProceed())
	cb.RecordFailure(http.StatusInternalServerError)
	assert.False(t, cb.CanProceed())

	now = now.Add(time.Minute)
	assert.True(t, cb.CanProceed())
	assert.False(t, cb.Status().Open)
}

func TestCircuitBreakerIgnoresNonBlockingFailures(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	cb.RecordFailure(http.StatusForbidden)
	cb.RecordFailure(http.StatusNotFound)
	cb.RecordFailure(http.StatusForbidden)
	assert.True(t, cb.CanProceed())

	st := cb.Status()
	assert.Equal(t, 3, st.Failures)
	assert.Equal(t, 1, st.ConsecutiveFailures)
}

func TestNewFetcherRejectsUnknownMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "carrier-pigeon"
	_, err := NewFetcher(cfg, "")
	assert.Error(t, err)
}

func TestBreakerOf(t *testing.T) {
	f := NewHTTPFetcher(testConfig(), "")
	assert.Same(t, f.Breaker(), BreakerOf(f))
	assert.Nil(t, BreakerOf(nopFetcher{}))
}

type nopFetcher struct{}

func (nopFetcher) Fetch(context.Context, string) (*Listing, error) { return nil, ErrNoPrice }
func (nopFetcher) Close() error                                    { return nil }
