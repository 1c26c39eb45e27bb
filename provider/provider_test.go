package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/neoracle/price-feeder/catalog"
	"github.com/neoracle/price-feeder/resilience"
)

func testCfg(baseURL, apiKey string) Config {
	return Config{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Catalog: catalog.Default(),
		Resilience: resilience.Config{
			MaxAttempts: 1,
			RetryBase:   time.Millisecond,
			Timeout:     time.Second,
			RPS:         1000,
			Burst:       1000,
		},
		Log: zerolog.Nop(),
	}
}

func TestBinanceFetchOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		require.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))
		w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"50000.50","volume":"1234.5"}`))
	}))
	defer srv.Close()

	b := NewBinance(testCfg(srv.URL, "test-key"))
	require.True(t, b.Enabled())

	q, err := b.FetchOne(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", q.Symbol)
	require.Equal(t, "50000.5", q.Price.String())
	require.Equal(t, "1234.5", q.Volume.String())
	require.Equal(t, "Binance", q.Provider)
	require.WithinDuration(t, time.Now(), q.ObservedAt, 5*time.Second)
}

func TestBinanceDisabledWithoutKey(t *testing.T) {
	b := NewBinance(testCfg("http://unused.test", ""))
	require.False(t, b.Enabled())
}

func TestBinanceUnsupportedSymbol(t *testing.T) {
	b := NewBinance(testCfg("http://unused.test", "k"))
	_, err := b.FetchOne(context.Background(), "DOGEUSDT")
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestOKXFetchOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "BTC-USDT", r.URL.Query().Get("instId"))
		w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT","last":"49999.9","vol24h":"42"}]}`))
	}))
	defer srv.Close()

	o := NewOKX(testCfg(srv.URL, ""))
	require.True(t, o.Enabled())

	q, err := o.FetchOne(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, "49999.9", q.Price.String())
	require.Equal(t, "42", q.Volume.String())
}

func TestOKXErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"51001","msg":"Instrument ID does not exist","data":[]}`))
	}))
	defer srv.Close()

	o := NewOKX(testCfg(srv.URL, ""))
	_, err := o.FetchOne(context.Background(), "BTCUSDT")
	require.Error(t, err)
	require.Contains(t, err.Error(), "51001")
}

func TestKrakenBatchSingleCall(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/0/public/Ticker", r.URL.Path)
		require.Equal(t, "XBTUSDT,ETHUSDT", r.URL.Query().Get("pair"))
		w.Write([]byte(`{"error":[],"result":{
			"XBTUSDT":{"c":["50000.1","0.5"],"v":["10","20.5"]},
			"ETHUSDT":{"c":["4000.2","1.0"],"v":["100","200"]}
		}}`))
	}))
	defer srv.Close()

	k := NewKraken(testCfg(srv.URL, ""))
	quotes := k.FetchBatch(context.Background(), []string{"BTCUSDT", "ETHUSDT", "NEOUSDT"})
	require.Equal(t, 1, calls, "batch must use the native multi-pair endpoint")
	require.Len(t, quotes, 2, "NEOUSDT is not listed at Kraken and must be filtered")

	bySymbol := map[string]string{}
	for _, q := range quotes {
		bySymbol[q.Symbol] = q.Price.String()
		require.Equal(t, "Kraken", q.Provider)
	}
	require.Equal(t, "50000.1", bySymbol["BTCUSDT"])
	require.Equal(t, "4000.2", bySymbol["ETHUSDT"])
}

func TestKrakenAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":["EQuery:Unknown asset pair"],"result":{}}`))
	}))
	defer srv.Close()

	k := NewKraken(testCfg(srv.URL, ""))
	_, err := k.FetchOne(context.Background(), "BTCUSDT")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Unknown asset pair")
}

func TestCoinGeckoBatchSingleCall(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/api/v3/simple/price", r.URL.Path)
		require.Equal(t, "bitcoin,ethereum", r.URL.Query().Get("ids"))
		require.Equal(t, "btc,usd", r.URL.Query().Get("vs_currencies"))
		w.Write([]byte(`{
			"bitcoin":{"usd":50000.0,"usd_24h_vol":100005.0},
			"ethereum":{"usd":4000.0,"btc":0.08,"usd_24h_vol":8000.0,"btc_24h_vol":0.16}
		}`))
	}))
	defer srv.Close()

	g := NewCoinGecko(testCfg(srv.URL, ""))
	quotes := g.FetchBatch(context.Background(), []string{"BTCUSDT", "ETHUSDT", "ETHBTC"})
	require.Equal(t, 1, calls)
	require.Len(t, quotes, 3)

	bySymbol := map[string]string{}
	for _, q := range quotes {
		bySymbol[q.Symbol] = q.Price.String()
	}
	require.Equal(t, "50000", bySymbol["BTCUSDT"])
	require.Equal(t, "4000", bySymbol["ETHUSDT"])
	require.Equal(t, "0.08", bySymbol["ETHBTC"])

	// Quote-currency volume is normalized to base units.
	for _, q := range quotes {
		if q.Symbol == "BTCUSDT" {
			require.Equal(t, "2.0001", q.Volume.Round(6).String())
		}
	}
}

func TestCoinbaseFetchOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/exchange-rates", r.URL.Path)
		require.Equal(t, "NEO", r.URL.Query().Get("currency"))
		w.Write([]byte(`{"data":{"currency":"NEO","rates":{"USDT":"10.05","USD":"10.04"}}}`))
	}))
	defer srv.Close()

	c := NewCoinbase(testCfg(srv.URL, ""))
	q, err := c.FetchOne(context.Background(), "NEOUSDT")
	require.NoError(t, err)
	require.Equal(t, "10.05", q.Price.String())
	require.True(t, q.Volume.IsZero(), "exchange-rates endpoint has no volume")
}

func TestCoinMarketCapCrossConversion(t *testing.T) {
	var btcCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "real-key", r.Header.Get("X-CMC_PRO_API_KEY"))
		switch r.URL.Query().Get("symbol") {
		case "NEO":
			w.Write([]byte(`{"status":{"error_code":0},"data":{"NEO":{"quote":{"USD":{"price":12.5,"volume_24h":125.0}}}}}`))
		case "BTC":
			btcCalls++
			w.Write([]byte(`{"status":{"error_code":0},"data":{"BTC":{"quote":{"USD":{"price":50000.0,"volume_24h":1000.0}}}}}`))
		default:
			t.Errorf("unexpected symbol %s", r.URL.Query().Get("symbol"))
		}
	}))
	defer srv.Close()

	m := NewCoinMarketCap(testCfg(srv.URL, "real-key"))
	require.True(t, m.Enabled())

	q, err := m.FetchOne(context.Background(), "NEOBTC")
	require.NoError(t, err)
	// 12.5 USD / 50000 USD per BTC = 0.00025 BTC
	require.Equal(t, "0.00025", q.Price.String())
	require.Equal(t, 1, btcCalls)

	// The BTC/USD leg is cached within its TTL.
	_, err = m.FetchOne(context.Background(), "NEOBTC")
	require.NoError(t, err)
	require.Equal(t, 1, btcCalls)
}

func TestCoinMarketCapDisabledWithoutKey(t *testing.T) {
	m := NewCoinMarketCap(testCfg("http://unused.test", ""))
	require.False(t, m.Enabled())
}

func TestBatchSuppressesPerSymbolFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "BTCUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"symbol":"ETHUSDT","lastPrice":"4000.0","volume":"9"}`))
	}))
	defer srv.Close()

	b := NewBinance(testCfg(srv.URL, "k"))
	quotes := b.FetchBatch(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	require.Len(t, quotes, 1)
	require.Equal(t, "ETHUSDT", quotes[0].Symbol)
}

func TestSanitize(t *testing.T) {
	require.Equal(t, "BTCUSDT", sanitize("BTC/USDT?x=1"))
	require.Equal(t, "BTCUSDT", sanitize("BTC-USDT"))
	require.Equal(t, "BTC-USDT", sanitizeID("BTC-USDT&a=b"))
	require.Equal(t, "flamingo-finance", sanitizeID("flamingo-finance"))
}
