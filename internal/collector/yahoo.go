package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"SweepSentinel/internal/model"

	"github.com/shopspring/decimal"
)

// YahooFetcher implements Fetcher using Yahoo Finance public API.
type YahooFetcher struct {
	BaseURL   string
	Client    *http.Client
	SymbolMap map[string]string // maps internal symbol to Yahoo ticker
}

// NewYahooFetcher creates a new Yahoo Finance fetcher.
func NewYahooFetcher(proxyURL string) *YahooFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &YahooFetcher{
		BaseURL: "https://query1.finance.yahoo.com",
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		SymbolMap: map[string]string{
			"BTC":     "BTC-USD",
			"BTCUSD":  "BTC-USD",
			"BTC-USD": "BTC-USD",
			"ETH":     "ETH-USD",
			"ETHUSD":  "ETH-USD",
		},
	}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

func (f *YahooFetcher) yahooSymbol(symbol string) string {
	if mapped, ok := f.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func toDecimal(vs []*float64, i int) decimal.Decimal {
	if i >= len(vs) || vs[i] == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*vs[i])
}

func (f *YahooFetcher) fetchChart(symbol, interval, rng string, res model.Resolution) ([]model.Bar, *float64, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=%s&range=%s",
		f.BaseURL, url.PathEscape(f.yahooSymbol(symbol)), interval, rng)

	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("yahoo: status %d, body: %s", resp.StatusCode, string(body))
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil, fmt.Errorf("yahoo: no data returned")
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]model.Bar, 0, len(result.Timestamp))

	for i, ts := range result.Timestamp {
		b := model.Bar{
			Resolution: res,
			Time:       time.Unix(ts, 0).UTC(),
			Open:       toDecimal(quote.Open, i),
			High:       toDecimal(quote.High, i),
			Low:        toDecimal(quote.Low, i),
			Close:      toDecimal(quote.Close, i),
			Volume:     toDecimal(quote.Volume, i),
		}
		if b.Open.IsZero() && b.High.IsZero() && b.Low.IsZero() && b.Close.IsZero() {
			continue // skip null bars
		}
		bars = append(bars, b)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, result.Meta.RegularMarketPrice, nil
}

// FetchBars serves 5M natively and builds 4H from hourly bars, which Yahoo
// does not offer directly.
func (f *YahooFetcher) FetchBars(symbol string, res model.Resolution, count int) ([]model.Bar, error) {
	switch res {
	case model.Resolution5M:
		// 288 five-minute bars per day
		rng := "5d"
		if count <= 288 {
			rng = "1d"
		}
		bars, _, err := f.fetchChart(symbol, "5m", rng, res)
		if err != nil {
			return nil, err
		}
		if len(bars) > count {
			bars = bars[len(bars)-count:]
		}
		return bars, nil
	case model.Resolution4H:
		// 6 four-hour bars per day
		rng := "3mo"
		if count <= 6*28 {
			rng = "1mo"
		}
		hourly, _, err := f.fetchChart(symbol, "60m", rng, res)
		if err != nil {
			return nil, err
		}
		bars := aggregate(hourly, res)
		if len(bars) > count {
			bars = bars[len(bars)-count:]
		}
		return bars, nil
	}
	return nil, fmt.Errorf("yahoo: unsupported resolution %q", res)
}

func (f *YahooFetcher) FetchCurrentPrice(symbol string) (decimal.Decimal, error) {
	bars, last, err := f.fetchChart(symbol, "1m", "1d", "")
	if err != nil {
		return decimal.Zero, err
	}
	if last != nil {
		return decimal.NewFromFloat(*last), nil
	}
	if len(bars) == 0 {
		return decimal.Zero, fmt.Errorf("yahoo: no price data")
	}
	return bars[len(bars)-1].Close, nil
}
