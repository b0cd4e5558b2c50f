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

// VsTraderFetcher implements Fetcher using the vstrader REST API.
type VsTraderFetcher struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewVsTraderFetcher creates a new fetcher with optional proxy support.
func NewVsTraderFetcher(baseURL, apiKey, proxyURL string) *VsTraderFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &VsTraderFetcher{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func (f *VsTraderFetcher) Name() string { return "vstrader" }

// vsBar is the expected JSON shape from the vstrader API. Prices may arrive
// as numbers or strings.
type vsBar struct {
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

var vsInterval = map[model.Resolution]string{
	model.Resolution4H: "4h",
	model.Resolution5M: "5m",
}

func (f *VsTraderFetcher) FetchBars(symbol string, res model.Resolution, count int) ([]model.Bar, error) {
	interval, ok := vsInterval[res]
	if !ok {
		return nil, fmt.Errorf("vstrader: unsupported resolution %q", res)
	}
	bars, err := f.fetchBars(f.barsURL(symbol, interval, count), res)
	if err == nil || res != model.Resolution4H {
		return bars, err
	}
	// Fallback: not every deployment serves 4h, so build it from hourly bars.
	hourly, hourlyErr := f.fetchBars(f.barsURL(symbol, "1h", count*4+4), res)
	if hourlyErr != nil {
		return nil, fmt.Errorf("4h fetch failed: %w; hourly fallback also failed: %w", err, hourlyErr)
	}
	return aggregate(hourly, res), nil
}

func (f *VsTraderFetcher) barsURL(symbol, interval string, limit int) string {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", fmt.Sprint(limit))
	return f.BaseURL + "/api/v1/bars?" + q.Encode()
}

func (f *VsTraderFetcher) FetchCurrentPrice(symbol string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/api/v1/quote?symbol=%s", f.BaseURL, url.QueryEscape(symbol))
	req, err := http.NewRequest("GET", endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	if f.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.APIKey)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch current price: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fetch current price: status %d", resp.StatusCode)
	}
	var result struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, fmt.Errorf("decode price: %w", err)
	}
	return result.Price, nil
}

func (f *VsTraderFetcher) fetchBars(endpoint string, res model.Resolution) ([]model.Bar, error) {
	req, err := http.NewRequest("GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	if f.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.APIKey)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bars: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch bars: status %d, body: %s", resp.StatusCode, string(body))
	}
	var vsBars []vsBar
	if err := json.NewDecoder(resp.Body).Decode(&vsBars); err != nil {
		return nil, fmt.Errorf("decode bars: %w", err)
	}
	bars := make([]model.Bar, len(vsBars))
	for i, vb := range vsBars {
		bars[i] = model.Bar{
			Resolution: res,
			Time:       time.Unix(vb.Timestamp, 0).UTC(),
			Open:       vb.Open,
			High:       vb.High,
			Low:        vb.Low,
			Close:      vb.Close,
			Volume:     vb.Volume,
		}
	}
	// Ensure chronological order
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}
