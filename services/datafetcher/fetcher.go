package datafetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"chart_engine_backend/models"
)

// HistoryResponse is the wire shape of the upstream history endpoint.
// An empty Candles array is a valid "no data" outcome, not an error.
type HistoryResponse struct {
	Symbol     string          `json:"symbol"`
	Resolution string          `json:"resolution"`
	Candles    []models.Candle `json:"candles"`
}

// DataFetcher pulls candle history from the upstream history API.
type DataFetcher struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataFetcher creates a fetcher against the given history endpoint
// base URL.
func NewDataFetcher(baseURL string) *DataFetcher {
	return &DataFetcher{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchCandles fetches ordered candles for a symbol/resolution window.
// The request carries the caller's context so a superseded chart switch
// can cancel it mid-flight.
func (df *DataFetcher) FetchCandles(ctx context.Context, symbol, resolution string, from, to int64) ([]models.Candle, error) {
	endpoint := fmt.Sprintf("%s?symbol=%s&resolution=%s&from=%d&to=%d",
		df.baseURL, url.QueryEscape(symbol), url.QueryEscape(resolution), from, to)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := df.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("history API error (status %d): %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var historyResp HistoryResponse
	if err := json.Unmarshal(body, &historyResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	candles := historyResp.Candles
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
	return candles, nil
}
