package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/attunestack/attune-pipeline/internal/cache"
	"github.com/attunestack/attune-pipeline/internal/models"
)

// TelemetryClient pulls raw behavioral records from the upstream collector.
// The pipeline never gathers telemetry itself; this client is its only view
// of already-collected records.
type TelemetryClient struct {
	baseURL     string
	recordsPath string
	httpClient  *http.Client
	cache       cache.Provider
	windowTTL   time.Duration
}

// NewTelemetryClient constructs a client targeting the configured collector.
func NewTelemetryClient(baseURL, recordsPath string, timeout time.Duration, cacheProvider cache.Provider, windowTTL time.Duration) *TelemetryClient {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if recordsPath == "" {
		recordsPath = "/api/v1/telemetry/records"
	}
	return &TelemetryClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		recordsPath: recordsPath,
		httpClient:  &http.Client{Timeout: timeout},
		cache:       cacheProvider,
		windowTTL:   windowTTL,
	}
}

// FetchRecords queries the collector for behavioral records in a time window.
// Windows are cached briefly since training requests often re-read the same
// span.
func (c *TelemetryClient) FetchRecords(ctx context.Context, cohort string, start, end time.Time) ([]models.RawRecord, error) {
	if c == nil {
		return nil, fmt.Errorf("telemetry client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("telemetry base URL not configured")
	}

	cacheKey := fmt.Sprintf("telemetry:%s:%d:%d", cohort, start.Unix(), end.Unix())
	if c.windowTTL > 0 {
		if cached, err := c.cache.Get(ctx, cacheKey); err == nil {
			var records []models.RawRecord
			if err := json.Unmarshal(cached, &records); err == nil {
				return records, nil
			}
		}
	}

	payload := map[string]interface{}{
		"cohort": cohort,
		"start":  start.Format(time.RFC3339),
		"end":    end.Format(time.RFC3339),
	}

	var response struct {
		Records []struct {
			UserID    string                 `json:"userId"`
			Data      map[string]interface{} `json:"data"`
			Timestamp time.Time              `json:"timestamp"`
		} `json:"records"`
	}

	if err := c.postJSON(ctx, c.baseURL+c.recordsPath, payload, &response); err != nil {
		return nil, fmt.Errorf("telemetry records request failed: %w", err)
	}

	records := make([]models.RawRecord, 0, len(response.Records))
	for _, raw := range response.Records {
		data := make(map[string]models.FeatureValue, len(raw.Data))
		for key, value := range raw.Data {
			feature, err := models.FeatureFromAny(value)
			if err != nil {
				return nil, fmt.Errorf("record for %s: field %q: %w", raw.UserID, key, err)
			}
			data[key] = feature
		}
		records = append(records, models.RawRecord{
			UserID:    raw.UserID,
			Data:      data,
			Timestamp: raw.Timestamp,
		})
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("telemetry returned no records")
	}

	if c.windowTTL > 0 {
		if encoded, err := json.Marshal(records); err == nil {
			_ = c.cache.Set(ctx, cacheKey, encoded, c.windowTTL)
		}
	}
	return records, nil
}

func (c *TelemetryClient) postJSON(ctx context.Context, url string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collector returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
