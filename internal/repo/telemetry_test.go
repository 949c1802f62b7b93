package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/attunestack/attune-pipeline/internal/models"
)

func TestFetchRecords(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		var payload struct {
			Cohort string `json:"cohort"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.Cohort != "pilot" {
			t.Fatalf("unexpected cohort %q", payload.Cohort)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"records": []map[string]any{
				{
					"userId": "user-1",
					"data": map[string]any{
						"valence": 0.4,
						"mood":    "calm",
						"active":  true,
						"trend":   []any{0.1, 0.2},
					},
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				},
			},
		})
	}))
	defer server.Close()

	client := NewTelemetryClient(server.URL, "", time.Second, nil, 0)
	records, err := client.FetchRecords(context.Background(), "pilot", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	record := records[0]
	if record.UserID != "user-1" {
		t.Fatalf("unexpected user %q", record.UserID)
	}
	if record.Data["valence"].Kind != models.FeatureNumeric || record.Data["valence"].Number != 0.4 {
		t.Fatalf("valence mis-decoded: %+v", record.Data["valence"])
	}
	if record.Data["mood"].Kind != models.FeatureCategorical {
		t.Fatalf("mood mis-decoded: %+v", record.Data["mood"])
	}
	if record.Data["active"].Kind != models.FeatureBoolean {
		t.Fatalf("active mis-decoded: %+v", record.Data["active"])
	}
	if record.Data["trend"].Kind != models.FeatureVector || len(record.Data["trend"].Vector) != 2 {
		t.Fatalf("trend mis-decoded: %+v", record.Data["trend"])
	}
	if calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls)
	}
}

func TestFetchRecordsEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"records": []any{}})
	}))
	defer server.Close()

	client := NewTelemetryClient(server.URL, "", time.Second, nil, 0)
	if _, err := client.FetchRecords(context.Background(), "pilot", time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatalf("empty window should error")
	}
}

func TestFetchRecordsUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewTelemetryClient(server.URL, "", time.Second, nil, 0)
	if _, err := client.FetchRecords(context.Background(), "pilot", time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatalf("5xx should surface as error")
	}
}
