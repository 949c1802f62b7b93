package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"time"
)

type behavioralRecord struct {
	UserID    string                 `json:"userId"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

func main() {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/telemetry/records", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			Cohort string `json:"cohort"`
			Start  string `json:"start"`
			End    string `json:"end"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		records := make([]behavioralRecord, 0, 24)
		for i := 0; i < 24; i++ {
			records = append(records, behavioralRecord{
				UserID: userFor(req.Cohort, i),
				Data: map[string]interface{}{
					"type":             "behavioral",
					"valence":          rng.Float64()*2 - 1,
					"arousal":          rng.Float64()*2 - 1,
					"bpm":              60 + rng.Float64()*40,
					"engagement":       rng.Float64(),
					"sentiment":        rng.Float64()*2 - 1,
					"resonance":        rng.Float64(),
					"timeOfDay":        float64(rng.Intn(24)),
					"conversationTurn": float64(rng.Intn(12)),
					"email":            "user@example.com",
				},
				Timestamp: time.Now().Add(-time.Duration(i) * time.Minute),
			})
		}
		writeJSON(w, map[string]any{"records": records})
	})

	logger := log.New(log.Writer(), "telemetry-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func userFor(cohort string, i int) string {
	if cohort == "" {
		cohort = "default"
	}
	return cohort + "-user-" + string(rune('a'+i%26))
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
