package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jensholdgaard/auctionsync/internal/clock"
	"github.com/jensholdgaard/auctionsync/internal/health"
)

var testClk = clock.Mock{T: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}

func ok(context.Context) error { return nil }

func failing(context.Context) error { return errors.New("connection refused") }

func TestLivenessHandler(t *testing.T) {
	h := health.NewHandler(testClk)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	h.LivenessHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
	}
	var s health.Status
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.Status != health.StatusOK {
		t.Errorf("got status %q, want %q", s.Status, health.StatusOK)
	}
	if s.Timestamp != "2025-06-15T12:00:00Z" {
		t.Errorf("got timestamp %q", s.Timestamp)
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		checkers   []health.Checker
		wantCode   int
		wantStatus string
	}{
		{
			name:       "not ready",
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: health.StatusNotReady,
		},
		{
			name:       "ready no checkers",
			ready:      true,
			wantCode:   http.StatusOK,
			wantStatus: health.StatusReady,
		},
		{
			name:  "ready all checks pass",
			ready: true,
			checkers: []health.Checker{
				{Name: "database", Check: ok},
				{Name: "sync", Check: ok, Degradable: true},
			},
			wantCode:   http.StatusOK,
			wantStatus: health.StatusReady,
		},
		{
			name:  "ready but check fails",
			ready: true,
			checkers: []health.Checker{
				{Name: "database", Check: failing},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: health.StatusNotReady,
		},
		{
			name:  "degradable check fails",
			ready: true,
			checkers: []health.Checker{
				{Name: "replica", Check: ok},
				{Name: "sync", Check: failing, Degradable: true},
			},
			wantCode:   http.StatusOK,
			wantStatus: health.StatusDegraded,
		},
		{
			name:  "hard failure wins over degraded",
			ready: true,
			checkers: []health.Checker{
				{Name: "sync", Check: failing, Degradable: true},
				{Name: "bus", Check: failing},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: health.StatusNotReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := health.NewHandler(testClk, tt.checkers...)
			h.SetReady(tt.ready)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

			h.ReadinessHandler().ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("got status %d, want %d", rec.Code, tt.wantCode)
			}
			var s health.Status
			if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
				t.Fatal(err)
			}
			if s.Status != tt.wantStatus {
				t.Errorf("got status %q, want %q", s.Status, tt.wantStatus)
			}
			if len(s.Checks) != len(tt.checkers) {
				t.Errorf("got %d check results, want %d", len(s.Checks), len(tt.checkers))
			}
		})
	}
}
