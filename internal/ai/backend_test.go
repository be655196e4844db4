package ai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nyashahama/event-risk-assessor/internal/ai"
	"github.com/nyashahama/event-risk-assessor/internal/model"
)

// discardLogger returns a *slog.Logger that silently drops all log output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() ai.RetryPolicy {
	return ai.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}
}

var testEvent = model.EventData{
	Title:      "Harbour Festival",
	Date:       "2025-07-12",
	Location:   "Cape Town",
	Attendance: 12000,
	Category:   model.CategoryMusic,
}

// backend serves handler for a single endpoint path and records request bodies.
func backend(t *testing.T, path string, handler func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != path {
			t.Errorf("path = %s, want %s", r.URL.Path, path)
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ─── Text endpoints ───────────────────────────────────────────────────────────

func TestClient_GenerateOverview_AcceptsBothSpellings(t *testing.T) {
	for name, payload := range map[string]string{
		"overview key": `{"overview":"A large outdoor festival."}`,
		"content key":  `{"content":"A large outdoor festival."}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := backend(t, "/api/ai/generate-overview", func(w http.ResponseWriter, body map[string]any) {
				ev, ok := body["eventData"].(map[string]any)
				if !ok || ev["eventTitle"] != "Harbour Festival" {
					t.Errorf("eventData not sent in camelCase: %v", body)
				}
				io.WriteString(w, payload)
			})
			c := ai.NewClient(srv.URL, discardLogger(), ai.WithRetryPolicy(ai.NoRetry()))

			got, err := c.GenerateOverview(context.Background(), testEvent)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != "A large outdoor festival." {
				t.Errorf("overview = %q", got)
			}
		})
	}
}

func TestClient_StartRiskConversation_Handle(t *testing.T) {
	srv := backend(t, "/api/ai/start-risk-conversation", func(w http.ResponseWriter, _ map[string]any) {
		io.WriteString(w, `{"conversationId":"abc-123"}`)
	})
	c := ai.NewClient(srv.URL, discardLogger())

	id, err := c.StartRiskConversation(context.Background(), testEvent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "abc-123" {
		t.Errorf("conversation id = %q", id)
	}
}

// ─── Risks ────────────────────────────────────────────────────────────────────

func TestClient_GenerateNextRisk_StringScoresAndFences(t *testing.T) {
	srv := backend(t, "/api/ai/generate-next-risk", func(w http.ResponseWriter, body map[string]any) {
		if body["conversationId"] != "conv-9" || body["riskNumber"] != float64(2) {
			t.Errorf("unexpected body: %v", body)
		}
		io.WriteString(w, `{"risk":"`+"```json\\n"+`{\"risk\":\"Crush at gate\",\"category\":\"Crowd Safety\",\"impact\":\"5\",\"likelihood\":3,\"mitigation\":\"Stagger entry\"}`+"\\n```"+`"}`)
	})
	c := ai.NewClient(srv.URL, discardLogger())

	shape, err := c.GenerateNextRisk(context.Background(), "conv-9", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	item := shape.Normalize()
	if item.Description != "Crush at gate" || item.Category != model.RiskCrowdSafety {
		t.Errorf("unexpected item: %+v", item)
	}
	if item.Impact != 5 || item.Likelihood != 3 {
		t.Errorf("scores = %d/%d, want 5/3", item.Impact, item.Likelihood)
	}
}

func TestClient_GenerateAdditionalRisks_SeedsExisting(t *testing.T) {
	srv := backend(t, "/api/ai/generate-additional-risks", func(w http.ResponseWriter, body map[string]any) {
		existing, _ := body["existingRisks"].([]any)
		if len(existing) != 1 || body["numRisks"] != float64(2) {
			t.Errorf("unexpected body: %v", body)
		}
		io.WriteString(w, `{"risks":[{"risk":"A","category":"Medical","impact":2,"likelihood":2,"mitigation":"m"},{"risk":"B","category":"Security","impact":4,"likelihood":1,"mitigation":"m"}]}`)
	})
	c := ai.NewClient(srv.URL, discardLogger())

	existing := []model.RiskItem{{ID: 1, Description: "Existing", Category: model.RiskLogistics, Impact: 1, Likelihood: 1, Mitigation: "m"}}
	got, err := c.GenerateAdditionalRisks(context.Background(), "conv", testEvent, existing, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d risks, want 2", len(got))
	}
}

// ─── Errors and retry ─────────────────────────────────────────────────────────

func TestClient_ErrorEnvelope_IsCollaboratorError(t *testing.T) {
	srv := backend(t, "/api/ai/generate-justification", func(w http.ResponseWriter, _ map[string]any) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"Missing required field: fieldType"}`)
	})
	c := ai.NewClient(srv.URL, discardLogger(), ai.WithRetryPolicy(fastRetry()))

	_, err := c.GenerateJustification(context.Background(), ai.JustificationRequest{Event: testEvent})
	if !errors.Is(err, model.ErrCollaborator) {
		t.Fatalf("expected ErrCollaborator, got %v", err)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := backend(t, "/api/ai/generate-operational", func(w http.ResponseWriter, _ map[string]any) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"error":"overloaded"}`)
			return
		}
		io.WriteString(w, `{"operational":"Plan for heat."}`)
	})
	c := ai.NewClient(srv.URL, discardLogger(), ai.WithRetryPolicy(fastRetry()))

	got, err := c.GenerateOperational(context.Background(), testEvent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Plan for heat." {
		t.Errorf("operational = %q", got)
	}
	if hits.Load() != 3 {
		t.Errorf("backend hit %d times, want 3", hits.Load())
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := backend(t, "/api/ai/generate-overview", func(w http.ResponseWriter, _ map[string]any) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"error":"bad event"}`)
	})
	c := ai.NewClient(srv.URL, discardLogger(), ai.WithRetryPolicy(fastRetry()))

	if _, err := c.GenerateOverview(context.Background(), testEvent); err == nil {
		t.Fatal("expected error, got nil")
	}
	if hits.Load() != 1 {
		t.Errorf("backend hit %d times, want 1", hits.Load())
	}
}

func TestClient_PerAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c := ai.NewClient(srv.URL, discardLogger(),
		ai.WithCallTimeout(20*time.Millisecond),
		ai.WithRetryPolicy(ai.NoRetry()),
	)
	_, err := c.GenerateOverview(context.Background(), testEvent)
	if !errors.Is(err, model.ErrCollaborator) {
		t.Fatalf("expected ErrCollaborator, got %v", err)
	}
}

func TestClient_EmptyDetailsIsError(t *testing.T) {
	srv := backend(t, "/api/ai/generate-rekon-context", func(w http.ResponseWriter, body map[string]any) {
		if body["score"] != float64(5) || body["level"] != "High" {
			t.Errorf("unexpected body: %v", body)
		}
		io.WriteString(w, `{"details":[]}`)
	})
	c := ai.NewClient(srv.URL, discardLogger())

	if _, err := c.GenerateContextDetails(context.Background(), testEvent, 5, "High"); !errors.Is(err, model.ErrCollaborator) {
		t.Fatalf("expected ErrCollaborator, got %v", err)
	}
}

// ─── RetryPolicy ──────────────────────────────────────────────────────────────

func TestRetryPolicy_NextDelayCapped(t *testing.T) {
	p := ai.DefaultRetryPolicy()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.NextDelay(tt.attempt); got != tt.want {
			t.Errorf("NextDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	attempts, err := fastRetry().Execute(ctx, func(context.Context) error {
		calls++
		cancel()
		return context.DeadlineExceeded
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1", attempts, calls)
	}
}
