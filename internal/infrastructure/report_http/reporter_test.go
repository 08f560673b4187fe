package report_http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/davarch/ci-runner/internal/domain"
)

func sampleRun() domain.Run {
	return domain.Run{
		ID:       uuid.New(),
		Pipeline: "verify",
		Event:    domain.Event{Kind: domain.EventPush, Ref: "main"},
		Status:   domain.StatusSucceeded,
		Started:  time.Now().Add(-time.Minute),
		Finished: time.Now(),
		Jobs: []domain.JobResult{{
			Job:    "verify",
			Status: domain.StatusSucceeded,
			Results: []domain.RunResult{
				{Step: "test", Status: domain.StatusSucceeded, Duration: 2 * time.Second},
			},
		}},
	}
}

func TestReport_PostsRunPayload(t *testing.T) {
	var got runDTO
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("auth header: %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	run := sampleRun()
	rep := New(srv.URL, "tok", 5*time.Second)
	if err := rep.Report(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.RunID != run.ID.String() || got.Status != "succeeded" || got.Ref != "main" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if len(got.Jobs) != 1 || len(got.Jobs[0].Steps) != 1 {
		t.Fatalf("jobs missing: %+v", got.Jobs)
	}
}

func TestReport_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rep := New(srv.URL, "", 5*time.Second)
	if err := rep.Report(context.Background(), sampleRun()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestReport_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	rep := New(srv.URL, "", 5*time.Second)
	if err := rep.Report(context.Background(), sampleRun()); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", calls.Load())
	}
}
