package api_http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/davarch/ci-runner/internal/application"
	"github.com/davarch/ci-runner/internal/domain"
)

func testServer(t *testing.T) (*Server, *application.Scheduler) {
	t.Helper()
	log := zap.NewNop()
	pipeline := domain.Pipeline{
		Name: "verify",
		Triggers: []domain.Trigger{
			{Kind: domain.EventPush, Pattern: "main"},
			{Kind: domain.EventTagPush, Pattern: "*"},
			{Kind: domain.EventPullRequest},
		},
		Jobs: []domain.Job{{
			Name:  "verify",
			Steps: []domain.Step{{Name: "test", Command: "make test"}},
		}},
	}
	jobs := application.NewJobRunner(
		application.NewStepExecutor(&domain.MockRunner{}, log),
		application.NewCacheManager(&domain.MockStore{}, log, nil),
		log, nil,
	)
	sched, err := application.NewScheduler(log, pipeline, jobs, nil, t.TempDir(), 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Shutdown(ctx)
	})
	return New(log, sched, nil), sched
}

func TestHandleEvent_StartsRun(t *testing.T) {
	srv, sched := testServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"kind":"push","ref":"main"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.RunID == "" {
		t.Fatal("no run id returned")
	}
	if len(sched.Runs()) != 1 {
		t.Fatalf("expected one run, got %d", len(sched.Runs()))
	}
}

func TestHandleEvent_NoMatch(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"kind":"push","ref":"feature/x"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestHandleEvent_Malformed(t *testing.T) {
	srv, _ := testServer(t)
	for _, body := range []string{`{"kind":"deploy","ref":"main"}`, `{"kind":"push"}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status %d", body, rec.Code)
		}
	}
}

func TestHandleRun_DetailAndNotFound(t *testing.T) {
	srv, sched := testServer(t)
	router := srv.Router()

	run, ok, err := sched.Submit(domain.Event{Kind: domain.EventPush, Ref: "main"})
	if err != nil || !ok {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := sched.WaitRun(ctx, run.ID); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+run.ID.String(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var detail struct {
		Status string `json:"status"`
		Jobs   []struct {
			Job   string `json:"job"`
			Steps []struct {
				Step string `json:"step"`
			} `json:"steps"`
		} `json:"jobs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if detail.Status != "succeeded" || len(detail.Jobs) != 1 || len(detail.Jobs[0].Steps) != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/00000000-0000-0000-0000-000000000000", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing run: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/not-a-uuid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status %d", rec.Code)
	}
}

func TestHandleRuns_ListsNewestFirst(t *testing.T) {
	srv, sched := testServer(t)
	router := srv.Router()

	for _, ref := range []string{"main", "v1.0.0"} {
		kind := domain.EventPush
		if ref != "main" {
			kind = domain.EventTagPush
		}
		if _, _, err := sched.Submit(domain.Event{Kind: kind, Ref: ref}); err != nil {
			t.Fatal(err)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var out []runSummary
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(out))
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}
