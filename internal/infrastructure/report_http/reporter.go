// Package report_http delivers terminal run status to an external webhook
// (status checks, PR annotations). Delivery is best-effort: transient
// upstream trouble is retried briefly, anything else is dropped with an
// error the caller may log but never acts on.
package report_http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/davarch/ci-runner/internal/domain"
)

type Reporter struct {
	url   string
	token string
	hc    *http.Client
}

func New(url, token string, timeout time.Duration) *Reporter {
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Reporter{
		url:   url,
		token: token,
		hc:    &http.Client{Transport: tr, Timeout: timeout},
	}
}

type stepDTO struct {
	Step       string `json:"step"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	Cached     bool   `json:"cached"`
	DurationMS int64  `json:"duration_ms"`
}

type jobDTO struct {
	Job    string    `json:"job"`
	Status string    `json:"status"`
	Steps  []stepDTO `json:"steps"`
}

type runDTO struct {
	RunID    string   `json:"run_id"`
	Pipeline string   `json:"pipeline"`
	Event    string   `json:"event"`
	Ref      string   `json:"ref"`
	Status   string   `json:"status"`
	Started  int64    `json:"started"`
	Finished int64    `json:"finished"`
	Jobs     []jobDTO `json:"jobs"`
}

func (r *Reporter) Report(ctx context.Context, run domain.Run) error {
	body, err := json.Marshal(toDTO(run))
	if err != nil {
		return err
	}

	op := func() error {
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if r.token != "" {
			req.Header.Set("Authorization", "Bearer "+r.token)
		}

		resp, err := r.hc.Do(req)
		if err != nil {
			return err
		}

		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if sec, _ := strconv.Atoi(ra); sec > 0 {
					select {
					case <-time.After(time.Duration(sec) * time.Second):
					case <-ctx.Done():
						return backoff.Permanent(ctx.Err())
					}
					return fmt.Errorf("retry after due to 429")
				}
			}

			return fmt.Errorf("report endpoint 429")
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("report endpoint %s", resp.Status)
		}

		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("report endpoint %s", resp.Status))
		}

		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 300 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 5 * time.Second

	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func toDTO(run domain.Run) runDTO {
	out := runDTO{
		RunID:    run.ID.String(),
		Pipeline: run.Pipeline,
		Event:    string(run.Event.Kind),
		Ref:      run.Event.Ref,
		Status:   string(run.Status),
		Started:  run.Started.Unix(),
		Finished: run.Finished.Unix(),
	}
	for _, j := range run.Jobs {
		jd := jobDTO{Job: j.Job, Status: string(j.Status)}
		for _, s := range j.Results {
			jd.Steps = append(jd.Steps, stepDTO{
				Step:       s.Step,
				Status:     string(s.Status),
				ExitCode:   s.ExitCode,
				Cached:     s.Cached,
				DurationMS: s.Duration.Milliseconds(),
			})
		}
		out.Jobs = append(out.Jobs, jd)
	}
	return out
}
