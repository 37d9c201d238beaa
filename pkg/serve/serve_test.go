package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/qcserestipy/gopi/pkg/driver"
)

func newTestServer(t *testing.T) (*ComputeServer, *httptest.Server) {
	t.Helper()
	s := New(driver.Config{Mode: driver.ModeThread}, 4)
	ts := httptest.NewServer(s.Router)
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCompute(t *testing.T) {
	_, ts := newTestServer(t)
	resp := post(t, ts.URL+"/compute", `{"divisions":1000}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var cr ComputeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cr.Formatted != "pi ~= 3.141603544913" {
		t.Errorf("unexpected result %q", cr.Formatted)
	}
	if cr.Workers != 4 || cr.Mode != "thread" {
		t.Errorf("expected server defaults, got %+v", cr)
	}
}

func TestCompute_BadRequests(t *testing.T) {
	_, ts := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"no divisions", `{"workers":2}`},
		{"negative workers", `{"workers":-1,"divisions":10}`},
		{"too many workers", `{"workers":16385,"divisions":10}`},
		{"huge workers", `{"workers":4611686018427387904,"divisions":10}`},
		{"unknown mode", `{"divisions":10,"mode":"mpi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/compute", tt.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestJobs_Lifecycle(t *testing.T) {
	s, ts := newTestServer(t)

	resp := post(t, ts.URL+"/jobs", `{"id":7,"input":{"workers":3,"divisions":1}}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	resp = post(t, ts.URL+"/jobs", `{"id":7,"input":{"divisions":5}}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate id, got %d", resp.StatusCode)
	}

	s.Jobs.Wait()

	get, err := http.Get(ts.URL + "/jobs/7")
	if err != nil {
		t.Fatalf("GET /jobs/7: %v", err)
	}
	defer get.Body.Close()
	var job Job
	if err := json.NewDecoder(get.Body).Decode(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.Status != StatusCompleted || job.Output == nil {
		t.Fatalf("expected completed job, got %+v", job)
	}
	if job.Output.Formatted != "pi ~= 3.464101615138" {
		t.Errorf("unexpected output %q", job.Output.Formatted)
	}

	list, err := http.Get(ts.URL + "/jobs")
	if err != nil {
		t.Fatalf("GET /jobs: %v", err)
	}
	defer list.Body.Close()
	var jobs []Job
	if err := json.NewDecoder(list.Body).Decode(&jobs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("expected 1 job, got %d", len(jobs))
	}
}

func TestJobs_FailedRun(t *testing.T) {
	s, ts := newTestServer(t)

	resp := post(t, ts.URL+"/jobs", `{"id":1,"input":{"divisions":10,"mode":"mpi"}}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	s.Jobs.Wait()

	job, ok := s.Jobs.Get(1)
	if !ok {
		t.Fatal("expected job 1 to exist")
	}
	if job.Status != StatusFailed || !strings.Contains(job.Error, "unknown execution mode") {
		t.Errorf("expected failed job with mode error, got %+v", job)
	}
}

func TestJobs_Validation(t *testing.T) {
	_, ts := newTestServer(t)
	tests := []struct {
		name string
		body string
		code int
	}{
		{"zero id", `{"id":0,"input":{"divisions":10}}`, http.StatusBadRequest},
		{"unknown field", `{"id":1,"input":{"divisions":10},"extra":true}`, http.StatusBadRequest},
		{"no divisions", `{"id":2,"input":{}}`, http.StatusBadRequest},
		{"huge workers", `{"id":3,"input":{"workers":4611686018427387904,"divisions":10}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/jobs", tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.code {
				t.Errorf("expected %d, got %d", tt.code, resp.StatusCode)
			}
		})
	}

	for path, code := range map[string]int{"/jobs/abc": http.StatusBadRequest, "/jobs/99": http.StatusNotFound} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != code {
			t.Errorf("GET %s: expected %d, got %d", path, code, resp.StatusCode)
		}
	}
}

func TestJobs_PanickingRunFails(t *testing.T) {
	store := NewJobStore()
	job, err := NewJob(1, ComputeRequest{Divisions: 10})
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	if !store.add(job) {
		t.Fatal("expected job to be stored")
	}
	store.start(job, func(context.Context, ComputeRequest) (driver.Result, error) {
		panic("makeslice: len out of range")
	})
	store.Wait()

	got, ok := store.Get(1)
	if !ok {
		t.Fatal("expected job 1 to exist")
	}
	if got.Status != StatusFailed || !strings.Contains(got.Error, "job panicked") {
		t.Errorf("expected failed job carrying the panic, got %+v", got)
	}
}
