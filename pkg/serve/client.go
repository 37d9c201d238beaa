package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultPollInterval is how often the client re-checks readiness and jobs.
const DefaultPollInterval = 100 * time.Millisecond

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// Client talks to a ComputeServer.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Poll    time.Duration
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    http.DefaultClient,
		Poll:    DefaultPollInterval,
	}
}

// WaitReady polls the health route until the server answers or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/", nil)
		if err != nil {
			return err
		}
		resp, err := c.HTTP.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		log.Debugf("Waiting for server at %s", c.BaseURL)
		select {
		case <-ctx.Done():
			return fmt.Errorf("server at %s not ready: %w", c.BaseURL, ctx.Err())
		case <-time.After(c.Poll):
		}
	}
}

// Compute runs one synchronous computation on the server.
func (c *Client) Compute(ctx context.Context, in ComputeRequest) (ComputeResponse, error) {
	var out ComputeResponse
	err := c.do(ctx, http.MethodPost, "/compute", in, http.StatusOK, &out)
	return out, err
}

// Submit queues an asynchronous job.
func (c *Client) Submit(ctx context.Context, id int, in ComputeRequest) error {
	body := struct {
		ID    int            `json:"id"`
		Input ComputeRequest `json:"input"`
	}{id, in}
	return c.do(ctx, http.MethodPost, "/jobs", body, http.StatusAccepted, nil)
}

func (c *Client) Job(ctx context.Context, id int) (Job, error) {
	var job Job
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/jobs/%d", id), nil, http.StatusOK, &job)
	return job, err
}

// Await polls a job until it has completed or failed. A failed job is
// returned together with an error carrying its message.
func (c *Client) Await(ctx context.Context, id int) (Job, error) {
	for {
		job, err := c.Job(ctx, id)
		if err != nil {
			return Job{}, err
		}
		switch job.Status {
		case StatusCompleted:
			return job, nil
		case StatusFailed:
			return job, fmt.Errorf("job %d failed: %s", id, job.Error)
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("job %d still %s: %w", id, job.Status, ctx.Err())
		case <-time.After(c.Poll):
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response failed: %w", err)
	}
	if resp.StatusCode != want {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid JSON response: %w", err)
	}
	return nil
}
