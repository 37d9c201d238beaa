package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/qcserestipy/gopi/pkg/driver"
	"github.com/qcserestipy/gopi/pkg/partition"
	log "github.com/sirupsen/logrus"
)

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

type JobOutput struct {
	Pi        float64 `json:"pi"`
	Formatted string  `json:"formatted"`
	Mode      string  `json:"mode"`
	ElapsedMS int64   `json:"elapsed_ms"`
	Warning   string  `json:"warning,omitempty"`
}

type Job struct {
	ID     int            `json:"id"`
	Status JobStatus      `json:"status"`
	Input  ComputeRequest `json:"input"`
	Output *JobOutput     `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func NewJob(id int, inp ComputeRequest) (Job, error) {
	if id <= 0 {
		return Job{}, errors.New("id must be > 0")
	}
	if inp.Divisions <= 0 {
		return Job{}, errors.New("input.divisions must be > 0")
	}
	if inp.Workers < 0 || inp.Workers > partition.MaxWorkers {
		return Job{}, fmt.Errorf("input.workers must be in [0, %d]", partition.MaxWorkers)
	}
	return Job{
		ID:     id,
		Status: StatusPending,
		Input:  inp,
	}, nil
}

// JobStore holds submitted jobs. Jobs run in the background, one run each.
type JobStore struct {
	mu   sync.RWMutex
	jobs []Job
	wg   sync.WaitGroup
}

func NewJobStore() *JobStore { return &JobStore{} }

// List returns a snapshot of all jobs in submission order.
func (s *JobStore) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

func (s *JobStore) Get(id int) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.ID == id {
			return job, true
		}
	}
	return Job{}, false
}

// add stores job unless its ID is taken.
func (s *JobStore) add(job Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.ID == job.ID {
			return false
		}
	}
	s.jobs = append(s.jobs, job)
	return true
}

func (s *JobStore) update(id int, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			fn(&s.jobs[i])
			return
		}
	}
}

// Wait blocks until every started job has finished.
func (s *JobStore) Wait() { s.wg.Wait() }

func (s *JobStore) start(job Job, run func(context.Context, ComputeRequest) (driver.Result, error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.update(job.ID, func(j *Job) { j.Status = StatusRunning })

		res, err := runRecovered(job.Input, run)
		if err != nil {
			log.WithField("job", job.ID).WithError(err).Warn("Job failed")
			s.update(job.ID, func(j *Job) {
				j.Status = StatusFailed
				j.Error = err.Error()
			})
			return
		}

		out := &JobOutput{
			Pi:        res.Pi,
			Formatted: driver.FormatPi(res.Pi),
			Mode:      string(res.Mode),
			ElapsedMS: res.Elapsed.Milliseconds(),
		}
		if res.TeardownErr != nil {
			out.Warning = res.TeardownErr.Error()
		}
		s.update(job.ID, func(j *Job) {
			j.Status = StatusCompleted
			j.Output = out
		})
		log.WithFields(log.Fields{"job": job.ID, "pi": res.Pi}).Info("Job completed")
	}()
}

// runRecovered keeps a panicking run from taking the server down with it;
// the panic becomes the job's error.
func runRecovered(in ComputeRequest, run func(context.Context, ComputeRequest) (driver.Result, error)) (res driver.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return run(context.Background(), in)
}

func writeConflict(w http.ResponseWriter, id int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	resp := struct {
		Error string `json:"error"`
		JobID int    `json:"job_id"`
	}{
		Error: fmt.Sprintf("job already exists with ID %d", id),
		JobID: id,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, resp.Error, http.StatusConflict)
	}
}

// ----------------------------------------------------------------
// HTTP routes
// ----------------------------------------------------------------

// createJobRoute wires up GET and POST handlers on /jobs.
//   - POST validates strictly (DisallowUnknownFields), stores the job as
//     pending and answers 202 before the run starts.
//   - run executes the job's request in the background.
func createJobRoute(r chi.Router, store *JobStore, run func(context.Context, ComputeRequest) (driver.Result, error)) {
	r.Get("/jobs", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(store.List()); err != nil {
			http.Error(w, "encode error: "+err.Error(), http.StatusInternalServerError)
		}
	})

	r.Get("/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		idParam := chi.URLParam(req, "id")
		id, err := strconv.Atoi(idParam)
		if err != nil {
			http.Error(w,
				fmt.Sprintf("invalid job ID '%s': %v", idParam, err),
				http.StatusBadRequest,
			)
			return
		}

		job, ok := store.Get(id)
		if !ok {
			http.Error(w,
				fmt.Sprintf("job not found with ID %d", id),
				http.StatusNotFound,
			)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(job); err != nil {
			http.Error(w, "encode error: "+err.Error(), http.StatusInternalServerError)
		}
	})

	r.Post("/jobs", func(w http.ResponseWriter, req *http.Request) {
		type jobRequest struct {
			ID    int            `json:"id"`
			Input ComputeRequest `json:"input"`
		}
		var jr jobRequest

		decoder := json.NewDecoder(req.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&jr); err != nil {
			http.Error(w, "invalid JSON or schema mismatch: "+err.Error(), http.StatusBadRequest)
			return
		}

		newJob, err := NewJob(jr.ID, jr.Input)
		if err != nil {
			http.Error(w, "validation error: "+err.Error(), http.StatusBadRequest)
			return
		}
		if !store.add(newJob) {
			writeConflict(w, newJob.ID)
			return
		}
		store.start(newJob, run)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if err := json.NewEncoder(w).Encode(newJob); err != nil {
			http.Error(w, "encode error: "+err.Error(), http.StatusInternalServerError)
		}
	})
}
