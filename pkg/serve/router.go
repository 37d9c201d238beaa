// Package serve exposes π runs over HTTP: synchronous computes and
// asynchronous jobs.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"

	logger "github.com/chi-middleware/logrus-logger"
	log "github.com/sirupsen/logrus"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/qcserestipy/gopi/pkg/driver"
	"github.com/qcserestipy/gopi/pkg/partition"
)

// MaxDivisions bounds a single request.
const MaxDivisions = 1_000_000_000

var ErrBadRequest = errors.New("bad request")

type ComputeRequest struct {
	Workers   int    `json:"workers"`
	Divisions int    `json:"divisions"`
	Mode      string `json:"mode,omitempty"`
}

type ComputeResponse struct {
	Message   string  `json:"message"`
	Result    float64 `json:"result,omitempty"`
	Formatted string  `json:"formatted,omitempty"`
	Workers   int     `json:"workers"`
	Divisions int     `json:"divisions"`
	Mode      string  `json:"mode"`
	Warning   string  `json:"warning,omitempty"`
}

type ComputeServer struct {
	NumWorkers int
	Base       driver.Config
	Options    []driver.Option
	Router     *chi.Mux
	Jobs       *JobStore

	// shmMu serializes shm runs: they all derive their segment key from
	// Base.ShmPath, and a second live segment under that key is rejected.
	shmMu sync.Mutex
}

// New builds a server whose requests inherit base. The optional worker
// count is the default for requests that do not name one.
func New(base driver.Config, workers ...int) *ComputeServer {
	numWorkers := runtime.NumCPU()
	if len(workers) > 0 && workers[0] > 0 {
		numWorkers = workers[0]
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Logger("router", log.StandardLogger()))
	r.Use(middleware.Recoverer)

	s := &ComputeServer{NumWorkers: numWorkers, Base: base, Router: r, Jobs: NewJobStore()}

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	CreateRoutes(r, "/compute", s.Compute)
	createJobRoute(r, s.Jobs, s.run)
	return s
}

// Launch serves until the listener fails.
func Launch(s *ComputeServer, targetPort int) error {
	addr := fmt.Sprintf(":%d", targetPort)
	log.Infof("▶️  Starting server on %s", addr)
	if err := http.ListenAndServe(addr, s.Router); err != nil {
		return fmt.Errorf("server on %s: %w", addr, err)
	}
	return nil
}

func (s *ComputeServer) config(req ComputeRequest) (driver.Config, error) {
	cfg := s.Base
	if req.Workers < 0 || req.Workers > partition.MaxWorkers {
		return cfg, fmt.Errorf("%w: workers must be in [0, %d]", ErrBadRequest, partition.MaxWorkers)
	}
	cfg.Workers = req.Workers
	if cfg.Workers == 0 {
		cfg.Workers = s.NumWorkers
	}
	if req.Divisions <= 0 || req.Divisions > MaxDivisions {
		return cfg, fmt.Errorf("%w: divisions must be in [1, %d]", ErrBadRequest, MaxDivisions)
	}
	cfg.Divisions = req.Divisions
	if req.Mode != "" {
		m, err := driver.ParseMode(req.Mode)
		if err != nil {
			return cfg, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		cfg.Mode = m
	}
	return cfg, nil
}

func (s *ComputeServer) run(ctx context.Context, req ComputeRequest) (driver.Result, error) {
	cfg, err := s.config(req)
	if err != nil {
		return driver.Result{}, err
	}
	if cfg.Mode == driver.ModeShm {
		s.shmMu.Lock()
		defer s.shmMu.Unlock()
	}
	return driver.Compute(ctx, cfg, s.Options...)
}

// Compute handles one synchronous run.
func (s *ComputeServer) Compute(ctx context.Context, req ComputeRequest) (ComputeResponse, error) {
	res, err := s.run(ctx, req)
	if err != nil {
		return ComputeResponse{}, err
	}
	resp := ComputeResponse{
		Message:   "ok",
		Result:    res.Pi,
		Formatted: driver.FormatPi(res.Pi),
		Workers:   res.Workers,
		Divisions: res.Divisions,
		Mode:      string(res.Mode),
	}
	if res.TeardownErr != nil {
		resp.Warning = res.TeardownErr.Error()
	}
	return resp, nil
}

func statusFor(err error) int {
	if errors.Is(err, ErrBadRequest) || driver.IsUsageError(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// CreateRoutes mounts a JSON POST endpoint backed by fn.
func CreateRoutes[T any, R any](
	r chi.Router,
	path string,
	fn func(context.Context, T) (R, error),
) {
	r.Post(path, func(w http.ResponseWriter, r *http.Request) {
		var req T
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}

		res, err := fn(r.Context(), req)
		if err != nil {
			http.Error(w, "processing error: "+err.Error(), statusFor(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			http.Error(w, "encode error: "+err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
