// Copyright Project GoHPC Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package driver runs one π approximation: it partitions the divisions,
// starts one worker per partition, waits for all of them and scales the
// accumulated quarter-circle area.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qcserestipy/gopi/pkg/integrate"
	"github.com/qcserestipy/gopi/pkg/partition"
	"github.com/qcserestipy/gopi/pkg/workerpool"
	"github.com/sirupsen/logrus"
)

// Config holds the parameters of one run.
type Config struct {
	Workers   int
	Divisions int
	Mode      Mode

	// ShmPath is the ftok token file for ModeShm.
	ShmPath string
	// SpawnRate limits worker start-up per second; zero means unlimited.
	SpawnRate  float64
	SpawnBurst int
	// ChildLogLevel is forwarded to worker processes.
	ChildLogLevel string
}

func (c Config) validate() error {
	if c.Workers < 1 {
		return &ConfigError{Field: "worker_count", Err: partition.ErrNoWorkers}
	}
	if c.Workers > partition.MaxWorkers {
		return &ConfigError{Field: "worker_count", Err: partition.ErrTooManyWorkers}
	}
	if c.Divisions < 0 {
		return &ConfigError{Field: "division_count", Err: partition.ErrNegativeDivisions}
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return &ConfigError{Field: "mode", Err: err}
	}
	return nil
}

// Result is the outcome of a successful run.
type Result struct {
	Mode        Mode              `json:"mode"`
	Workers     int               `json:"workers"`
	Divisions   int               `json:"divisions"`
	Ranges      []partition.Range `json:"ranges,omitempty"`
	QuarterArea float64           `json:"quarter_area"`
	Pi          float64           `json:"pi"`
	Elapsed     time.Duration     `json:"elapsed"`
	// TeardownErr is set when resources could not be released after the
	// value was computed. The value is still valid.
	TeardownErr error `json:"-"`
}

type Option func(*Driver)

// WithStateHook observes every state transition.
func WithStateHook(fn func(State)) Option {
	return func(d *Driver) { d.onState = fn }
}

// WithWorkerDone observes each worker's successful completion.
func WithWorkerDone(fn func(idx int)) Option {
	return func(d *Driver) { d.onWorkerDone = fn }
}

// WithSpawner sets how worker processes are started.
func WithSpawner(s Spawner) Option {
	return func(d *Driver) { d.spawner = s }
}

// WithBackend replaces the backend selected by Config.Mode.
func WithBackend(b Backend) Option {
	return func(d *Driver) { d.backend = b }
}

type Driver struct {
	cfg          Config
	backend      Backend
	spawner      Spawner
	onState      func(State)
	onWorkerDone func(int)
	state        State
}

// New validates cfg and prepares a driver. Configuration problems are
// returned as *ConfigError before anything is allocated.
func New(cfg Config, opts ...Option) (*Driver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Mode, _ = ParseMode(string(cfg.Mode))
	d := &Driver{cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	if d.backend == nil {
		b, err := NewBackend(cfg.Mode, cfg, d.spawner)
		if err != nil {
			return nil, &ConfigError{Field: "mode", Err: err}
		}
		d.backend = b
	}
	return d, nil
}

func (d *Driver) State() State { return d.state }

func (d *Driver) enter(s State) {
	d.state = s
	logrus.WithField("state", s.String()).Debug("Run state changed")
	if d.onState != nil {
		d.onState(s)
	}
}

// Run executes the run to completion. Any error aborts it; no partial
// result is returned on failure.
func (d *Driver) Run(ctx context.Context) (res Result, err error) {
	start := time.Now()
	res = Result{Mode: d.backend.Mode(), Workers: d.cfg.Workers, Divisions: d.cfg.Divisions}
	log := logrus.WithFields(logrus.Fields{
		"mode":      res.Mode,
		"workers":   res.Workers,
		"divisions": res.Divisions,
	})
	defer func() {
		if err != nil {
			d.enter(StateFailed)
			res = Result{}
		}
	}()

	d.enter(StateInitializing)
	sess, err := d.backend.Open(ctx, d.cfg.Divisions)
	if err != nil {
		return res, asResourceInit("accumulator", err)
	}

	closed := false
	teardown := func() error {
		if closed {
			return nil
		}
		closed = true
		return sess.Close()
	}
	defer func() {
		if cerr := teardown(); cerr != nil {
			log.WithError(cerr).Error("Teardown after failed run")
		}
	}()

	d.enter(StatePartitioning)
	ranges, err := partition.Split(d.cfg.Divisions, d.cfg.Workers)
	if err != nil {
		return res, &ConfigError{Field: "partition", Err: err}
	}
	res.Ranges = ranges
	log.WithFields(logrus.Fields{
		"points_per_worker": d.cfg.Divisions / d.cfg.Workers,
		"remainder":         d.cfg.Divisions % d.cfg.Workers,
	}).Info("Work distribution prepared")

	d.enter(StateSpawning)
	pool := workerpool.New[partition.Range](
		workerpool.WithSpawnRate(d.cfg.SpawnRate, d.cfg.SpawnBurst),
		workerpool.WithOnDone(d.onWorkerDone),
		workerpool.WithOnSpawned(func() { d.enter(StateAwaiting) }),
	)
	if err := pool.Run(ctx, ranges, sess.RunWorker); err != nil {
		wf := asWorkerFailure(err)
		log.WithError(wf).Error("Worker failed, aborting run")
		return res, wf
	}

	// pool.Run has joined every worker, so every deposit is visible here.
	d.enter(StateAggregating)
	res.QuarterArea = sess.Value()

	d.enter(StateReporting)
	res.Pi = integrate.Pi(res.QuarterArea)
	res.Elapsed = time.Since(start)

	if cerr := teardown(); cerr != nil {
		res.TeardownErr = asTeardown("run resources", cerr)
		log.WithError(res.TeardownErr).Warn("Teardown failed; result is still valid")
	}

	log.WithFields(logrus.Fields{
		"pi_approximation": res.Pi,
		"duration":         res.Elapsed,
	}).Info("Computation completed")
	d.enter(StateDone)
	return res, nil
}

// Compute is a convenience wrapper for a single run.
func Compute(ctx context.Context, cfg Config, opts ...Option) (Result, error) {
	d, err := New(cfg, opts...)
	if err != nil {
		return Result{}, err
	}
	return d.Run(ctx)
}

// IsUsageError reports whether err is a configuration problem the user can
// fix by changing arguments.
func IsUsageError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// FormatPi renders a value the way the CLI prints it.
func FormatPi(v float64) string { return fmt.Sprintf("pi ~= %.12f", v) }
