package driver

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/qcserestipy/gopi/pkg/accumulator"
	"github.com/qcserestipy/gopi/pkg/partition"
	"github.com/sirupsen/logrus"
)

const partialPrefix = "partial "

type processBackend struct {
	spawner  Spawner
	logLevel string
}

func (b *processBackend) Mode() Mode { return ModeProcess }

func (b *processBackend) Open(_ context.Context, n int) (Session, error) {
	sp, err := resolveSpawner(b.spawner)
	if err != nil {
		return nil, &ResourceInitError{Resource: "worker executable", Err: err}
	}
	return &processSession{
		spawner:  sp,
		n:        n,
		logLevel: b.logLevel,
		acc:      accumulator.NewLocal(),
	}, nil
}

// processSession keeps the sum in the driver. Children only compute; the
// driver deposits each child's message, so no lock crosses a process
// boundary.
type processSession struct {
	spawner  Spawner
	n        int
	logLevel string
	acc      *accumulator.Local
}

func (s *processSession) RunWorker(ctx context.Context, idx int, r partition.Range) error {
	child := ChildArgs{Mode: ModeProcess, Divisions: s.n, Range: r, LogLevel: s.logLevel}
	out, err := runChildProcess(ctx, s.spawner, idx, child)
	if err != nil {
		return err
	}

	partial, err := parsePartial(out)
	if err != nil {
		return &WorkerFailure{Index: idx, Phase: PhaseMessage, Err: err}
	}
	if err := accumulator.Deposit(s.acc, partial); err != nil {
		return &WorkerFailure{Index: idx, Phase: PhaseRun, Err: err}
	}
	return nil
}

func (s *processSession) Value() float64 { return s.acc.Value() }

func (s *processSession) Close() error { return nil }

// runChildProcess starts one worker process, waits for it and returns its
// stdout.
func runChildProcess(ctx context.Context, sp Spawner, idx int, child ChildArgs) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := sp.command(ctx, child)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return "", &WorkerFailure{Index: idx, Phase: PhaseSpawn, Err: err}
	}
	log := logrus.WithFields(logrus.Fields{
		"worker": idx,
		"pid":    cmd.Process.Pid,
		"range":  child.Range.String(),
	})
	log.Debug("Worker process started")

	if err := cmd.Wait(); err != nil {
		return "", &WorkerFailure{
			Index:  idx,
			Phase:  PhaseExit,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	log.WithField("duration", time.Since(start)).Debug("Worker process exited")
	return stdout.String(), nil
}

func formatPartial(v float64) string {
	return partialPrefix + strconv.FormatFloat(v, 'x', -1, 64)
}

func parsePartial(out string) (float64, error) {
	line := strings.TrimSpace(out)
	rest, ok := strings.CutPrefix(line, partialPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrBadMessage, line)
	}
	v, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBadMessage, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: negative partial %v", ErrBadMessage, v)
	}
	return v, nil
}
