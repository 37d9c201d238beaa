package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/qcserestipy/gopi/pkg/accumulator"
	"github.com/qcserestipy/gopi/pkg/integrate"
	"github.com/qcserestipy/gopi/pkg/partition"
	"github.com/sirupsen/logrus"
)

type threadBackend struct{}

func (threadBackend) Mode() Mode { return ModeThread }

func (threadBackend) Open(_ context.Context, n int) (Session, error) {
	return &threadSession{acc: accumulator.NewLocal(), n: n}, nil
}

type threadSession struct {
	acc *accumulator.Local
	n   int
}

func (s *threadSession) RunWorker(_ context.Context, idx int, r partition.Range) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &WorkerFailure{Index: idx, Phase: PhaseRun, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	start := time.Now()
	partial := integrate.Partial(r, s.n)
	if err := accumulator.Deposit(s.acc, partial); err != nil {
		return &WorkerFailure{Index: idx, Phase: PhaseRun, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"worker":   idx,
		"range":    r.String(),
		"partial":  partial,
		"duration": time.Since(start),
	}).Debug("Worker completed")
	return nil
}

func (s *threadSession) Value() float64 { return s.acc.Value() }

func (s *threadSession) Close() error { return nil }
