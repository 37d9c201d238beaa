package driver

import (
	"context"
	"errors"

	"github.com/qcserestipy/gopi/pkg/partition"
	"github.com/qcserestipy/gopi/pkg/shm"
	"github.com/sirupsen/logrus"
)

type shmBackend struct {
	spawner   Spawner
	tokenPath string
	logLevel  string
}

func (b *shmBackend) Mode() Mode { return ModeShm }

// Open creates and attaches the segment, then initializes the lock inside
// it. On any failure nothing is left registered in the kernel.
func (b *shmBackend) Open(_ context.Context, n int) (Session, error) {
	sp, err := resolveSpawner(b.spawner)
	if err != nil {
		return nil, &ResourceInitError{Resource: "worker executable", Err: err}
	}

	seg, err := shm.Create(b.tokenPath)
	if err != nil {
		return nil, &ResourceInitError{Resource: "shared memory segment", Err: err}
	}
	acc, err := shm.NewAccumulator(seg.Bytes())
	if err == nil {
		err = acc.Init()
	}
	if err != nil {
		return nil, &ResourceInitError{Resource: "accumulator lock", Err: errors.Join(err, seg.Close())}
	}

	logrus.WithFields(logrus.Fields{
		"shm_id":  seg.ID,
		"shm_key": seg.Key,
		"size":    seg.Size,
		"token":   b.tokenPath,
	}).Debug("Shared memory segment created")

	return &shmSession{spawner: sp, n: n, logLevel: b.logLevel, seg: seg, acc: acc}, nil
}

type shmSession struct {
	spawner  Spawner
	n        int
	logLevel string
	seg      *shm.Segment
	acc      *shm.Accumulator
}

// RunWorker starts a child that attaches the segment by id, deposits its
// partial sum under the in-segment lock and detaches before exiting.
func (s *shmSession) RunWorker(ctx context.Context, idx int, r partition.Range) error {
	child := ChildArgs{Mode: ModeShm, Divisions: s.n, Range: r, ShmID: s.seg.ID, LogLevel: s.logLevel}
	_, err := runChildProcess(ctx, s.spawner, idx, child)
	return err
}

func (s *shmSession) Value() float64 { return s.acc.Value() }

// Close destroys the lock and removes the segment. The segment is removed
// even when the lock cannot be destroyed.
func (s *shmSession) Close() error {
	var errs []error
	if err := s.acc.Destroy(); err != nil {
		errs = append(errs, &TeardownError{Resource: "accumulator lock", Err: err})
	}
	id := s.seg.ID
	if err := s.seg.Close(); err != nil {
		errs = append(errs, &TeardownError{Resource: "shared memory segment", Err: err})
	}
	if len(errs) == 0 {
		logrus.WithField("shm_id", id).Debug("Shared memory segment removed")
	}
	return errors.Join(errs...)
}
