package driver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/qcserestipy/gopi/pkg/partition"
)

// Mode selects how workers are executed and how they reach the accumulator.
type Mode string

const (
	// ModeThread runs workers as goroutines sharing a mutex-guarded sum.
	ModeThread Mode = "thread"
	// ModeProcess runs workers as child processes that send their partial
	// sum back over a pipe.
	ModeProcess Mode = "process"
	// ModeShm runs workers as child processes that add into a System V
	// shared-memory segment themselves.
	ModeShm Mode = "shm"
)

var modes = []Mode{ModeThread, ModeProcess, ModeShm}

// Modes lists the supported execution modes.
func Modes() []Mode { return slices.Clone(modes) }

func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(modes, m) {
		return "", fmt.Errorf("%w %q (want thread, process or shm)", ErrUnknownMode, s)
	}
	return m, nil
}

// Backend creates the per-run shared state for one execution mode.
type Backend interface {
	Mode() Mode
	// Open sets up the accumulator for a run over n divisions. A non-nil
	// Session must be closed exactly once.
	Open(ctx context.Context, n int) (Session, error)
}

// Session is one run's accumulator plus the means to run workers against it.
type Session interface {
	// RunWorker executes worker idx over r and returns once the worker has
	// published its partial sum or failed.
	RunWorker(ctx context.Context, idx int, r partition.Range) error
	// Value is the accumulated quarter-circle area. Only valid after every
	// RunWorker call has returned.
	Value() float64
	Close() error
}

// Spawner describes how to start a worker process. The child is expected
// to run RunChild with the flags appended to Args.
type Spawner struct {
	Path string
	Args []string
	Env  []string
}

// DefaultSpawner re-executes the running binary with the worker command.
func DefaultSpawner() (Spawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return Spawner{}, fmt.Errorf("locate executable: %w", err)
	}
	return Spawner{Path: exe, Args: []string{"worker"}}, nil
}

func (s Spawner) command(ctx context.Context, child ChildArgs) *exec.Cmd {
	args := append(slices.Clone(s.Args), child.Flags()...)
	cmd := exec.CommandContext(ctx, s.Path, args...)
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	return cmd
}

// NewBackend builds the backend for mode. Process-based modes use spawner;
// a zero Spawner means DefaultSpawner.
func NewBackend(mode Mode, cfg Config, spawner Spawner) (Backend, error) {
	switch mode {
	case ModeThread:
		return &threadBackend{}, nil
	case ModeProcess:
		return &processBackend{spawner: spawner, logLevel: cfg.ChildLogLevel}, nil
	case ModeShm:
		return &shmBackend{spawner: spawner, tokenPath: cfg.ShmPath, logLevel: cfg.ChildLogLevel}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMode, mode)
	}
}

func resolveSpawner(s Spawner) (Spawner, error) {
	if s.Path != "" {
		return s, nil
	}
	return DefaultSpawner()
}
