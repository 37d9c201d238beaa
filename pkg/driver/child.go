package driver

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/qcserestipy/gopi/pkg/accumulator"
	"github.com/qcserestipy/gopi/pkg/integrate"
	"github.com/qcserestipy/gopi/pkg/partition"
	"github.com/qcserestipy/gopi/pkg/shm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// ChildArgs is everything a worker process needs to know about its share.
type ChildArgs struct {
	Mode      Mode
	Divisions int
	Range     partition.Range
	ShmID     int
	LogLevel  string
}

// Flags renders the arguments for the worker command line.
func (c ChildArgs) Flags() []string {
	flags := []string{
		"--mode", string(c.Mode),
		"--divisions", strconv.Itoa(c.Divisions),
		"--start", strconv.Itoa(c.Range.Start),
		"--end", strconv.Itoa(c.Range.End),
	}
	if c.Mode == ModeShm {
		flags = append(flags, "--shm-id", strconv.Itoa(c.ShmID))
	}
	if c.LogLevel != "" {
		flags = append(flags, "--log-level", c.LogLevel)
	}
	return flags
}

// ParseChildArgs is the inverse of Flags.
func ParseChildArgs(args []string) (ChildArgs, error) {
	fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	mode := fs.String("mode", string(ModeProcess), "worker mode (process or shm)")
	n := fs.Int("divisions", 0, "total number of divisions")
	start := fs.Int("start", 0, "first division index")
	end := fs.Int("end", 0, "division index one past the last")
	shmID := fs.Int("shm-id", -1, "shared memory segment id")
	level := fs.String("log-level", "", "log level")
	if err := fs.Parse(args); err != nil {
		return ChildArgs{}, &ConfigError{Field: "worker arguments", Err: err}
	}

	m, err := ParseMode(*mode)
	if err != nil {
		return ChildArgs{}, &ConfigError{Field: "mode", Err: err}
	}
	c := ChildArgs{
		Mode:      m,
		Divisions: *n,
		Range:     partition.Range{Start: *start, End: *end},
		ShmID:     *shmID,
		LogLevel:  *level,
	}
	return c, c.validate()
}

func (c ChildArgs) validate() error {
	switch {
	case c.Mode == ModeThread:
		return &ConfigError{Field: "mode", Err: errors.New("thread mode has no worker process")}
	case c.Divisions < 0:
		return &ConfigError{Field: "divisions", Err: partition.ErrNegativeDivisions}
	case c.Range.Start < 0 || c.Range.End < c.Range.Start || c.Range.End > c.Divisions:
		return &ConfigError{Field: "range", Err: fmt.Errorf("%s outside [0,%d)", c.Range, c.Divisions)}
	case c.Mode == ModeShm && c.ShmID < 0:
		return &ConfigError{Field: "shm-id", Err: errors.New("required in shm mode")}
	}
	return nil
}

// RunChild is the body of a worker process. In process mode the partial sum
// is written to out; in shm mode it is deposited into the segment.
func RunChild(c ChildArgs, out io.Writer) error {
	if err := c.validate(); err != nil {
		return err
	}
	partial := integrate.Partial(c.Range, c.Divisions)

	switch c.Mode {
	case ModeProcess:
		if _, err := fmt.Fprintln(out, formatPartial(partial)); err != nil {
			return fmt.Errorf("write partial: %w", err)
		}
		return nil
	case ModeShm:
		return depositShared(c, partial)
	}
	return fmt.Errorf("%w %q", ErrUnknownMode, c.Mode)
}

func depositShared(c ChildArgs, partial float64) (err error) {
	seg, err := shm.Attach(c.ShmID)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, seg.Detach())
	}()

	acc, err := shm.NewAccumulator(seg.Bytes())
	if err != nil {
		return err
	}
	if err := accumulator.Deposit(acc, partial); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"shm_id":  c.ShmID,
		"range":   c.Range.String(),
		"partial": partial,
	}).Debug("Partial deposited")
	return nil
}
