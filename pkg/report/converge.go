// Package report runs convergence studies and renders them.
package report

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/qcserestipy/gopi/pkg/driver"
	"github.com/sirupsen/logrus"
)

var ErrBadExponent = errors.New("max exponent must be between 1 and 9")

// Row is one run of a convergence study.
type Row struct {
	Divisions int     `json:"divisions" yaml:"divisions"`
	Pi        float64 `json:"pi" yaml:"pi"`
	AbsError  float64 `json:"abs_error" yaml:"abs_error"`
	// ErrorRatio is the previous row's error divided by this row's.
	ErrorRatio float64 `json:"error_ratio,omitempty" yaml:"error_ratio,omitempty"`
}

type Study struct {
	Mode    driver.Mode `json:"mode" yaml:"mode"`
	Workers int         `json:"workers" yaml:"workers"`
	Rows    []Row       `json:"rows" yaml:"rows"`
}

// Converge runs base once for each N = 10^1 … 10^maxExp, overriding only
// the division count.
func Converge(ctx context.Context, base driver.Config, maxExp int, opts ...driver.Option) (Study, error) {
	if maxExp < 1 || maxExp > 9 {
		return Study{}, fmt.Errorf("%w: %d", ErrBadExponent, maxExp)
	}

	study := Study{Mode: base.Mode, Workers: base.Workers}
	n := 1
	for exp := 1; exp <= maxExp; exp++ {
		n *= 10
		cfg := base
		cfg.Divisions = n
		res, err := driver.Compute(ctx, cfg, opts...)
		if err != nil {
			return Study{}, fmt.Errorf("run with %d divisions: %w", n, err)
		}

		row := Row{Divisions: n, Pi: res.Pi, AbsError: math.Abs(res.Pi - math.Pi)}
		if len(study.Rows) > 0 && row.AbsError > 0 {
			row.ErrorRatio = study.Rows[len(study.Rows)-1].AbsError / row.AbsError
		}
		study.Rows = append(study.Rows, row)

		logrus.WithFields(logrus.Fields{
			"divisions": n,
			"error":     row.AbsError,
		}).Debug("Convergence step")
	}
	return study, nil
}

// Monotonic reports whether every row is closer to π than the one before.
func (s Study) Monotonic() bool {
	for i := 1; i < len(s.Rows); i++ {
		if s.Rows[i].AbsError >= s.Rows[i-1].AbsError {
			return false
		}
	}
	return true
}
