package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/qcserestipy/gopi/pkg/driver"
	"gopkg.in/yaml.v3"
)

func init() {
	color.NoColor = true
}

func threadStudy(t *testing.T, maxExp int) Study {
	t.Helper()
	s, err := Converge(context.Background(), driver.Config{Workers: 4, Mode: driver.ModeThread}, maxExp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestConverge_Monotonic(t *testing.T) {
	s := threadStudy(t, 6)
	if len(s.Rows) != 6 {
		t.Fatalf("expected 6 rows, got %d", len(s.Rows))
	}
	if !s.Monotonic() {
		t.Errorf("expected monotonic convergence, got %+v", s.Rows)
	}
	if s.Rows[0].Divisions != 10 || s.Rows[5].Divisions != 1_000_000 {
		t.Errorf("unexpected divisions %d..%d", s.Rows[0].Divisions, s.Rows[5].Divisions)
	}
	// error shrinks by roughly 10^1.5 per decade
	for _, r := range s.Rows[1:] {
		if r.ErrorRatio < 20 || r.ErrorRatio > 40 {
			t.Errorf("N=%d: error ratio %.1f outside [20,40]", r.Divisions, r.ErrorRatio)
		}
	}
}

func TestConverge_BadExponent(t *testing.T) {
	for _, e := range []int{0, 10} {
		_, err := Converge(context.Background(), driver.Config{Workers: 1, Mode: driver.ModeThread}, e)
		if !errors.Is(err, ErrBadExponent) {
			t.Errorf("maxExp=%d: expected ErrBadExponent, got %v", e, err)
		}
	}
}

func TestConverge_PropagatesConfigError(t *testing.T) {
	_, err := Converge(context.Background(), driver.Config{Workers: 0, Mode: driver.ModeThread}, 2)
	if !driver.IsUsageError(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestMonotonic_DetectsRegression(t *testing.T) {
	s := Study{Rows: []Row{{AbsError: 1e-3}, {AbsError: 1e-2}}}
	if s.Monotonic() {
		t.Error("expected non-monotonic study")
	}
}

func TestRender_Table(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, threadStudy(t, 3), "table"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"thread mode, 4 workers", "1000", "3.141603544913", "converging monotonically"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRender_JSONAndYAML(t *testing.T) {
	s := threadStudy(t, 2)

	var jbuf bytes.Buffer
	if err := Render(&jbuf, s, "json"); err != nil {
		t.Fatalf("json: %v", err)
	}
	var fromJSON Study
	if err := json.Unmarshal(jbuf.Bytes(), &fromJSON); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(fromJSON.Rows) != 2 || fromJSON.Mode != driver.ModeThread {
		t.Errorf("unexpected json study %+v", fromJSON)
	}

	var ybuf bytes.Buffer
	if err := Render(&ybuf, s, "yaml"); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(ybuf.String(), "divisions: 100") {
		t.Errorf("expected yaml rows, got:\n%s", ybuf.String())
	}
	var fromYAML Study
	if err := yaml.Unmarshal(ybuf.Bytes(), &fromYAML); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if fromYAML.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", fromYAML.Workers)
	}
}

func TestRender_UnknownFormat(t *testing.T) {
	if err := Render(&bytes.Buffer{}, Study{}, "xml"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}
