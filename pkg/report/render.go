package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

var ErrUnknownFormat = errors.New("unknown report format")

var (
	bold  = color.New(color.Bold)
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed)
)

// Render writes the study in format: table, json or yaml.
func Render(w io.Writer, s Study, format string) error {
	switch format {
	case "", "table":
		return RenderTable(w, s)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w %q (want table, json or yaml)", ErrUnknownFormat, format)
	}
}

func RenderTable(w io.Writer, s Study) error {
	bold.Fprintf(w, "Convergence (%s mode, %d workers)\n", s.Mode, s.Workers)

	table := tablewriter.NewWriter(w)
	table.Header("N", "pi", "abs error", "error ratio")
	for _, r := range s.Rows {
		ratio := "-"
		if r.ErrorRatio > 0 {
			ratio = strconv.FormatFloat(r.ErrorRatio, 'f', 1, 64)
		}
		if err := table.Append(
			strconv.Itoa(r.Divisions),
			strconv.FormatFloat(r.Pi, 'f', 12, 64),
			strconv.FormatFloat(r.AbsError, 'e', 3, 64),
			ratio,
		); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	if s.Monotonic() {
		green.Fprintln(w, "converging monotonically")
	} else {
		red.Fprintln(w, "not monotonic")
	}
	return nil
}
