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

// Command gopi approximates π by midpoint integration of the unit quarter
// circle, split across goroutines or worker processes.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/qcserestipy/gopi/pkg/driver"
)

var red = color.New(color.FgRed)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, filepath.Base(os.Args[0]), os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command tree and maps its outcome to an exit status.
func execute(ctx context.Context, prog string, args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case a.child:
		fmt.Fprintln(stderr, err)
	case errors.Is(err, errUsage):
		fmt.Fprintf(stdout, "usage: %s <worker_count> <division_count>\n", prog)
	case driver.IsUsageError(err):
		red.Fprintf(stderr, "%s: %v\n", prog, err)
		fmt.Fprintf(stdout, "usage: %s <worker_count> <division_count>\n", prog)
	default:
		red.Fprintf(stderr, "%s: %v\n", prog, err)
	}
	return 1
}
