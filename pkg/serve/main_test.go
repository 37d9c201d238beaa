package serve

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/qcserestipy/gopi/pkg/driver"
)

const (
	childEnv = "GOPI_SERVE_TEST_CHILD"
	holdEnv  = "GOPI_SERVE_TEST_HOLD"
)

// TestMain lets the test binary stand in for the gopi worker command when
// a server runs in a process-based mode.
func TestMain(m *testing.M) {
	if os.Getenv(childEnv) == "1" {
		os.Exit(runTestChild(os.Args[2:]))
	}
	os.Exit(m.Run())
}

func runTestChild(args []string) int {
	c, err := driver.ParseChildArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if v := os.Getenv(holdEnv); v != "" {
		d, _ := time.ParseDuration(v)
		time.Sleep(d)
	}
	if err := driver.RunChild(c, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func testSpawner(extraEnv ...string) driver.Spawner {
	return driver.Spawner{
		Path: os.Args[0],
		Args: []string{"worker"},
		Env:  append([]string{childEnv + "=1"}, extraEnv...),
	}
}
