package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/qcserestipy/gopi/pkg/config"
	"github.com/qcserestipy/gopi/pkg/driver"
	"github.com/qcserestipy/gopi/pkg/logging"
	"github.com/qcserestipy/gopi/pkg/report"
	"github.com/qcserestipy/gopi/pkg/serve"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var errUsage = errors.New("usage")

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	stdout  io.Writer
	stderr  io.Writer
	// child is set when running as a worker process; its stdout is a pipe
	// to the driver and must carry nothing but the partial sum.
	child bool
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{v: config.New(), stdout: stdout, stderr: stderr}
}

func (a *app) bind(key string, fs *pflag.FlagSet, name string) {
	if err := a.v.BindPFlag(key, fs.Lookup(name)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

func (a *app) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.LogLevel, a.stderr); err != nil {
		return &driver.ConfigError{Field: "log_level", Err: err}
	}
	a.cfg = cfg
	return nil
}

// baseConfig is the run configuration shared by every command.
func (a *app) baseConfig() (driver.Config, error) {
	mode, err := driver.ParseMode(a.cfg.Mode)
	if err != nil {
		return driver.Config{}, &driver.ConfigError{Field: "mode", Err: err}
	}
	return driver.Config{
		Mode:          mode,
		ShmPath:       a.cfg.ShmPath,
		SpawnRate:     a.cfg.SpawnRate,
		SpawnBurst:    a.cfg.SpawnBurst,
		ChildLogLevel: a.cfg.LogLevel,
	}, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:               "gopi <worker_count> <division_count>",
		Short:             "Approximate π by midpoint integration of the unit quarter circle",
		Args:              runArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
		RunE:              a.runPi,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "YAML config file")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("mode", string(driver.ModeThread), "execution mode: thread, process or shm")
	pf.String("shm-path", config.DefaultShmPath(), "token file the shared memory key is derived from")
	pf.Float64("spawn-rate", 0, "max worker starts per second (0 = unlimited)")
	pf.Int("spawn-burst", 1, "worker start burst when --spawn-rate is set")
	a.bind("log_level", pf, "log-level")
	a.bind("mode", pf, "mode")
	a.bind("shm_path", pf, "shm-path")
	a.bind("spawn_rate", pf, "spawn-rate")
	a.bind("spawn_burst", pf, "spawn-burst")

	root.Flags().Bool("progress", false, "show a worker completion bar on stderr")
	a.bind("progress", root.Flags(), "progress")

	root.AddCommand(newConvergeCmd(a), newServeCmd(a), newSubmitCmd(a), newWorkerCmd(a))
	return root
}

func runArgs(_ *cobra.Command, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	for _, s := range args {
		if _, err := strconv.Atoi(s); err != nil {
			return errUsage
		}
	}
	return nil
}

func (a *app) runPi(cmd *cobra.Command, args []string) error {
	workers, _ := strconv.Atoi(args[0])
	divisions, _ := strconv.Atoi(args[1])

	cfg, err := a.baseConfig()
	if err != nil {
		return err
	}
	cfg.Workers = workers
	cfg.Divisions = divisions

	var opts []driver.Option
	if a.cfg.Progress && workers > 0 {
		bar := progressbar.NewOptions(workers,
			progressbar.OptionSetWriter(a.stderr),
			progressbar.OptionSetDescription("workers"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		opts = append(opts, driver.WithWorkerDone(func(int) { _ = bar.Add(1) }))
	}

	res, err := driver.Compute(cmd.Context(), cfg, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, driver.FormatPi(res.Pi))
	return nil
}

func newConvergeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "converge",
		Short: "Run N = 10, 100, … and report how the error shrinks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := a.baseConfig()
			if err != nil {
				return err
			}
			base.Workers = a.cfg.Converge.Workers
			study, err := report.Converge(cmd.Context(), base, a.cfg.Converge.MaxExp)
			if err != nil {
				return err
			}
			return report.Render(a.stdout, study, a.cfg.Converge.Format)
		},
	}
	f := cmd.Flags()
	f.Int("max-exp", 6, "largest N is 10^max-exp")
	f.Int("workers", 4, "worker count for every run")
	f.String("format", "table", "output format: table, json or yaml")
	a.bind("converge.max_exp", f, "max-exp")
	a.bind("converge.workers", f, "workers")
	a.bind("converge.format", f, "format")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve π computations over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := a.baseConfig()
			if err != nil {
				return err
			}
			s := serve.New(base, a.cfg.Serve.Workers)
			logrus.Infof("System: %d default workers, %s mode", s.NumWorkers, base.Mode)
			return serve.Launch(s, a.cfg.Serve.Port)
		},
	}
	f := cmd.Flags()
	f.Int("port", 3000, "listen port")
	f.Int("workers", 0, "default worker count (0 = number of CPUs)")
	a.bind("serve.port", f, "port")
	a.bind("serve.workers", f, "workers")
	return cmd
}

func newSubmitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <worker_count> <division_count>",
		Short: "Run a computation on a gopi server",
		Args:  runArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			workers, _ := strconv.Atoi(args[0])
			divisions, _ := strconv.Atoi(args[1])
			req := serve.ComputeRequest{Workers: workers, Divisions: divisions}
			if cmd.Flags().Changed("mode") {
				req.Mode = a.cfg.Mode
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Submit.Wait)
			defer cancel()
			c := serve.NewClient(a.cfg.Submit.URL)
			if err := c.WaitReady(ctx); err != nil {
				return err
			}

			if id := a.cfg.Submit.Job; id > 0 {
				if err := c.Submit(ctx, id, req); err != nil {
					return err
				}
				logrus.Infof("Submitted job %d to %s", id, c.BaseURL)
				job, err := c.Await(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, job.Output.Formatted)
				return nil
			}

			resp, err := c.Compute(ctx, req)
			if err != nil {
				return err
			}
			if resp.Warning != "" {
				logrus.Warn(resp.Warning)
			}
			fmt.Fprintln(a.stdout, resp.Formatted)
			return nil
		},
	}
	f := cmd.Flags()
	f.String("url", "http://localhost:3000", "server base URL")
	f.Int("job", 0, "submit as an asynchronous job with this id")
	f.Duration("wait", 30*time.Second, "give up after this long")
	a.bind("submit.url", f, "url")
	a.bind("submit.job", f, "job")
	a.bind("submit.wait", f, "wait")
	return cmd
}

func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:                "worker",
		Short:              "Run one worker share (started by the process and shm modes)",
		Hidden:             true,
		DisableFlagParsing: true,
		// Workers take everything from their flags; no config file or env.
		PersistentPreRunE: func(*cobra.Command, []string) error {
			a.child = true
			return nil
		},
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := driver.ParseChildArgs(args)
			if err != nil {
				return err
			}
			if c.LogLevel != "" {
				if err := logging.Setup(c.LogLevel, a.stderr); err != nil {
					return err
				}
			}
			return driver.RunChild(c, a.stdout)
		},
	}
}
