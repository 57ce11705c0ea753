package command

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/kvmirror/internal/cli/output"
	"github.com/yndnr/kvmirror/internal/client"
	"github.com/yndnr/kvmirror/internal/core/domain"
	"github.com/yndnr/kvmirror/internal/infra/buildinfo"
	"github.com/yndnr/kvmirror/internal/infra/confloader"
	"github.com/yndnr/kvmirror/internal/server/config"
	"github.com/yndnr/kvmirror/internal/telemetry/logger"
)

const runtimeKey = "runtime"

// Runtime is the state shared by the commands of one invocation.
type Runtime struct {
	Config  *config.Config
	Logger  *slog.Logger
	Workers *client.Workers
	Proxy   *client.Proxy
	Format  output.Format
}

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "kvmirror",
		Usage:   "Read and write the mirrored key-value store",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			GetCommand(),
			SetCommand(),
			DestroyCommand(),
			ClearCommand(),
			ValidateSessionCommand(),
			StatusCommand(),
		},
		Before: setup,
		After:  teardown,
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Configuration file (YAML)",
			EnvVars: []string{"KVMIRROR_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "socket",
			Aliases: []string{"s"},
			Usage:   "Worker socket path, also the worker URL",
		},
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "Store directory used when no worker daemon is running",
		},
		&cli.StringFlag{
			Name:  "engine",
			Usage: "Store engine for the in-process worker: badger, sqlite",
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "Request timeout, 0 to wait indefinitely",
		},
		&cli.StringFlag{
			Name:  "session",
			Usage: "Validate this session token before the command runs",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: text, json, yaml",
			Value:   string(output.FormatText),
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Enable debug logging",
		},
	}
}

// flagOverrides maps the global flags that were set to config keys.
func flagOverrides(c *cli.Context) map[string]any {
	overrides := make(map[string]any)
	if c.IsSet("socket") {
		overrides["worker.socket"] = c.String("socket")
	}
	if c.IsSet("data-dir") {
		overrides["storage.data_dir"] = c.String("data-dir")
	}
	if c.IsSet("engine") {
		overrides["storage.engine"] = c.String("engine")
	}
	if c.IsSet("timeout") {
		overrides["client.request_timeout"] = c.Duration("timeout")
	}
	if c.IsSet("log-level") {
		overrides["log.level"] = c.String("log-level")
	}
	if c.Bool("verbose") {
		overrides["log.level"] = "debug"
	}
	return overrides
}

func setup(c *cli.Context) error {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return err
	}

	cfg := config.Default()
	cfg.Log.Level = "warn"
	cfg.Log.Format = "text"

	loader := confloader.NewLoader(confloader.WithConfigFile(c.String("config")))
	loader.LoadMap(flagOverrides(c))
	if err := loader.Load(cfg); err != nil {
		return err
	}
	if err := config.Verify(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	errWriter := c.App.ErrWriter
	if errWriter == nil {
		errWriter = io.Discard
	}
	sl, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: errWriter,
	})
	if err != nil {
		return err
	}

	workers := client.NewWorkers(
		client.WithShared(client.DialUnix),
		client.WithDedicated(client.InProcessFactory(cfg.KVConfig(), cfg.WorkerConfig(), sl)),
		client.WithWorkersLogger(sl),
	)
	proxy := client.New(cfg.Worker.Socket, workers,
		client.WithRequestTimeout(cfg.Client.RequestTimeout),
		client.WithLogger(sl),
		client.WithLazyConnect(),
	)

	c.App.Metadata[runtimeKey] = &Runtime{
		Config:  cfg,
		Logger:  sl,
		Workers: workers,
		Proxy:   proxy,
		Format:  format,
	}
	return nil
}

func teardown(c *cli.Context) error {
	rt, ok := c.App.Metadata[runtimeKey].(*Runtime)
	if !ok {
		return nil
	}
	delete(c.App.Metadata, runtimeKey)
	return errors.Join(rt.Proxy.Close(), rt.Workers.Close())
}

// GetRuntime returns the runtime set up for this invocation.
func GetRuntime(c *cli.Context) (*Runtime, error) {
	rt, ok := c.App.Metadata[runtimeKey].(*Runtime)
	if !ok {
		return nil, errors.New("kvmirror: client not initialized")
	}
	return rt, nil
}

// prepare returns the runtime after validating the --session token, if any.
func prepare(c *cli.Context) (*Runtime, error) {
	rt, err := GetRuntime(c)
	if err != nil {
		return nil, err
	}
	if c.IsSet("session") {
		if err := rt.Proxy.ValidateSession(c.Context, domain.NewSession(c.String("session"))); err != nil {
			return nil, fmt.Errorf("validate session: %w", err)
		}
	}
	return rt, nil
}

// render writes data to the app writer in the selected format.
func render(c *cli.Context, rt *Runtime, data any) error {
	return output.NewFormatter(rt.Format).Format(c.App.Writer, data)
}
