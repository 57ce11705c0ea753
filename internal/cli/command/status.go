package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/kvmirror/internal/infra/buildinfo"
)

// Worker modes reported by status.
const (
	ModeShared    = "shared"
	ModeDedicated = "dedicated"
)

// Status describes how this client reaches its worker.
type Status struct {
	WorkerURL         string `json:"worker_url" yaml:"worker_url" text:"Worker URL"`
	Mode              string `json:"mode" yaml:"mode" text:"Mode"`
	SupportsMirroring bool   `json:"supports_mirroring" yaml:"supports_mirroring" text:"Mirroring"`
	Engine            string `json:"engine" yaml:"engine" text:"Engine"`
	Database          string `json:"database" yaml:"database" text:"Database"`
	Version           string `json:"version" yaml:"version" text:"Version"`
}

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show which worker serves this client and whether mirroring is supported",
		Action: status,
	}
}

func status(c *cli.Context) error {
	rt, err := GetRuntime(c)
	if err != nil {
		return err
	}

	supported, err := rt.Proxy.Connect(c.Context)
	if err != nil {
		return fmt.Errorf("connect to worker: %w", err)
	}

	mode := ModeShared
	if rt.Workers.Dedicated() > 0 {
		mode = ModeDedicated
	}

	return render(c, rt, Status{
		WorkerURL:         rt.Config.Worker.Socket,
		Mode:              mode,
		SupportsMirroring: supported,
		Engine:            rt.Config.Storage.Engine,
		Database:          rt.Config.Storage.Name,
		Version:           buildinfo.Get().Version,
	})
}
