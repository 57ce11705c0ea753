package command

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/kvmirror/internal/cli/output"
)

// entry is the structured form of a key and its value.
type entry struct {
	Key   string       `json:"key" yaml:"key" text:"Key"`
	Value output.Value `json:"value" yaml:"value" text:"Value"`
}

// GetCommand returns the get command.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Print the value stored under KEY (null when absent)",
		ArgsUsage: "KEY",
		Action:    mirrorGet,
	}
}

// SetCommand returns the set command.
func SetCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Store VALUE under KEY",
		ArgsUsage: "KEY VALUE",
		Description: "VALUE is stored as JSON when it parses as JSON and as a JSON string otherwise.\n" +
			"An empty VALUE stores null.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "string",
				Usage: "Always store VALUE as a JSON string",
			},
		},
		Action: mirrorSet,
	}
}

// DestroyCommand returns the destroy command.
func DestroyCommand() *cli.Command {
	return &cli.Command{
		Name:      "destroy",
		Usage:     "Replace the value under KEY with null",
		ArgsUsage: "KEY",
		Action:    mirrorDestroy,
	}
}

// ClearCommand returns the clear command.
func ClearCommand() *cli.Command {
	return &cli.Command{
		Name:   "clear",
		Usage:  "Remove every mirrored value",
		Action: mirrorClear,
	}
}

func mirrorGet(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("get: expected KEY")
	}
	rt, err := prepare(c)
	if err != nil {
		return err
	}

	key := c.Args().First()
	v, err := rt.Proxy.Get(c.Context, key)
	if err != nil {
		return fmt.Errorf("get %q: %w", key, err)
	}

	if rt.Format == output.FormatText {
		return render(c, rt, output.Value(v))
	}
	return render(c, rt, entry{Key: key, Value: output.Value(v)})
}

func mirrorSet(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		return fmt.Errorf("set: expected KEY VALUE")
	}
	rt, err := prepare(c)
	if err != nil {
		return err
	}

	key := c.Args().Get(0)
	value, err := parseValue(c.Args().Get(1), c.Bool("string"))
	if err != nil {
		return err
	}
	if err := rt.Proxy.Set(c.Context, key, value); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	if rt.Format == output.FormatText {
		return nil
	}
	return render(c, rt, entry{Key: key, Value: output.Value(value)})
}

func mirrorDestroy(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("destroy: expected KEY")
	}
	rt, err := prepare(c)
	if err != nil {
		return err
	}

	key := c.Args().First()
	if err := rt.Proxy.Destroy(c.Context, key); err != nil {
		return fmt.Errorf("destroy %q: %w", key, err)
	}
	return nil
}

func mirrorClear(c *cli.Context) error {
	rt, err := prepare(c)
	if err != nil {
		return err
	}
	if err := rt.Proxy.Clear(c.Context); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// parseValue turns a command-line argument into the JSON value to store.
func parseValue(arg string, asString bool) (json.RawMessage, error) {
	if arg == "" && !asString {
		return nil, nil
	}
	if !asString && json.Valid([]byte(arg)) {
		return json.RawMessage(arg), nil
	}
	b, err := json.Marshal(arg)
	if err != nil {
		return nil, err
	}
	return b, nil
}
