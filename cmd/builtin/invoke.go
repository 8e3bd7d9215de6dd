package builtin

import (
	"context"
	"fmt"
	"io"

	"github.com/stardustapp/skychat-sub000/cmd"
	"github.com/stardustapp/skychat-sub000/data"
)

type InvokeCommand struct {
}

func (i *InvokeCommand) Name() string {
	return "invoke"
}

func (i *InvokeCommand) Description() string {
	return "Call a function node with an optional string input"
}

func (i *InvokeCommand) Usage() string {
	return "invoke [--json] <path> [input]"
}

func (i *InvokeCommand) Execute(ctx context.Context, api cmd.API, args *cmd.CommandArgs, writer io.Writer) (int, error) {
	if len(args.Args) < 1 || len(args.Args) > 2 {
		return 2, fmt.Errorf("usage: %s", i.Usage())
	}

	var input *data.Entry
	if len(args.Args) == 2 {
		input = data.NewString("input", args.Args[1])
	}

	output, err := api.Invoke(ctx, args.Args[0], input)
	if err != nil {
		return 1, err
	}
	if output == nil {
		return 0, nil
	}
	if args.Bool("json") {
		return 0, writeJSON(writer, output)
	}
	if err := writeEntry(writer, output); err != nil {
		return 1, err
	}
	// Error entries are results, but still a failed call.
	if output.Type == data.TypeError {
		return 1, nil
	}
	return 0, nil
}

func (i *InvokeCommand) GetFlags() *cmd.CommandFlagSet {
	return &cmd.CommandFlagSet{
		Flags: map[string]*cmd.CommandFlag{
			"json": {
				Name:        "json",
				Short:       "j",
				Type:        "bool",
				Description: "Print the output as JSON",
			},
		},
	}
}
