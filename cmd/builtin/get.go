package builtin

import (
	"context"
	"fmt"
	"io"

	"github.com/stardustapp/skychat-sub000/cmd"
)

type GetCommand struct {
}

func (g *GetCommand) Name() string {
	return "get"
}

func (g *GetCommand) Description() string {
	return "Print the value of a node"
}

func (g *GetCommand) Usage() string {
	return "get [--json] <path>"
}

func (g *GetCommand) Execute(ctx context.Context, api cmd.API, args *cmd.CommandArgs, writer io.Writer) (int, error) {
	if len(args.Args) != 1 {
		return 2, fmt.Errorf("usage: %s", g.Usage())
	}
	path := args.Args[0]

	e, err := api.Get(ctx, path)
	if err != nil {
		return 1, err
	}
	if e == nil {
		return 1, fmt.Errorf("get: %s: no such node", path)
	}

	if args.Bool("json") {
		return 0, writeJSON(writer, e)
	}
	return 0, writeEntry(writer, e)
}

func (g *GetCommand) GetFlags() *cmd.CommandFlagSet {
	return &cmd.CommandFlagSet{
		Flags: map[string]*cmd.CommandFlag{
			"json": {
				Name:        "json",
				Short:       "j",
				Type:        "bool",
				Description: "Print the entry as JSON",
			},
		},
	}
}
