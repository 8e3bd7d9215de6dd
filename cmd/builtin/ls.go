package builtin

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/stardustapp/skychat-sub000/cmd"
)

type LsCommand struct {
}

func (ls *LsCommand) Name() string {
	return "ls"
}

func (ls *LsCommand) Description() string {
	return "List the children of a node"
}

func (ls *LsCommand) Usage() string {
	return "ls [-l] [-d depth] [path]"
}

func (ls *LsCommand) Execute(ctx context.Context, api cmd.API, args *cmd.CommandArgs, writer io.Writer) (int, error) {
	path := args.Arg(0, "/")
	depth := args.Int("depth")
	if depth < 1 {
		depth = 1
	}

	records, err := api.Enumerate(ctx, path, depth)
	if err != nil {
		return 1, err
	}
	if len(records) == 0 {
		return 1, fmt.Errorf("ls: %s: no such node", path)
	}

	if !args.Bool("long") {
		for _, rec := range records[1:] {
			fmt.Fprintln(writer, colorName(rec, rec.Name))
		}
		return 0, nil
	}

	tw := tabwriter.NewWriter(writer, 0, 4, 2, ' ', 0)
	for _, rec := range records[1:] {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", strings.ToLower(rec.Type.String()), colorName(rec, rec.Name), summary(rec))
	}
	return 0, tw.Flush()
}

func (ls *LsCommand) GetFlags() *cmd.CommandFlagSet {
	return &cmd.CommandFlagSet{
		Flags: map[string]*cmd.CommandFlag{
			"long": {
				Name:        "long",
				Short:       "l",
				Type:        "bool",
				Description: "Show entry type and value",
			},
			"depth": {
				Name:        "depth",
				Short:       "d",
				Type:        "int",
				Default:     1,
				Description: "Levels to list",
			},
		},
	}
}
