package builtin

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/stardustapp/skychat-sub000/cmd"
	"github.com/stardustapp/skychat-sub000/data"
)

type TreeCommand struct {
}

func (t *TreeCommand) Name() string {
	return "tree"
}

func (t *TreeCommand) Description() string {
	return "Print the subtree below a node"
}

func (t *TreeCommand) Usage() string {
	return "tree [-d depth] [path]"
}

func (t *TreeCommand) Execute(ctx context.Context, api cmd.API, args *cmd.CommandArgs, writer io.Writer) (int, error) {
	path := args.Arg(0, "/")

	records, err := api.Enumerate(ctx, path, args.Int("depth"))
	if err != nil {
		return 1, err
	}
	if len(records) == 0 {
		return 1, fmt.Errorf("tree: %s: no such node", path)
	}

	fmt.Fprintln(writer, folderColor.Sprint("/"+data.Clean(path)))
	for _, rec := range records[1:] {
		indent := strings.Repeat("  ", data.Depth(rec.Name))
		line := indent + colorName(rec, displayName(rec.Name))
		if s := summary(rec); s != "" && rec.Type != data.TypeFolder {
			line += " = " + s
		}
		fmt.Fprintln(writer, line)
	}
	return 0, nil
}

func (t *TreeCommand) GetFlags() *cmd.CommandFlagSet {
	return &cmd.CommandFlagSet{
		Flags: map[string]*cmd.CommandFlag{
			"depth": {
				Name:        "depth",
				Short:       "d",
				Type:        "int",
				Default:     3,
				Description: "Levels to descend",
			},
		},
	}
}
