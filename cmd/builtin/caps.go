package builtin

import (
	"context"
	"fmt"
	"io"

	"github.com/stardustapp/skychat-sub000/cmd"
)

type CapsCommand struct {
}

func (c *CapsCommand) Name() string {
	return "caps"
}

func (c *CapsCommand) Description() string {
	return "List the operations a node supports"
}

func (c *CapsCommand) Usage() string {
	return "caps <path>"
}

func (c *CapsCommand) Execute(ctx context.Context, api cmd.API, args *cmd.CommandArgs, writer io.Writer) (int, error) {
	if len(args.Args) != 1 {
		return 2, fmt.Errorf("usage: %s", c.Usage())
	}

	caps, err := api.Capabilities(ctx, args.Args[0])
	if err != nil {
		return 1, err
	}
	if caps == nil {
		return 1, fmt.Errorf("caps: %s: no such node", args.Args[0])
	}
	for _, capability := range caps {
		fmt.Fprintln(writer, capability)
	}
	return 0, nil
}

func (c *CapsCommand) GetFlags() *cmd.CommandFlagSet {
	return nil
}
