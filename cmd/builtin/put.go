package builtin

import (
	"context"
	"fmt"
	"io"

	"github.com/stardustapp/skychat-sub000/cmd"
	"github.com/stardustapp/skychat-sub000/data"
)

type PutCommand struct {
}

func (p *PutCommand) Name() string {
	return "put"
}

func (p *PutCommand) Description() string {
	return "Write or delete a node"
}

func (p *PutCommand) Usage() string {
	return "put [-t type] [-m mime] [--rm] <path> [value]"
}

func (p *PutCommand) Execute(ctx context.Context, api cmd.API, args *cmd.CommandArgs, writer io.Writer) (int, error) {
	if len(args.Args) < 1 || len(args.Args) > 2 {
		return 2, fmt.Errorf("usage: %s", p.Usage())
	}
	path := args.Args[0]

	if args.Bool("rm") {
		if err := api.Put(ctx, path, nil); err != nil {
			return 1, err
		}
		return 0, nil
	}

	value, err := buildEntry(nameOf(path), args.String("type"), args.String("mime"), args.Arg(1, ""))
	if err != nil {
		return 2, err
	}
	if err := api.Put(ctx, path, value); err != nil {
		return 1, err
	}
	return 0, nil
}

func buildEntry(name, typ, mime, value string) (*data.Entry, error) {
	t, err := data.ParseEntryType(typ)
	if err != nil {
		return nil, err
	}

	switch t {
	case data.TypeString:
		return data.NewString(name, value), nil
	case data.TypeFolder:
		if value != "" {
			return nil, fmt.Errorf("put: folders take no value")
		}
		return data.NewFolder(name), nil
	case data.TypeBlob:
		if mime == "" {
			mime = data.MimeForName(name)
		}
		return data.NewBlob(name, mime, []byte(value)), nil
	}
	return nil, fmt.Errorf("put: cannot write %s entries", t)
}

func (p *PutCommand) GetFlags() *cmd.CommandFlagSet {
	return &cmd.CommandFlagSet{
		Flags: map[string]*cmd.CommandFlag{
			"type": {
				Name:        "type",
				Short:       "t",
				Type:        "string",
				Default:     "string",
				Description: "Entry type: string, folder or blob",
			},
			"mime": {
				Name:        "mime",
				Short:       "m",
				Type:        "string",
				Description: "Mime type of a blob",
			},
			"rm": {
				Name:        "rm",
				Type:        "bool",
				Description: "Delete the node instead",
			},
		},
	}
}
