package builtin

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/stardustapp/skychat-sub000/cmd"
	"github.com/stardustapp/skychat-sub000/projection"
)

type SubCommand struct {
}

func (s *SubCommand) Name() string {
	return "sub"
}

func (s *SubCommand) Description() string {
	return "Follow the notifications of a subtree"
}

func (s *SubCommand) Usage() string {
	return "sub [-d depth] [-n count] [-w wait] [path]"
}

// Execute prints notifications until the feed ends, count notifications
// were printed, the wait elapsed or ctx is cancelled.
func (s *SubCommand) Execute(ctx context.Context, api cmd.API, args *cmd.CommandArgs, writer io.Writer) (int, error) {
	path := args.Arg(0, "/")
	count := args.Int("count")

	if wait := args.Duration("wait"); wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	queue := projection.NewQueue(64, 0)
	sub, err := api.Subscribe(ctx, path, args.Int("depth"), queue)
	if err != nil {
		return 1, err
	}
	defer func() {
		sub.Stop()
		queue.Stop()
	}()

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return 0, nil
		case ev, ok := <-queue.Events():
			if !ok || ev.Done {
				return 0, nil
			}
			if ev.Err != nil {
				return 1, ev.Err
			}
			fmt.Fprintf(writer, "%s %s\n", time.Now().Format(time.TimeOnly), ev.Notification)
			seen++
			if count > 0 && seen >= count {
				return 0, nil
			}
		}
	}
}

func (s *SubCommand) GetFlags() *cmd.CommandFlagSet {
	return &cmd.CommandFlagSet{
		Flags: map[string]*cmd.CommandFlag{
			"depth": {
				Name:        "depth",
				Short:       "d",
				Type:        "int",
				Default:     1,
				Description: "Levels to follow",
			},
			"count": {
				Name:        "count",
				Short:       "n",
				Type:        "int",
				Description: "Stop after this many notifications",
			},
			"wait": {
				Name:        "wait",
				Short:       "w",
				Type:        "duration",
				Description: "Stop after this long",
			},
		},
	}
}
