package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type echoCommand struct {
	name string
}

func (e *echoCommand) Name() string        { return e.name }
func (e *echoCommand) Description() string { return "Echo the arguments" }
func (e *echoCommand) Usage() string       { return e.name + " [-u] [args...]" }

func (e *echoCommand) Execute(ctx context.Context, api API, args *CommandArgs, writer io.Writer) (int, error) {
	out := strings.Join(args.Args, " ")
	if args.Bool("upper") {
		out = strings.ToUpper(out)
	}
	fmt.Fprintln(writer, out)
	return 0, nil
}

func (e *echoCommand) GetFlags() *CommandFlagSet {
	return &CommandFlagSet{Flags: map[string]*CommandFlag{
		"upper": {Name: "upper", Short: "u", Type: "bool"},
	}}
}

func TestCommandManager(t *testing.T) {
	cm := NewCommandManager(nil)

	require.NoError(t, cm.Register(&echoCommand{name: "echo"}))
	require.NoError(t, cm.Register(&echoCommand{name: "back"}))
	require.ErrorContains(t, cm.Register(&echoCommand{name: "echo"}), "already registered")
	require.ErrorContains(t, cm.Register(&echoCommand{}), "name cannot be empty")
	require.ErrorContains(t, cm.Register(nil), "cannot be nil")

	names := []string{}
	for _, c := range cm.List() {
		names = append(names, c.Name())
	}
	require.Equal(t, []string{"back", "echo"}, names)

	var buf bytes.Buffer
	code, err := cm.Execute(t.Context(), &buf, "echo", "-u", "hello", "world")
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.Equal(t, "HELLO WORLD\n", buf.String())

	code, err = cm.Execute(t.Context(), &buf, "echo", "--nope")
	require.Equal(t, 1, code)
	require.ErrorContains(t, err, "parse error")

	_, err = cm.Execute(t.Context(), &buf)
	require.ErrorContains(t, err, "no command specified")

	require.NoError(t, cm.Unregister("echo"))
	require.ErrorContains(t, cm.Unregister("echo"), "command not found")

	_, err = cm.Execute(t.Context(), &buf, "echo")
	require.ErrorContains(t, err, "command not found: echo")

	buf.Reset()
	cm.PrintUsage(&buf)
	require.Contains(t, buf.String(), "back [-u] [args...]")

	buf.Reset()
	code, err = cm.Execute(t.Context(), &buf, "help", "back")
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.Contains(t, buf.String(), "-u, --upper")

	_, err = cm.Execute(t.Context(), &buf, "help", "echo")
	require.ErrorContains(t, err, "command not found")
}
