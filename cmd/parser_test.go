package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testFlags() *CommandFlagSet {
	return &CommandFlagSet{
		Flags: map[string]*CommandFlag{
			"long":  {Name: "long", Short: "l", Type: "bool"},
			"depth": {Name: "depth", Short: "d", Type: "int", Default: 1},
			"type":  {Name: "type", Short: "t", Type: "string"},
			"wait":  {Name: "wait", Type: "duration"},
			"name":  {Name: "name", Type: "string", Required: true},
		},
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		raw   []string
		check func(t *testing.T, args *CommandArgs)
	}{
		{"defaults", []string{"--name", "x", "/a"}, func(t *testing.T, args *CommandArgs) {
			require.Equal(t, 1, args.Int("depth"))
			require.False(t, args.Bool("long"))
			require.Equal(t, []string{"/a"}, args.Args)
		}},
		{"short bundle", []string{"-ld3", "--name=x"}, func(t *testing.T, args *CommandArgs) {
			require.True(t, args.Bool("long"))
			require.Equal(t, 3, args.Int("depth"))
			require.Equal(t, "x", args.String("name"))
		}},
		{"separate values", []string{"-t", "blob", "--wait", "2s", "--name", "x"}, func(t *testing.T, args *CommandArgs) {
			require.Equal(t, "blob", args.String("type"))
			require.Equal(t, 2*time.Second, args.Duration("wait"))
		}},
		{"negated bool", []string{"-l", "--no-long", "--name", "x"}, func(t *testing.T, args *CommandArgs) {
			require.False(t, args.Bool("long"))
		}},
		{"double dash", []string{"--name", "x", "--", "-l", "b"}, func(t *testing.T, args *CommandArgs) {
			require.False(t, args.Bool("long"))
			require.Equal(t, []string{"-l", "b"}, args.Args)
			require.Equal(t, "-l", args.Arg(0, ""))
			require.Equal(t, "fallback", args.Arg(5, "fallback"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := NewParser(testFlags()).Parse(tt.raw)
			require.NoError(t, err)
			tt.check(t, args)
		})
	}
}

func TestParseErrors(t *testing.T) {
	parser := NewParser(testFlags())

	_, err := parser.Parse([]string{"--name", "x", "--bogus"})
	require.ErrorContains(t, err, "unknown flag: --bogus")

	_, err = parser.Parse([]string{"--name", "x", "-z"})
	require.ErrorContains(t, err, "unknown flag: -z")

	_, err = parser.Parse([]string{"--name"})
	require.ErrorContains(t, err, "requires a value")

	_, err = parser.Parse([]string{"--name", "x", "-d", "three"})
	require.ErrorContains(t, err, "flag -d")

	_, err = parser.Parse([]string{"--name", "x", "--no-depth"})
	require.ErrorContains(t, err, "unknown flag: --no-depth")

	_, err = parser.Parse([]string{"-l"})
	require.ErrorContains(t, err, "required flag: --name")
}
