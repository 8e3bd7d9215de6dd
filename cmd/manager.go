package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// CommandManager handles command registration, parsing, and execution
type CommandManager struct {
	mu   sync.RWMutex
	api  API
	cmds map[string]Command
}

func NewCommandManager(api API) *CommandManager {
	return &CommandManager{
		api:  api,
		cmds: make(map[string]Command),
	}
}

// Register registers a custom command
func (cm *CommandManager) Register(cmd Command) error {
	if cmd == nil {
		return fmt.Errorf("command cannot be nil")
	}

	name := cmd.Name()
	if name == "" {
		return fmt.Errorf("command name cannot be empty")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.cmds[name]; exists {
		return fmt.Errorf("command already registered: %s", name)
	}

	cm.cmds[name] = cmd
	return nil
}

// Unregister removes a registered command
func (cm *CommandManager) Unregister(name string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.cmds[name]; !exists {
		return fmt.Errorf("command not found: %s", name)
	}

	delete(cm.cmds, name)
	return nil
}

// Get returns a command by name
func (cm *CommandManager) Get(name string) (Command, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	cmd, exists := cm.cmds[name]
	if !exists {
		return nil, fmt.Errorf("command not found: %s", name)
	}

	return cmd, nil
}

// List returns all registered commands sorted by name
func (cm *CommandManager) List() []Command {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	commands := make([]Command, 0, len(cm.cmds))
	for _, cmd := range cm.cmds {
		commands = append(commands, cmd)
	}
	sort.Slice(commands, func(i, j int) bool {
		return commands[i].Name() < commands[j].Name()
	})

	return commands
}

// Execute parses and executes a command, writing its output to writer
func (cm *CommandManager) Execute(ctx context.Context, writer io.Writer, args ...string) (int, error) {
	if len(args) == 0 {
		return 1, fmt.Errorf("no command specified")
	}

	if args[0] == "help" {
		if len(args) == 1 {
			cm.PrintUsage(writer)
			return 0, nil
		}
		if err := cm.PrintHelp(writer, args[1]); err != nil {
			return 1, err
		}
		return 0, nil
	}

	cmd, err := cm.Get(args[0])
	if err != nil {
		return 1, err
	}

	flagSet := cmd.GetFlags()
	if flagSet == nil {
		flagSet = &CommandFlagSet{Flags: make(map[string]*CommandFlag)}
	}

	parsedArgs, err := NewParser(flagSet).Parse(args[1:])
	if err != nil {
		return 1, fmt.Errorf("parse error: %w", err)
	}

	return cmd.Execute(ctx, cm.api, parsedArgs, writer)
}

// PrintUsage writes a one-line summary per registered command.
func (cm *CommandManager) PrintUsage(writer io.Writer) {
	for _, cmd := range cm.List() {
		fmt.Fprintf(writer, "  %-28s %s\n", cmd.Usage(), cmd.Description())
	}
}

// PrintHelp writes the usage and flags of one command.
func (cm *CommandManager) PrintHelp(writer io.Writer, name string) error {
	cmd, err := cm.Get(name)
	if err != nil {
		return err
	}

	fmt.Fprintf(writer, "%s\n\n  %s\n", cmd.Usage(), cmd.Description())

	flagSet := cmd.GetFlags()
	if flagSet == nil || len(flagSet.Flags) == 0 {
		return nil
	}

	flags := make([]*CommandFlag, 0, len(flagSet.Flags))
	for _, flag := range flagSet.Flags {
		flags = append(flags, flag)
	}
	sort.Slice(flags, func(i, j int) bool {
		return flags[i].Name < flags[j].Name
	})

	fmt.Fprintln(writer, "\nFlags:")
	for _, flag := range flags {
		names := "--" + flag.Name
		if flag.Short != "" {
			names = "-" + flag.Short + ", " + names
		}
		line := fmt.Sprintf("  %-16s %s", names, flag.Description)
		if flag.Default != nil {
			line += fmt.Sprintf(" (default %v)", flag.Default)
		}
		fmt.Fprintln(writer, line)
	}
	return nil
}
