package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parser parses user-defined arguments into flags. Long flags take their
// value as "--name=value" or the next argument; short flags may be bundled
// ("-ld2"), and a bool long flag is negated with "--no-name".
type Parser struct {
	flagSet *CommandFlagSet
	long    map[string]string
	short   map[string]string
}

func NewParser(flagSet *CommandFlagSet) *Parser {
	if flagSet == nil {
		flagSet = &CommandFlagSet{Flags: make(map[string]*CommandFlag)}
	}

	p := &Parser{
		flagSet: flagSet,
		long:    make(map[string]string, len(flagSet.Flags)),
		short:   make(map[string]string, len(flagSet.Flags)),
	}
	for key, flag := range flagSet.Flags {
		p.long[flag.Name] = key
		if flag.Short != "" {
			p.short[flag.Short] = key
		}
	}
	return p
}

func (p *Parser) Parse(raw []string) (*CommandArgs, error) {
	args := &CommandArgs{
		Flags: make(map[string]any, len(p.flagSet.Flags)),
		Raw:   raw,
	}
	for key, flag := range p.flagSet.Flags {
		if flag.Default != nil {
			args.Flags[key] = flag.Default
		}
	}

	for i := 0; i < len(raw); i++ {
		arg := raw[i]

		var err error
		switch {
		case arg == "--":
			args.Args = append(args.Args, raw[i+1:]...)
			i = len(raw)
		case strings.HasPrefix(arg, "--"):
			i, err = p.parseLong(args, raw, i)
		case strings.HasPrefix(arg, "-") && arg != "-":
			i, err = p.parseShort(args, raw, i)
		default:
			args.Args = append(args.Args, arg)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := p.checkRequired(args); err != nil {
		return nil, err
	}
	return args, nil
}

// parseLong consumes raw[i] and possibly its value, returning the index of
// the last argument consumed.
func (p *Parser) parseLong(args *CommandArgs, raw []string, i int) (int, error) {
	name, value, hasValue := strings.Cut(strings.TrimPrefix(raw[i], "--"), "=")

	key, exists := p.long[name]
	if !exists {
		negated, ok := p.long[strings.TrimPrefix(name, "no-")]
		if !ok || !strings.HasPrefix(name, "no-") || p.flagSet.Flags[negated].Type != "bool" || hasValue {
			return i, fmt.Errorf("unknown flag: --%s", name)
		}
		args.Flags[negated] = false
		return i, nil
	}

	flag := p.flagSet.Flags[key]
	if flag.Type == "bool" && !hasValue {
		args.Flags[key] = true
		return i, nil
	}
	if !hasValue {
		if i+1 >= len(raw) || strings.HasPrefix(raw[i+1], "-") {
			return i, fmt.Errorf("flag --%s requires a value", name)
		}
		i++
		value = raw[i]
	}

	v, err := coerce(value, flag.Type)
	if err != nil {
		return i, fmt.Errorf("flag --%s: %w", name, err)
	}
	args.Flags[key] = v
	return i, nil
}

// parseShort handles a bundle of short flags. A value flag ends the bundle,
// taking the rest of it or the next argument as its value.
func (p *Parser) parseShort(args *CommandArgs, raw []string, i int) (int, error) {
	bundle := raw[i][1:]

	for j, r := range bundle {
		short := string(r)
		key, exists := p.short[short]
		if !exists {
			return i, fmt.Errorf("unknown flag: -%s", short)
		}

		flag := p.flagSet.Flags[key]
		if flag.Type == "bool" {
			args.Flags[key] = true
			continue
		}

		value := bundle[j+len(short):]
		if value == "" {
			if i+1 >= len(raw) || strings.HasPrefix(raw[i+1], "-") {
				return i, fmt.Errorf("flag -%s requires a value", short)
			}
			i++
			value = raw[i]
		}

		v, err := coerce(value, flag.Type)
		if err != nil {
			return i, fmt.Errorf("flag -%s: %w", short, err)
		}
		args.Flags[key] = v
		return i, nil
	}
	return i, nil
}

func (p *Parser) checkRequired(args *CommandArgs) error {
	for key, flag := range p.flagSet.Flags {
		if !flag.Required {
			continue
		}
		if _, ok := args.Flags[key]; ok {
			continue
		}
		if flag.Short != "" {
			return fmt.Errorf("required flag: -%s / --%s", flag.Short, flag.Name)
		}
		return fmt.Errorf("required flag: --%s", flag.Name)
	}
	return nil
}

func coerce(value string, typeStr string) (any, error) {
	switch typeStr {
	case "int":
		return strconv.ParseInt(value, 10, 64)
	case "bool":
		return strconv.ParseBool(value)
	case "duration":
		return time.ParseDuration(value)
	default:
		return value, nil
	}
}
