package log

import "github.com/fatih/color"

var levelColors = map[LogLevel]*color.Color{
	Debug: color.New(color.FgBlue),
	Info:  color.New(color.FgGreen),
	Warn:  color.New(color.FgYellow),
	Error: color.New(color.FgRed),
	Fatal: color.New(color.FgMagenta, color.Bold),
}

// Colorize wraps text in the terminal color of the level.
func Colorize(l LogLevel, text string) string {
	c, ok := levelColors[l]
	if !ok {
		return text
	}
	// The logger decides about terminals itself; override the package-wide
	// color.NoColor detection which only looks at os.Stdout.
	c.EnableColor()
	return c.Sprint(text)
}
