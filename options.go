package skylink

import "github.com/stardustapp/skychat-sub000/log"

type NamespaceOptions struct {
	Logger *log.Logger

	LogLevel      log.LogLevel
	LogFile       string
	NoTerminalLog bool
}

type NamespaceOption func(*NamespaceOptions) error

func newDefaultNamespaceOptions() *NamespaceOptions {
	return &NamespaceOptions{
		LogLevel: log.Info,
	}
}

// WithLogger shares an existing logger. It takes precedence over the
// other logging options.
func WithLogger(logger *log.Logger) NamespaceOption {
	return func(opts *NamespaceOptions) error {
		opts.Logger = logger
		return nil
	}
}

func WithLogLevel(logLevel log.LogLevel) NamespaceOption {
	return func(opts *NamespaceOptions) error {
		opts.LogLevel = logLevel
		return nil
	}
}

func WithoutTerminalLog() NamespaceOption {
	return func(opts *NamespaceOptions) error {
		opts.NoTerminalLog = true
		return nil
	}
}

func WithLogFile(logFile string) NamespaceOption {
	return func(opts *NamespaceOptions) error {
		opts.LogFile = logFile
		return nil
	}
}

func (opts *NamespaceOptions) logger() *log.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return log.NewLogger("skylink", log.Options{
		Level:      opts.LogLevel,
		File:       opts.LogFile,
		NoTerminal: opts.NoTerminalLog,
	})
}
