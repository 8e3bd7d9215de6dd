package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	skylink "github.com/stardustapp/skychat-sub000"
	"github.com/stardustapp/skychat-sub000/cmd"
	"github.com/stardustapp/skychat-sub000/cmd/builtin"
	"github.com/stardustapp/skychat-sub000/config"
	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/transport"
)

const usage = `Usage:
  skylink serve [-config file] [-listen addr]
  skylink [-url ws://host:port] <command> [args...]

Commands:
`

func main() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		if err := serve(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "skylink: %v\n", err)
			os.Exit(1)
		}
		return
	}
	os.Exit(client(os.Args[1:]))
}

func serve(args []string) error {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := flags.String("config", "", "Path to the configuration file")
	listen := flags.String("listen", "", "Listen address, overrides the configuration")
	flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	logger := cfg.Logging.Logger("skylink")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ns, err := skylink.NewNamespace(skylink.WithLogger(logger.Named("namespace")))
	if err != nil {
		return err
	}

	rt, err := config.Apply(ctx, cfg, ns, logger.Named("config"))
	if err != nil {
		ns.Shutdown(context.Background())
		return err
	}
	for _, info := range ns.Mounts() {
		logger.Info("mounted '%s'", info.Path)
	}

	settings := transport.DefaultSettings()
	settings.BroadcastTimeout = cfg.Server.BroadcastTimeout
	settings.QueueSize = cfg.Server.QueueSize

	server := transport.NewServer(ns, logger.Named("transport"), settings)
	serveErr := server.ListenAndServe(ctx, cfg.Server.Listen)

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	errs := data.Errors{}
	if serveErr != nil {
		errs.Add(serveErr)
	}
	if err := ns.Shutdown(shutdownCtx); err != nil {
		errs.Add(err)
	}
	if err := rt.Close(shutdownCtx); err != nil {
		errs.Add(err)
	}
	return errs.Errors()
}

func client(args []string) int {
	flags := flag.NewFlagSet("skylink", flag.ExitOnError)
	url := flags.String("url", defaultURL(), "Websocket address of the skylink daemon")
	timeout := flags.Duration("timeout", 30*time.Second, "Request timeout")
	level := flags.String("log-level", "WARN", "Log level (DEBUG, INFO, WARN, ERROR)")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		cm := cmd.NewCommandManager(nil)
		builtin.Register(cm)
		cm.PrintUsage(os.Stderr)
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flags.PrintDefaults()
	}
	flags.Parse(args)

	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	if flags.Arg(0) == "help" {
		cm := cmd.NewCommandManager(nil)
		builtin.Register(cm)
		code, err := cm.Execute(context.Background(), os.Stdout, flags.Args()...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skylink: %v\n", err)
		}
		return code
	}

	lvl, err := log.Parse(*level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylink: %v\n", err)
		return 2
	}
	logger := log.NewLogger("skylink", log.Options{Level: lvl})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings := transport.DefaultSettings()
	settings.RequestTimeout = *timeout

	conn, err := transport.Dial(ctx, *url, logger, settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skylink: %v\n", err)
		return 1
	}
	defer conn.Close()

	cm := cmd.NewCommandManager(conn)
	if err := builtin.Register(cm); err != nil {
		fmt.Fprintf(os.Stderr, "skylink: %v\n", err)
		return 1
	}

	code, err := cm.Execute(ctx, os.Stdout, flags.Args()...)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "skylink: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

func defaultURL() string {
	if url := os.Getenv("SKYLINK_URL"); url != "" {
		return url
	}
	return "ws://" + config.DefaultListen
}
