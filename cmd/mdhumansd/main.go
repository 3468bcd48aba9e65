// Package main is the entry point for the markdown sync host daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/config"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/event"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/host"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/logging"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/transport"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		addr        string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&addr, "addr", "", "Listen address (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error; overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "mdhumansd - markdown editor sync host\n\n")
		fmt.Fprintf(os.Stderr, "Usage: mdhumansd [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nSurfaces connect over WebSocket at ws://<addr>/sync?doc=<path>.\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("mdhumansd %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		return 0
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Output: os.Stderr,
		Prefix: "mdhumansd",
	})

	bus := event.NewBus(event.WithPanicHandler(func(evt any, recovered any, _ []byte) {
		log.Error("event handler panicked on %T: %v", evt, recovered)
	}))
	eventLog := log.WithComponent("events")
	_, _ = bus.SubscribeFunc("**", func(_ context.Context, evt any) error {
		eventLog.Debug("%s %+v", evt.(event.TopicProvider).EventTopic(), evt)
		return nil
	})

	svc, err := host.NewService(cfg, log, bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start service: %v\n", err)
		return 1
	}
	defer svc.Close()

	srv := transport.NewServer(svc, log)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.ListenAddr)
	}()

	select {
	case sig := <-signals:
		log.Info("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("shutdown incomplete: %v", err)
		return 1
	}
	return 0
}
