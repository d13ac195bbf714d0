// Command chat-memory serves the chat memory endpoint over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	chatmemory "github.com/toheedhamid/chat-application"
	"github.com/toheedhamid/chat-application/observability"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		listenAddr string
		logFormat  string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("chat-memory", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flagSet.StringVar(&listenAddr, "listen", "", "listen address (overrides LISTEN_ADDR)")
	flagSet.StringVar(&logFormat, "log-format", "", "log format: text, json, zap, slog or std")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := chatmemory.LoadConfig(configPath, os.LookupEnv)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Log.Format, cfg.Log.Level, os.Stderr)
	if err != nil {
		return err
	}

	generator, err := chatmemory.NewReplyGenerator(cfg.Reply)
	if err != nil {
		return err
	}

	manager := chatmemory.NewConnectionManager(cfg.Target(),
		chatmemory.WithManagerLogger(logger),
	)
	defer func() {
		if err := manager.Close(); err != nil {
			logger.WithErr(err).Warn("Error closing cache connection")
		}
	}()

	storeOpts := append(cfg.StoreOptions(),
		chatmemory.WithReplyGenerator(generator),
		chatmemory.WithStoreLogger(logger),
	)
	store := chatmemory.NewConversationStore(manager, storeOpts...)

	dispatcher := chatmemory.NewDispatcher(store, chatmemory.WithDispatcherLogger(logger))

	handler, err := chatmemory.NewHandler(dispatcher,
		chatmemory.WithHandlerLogger(logger),
		chatmemory.WithRateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	)
	if err != nil {
		return err
	}

	server := chatmemory.NewServer(handler,
		chatmemory.WithListenAddr(cfg.Server.ListenAddr),
		chatmemory.WithServerLogger(logger),
		chatmemory.WithHealthSource(manager),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx)
	})
	g.Go(func() error {
		// Warm the connection so a bad REDIS_URL shows up in the logs at start.
		if _, err := manager.Acquire(ctx); err != nil {
			logger.WithErr(err).Warn("Cache not reachable at startup")
		}
		return nil
	})

	return g.Wait()
}
