// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// strangers is a terminal client for anonymous one-to-one chat. It
// joins a lobby, pairs with the stranger who has waited longest and
// chats over a direct peer connection.
//
// The lobby and the connection signaling live in a Matrix room; chat
// data flows over WebRTC data channels. With --memory the client runs
// a self-contained demo against an in-process lobby and echo bot.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/strangers-chat/strangers/lib/config"
	"github.com/strangers-chat/strangers/lib/schema"
	"github.com/strangers-chat/strangers/lib/version"
	"github.com/strangers-chat/strangers/notify"
	"github.com/strangers-chat/strangers/session"
	"github.com/strangers-chat/strangers/store"
	"github.com/strangers-chat/strangers/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	homeserver string
	room       string
	username   string
	memory     bool
	stunProbe  string
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("strangers", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to strangers.yaml (default: $"+config.EnvVar+")")
	flagSet.StringVar(&opts.homeserver, "homeserver", "", "Matrix homeserver URL (overrides lobby.homeserver)")
	flagSet.StringVar(&opts.room, "room", "", "lobby room alias or ID (overrides lobby.room)")
	flagSet.StringVarP(&opts.username, "username", "u", "", "name shown to strangers (overrides profile.username)")
	flagSet.BoolVar(&opts.memory, "memory", false, "run an offline demo with an in-process lobby and echo bot")
	flagSet.StringVar(&opts.stunProbe, "stun-probe", "", "print the public address seen by this STUN server and exit")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.Bool("version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion, _ := flagSet.GetBool("version"); showVersion {
		version.Print("strangers")
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.stunProbe != "" {
		return probe(ctx, opts.stunProbe)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	var lobby *backend
	if opts.memory {
		lobby, err = startMemoryBackend(ctx, cfg, logger)
	} else {
		lobby, err = startMatrixBackend(ctx, cfg, logger)
	}
	if err != nil {
		return err
	}
	defer lobby.close()

	localStore, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var desktop notify.Sink
	if cfg.Notifications.Desktop {
		desktop = notify.NewDesktopSink("Strangers", logger)
	}

	client, err := session.New(session.Config{
		Provider:           lobby.provider,
		Presence:           lobby.presence,
		Store:              localStore,
		Notifier:           notify.Multi(notify.LogSink{Logger: logger.With("component", "notify")}, desktop),
		Logger:             logger,
		Profile:            profileFromConfig(cfg.Profile),
		SafetyTimeout:      cfg.Matchmaker.SafetyTimeout,
		FailedPeerCooldown: cfg.Matchmaker.FailedPeerCooldown,
		IndicatorTimeout:   cfg.Chat.IndicatorTimeout,
		NoticeDuration:     cfg.Chat.NoticeDuration,
		LegacyEditFallback: cfg.Chat.LegacyEditFallback,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	return chat(ctx, client, newTranscript(os.Stdout))
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `strangers - chat with a random stranger

Usage:
  strangers [flags]

Flags:
%s
Configuration is read from --config or $%s. With --memory and no
configuration file the built-in defaults are used.

Type /help once connected for the list of chat commands.
`, flagSet.FlagUsages(), config.EnvVar)
}

// loadConfig reads the configuration file and applies flag overrides.
// Only the offline demo may run without a file.
func loadConfig(opts options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case os.Getenv(config.EnvVar) != "" || !opts.memory:
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if opts.homeserver != "" {
		cfg.Lobby.Homeserver = opts.homeserver
	}
	if opts.room != "" {
		cfg.Lobby.Room = opts.room
	}
	if opts.username != "" {
		cfg.Profile.Username = opts.username
	}
	if opts.memory {
		// The demo keeps nothing between runs.
		cfg.Storage.Path = ""
	}
	if err := cfg.Validate(!opts.memory); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(settings config.LoggingConfig) (*slog.Logger, error) {
	level, err := settings.SlogLevel()
	if err != nil {
		return nil, err
	}
	handlerOptions := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if settings.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOptions)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOptions)
	}
	return slog.New(handler), nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (*store.Store, func(), error) {
	storeConfig := store.Config{
		Logger:       logger,
		HistoryLimit: cfg.Chat.HistoryLimit,
	}
	if cfg.Storage.Path == "" {
		return store.New(storeConfig), func() {}, nil
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, nil, err
	}
	kv, err := store.OpenSQLite(cfg.Storage.Path, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", cfg.Storage.Path, err)
	}
	storeConfig.KV = kv
	return store.New(storeConfig), func() {
		if err := kv.Close(); err != nil {
			logger.Warn("closing local database failed", "error", err)
		}
	}, nil
}

func profileFromConfig(settings config.ProfileConfig) *schema.Profile {
	return &schema.Profile{
		Username:  settings.Username,
		Age:       settings.Age,
		Gender:    settings.Gender,
		Interests: settings.Interests,
		Location:  settings.Location,
	}
}

func probe(ctx context.Context, server string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	address, err := transport.ProbeReflexiveAddress(ctx, server)
	if err != nil {
		return err
	}
	fmt.Println(address)
	return nil
}

// chat connects to the lobby and runs the input loop until /quit,
// end of input or a signal.
func chat(ctx context.Context, client *session.Client, out *transcript) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	out.info("Type /help for commands.")
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("joining the lobby: %w", err)
	}

	events := client.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			out.show(event, client.RemoteProfile().DisplayName("Stranger"))
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseCommand(line)
			if err != nil {
				out.info("%v", err)
				continue
			}
			if err := execute(ctx, client, out, cmd); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				out.info("%v", err)
			}
		}
	}
}
