// ABOUTME: Entry point for the shorts messenger CLI
// ABOUTME: Syncs encrypted peer conversations from the ledger and drives sends

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/faireye-hive/hiveshorts/internal/config"
	"github.com/faireye-hive/hiveshorts/internal/hive"
	"github.com/faireye-hive/hiveshorts/internal/keychain"
	"github.com/faireye-hive/hiveshorts/internal/messaging"
	"github.com/faireye-hive/hiveshorts/internal/opcache"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _                _
 ___| |__   ___  _ __| |_ ___   _ __ ___   ___  ___ ___  ___ _ __   __ _  ___ _ __
/ __| '_ \ / _ \| '__| __/ __| | '_ ' _ \ / _ \/ __/ __|/ _ \ '_ \ / _' |/ _ \ '__|
\__ \ | | | (_) | |  | |_\__ \ | | | | | |  __/\__ \__ \  __/ | | | (_| |  __/ |
|___/_| |_|\___/|_|   \__|___/ |_| |_| |_|\___||___/___/\___|_| |_|\__, |\___|_|
                                                                   |___/
`

const starterConfig = `account: "${SHORTS_ACCOUNT}"
nodes:
  - "https://api.hive.blog"
  - "https://anyx.io"
  - "https://api.openhive.network"
sync:
  window_size: 100
  poll_interval: "30s"
agent:
  url: "http://127.0.0.1:8791"
cache:
  enabled: false
  path: ""
logging:
  level: "info"
  format: "text"
`

// getConfigPath returns the path to the messenger config file.
// Priority: SHORTS_CONFIG env var > XDG_CONFIG_HOME/hiveshorts/messenger.yaml > ~/.config/hiveshorts/messenger.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SHORTS_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "messenger.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "hiveshorts", "messenger.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: shorts-messenger <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  init                     Create a starter config file")
		fmt.Println("  watch                    Poll conversations and print new messages")
		fmt.Println("  inbox                    List conversations, most recent first")
		fmt.Println("  send <recipient> <text>  Encrypt and broadcast a message")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit()
	case "watch":
		err = runWatch(ctx)
	case "inbox":
		err = runInbox(ctx)
	case "send":
		err = runSend(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit() error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("  ▶ ")
	fmt.Printf("Config written to %s\n", path)
	fmt.Println("Set SHORTS_ACCOUNT (or edit the account field) before use.")
	return nil
}

// setup loads config, builds the logger, and wires the messaging service.
// The returned cleanup tears the session down.
func setup(ctx context.Context) (*config.Config, *messaging.Service, *slog.Logger, func(), error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	var cache messaging.EnvelopeCache
	var closeCache func()
	if cfg.Cache.Enabled {
		c, err := opcache.New(cfg.Cache.Path, logger)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("opening envelope cache: %w", err)
		}
		cache = c
		closeCache = func() { c.Close() }
	}

	svc, err := messaging.NewService(messaging.Options{
		Account:    cfg.Account,
		WindowSize: cfg.Sync.WindowSize,
		History:    hive.NewClient(cfg.Nodes, logger),
		Agent:      keychain.NewHTTPAgent(cfg.Agent.URL, logger),
		Cache:      cache,
		Logger:     logger,
	})
	if err != nil {
		if closeCache != nil {
			closeCache()
		}
		return nil, nil, nil, nil, fmt.Errorf("creating messaging service: %w", err)
	}

	if err := svc.Backfill(ctx); err != nil {
		logger.Warn("backfill failed", "error", err)
	}

	cleanup := func() {
		svc.Close()
		if closeCache != nil {
			closeCache()
		}
	}
	return cfg, svc, logger, cleanup, nil
}

func runWatch(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, svc, logger, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	green := color.New(color.FgGreen)
	green.Print("  ▶ ")
	fmt.Printf("Account:  %s\n", cfg.Account)
	green.Print("  ▶ ")
	fmt.Printf("Interval: %s\n\n", pollInterval(cfg))

	updates, _ := svc.Subscribe(ctx)

	sched := messaging.NewScheduler(svc, pollInterval(cfg), logger)
	sched.Start()
	defer sched.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case peer, ok := <-updates:
			if !ok {
				return nil
			}
			printLatest(ctx, svc, peer)
		}
	}
}

// printLatest prints the newest message in a peer's conversation, decrypting
// on a best-effort basis. Decrypt refusals are not errors here.
func printLatest(ctx context.Context, svc *messaging.Service, peer string) {
	msgs := svc.Conversation(peer)
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]

	body := "[encrypted]"
	if text, err := svc.Decrypt(ctx, last.ID); err == nil {
		body = text
	}

	yellow := color.New(color.FgYellow)
	yellow.Printf("%s ", last.Timestamp.Format(time.DateTime))
	cyan := color.New(color.FgCyan)
	cyan.Printf("%s → %s: ", last.Sender, last.Recipient)
	fmt.Println(body)
}

func runInbox(ctx context.Context) error {
	_, svc, _, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := svc.SyncOnce(ctx); err != nil {
		return err
	}

	peers := svc.Peers()
	if len(peers) == 0 {
		fmt.Println("No conversations.")
		return nil
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, peer := range peers {
		msgs := svc.Conversation(peer)
		last := msgs[len(msgs)-1]
		cyan.Printf("%-20s", peer)
		fmt.Printf(" %3d messages  ", len(msgs))
		gray.Printf("last %s\n", last.Timestamp.Format(time.DateTime))
	}
	return nil
}

func runSend(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: shorts-messenger send <recipient> <text>")
	}
	recipient := args[0]
	text := strings.Join(args[1:], " ")

	_, svc, _, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	gray := color.New(color.FgHiBlack)
	err = svc.Send(ctx, recipient, text, func(st messaging.SendState) {
		if st != messaging.SendIdle {
			gray.Printf("  … %s\n", st)
		}
	})
	if err != nil {
		// User cancellation is a normal outcome, not an error to report.
		if errors.Is(err, keychain.ErrUserCancelled) {
			fmt.Println("Send cancelled.")
			return nil
		}
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("  ▶ ")
	fmt.Printf("Message sent to %s\n", recipient)
	return nil
}

func pollInterval(cfg *config.Config) time.Duration {
	if cfg.Sync.PollInterval > 0 {
		return cfg.Sync.PollInterval
	}
	return messaging.DefaultPollInterval
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
