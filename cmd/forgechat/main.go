package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"forgechat/internal/adapter/cache"
	"forgechat/internal/adapter/transport"
	"forgechat/internal/adapter/tui/chat"
	"forgechat/internal/domain"
	"forgechat/internal/infra/config"
	"forgechat/internal/infra/logger"
	"forgechat/internal/infra/tracer"
	"forgechat/internal/usecase/stream"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`forgechat - terminal chat client for agent runners

USAGE:
    forgechat [FLAGS]

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ~/.forgechat/config.yaml)
    --url URL          Runner WebSocket URL
    --session ID       Resume an existing session id
    --cwd PATH         Working directory for the agent
    --harness NAME     Agent harness to run
    --model NAME       Model as [provider/]model
    --continue         Ask the runner to continue the session's last thread

CONFIGURATION:
    Config file: ~/.forgechat/config.yaml
    Environment: FORGECHAT_* variables override config

EXAMPLES:
    forgechat                                # connect with config defaults
    forgechat --url ws://localhost:8137/ws   # explicit runner
    forgechat --session ses_01J8X...         # resume a session
    forgechat --model anthropic/claude-sonnet-4-5`)
}

// cliFlags holds CLI flags that override config values.
type cliFlags struct {
	URL       string
	SessionID string
	Cwd       string
	Harness   string
	Model     string
	Continue  bool
}

// parseFlags extracts the override flags from os.Args.
func parseFlags() cliFlags {
	var flags cliFlags
	take := func(i int, name string) (string, bool) {
		if os.Args[i] == "--"+name && i+1 < len(os.Args) {
			return os.Args[i+1], true
		}
		return "", false
	}
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--continue":
			flags.Continue = true
		case strings.HasPrefix(os.Args[i], "--url="):
			flags.URL = strings.TrimPrefix(os.Args[i], "--url=")
		case strings.HasPrefix(os.Args[i], "--session="):
			flags.SessionID = strings.TrimPrefix(os.Args[i], "--session=")
		case strings.HasPrefix(os.Args[i], "--cwd="):
			flags.Cwd = strings.TrimPrefix(os.Args[i], "--cwd=")
		case strings.HasPrefix(os.Args[i], "--harness="):
			flags.Harness = strings.TrimPrefix(os.Args[i], "--harness=")
		case strings.HasPrefix(os.Args[i], "--model="):
			flags.Model = strings.TrimPrefix(os.Args[i], "--model=")
		default:
			if v, ok := take(i, "url"); ok {
				flags.URL = v
				i++
			} else if v, ok := take(i, "session"); ok {
				flags.SessionID = v
				i++
			} else if v, ok := take(i, "cwd"); ok {
				flags.Cwd = v
				i++
			} else if v, ok := take(i, "harness"); ok {
				flags.Harness = v
				i++
			} else if v, ok := take(i, "model"); ok {
				flags.Model = v
				i++
			}
		}
	}
	return flags
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("FORGECHAT_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return home + "/.forgechat/config.yaml"
}

func applyFlags(cfg *config.Config, flags cliFlags) {
	if flags.URL != "" {
		cfg.Runner.URL = flags.URL
	}
	if flags.Cwd != "" {
		cfg.Session.Cwd = flags.Cwd
	}
	if flags.Harness != "" {
		cfg.Session.Harness = flags.Harness
	}
	if flags.Model != "" {
		if i := strings.Index(flags.Model, "/"); i > 0 {
			cfg.Session.Provider = flags.Model[:i]
			cfg.Session.Model = flags.Model[i+1:]
		} else {
			cfg.Session.Model = flags.Model
		}
	}
	if flags.Continue {
		cfg.Session.ContinueSession = true
	}
}

func run() error {
	// 1. Config
	flags := parseFlags()
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	applyFlags(cfg, flags)

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Session cache
	var store stream.Store
	if cfg.Cache.Enabled {
		db, err := cache.Open(cfg.Cache.Path, cfg.Cache.MaxSessions)
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		defer db.Close()
		store = db
	}

	// 4. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 5. UI shell & transport. The shell exists first so the transport
	// and engine callbacks have somewhere to land.
	ui := chat.New(chat.Deps{
		Logger:     log,
		Markdown:   cfg.UI.Markdown,
		ShowTokens: cfg.UI.ShowTokens,
	})

	client, err := transport.Dial(ctx, transport.Config{
		URL:          cfg.Runner.URL,
		Token:        cfg.Runner.Token,
		Logger:       log,
		CallTimeout:  cfg.Runner.CallTimeout,
		OnConnChange: ui.PushConnState,
	})
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer client.Close()

	// 6. Session engine
	engine := stream.New(client, stream.Options{
		SessionID: flags.SessionID,
		Config: domain.SessionConfig{
			Harness:         cfg.Session.Harness,
			Cwd:             cfg.Session.Cwd,
			Provider:        cfg.Session.Provider,
			Model:           cfg.Session.Model,
			ContinueSession: cfg.Session.ContinueSession,
		},
		FlushInterval:    cfg.Stream.FlushInterval,
		RecoveryInterval: cfg.Stream.RecoveryInterval,
		SaveInterval:     cfg.Cache.SaveInterval,
		Store:            store,
		Logger:           log,
		OnUpdate:         ui.PushSnapshot,
	})
	ui.AttachEngine(engine)

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(ctx)
	}()

	createCtx, createCancel := context.WithTimeout(ctx, 30*time.Second)
	err = engine.CreateSession(createCtx)
	createCancel()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	log.Info("forgechat starting",
		"url", cfg.Runner.URL,
		"session_id", engine.SessionID(),
		"harness", cfg.Session.Harness,
		"cache", cfg.Cache.Enabled,
	)

	// 7. Run the TUI; it blocks until quit.
	uiErr := ui.Run(ctx)

	// 8. Close the session before tearing the connection down.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := engine.CloseSession(closeCtx); err != nil {
		log.Warn("close session", "error", err)
	}
	closeCancel()

	cancel()
	select {
	case <-engineDone:
	case <-time.After(2 * time.Second):
	}

	return uiErr
}
