package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"kb-platform-console/internal/config"
	"kb-platform-console/internal/ingestion"
	"kb-platform-console/internal/query"
	"kb-platform-console/internal/repository"
	"kb-platform-console/internal/services"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const usage = `kb-console talks to a knowledge-base API.

Usage:
  kb-console [global flags] <command> [flags] [args]

Commands:
  upload <path>...          validate and upload files (--wait to follow processing)
  retry <file-id> [path]    re-upload one file, re-reading it from path if given
  files                     list tracked files
  watch                     follow processing files until they settle
  remove <file-id>          stop tracking a file
  clear                     stop tracking all files
  ask <question>...         ask a question (--html renders the answer as HTML)
  history                   show the conversation
  reset                     start a new conversation
  feedback <message-id> <rating> [comment]
  health                    check the API

Global flags:
`

// app holds the wired session managers for one CLI invocation.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	client    *services.Client
	ingestion *ingestion.Manager
	query     *query.Manager
	closers   []func()
}

func (a *app) close() {
	if a.ingestion != nil {
		a.ingestion.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorLabel("error:"), err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	flagSet := pflag.NewFlagSet("kb-console", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&cfg.API.BaseURL, "api-url", cfg.API.BaseURL, "knowledge-base API base URL")
	flagSet.StringVar(&cfg.Storage.Backend, "storage", cfg.Storage.Backend, "session store: sqlite, postgres, s3 or memory")
	flagSet.StringVar(&cfg.Storage.Namespace, "namespace", cfg.Storage.Namespace, "session namespace")
	flagSet.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level")
	flagSet.BoolVar(&cfg.Log.Pretty, "log-pretty", cfg.Log.Pretty, "human readable logs")
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	args := flagSet.Args()
	if len(args) == 0 {
		flagSet.Usage()
		return errors.New("no command given")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(&cfg.Log)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	cmd, ok := commands[args[0]]
	if !ok {
		flagSet.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd(ctx, a, args[1:])
}

func newLogger(cfg *config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.WarnLevel
	}

	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	a.client = services.NewClient(cfg.API.BaseURL, cfg.API.Timeout, logger)
	a.client.SetToken(cfg.API.Token)

	var status services.StatusFetcher = a.client
	if cfg.Temporal.Enabled {
		temporalClient, err := services.NewTemporalClient(&cfg.Temporal)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, temporalClient.Close)
		status = temporalClient
	}

	var chunks services.ChunkStore
	if cfg.Qdrant.Enabled {
		qdrantClient, err := services.NewQdrantClient(&cfg.Qdrant)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = qdrantClient.Close() })
		chunks = qdrantClient
	}

	a.ingestion = ingestion.NewManager(a.client, status, store, ingestion.Options{
		Namespace:    cfg.Storage.Namespace,
		PollInterval: cfg.Ingestion.PollInterval,
		PollTimeout:  cfg.Ingestion.PollTimeout,
		MaxFileSize:  cfg.Ingestion.MaxFileSize,
	}, logger)

	opts := query.Options{
		Namespace:   cfg.Storage.Namespace,
		DocumentIDs: cfg.Query.DocumentIDs,
		MaxTokens:   cfg.Query.MaxTokens,
	}
	if cfg.Query.Temperature > 0 {
		temp := cfg.Query.Temperature
		opts.Temperature = &temp
	}
	a.query = query.NewManager(a.client, chunks, a.client, store, opts, logger)

	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.StateStore, func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		return repository.NewMemoryStore(), func() {}, nil
	case "sqlite", "":
		store, err := repository.NewSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		store, err := repository.NewPostgresStore(&cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "s3":
		store, err := repository.NewS3Store(ctx, &cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
