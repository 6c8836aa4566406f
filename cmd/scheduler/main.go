package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/room-scheduler/internal/application"
	"github.com/example/room-scheduler/internal/config"
	"github.com/example/room-scheduler/internal/logging"
	"github.com/example/room-scheduler/internal/persistence/store"
	"github.com/example/room-scheduler/internal/recurrence"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		var uErr *usageError
		if errors.As(err, &uErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// usageError reports a malformed command line.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// environment holds everything a subcommand needs once storage is open.
type environment struct {
	cfg          config.Config
	store        store.Store
	rooms        *application.RoomService
	reservations *application.ReservationService
	logger       *slog.Logger
	stdout       io.Writer
	stderr       io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("scheduler", flag.ContinueOnError)
	global.SetOutput(stderr)
	envFile := global.String("env", config.DefaultEnvFile, "dotenv file read before the environment")
	dsn := global.String("dsn", "", "database DSN, overrides SCHEDULER_DATABASE_DSN")
	global.Usage = func() { printUsage(global) }
	if err := global.Parse(args); err != nil {
		return err
	}

	cmd, rest, err := lookupCommand(global.Args())
	if err != nil {
		printUsage(global)
		return err
	}

	envRequired := false
	global.Visit(func(f *flag.Flag) {
		if f.Name == "env" {
			envRequired = true
		}
	})
	cfg, err := config.LoadFile(*envFile, envRequired)
	if err != nil {
		return err
	}
	if *dsn != "" {
		cfg.DatabaseDSN = *dsn
	}

	logger := logging.NewLogger(stderr, cfg.LogLevel)
	ctx = logging.ContextWithLogger(ctx, logger)

	env, err := openEnvironment(ctx, cfg, logger, !cmd.skipMigrate)
	if err != nil {
		return err
	}
	env.stdout = stdout
	env.stderr = stderr
	defer func() {
		if cerr := env.store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	return cmd.run(ctx, env, rest)
}

func openEnvironment(ctx context.Context, cfg config.Config, logger *slog.Logger, migrate bool) (*environment, error) {
	storage, err := store.Open(ctx, cfg.DatabaseDSN, store.Options{SQLiteBusyTimeout: cfg.SQLiteBusyTimeout})
	if err != nil {
		logger.Error("failed to open storage", "backend", store.Kind(cfg.DatabaseDSN), "error", err)
		return nil, fmt.Errorf("open storage: %w", err)
	}

	if migrate {
		if err := storage.Migrate(ctx); err != nil {
			logger.Error("failed to apply migrations", "error", err)
			_ = storage.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	idGenerator := uuid.NewString
	now := time.Now

	roomRepo := application.NewRoomRepositoryAdapter(storage)
	reservationRepo := application.NewReservationRepositoryAdapter(storage)
	exceptionStore := application.NewExceptionStoreAdapter(storage)
	engine := recurrence.NewEngine(recurrence.WithCache(cfg.ExpansionCacheSize))

	return &environment{
		cfg:   cfg,
		store: storage,
		rooms: application.NewRoomServiceWithLogger(roomRepo, idGenerator, now, logger),
		reservations: application.NewReservationService(
			reservationRepo,
			roomRepo,
			exceptionStore,
			engine,
			idGenerator,
			now,
			application.WithLogger(logger),
			application.WithConflictHorizon(cfg.ConflictHorizon),
			application.WithConcurrency(cfg.MaxConcurrency),
			application.WithWarningTTL(cfg.ConflictCacheTTL),
		),
		logger: logger,
	}, nil
}

func lookupCommand(args []string) (command, []string, error) {
	if len(args) == 0 {
		return command{}, nil, usageErrorf("missing command")
	}
	if len(args) > 1 {
		if cmd, ok := findCommand(args[0] + " " + args[1]); ok {
			return cmd, args[2:], nil
		}
	}
	if cmd, ok := findCommand(args[0]); ok {
		return cmd, args[1:], nil
	}
	return command{}, nil, usageErrorf("unknown command %q", strings.Join(args[:min(len(args), 2)], " "))
}

func findCommand(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func printUsage(global *flag.FlagSet) {
	out := global.Output()
	fmt.Fprintln(out, "usage: scheduler [-env FILE] [-dsn DSN] <command> [flags]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "commands:")
	for _, cmd := range commands {
		fmt.Fprintf(out, "  %-20s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintln(out)
	global.PrintDefaults()
}
