// Package main contains the entrypoint for the sendlater service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sendlater/sendlater/internal/api"
	"github.com/sendlater/sendlater/internal/app"
	"github.com/sendlater/sendlater/internal/config"
	"github.com/sendlater/sendlater/internal/database"
	"github.com/sendlater/sendlater/internal/dispatch"
	"github.com/sendlater/sendlater/internal/logger"
	"github.com/sendlater/sendlater/internal/metrics"
	"github.com/sendlater/sendlater/internal/slack"
	"github.com/sendlater/sendlater/internal/token"
	"github.com/sendlater/sendlater/internal/worker"
	"github.com/sendlater/sendlater/internal/worker/tasks"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components, starts the service, and returns an exit
// code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	m := metrics.NewMetrics("sendlater")

	gateway := slack.NewClient(slack.Config{
		ClientID:     cfg.Slack.ClientID,
		ClientSecret: cfg.Slack.ClientSecret,
		RedirectURL:  cfg.Slack.RedirectURL,
		BotScopes:    cfg.Slack.BotScopes,
		UserScopes:   cfg.Slack.UserScopes,
	}, log)

	tokens := token.NewManager(store, gateway, m, log)
	dispatcher := dispatch.NewDispatcher(store, tokens, gateway, m, log)

	tDeps := tasks.TaskDeps{
		Logger:     log,
		Store:      store,
		Dispatcher: dispatcher,
	}
	sched, err := worker.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	server := api.NewServer(cfg.Server, store, gateway, m, log)

	service := app.New(log, server, sched)

	log.Info("Starting sendlater...")
	runErr := service.Run(ctx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Service stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Service stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
