package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pelusa-v/firechat/internal/chat"
	"github.com/pelusa-v/firechat/internal/config"
	"github.com/pelusa-v/firechat/internal/handlers"
	"github.com/pelusa-v/firechat/internal/log"
	"github.com/pelusa-v/firechat/internal/store"
	"github.com/pelusa-v/firechat/internal/view"
	"github.com/pelusa-v/firechat/web"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the widget server",
	Example: `  firechat serve
  STORE_BACKEND=redis REDIS_ADDRESS=localhost:6379 firechat serve
  firechat serve --config-path ./config --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger := log.Init(cfg.Log)

	ctx := cmd.Context()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldStore, cfg.Store.Backend).Msg("open store")
		return err
	}
	defer st.Close()

	policy, err := view.ParsePolicy(cfg.Widget.InsertPolicy)
	if err != nil {
		return err
	}
	engine := web.Engine()
	renderer, err := view.NewRenderer(engine, cfg.Widget.TimeLayout)
	if err != nil {
		return err
	}

	manager := chat.NewManager(logger)
	h := &handlers.Handlers{
		Manager:  manager,
		Store:    st,
		Renderer: renderer,
		Options: handlers.Options{
			Title:          cfg.Widget.Title,
			Policy:         policy,
			WelcomeMessage: cfg.Widget.WelcomeMessage,
			WelcomeDelay:   cfg.Widget.WelcomeDelay,
			SendBuffer:     cfg.Widget.SendBuffer,
			PingInterval:   cfg.Widget.PingInterval,
		},
		Logger: logger,
	}
	app := handlers.NewApp(h, engine, web.Static())

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return manager.Start(gCtx)
	})
	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.Server.Addr()).
			Str(log.FieldStore, cfg.Store.Backend).
			Msg("widget server listening")
		return app.Listen(cfg.Server.Addr())
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info().Msg("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("server stopped")
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	cols := store.Collections{
		Messages: cfg.Store.MessagesCollection,
		Status:   cfg.Store.StatusCollection,
	}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		return store.NewMemory(), nil
	case config.BackendRedis:
		return store.NewRedis(store.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, cols)
	case config.BackendFirestore:
		return store.NewFirestore(ctx, store.FirestoreConfig{
			ProjectID:       cfg.Firestore.ProjectID,
			CredentialsFile: cfg.Firestore.CredentialsFile,
			RetryMin:        cfg.Firestore.RetryMin,
			RetryMax:        cfg.Firestore.RetryMax,
		}, cols)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
