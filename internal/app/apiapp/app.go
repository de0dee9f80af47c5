package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivankudzin/anonmod/internal/app/engine"
	"github.com/ivankudzin/anonmod/internal/config"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	engine     *engine.Engine
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	eng, err := engine.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)
	RegisterRoutes(r, Dependencies{
		Moderation:  eng.Moderation,
		Levels:      eng.Access,
		Media:       eng.Media,
		Punishments: eng.Punishments,
		Users:       eng.Access,
		Stats:       eng.Stats,
		Rates:       eng.Limiter,
		APIKey:      cfg.Admin.APIKey,
		Logger:      log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		engine:     eng,
		httpRouter: r,
	}, nil
}

// Run serves the admin API and the webhook dispatcher until ctx is done.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.engine.Webhooks.Run(ctx)
	})
	g.Go(func() error {
		a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.WriteTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) Close() {
	a.engine.Close()
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
