package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/config"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/presence"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/realtime"
)

// App bundles the HTTP server with the background loops that keep the
// dashboard live: the presence sweeper and the broadcast scheduler.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Server    *http.Server
	Runtime   *observability.Runtime
	Scheduler *realtime.Scheduler
	Sweeper   *presence.Sweeper
	Bus       realtime.EventBus

	cancel context.CancelFunc
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	scheduler *realtime.Scheduler,
	sweeper *presence.Sweeper,
	bus realtime.EventBus,
) *App {
	return &App{
		Config:    cfg,
		Logger:    logger,
		Server:    server,
		Runtime:   runtime,
		Scheduler: scheduler,
		Sweeper:   sweeper,
		Bus:       bus,
	}
}

// Start launches the presence sweeper and the broadcast scheduler. The HTTP
// listener stays with the caller so it owns the serve error path.
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.Scheduler.Run(ctx)
	go a.Sweeper.Run(ctx)
}

// Shutdown drains in dependency order: stop accepting HTTP traffic, stop
// the background loops, close the event bus so websocket pumps unblock,
// then flush telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := a.Server.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Runtime != nil {
		if err := a.Runtime.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
