package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/common"
	"github.com/ternarybob/opsdeck/internal/handlers"
	"github.com/ternarybob/opsdeck/internal/interfaces"
	"github.com/ternarybob/opsdeck/internal/models"
	"github.com/ternarybob/opsdeck/internal/services/events"
	"github.com/ternarybob/opsdeck/internal/services/operations"
	"github.com/ternarybob/opsdeck/internal/services/transport"
	"github.com/ternarybob/opsdeck/internal/services/workflow"
	"github.com/ternarybob/opsdeck/internal/storage"
)

const shutdownResetTimeout = 5 * time.Second

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc
	started   bool

	// Persistence (nil when disabled)
	JobStorage interfaces.JobHistoryStorage

	// Event-driven services
	EventService *events.Service
	Relay        *transport.Client
	Operations   *operations.Client
	Workflow     *workflow.Controller

	// HTTP handlers
	WorkflowHandler *handlers.WorkflowHandler
	JobsHandler     *handlers.JobsHandler
	StatusHandler   *handlers.StatusHandler
	WSHandler       *handlers.WebSocketHandler
}

// New initializes the application with all dependencies. Background work starts with Start.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	return NewWithOptions(cfg, logger, workflow.OptionsFromConfig(cfg.Workflow))
}

// NewWithOptions is New with explicit workflow options (headless runs use no settle delay)
func NewWithOptions(cfg *common.Config, logger arbor.ILogger, opts workflow.Options) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := app.initServices(opts); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.initHandlers()

	return app, nil
}

func (a *App) initDatabase() error {
	jobStorage, err := storage.NewJobHistoryStorage(a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.JobStorage = jobStorage
	return nil
}

func (a *App) initServices(opts workflow.Options) error {
	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return err
	}

	a.Relay = transport.NewClient(transport.OptionsFromConfig(a.Config.Relay), a.Logger)
	a.Operations = operations.NewClientFromConfig(a.Config.Backend, a.Logger)

	controller, err := workflow.NewController(workflow.Dependencies{
		Transport: a.Relay,
		Starter:   a.Operations,
		Storage:   a.JobStorage,
		Events:    a.EventService,
		Logger:    a.Logger,
	}, opts)
	if err != nil {
		return err
	}
	a.Workflow = controller

	// Relay frames are delivered one at a time from the read goroutine, keeping per-channel order
	a.Relay.OnMessage(func(raw []byte) {
		if err := a.Workflow.Deliver(a.ctx, raw); err != nil && a.ctx.Err() == nil {
			a.Logger.Warn().Err(err).Msg("Failed to deliver relay frame")
		}
	})
	a.Relay.OnStatusChange(func(status models.ConnectionStatus) {
		a.Workflow.SetConnection(status)
	})

	a.Logger.Info().
		Str("relay", a.Config.Relay.URL).
		Str("backend", a.Config.Backend.BaseURL).
		Bool("history", a.JobStorage != nil).
		Msg("Services initialized")
	return nil
}

func (a *App) initHandlers() {
	a.WorkflowHandler = handlers.NewWorkflowHandler(a.Workflow, a.Logger)
	a.JobsHandler = handlers.NewJobsHandler(a.JobStorage, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.Relay)
	a.WSHandler = handlers.NewWebSocketHandler(a.Workflow, a.Workflow.InstanceID(), a.Logger)
	if err := a.WSHandler.SubscribeToWorkflowEvents(a.EventService); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to subscribe WebSocket handler to workflow events")
	}
}

// Start runs the workflow controller and the relay connection in the background
func (a *App) Start() {
	a.started = true
	a.Workflow.Start(a.ctx)
	common.SafeGoWithContext(a.ctx, a.Logger, "relay-transport", func() {
		if err := a.Relay.Run(a.ctx); err != nil && a.ctx.Err() == nil {
			a.Logger.Warn().Err(err).Msg("Relay transport stopped")
		}
	})
}

// Context is cancelled when the app closes
func (a *App) Context() context.Context {
	return a.ctx
}

// Close stops background work and releases resources
func (a *App) Close() error {
	if a.Workflow != nil && a.started {
		// Unsubscribe active channels while the relay is still up
		resetCtx, cancel := context.WithTimeout(context.Background(), shutdownResetTimeout)
		if err := a.Workflow.Reset(resetCtx); err != nil {
			a.Logger.Debug().Err(err).Msg("Workflow reset on shutdown skipped")
		}
		cancel()
	}

	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.Workflow != nil {
		a.Workflow.Close()
	}
	if a.Relay != nil {
		a.Relay.Close()
	}
	if a.EventService != nil {
		a.EventService.Close()
	}
	if a.JobStorage != nil {
		if err := a.JobStorage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close job storage")
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
