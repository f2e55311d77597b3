package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"solar-alerts/internal/alerting"
	"solar-alerts/internal/api"
	"solar-alerts/internal/cloudapi"
	"solar-alerts/internal/config"
	"solar-alerts/internal/explain"
	"solar-alerts/internal/scheduler"
	"solar-alerts/internal/service"
	"solar-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClient() *cloudapi.Client {
	return cloudapi.New(cloudapi.Options{
		BaseURL:   a.Config.CloudAPI.BaseURL,
		AppID:     a.Config.CloudAPI.AppID,
		AppSecret: a.Config.CloudAPI.AppSecret,
		Email:     a.Config.CloudAPI.Email,
		Password:  a.Config.CloudAPI.Password,
		Timeout:   a.Config.CloudAPI.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	smtp := a.Config.Alerting.SMTP
	return alerting.NewSMTPNotifier(smtp.Host, smtp.Port, smtp.Username, smtp.Password, a.Logger)
}

func (a *App) newDispatcher(alertLog storage.AlertLogStore) *alerting.Dispatcher {
	return alerting.NewDispatcher(alerting.Options{
		Cooldown:  a.Config.Alerting.Cooldown,
		MaxLog:    a.Config.Alerting.MaxLog,
		From:      a.Config.Alerting.SMTP.From,
		Recipient: a.Config.Alerting.SMTP.Recipient,
	}, a.newNotifier(), alertLog, a.Logger)
}

func (a *App) newExplainer(store storage.ExplanationStore) *explain.Cache {
	var llm explain.Explainer
	if a.Config.Explain.APIKey != "" {
		llm = explain.NewLLMClient(explain.LLMOptions{
			BaseURL: a.Config.Explain.BaseURL,
			APIKey:  a.Config.Explain.APIKey,
			Model:   a.Config.Explain.Model,
			Timeout: a.Config.Explain.RequestTimeout,
		}, a.Logger)
	}
	return explain.NewCache(store, llm, a.Logger)
}

// openStore connects to PostgreSQL when a DSN is configured; otherwise the
// engine runs on the in-memory store.
func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; state kept in memory only")
		return storage.NewMemory(a.Config.Alerting.MaxLog), nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}

	store := storage.NewPostgres(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func (a *App) newService(sched *scheduler.Scheduler, store storage.Store) *service.Service {
	return service.New(
		a.Config,
		sched,
		a.newClient(),
		store,
		a.newExplainer(store),
		a.newDispatcher(store),
		a.Logger,
	)
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := a.newService(sched, store)

	apiErr := make(chan error, 1)
	if a.Config.API.Enabled {
		router := api.NewRouter(svc, a.Logger)
		go func() {
			apiErr <- api.Serve(ctx, a.Config.API.Addr, router, a.Logger)
		}()
	}

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	if a.Config.API.Enabled {
		select {
		case err := <-apiErr:
			if err != nil {
				a.Logger.Error().Err(err).Msg("api server terminated with error")
				return err
			}
		case <-time.After(10 * time.Second):
			a.Logger.Warn().Msg("api server shutdown timed out")
		}
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// RunOnce executes a single monitoring sweep and exits.
func (a *App) RunOnce(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := a.newService(nil, store)
	return svc.RunCycle(ctx)
}

// ExportOptions hold parameters for exporting device history.
type ExportOptions struct {
	DeviceSN  string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// AlertsOptions configure the alerts listing.
type AlertsOptions struct {
	Limit int
}

// SimulateOptions describe the synthetic sample for a simulated sweep.
type SimulateOptions struct {
	DeviceSN    string
	FaultCode   float64
	Temperature float64
	BatterySOC  float64
}
