package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"deal-radar/internal/api"
	"deal-radar/internal/config"
	"deal-radar/internal/maintain"
	"deal-radar/internal/pipeline"
	"deal-radar/internal/platform"
	"deal-radar/internal/publish"
	"deal-radar/internal/scheduler"
	"deal-radar/internal/selector"
	"deal-radar/internal/settings"
	"deal-radar/internal/source"
	"deal-radar/internal/storage"
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

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
	}

	applied, err := storage.RunMigrations(a.Config.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	if applied > 0 {
		a.Logger.Info().Uint("version", applied).Msg("database migrated")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

func (a *App) enabledPlatforms() []platform.Code {
	var out []platform.Code
	for _, code := range platform.All() {
		if a.Config.Scheduler.Schedule(code).Enabled {
			out = append(out, code)
		}
	}
	return out
}

func (a *App) newSource(code platform.Code) *source.APISource {
	ep := a.Config.Sources.Endpoint(code)
	return source.NewAPISource(source.APIOptions{
		Platform:    code,
		BaseURL:     ep.BaseURL,
		ObservePath: ep.ObservePath,
		SearchPath:  ep.SearchPath,
		Timeout:     a.Config.Sources.RequestTimeout,
		UserAgent:   a.Config.Sources.UserAgent,
	}, a.Logger)
}

func (a *App) newPublisher() publish.Publisher {
	tg := a.Config.Publishing.Telegram
	if tg.Enabled {
		return publish.NewTelegramPublisher(publish.TelegramOptions{
			BotToken: tg.BotToken,
			ChatID:   tg.ChatID,
			APIBase:  tg.APIBase,
			Timeout:  a.Config.Publishing.RequestTimeout,
		}, a.Logger)
	}
	a.Logger.Warn().Msg("telegram publishing disabled; deals are logged only")
	return publish.NewLogPublisher(a.Logger)
}

func (a *App) pipelineDefaults(code platform.Code) pipeline.Defaults {
	return pipeline.Defaults{
		MinPrice:            a.Config.Filtering.MinPrice,
		MaxPrice:            a.Config.Filtering.MaxPrice,
		MinStock:            a.Config.Filtering.MinStock,
		MinDiscountPercent:  a.Config.Filtering.MinDiscountPercent,
		MinPriceDropPercent: a.Config.Filtering.MinPriceDropPercent,
		MinDiscountIncrease: a.Config.Filtering.MinDiscountIncrease,
		StabilityThreshold:  a.Config.Tracking.StabilityThreshold,
		RefillQueries:       a.Config.Sources.Endpoint(code).Queries,
	}
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	platforms := a.enabledPlatforms()
	if len(platforms) == 0 {
		return errors.New("no platforms enabled in scheduler.platforms")
	}

	gate := publish.NewGate(a.newPublisher(), publish.GateOptions{
		MaxPerHour: a.Config.Publishing.MaxPerHour,
		MinDelay:   a.Config.Publishing.MinDelay,
	}, a.Logger)
	cache := settings.NewCache(store, a.Logger)
	sel := selector.NewSelector(a.Logger)

	var jobs []scheduler.Job
	for _, code := range platforms {
		src := a.newSource(code)
		maintainer := maintain.NewMaintainer(store, src, maintain.Options{
			Platform:           code,
			TargetCount:        a.Config.Maintenance.TargetCount,
			HardDeathThreshold: a.Config.Maintenance.HardDeathThreshold,
			SoftDeathThreshold: a.Config.Maintenance.SoftDeathThreshold,
			RotationPeriod:     a.Config.Maintenance.RotationPeriod,
			RotationFraction:   a.Config.Maintenance.RotationFraction,
			RefillAttempts:     a.Config.Maintenance.RefillAttempts,
		}, a.Logger)
		orch := pipeline.NewOrchestrator(store, src, sel, gate, cache, maintainer, pipeline.Options{
			Platform:      code,
			BatchSize:     a.Config.Sources.BatchSize,
			BatchDelay:    a.Config.Sources.BatchDelay,
			ErrorStormCap: a.Config.Sources.ErrorStormCap,
			TargetCount:   a.Config.Maintenance.TargetCount,
			Defaults:      a.pipelineDefaults(code),
		}, a.Logger)

		schedule := a.Config.Scheduler.Schedule(code)
		jobs = append(jobs, scheduler.Job{
			Name:         strings.ToLower(string(code)),
			Interval:     schedule.Interval,
			StartupDelay: a.Config.Scheduler.StartupDelay,
			Run:          orch.RunCycle,
		})
	}

	if a.Config.API.Enabled {
		server := api.NewServer(store, gate, api.Options{
			Listen:    a.Config.API.Listen,
			Platforms: platforms,
		}, a.Logger)
		go func() {
			if err := server.Run(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("http server terminated")
			}
		}()
	}

	sched := scheduler.New(jobs, a.Logger)
	a.Logger.Info().Int("platforms", len(platforms)).Msg("starting monitoring service")
	err = sched.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}
	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Platform platform.Code
	Limit    int
}

// ExportOptions hold parameters for exporting an item's price history.
type ExportOptions struct {
	Platform   platform.Code
	ExternalID string
	From       *time.Time
	To         *time.Time
	CSVPath    string
	PNGPath    string
}

// ProbeOptions configure the probe command.
type ProbeOptions struct {
	Platform   platform.Code
	ExternalID string
}
