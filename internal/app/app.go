// Package app builds the pipeline and its backends from configuration. It is
// shared by the CLI and the API server.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"GraderUsageETL/internal/config"
	"GraderUsageETL/internal/extract"
	"GraderUsageETL/internal/models"
	"GraderUsageETL/internal/notify"
	"GraderUsageETL/internal/pipeline"
	"GraderUsageETL/internal/sheets"
	"GraderUsageETL/internal/storage"

	"go.uber.org/zap"
)

type App struct {
	Config    *config.Config
	State     *storage.StateStore
	Warehouse *storage.PostgresStore
	Pipeline  *pipeline.Pipeline

	log     *zap.Logger
	now     func() time.Time
	closers []func() error
}

// New opens the run journal and the warehouse pool and assembles the
// pipeline. Optional outputs (Sheets, e-mail, brokers) that fail to
// initialise are logged and left out.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, logFile string) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, log: log, now: time.Now}

	state, err := storage.NewStateStore(ctx, cfg.State.Path, log)
	if err != nil {
		return nil, fmt.Errorf("New(): %w", err)
	}
	a.State = state
	a.closers = append(a.closers, state.Close)

	warehouse, err := storage.NewPostgresStore(cfg.DatabaseURL(), cfg.Database.Table, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("New(): %w", err)
	}
	a.Warehouse = warehouse
	a.closers = append(a.closers, warehouse.Close)

	extractor := extract.New(cfg.API.URL, cfg.API.Client, cfg.API.ClientKey,
		extract.WithTimeout(cfg.APITimeout()),
		extract.WithMaxRetries(cfg.API.MaxRetries),
		extract.WithRateLimit(cfg.API.RateLimit),
		extract.WithLogger(log),
	)

	deps := pipeline.Deps{
		Extractor: extractor,
		Loader:    warehouse,
		Journal:   state,
	}
	if exporter := a.buildExporter(ctx); exporter != nil {
		deps.Exporter = exporter
	}
	if notifier := a.buildNotifiers(); notifier != nil {
		deps.Notifier = notifier
	}

	a.Pipeline = pipeline.New(deps, pipeline.Options{
		ScriptName: cfg.ScriptName,
		Chunk:      cfg.APIWindow(),
		BatchSize:  cfg.Database.BatchSize,
		Workers:    cfg.Database.Workers,
		LogFile:    logFile,
	}, log)
	return a, nil
}

func (a *App) buildExporter(ctx context.Context) *sheets.Exporter {
	cfg := a.Config.Sheets
	if !a.Config.SheetsEnabled() {
		a.log.Info("Google Sheets export disabled: GOOGLE_SPREADSHEET_ID is not set")
		return nil
	}
	exporter, err := sheets.NewExporter(ctx, cfg.CredentialsFile, cfg.SpreadsheetID, cfg.SheetName, a.log)
	if err != nil {
		a.log.Error("Google Sheets export unavailable", zap.Error(err))
		return nil
	}
	return exporter
}

func (a *App) buildNotifiers() notify.Notifier {
	cfg := a.Config
	var multi notify.Multi

	if cfg.EmailEnabled() {
		multi = append(multi, notify.NewEmailNotifier(notify.EmailConfig{
			From:     cfg.Email.From,
			Password: cfg.Email.Password,
			Server:   cfg.Email.Server,
			Port:     cfg.Email.Port,
			To:       notify.ParseRecipients(cfg.Email.To),
		}, a.log))
	}

	if cfg.RabbitMQEnabled() {
		p, err := notify.NewRabbitPublisher(cfg.Broker.RabbitMQURL, cfg.Broker.RabbitMQQueue, a.log)
		if err != nil {
			a.log.Error("RabbitMQ publishing unavailable", zap.Error(err))
		} else {
			multi = append(multi, p)
			a.closers = append(a.closers, p.Close)
		}
	}

	if cfg.KafkaEnabled() {
		p := notify.NewKafkaPublisher(cfg.Broker.KafkaBroker, cfg.Broker.KafkaTopic, a.log)
		multi = append(multi, p)
		a.closers = append(a.closers, p.Close)
	}

	if len(multi) == 0 {
		return nil
	}
	return multi
}

// ResolveWindow resolves start/end overrides against the journal.
func (a *App) ResolveWindow(ctx context.Context, start, end string) (models.Window, error) {
	last, err := a.State.LastSuccessful(ctx)
	if err != nil {
		return models.Window{}, fmt.Errorf("ResolveWindow(): %w", err)
	}
	return pipeline.ResolveWindow(pipeline.WindowConfig{
		Start:    start,
		End:      end,
		Lookback: a.Config.Lookback(),
	}, last, a.now())
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
