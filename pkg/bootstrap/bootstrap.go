// Package bootstrap turns a loaded Config into running components.
package bootstrap

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/z-wentao/docflow/pkg/config"
	"github.com/z-wentao/docflow/pkg/converter"
	"github.com/z-wentao/docflow/pkg/events"
	"github.com/z-wentao/docflow/pkg/processor"
	"github.com/z-wentao/docflow/pkg/storage"
)

// App holds everything built from one Config, in the order it must be torn down.
type App struct {
	Processor *processor.Processor
	Store     storage.Store
	Events    events.Publisher

	conv   converter.Converter
	logger zerolog.Logger
}

// New builds converter, ledger, publisher and processor. On failure everything
// built so far is released.
func New(ctx context.Context, cfg *config.Config, l zerolog.Logger) (*App, error) {
	app := &App{logger: l}

	conv, err := NewConverter(cfg.Converter, l)
	if err != nil {
		return nil, err
	}
	app.conv = conv

	store, err := NewStore(ctx, cfg.Storage, l)
	if err != nil {
		app.closeConverter()
		return nil, err
	}
	app.Store = store

	pub, err := NewPublisher(cfg.Events, l)
	if err != nil {
		app.closeConverter()
		store.Close()
		return nil, err
	}
	app.Events = pub

	p, err := processor.New(processor.Config{
		Workers:    cfg.Queue.Workers,
		MaxPending: cfg.Queue.MaxPending,
	}, conv,
		processor.WithLogger(l),
		processor.WithStore(store),
		processor.WithPublisher(pub),
	)
	if err != nil {
		app.closeConverter()
		pub.Close()
		store.Close()
		return nil, err
	}
	app.Processor = p

	return app, nil
}

// Close drains the processor, then releases the converter, publisher and ledger.
func (a *App) Close(ctx context.Context) error {
	var first error

	if err := a.Processor.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("processor shutdown")
		first = err
	}

	a.closeConverter()

	if err := a.Events.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close publisher")
	}
	if err := a.Store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close job store")
	}

	return first
}

func (a *App) closeConverter() {
	if c, ok := a.conv.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close converter")
		}
	}
}

// NewConverter selects the conversion backend.
func NewConverter(cfg config.ConverterConfig, l zerolog.Logger) (converter.Converter, error) {
	switch cfg.Type {
	case "passthrough":
		l.Warn().Msg("passthrough converter: documents are returned unchanged")
		return converter.Passthrough{}, nil
	case "unoconvert":
		conv, err := converter.NewUnoconv(converter.UnoconvConfig{
			UnoconvertBin: cfg.UnoconvertBin,
			UnoserverBin:  cfg.UnoserverBin,
			BasePort:      cfg.BasePort,
			Instances:     cfg.Instances,
			StartDaemons:  cfg.StartDaemons,
			StartupDelay:  cfg.StartupDelay(),
		}, l)
		if err != nil {
			return nil, errors.Wrap(err, "start unoconvert backend")
		}
		return conv, nil
	default:
		return nil, errors.Errorf("unsupported converter type %q", cfg.Type)
	}
}

// NewStore opens the job ledger.
func NewStore(ctx context.Context, cfg config.StorageConfig, l zerolog.Logger) (storage.Store, error) {
	switch cfg.Type {
	case "memory":
		return storage.NewJobStore(cfg.MaxJobs), nil

	case "redis":
		s, err := storage.NewRedisJobStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL())
		if err != nil {
			return nil, err
		}
		l.Info().Str("addr", cfg.Redis.Addr).Msg("job ledger on redis")
		return s, nil

	case "postgres":
		s, err := storage.NewPostgresJobStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		l.Info().Msg("job ledger on postgres")
		return s, nil

	case "hybrid":
		hot, err := storage.NewRedisJobStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL())
		if err != nil {
			return nil, err
		}
		cold, err := storage.NewPostgresJobStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			hot.Close()
			return nil, err
		}
		l.Info().Str("addr", cfg.Redis.Addr).Msg("job ledger on redis with postgres archive")
		return storage.NewHybridJobStore(hot, cold, l), nil

	default:
		return nil, errors.Errorf("unsupported storage type %q", cfg.Type)
	}
}

// NewPublisher connects the completion event sink.
func NewPublisher(cfg config.EventsConfig, l zerolog.Logger) (events.Publisher, error) {
	switch cfg.Type {
	case "none":
		return events.NopPublisher{}, nil
	case "rabbitmq":
		pub, err := events.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName, l)
		if err != nil {
			return nil, err
		}
		return pub, nil
	default:
		return nil, errors.Errorf("unsupported events type %q", cfg.Type)
	}
}

// CleanupLedger periodically prunes expired index entries when the ledger supports it.
// It returns when ctx is done.
func CleanupLedger(ctx context.Context, store storage.Store, every time.Duration, l zerolog.Logger) {
	cleaner, ok := store.(interface {
		CleanExpiredJobs(ctx context.Context) error
	})
	if !ok {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cleaner.CleanExpiredJobs(ctx); err != nil {
				l.Warn().Err(err).Msg("clean expired jobs")
			}
		}
	}
}
