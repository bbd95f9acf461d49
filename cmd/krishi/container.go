package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"krishi/internal/assistant"
	"krishi/internal/classifier"
	"krishi/internal/config"
	"krishi/internal/geocode"
	"krishi/internal/llm"
	"krishi/internal/logging"
	"krishi/internal/market"
	"krishi/internal/observability"
	"krishi/internal/ocr"
	"krishi/internal/server"
	"krishi/internal/session"
	"krishi/internal/session/filestore"
	"krishi/internal/shops"
	"krishi/internal/taskclient"
	"krishi/internal/tasks"
	"krishi/internal/weather"
)

// Container owns every long-lived collaborator built from the config.
// Optional collaborators stay nil when their settings are missing.
type Container struct {
	Config  config.Config
	Session *session.State
	Runner  *tasks.Runner

	Chat       *assistant.Chat
	Diagnosis  *assistant.Diagnosis
	Crops      *assistant.Crops
	Fertilizer *assistant.Fertilizer

	Weather    *weather.Client
	Geocoder   *geocode.Client
	Market     *market.Client
	OCR        *ocr.Client
	Classifier *classifier.Client
	Shops      *shops.Catalog

	local    *taskclient.Local
	sessions *filestore.Store
	tracing  *observability.Tracing
}

func buildContainer(cfg config.Config) (_ *Container, err error) {
	logger := logging.NewComponentLogger("container")
	c := &Container{Config: cfg, Session: session.New()}
	tracing, err := observability.SetupTracing(context.Background(), observability.TracingConfig{
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
		ServiceVersion: version,
	}, logging.NewComponentLogger("telemetry"))
	if err != nil {
		return nil, err
	}
	c.tracing = tracing
	defer func() {
		if err == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tracing.Shutdown(ctx); shutdownErr != nil {
			logger.Warn("flush traces: %v", shutdownErr)
		}
	}()

	if path := strings.TrimSpace(cfg.Session.FilePath); path != "" {
		c.sessions = filestore.New(path, logging.NewComponentLogger("session"))
		snap, err := c.sessions.Load()
		if err != nil {
			return nil, err
		}
		c.Session.Restore(snap)
	}

	client, err := c.taskClient()
	if err != nil {
		return nil, err
	}
	c.Runner = tasks.NewRunner(client,
		tasks.WithLogger(logging.NewComponentLogger("tasks")),
		tasks.WithDefaults(tasks.RunOptions{Interval: cfg.Tasks.PollInterval, Timeout: cfg.Tasks.PollTimeout}),
	)

	c.Weather = weather.NewClient(weather.Config{
		BaseURL: cfg.Weather.BaseURL,
		APIKey:  cfg.Weather.APIKey,
		Timeout: cfg.Weather.Timeout,
	}, nil)
	c.Geocoder = geocode.NewClient(geocode.Config{
		BaseURL:   cfg.Geocode.BaseURL,
		UserAgent: cfg.Geocode.UserAgent,
		Timeout:   cfg.Geocode.Timeout,
		CacheSize: cfg.Geocode.CacheSize,
	}, nil)
	c.Market = market.NewClient(market.Config{
		BaseURL:    cfg.Market.BaseURL,
		APIKey:     cfg.Market.APIKey,
		ResourceID: cfg.Market.ResourceID,
		Limit:      cfg.Market.Limit,
		Timeout:    cfg.Market.Timeout,
	}, nil)
	c.OCR = ocr.NewClient(ocr.Config{
		BaseURL:  cfg.OCR.BaseURL,
		APIKey:   cfg.OCR.APIKey,
		Language: cfg.OCR.Language,
		Timeout:  cfg.OCR.Timeout,
	}, nil)
	if strings.TrimSpace(cfg.Classifier.BaseURL) != "" {
		c.Classifier = classifier.NewClient(classifier.Config{
			BaseURL: cfg.Classifier.BaseURL,
			Timeout: cfg.Classifier.Timeout,
		}, nil)
	} else {
		logger.Warn("classifier.base_url is empty; diagnosis is disabled")
	}

	c.Shops = shops.New(nil)
	if path := strings.TrimSpace(cfg.Shops.CatalogPath); path != "" {
		catalog, err := shops.Load(path)
		if err != nil {
			return nil, err
		}
		c.Shops = catalog
		logger.Info("loaded %d shops from %s", catalog.Len(), path)
	}

	timing := assistant.Timing{Interval: cfg.Tasks.PollInterval, Timeout: cfg.Tasks.PollTimeout}
	chatTiming := assistant.Timing{Interval: cfg.Tasks.PollInterval, Timeout: cfg.Tasks.ChatTimeout}
	c.Chat = assistant.NewChat(c.Runner, chatTiming)
	c.Crops = assistant.NewCrops(c.Runner, c.Weather, c.Session, timing, logging.NewComponentLogger("crops"))
	c.Fertilizer = assistant.NewFertilizer(c.Runner, timing)
	if c.Classifier != nil {
		c.Diagnosis = assistant.NewDiagnosis(c.Classifier, c.Runner, c.Session, timing, logging.NewComponentLogger("diagnosis"))
	}
	return c, nil
}

func (c *Container) taskClient() (taskclient.Client, error) {
	cfg := c.Config
	switch cfg.Tasks.Backend {
	case config.BackendRemote:
		return taskclient.NewHTTPClient(taskclient.Config{
			BaseURL: cfg.Tasks.BaseURL,
			APIKey:  cfg.Tasks.APIKey,
			Timeout: cfg.Tasks.HTTPTimeout,
		}), nil
	case config.BackendLocal:
		completer := llm.NewChatClient(llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		}, nil)
		c.local = taskclient.NewLocal(completer, taskclient.LocalConfig{
			SystemPrompt:     cfg.LLM.SystemPrompt,
			ExecutionTimeout: cfg.LLM.Timeout,
		}, nil)
		return c.local, nil
	}
	return nil, fmt.Errorf("unknown task backend %q", cfg.Tasks.Backend)
}

// ServerDeps adapts the container to the HTTP layer. Nil collaborators are
// left as nil interfaces so their routes report 503.
func (c *Container) ServerDeps() server.Deps {
	deps := server.Deps{
		Chat:       c.Chat,
		Crops:      c.Crops,
		Fertilizer: c.Fertilizer,
		Weather:    c.Weather,
		Market:     c.Market,
		Geocoder:   c.Geocoder,
		OCR:        c.OCR,
		Shops:      c.Shops,
		Session:    c.Session,
		Logger:     logging.NewComponentLogger("server"),
	}
	if c.Diagnosis != nil {
		deps.Diagnosis = c.Diagnosis
	}
	return deps
}

// ServerConfig maps the config file onto the HTTP layer.
func (c *Container) ServerConfig(debug bool) server.Config {
	return server.Config{
		Addr:            c.Config.Server.Addr,
		CORSOrigins:     c.Config.Server.CORSOrigins,
		ShutdownTimeout: c.Config.Server.ShutdownTimeout,
		MaxUploadBytes:  c.Config.Server.MaxUploadBytes,
		LocateLimit:     c.Config.Geocode.LocateLimit,
		Debug:           debug,
	}
}

// Close waits for in-process executions to finish and persists the session.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.local != nil {
		errs = append(errs, c.local.Close(ctx))
	}
	if c.sessions != nil {
		errs = append(errs, c.sessions.Save(c.Session.Snapshot()))
	}
	errs = append(errs, c.tracing.Shutdown(ctx))
	return errors.Join(errs...)
}
