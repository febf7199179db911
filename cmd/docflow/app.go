package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/docflow/pkg/docflow/config"
	"github.com/randalmurphal/docflow/pkg/docflow/experiment"
	"github.com/randalmurphal/docflow/pkg/docflow/llm"
	"github.com/randalmurphal/docflow/pkg/docflow/observability"
	"github.com/randalmurphal/docflow/pkg/docflow/orchestrator"
	"github.com/randalmurphal/docflow/pkg/docflow/store"
	"github.com/randalmurphal/docflow/pkg/docflow/tool"
	"github.com/randalmurphal/docflow/pkg/docflow/tool/builtin"
)

// newLLMClient builds the production client. Tests swap it for a mock.
var newLLMClient = func(s config.Settings) (llm.Client, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("%s is not set", config.APIKeyEnv)
	}
	return llm.NewAnthropicClient(s.APIKey, []llm.AnthropicOption{
		llm.WithModel(s.Model),
		llm.WithMaxTokens(s.MaxTokens),
	}), nil
}

// app holds the wired components of one process.
type app struct {
	orch      *orchestrator.Orchestrator
	store     store.Store
	telemetry *telemetry
}

func newApp(ctx context.Context, s config.Settings, logger *slog.Logger) (*app, error) {
	if s.ExperimentsFile == "" {
		return nil, errors.New("experiments.file is required")
	}
	catalog, err := experiment.FromFile(s.ExperimentsFile)
	if err != nil {
		return nil, fmt.Errorf("load experiments: %w", err)
	}

	client, err := newLLMClient(s)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}

	st, err := store.Open(ctx, s.StoreDriver, s.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", s.StoreDriver, err)
	}

	a := &app{store: st}
	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithLLMRetry(s.Retry),
		orchestrator.WithRequestsPerMinute(s.RequestsPerMinute),
		orchestrator.WithPersistRetry(s.PersistRetry()),
		orchestrator.WithConcurrency(s.ExecuteConcurrency),
	}
	if s.TelemetryEnabled {
		a.telemetry = setupTelemetry()
		opts = append(opts,
			orchestrator.WithMetrics(observability.NewMetricsRecorder()),
			orchestrator.WithSpans(observability.NewSpanManager()),
		)
	}

	reg := tool.NewRegistry().MustRegister(builtin.All()...)
	a.orch, err = orchestrator.New(st, client, reg, catalog, opts...)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	logger.Info("docflow ready",
		"store", s.StoreDriver,
		"model", s.Model,
		"tools", reg.IDs(),
		"telemetry", s.TelemetryEnabled,
	)
	return a, nil
}

// Close stops running tasks before releasing the store.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.orch != nil {
		errs = append(errs, a.orch.Close())
	}
	errs = append(errs, a.store.Close())
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
