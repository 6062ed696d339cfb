package dbexec

import (
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/corvid-systems/dbexec/internal/dbexec/datasource"
	"github.com/corvid-systems/dbexec/internal/dbexec/executor"
	"github.com/corvid-systems/dbexec/internal/dbexec/resilience"
)

// Registration wires together configuration, the data-source cache, the
// resilience pipeline cache, and the command executor into a ready-to-use
// *executor.DbClient. It resolves "container-managed singleton vs explicit
// constructor" in favor of the latter: every dependency the client needs is
// an explicit parameter here, and the caller decides how (and whether) to
// hold it as a singleton — there is no global registry or DI container
// inside this package, matching the constructor-injected style used
// throughout internal/config and internal/database.
type Registration struct {
	optionsHolder    *atomic.Pointer[DbOptions]
	resilienceHolder *atomic.Pointer[DbResilienceOptions]
	sources          *datasource.Cache
	pipelines        *resilience.Cache
	client           *executor.DbClient
}

// RegistrationDeps bundles the constructor inputs for NewRegistration.
type RegistrationDeps struct {
	Options            *DbOptions
	Resilience         *DbResilienceOptions
	SourceFactory      datasource.Factory
	Classifier         resilience.TransientClassifier
	Logger             *slog.Logger
	Registerer         prometheus.Registerer // nil disables metrics
	MaxCachedSources   int
	MaxCachedPipelines int
}

// NewRegistration validates opts and builds the full data-source, resilience,
// and executor stack, returning a *Registration whose Client() is the
// *executor.DbClient callers use, and whose Reload() is the hot-reload
// entry point.
func NewRegistration(deps RegistrationDeps) (*Registration, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if err := deps.Options.Validate(); err != nil {
		return nil, err
	}
	if err := deps.Resilience.Validate(); err != nil {
		return nil, err
	}

	optionsHolder := &atomic.Pointer[DbOptions]{}
	optionsHolder.Store(deps.Options)
	resilienceHolder := &atomic.Pointer[DbResilienceOptions]{}
	resilienceHolder.Store(deps.Resilience)

	configProvider := &registrationConfigProvider{options: optionsHolder}

	sources, err := datasource.NewCache(deps.SourceFactory, configProvider, deps.MaxCachedSources, deps.Logger)
	if err != nil {
		return nil, err
	}

	var cbMetrics *resilience.CircuitBreakerMetrics
	var pipelineMetrics *resilience.PipelineMetrics
	var clientMetrics *executor.ClientMetrics
	if deps.Registerer != nil {
		cbMetrics = resilience.NewCircuitBreakerMetrics(deps.Registerer)
		pipelineMetrics = resilience.NewPipelineMetrics(deps.Registerer)
		clientMetrics = executor.NewClientMetrics(deps.Registerer)
	}

	pipelines, err := resilience.NewCache(deps.MaxCachedPipelines, func(connectionName string) (*resilience.Pipeline, error) {
		current := resilienceHolder.Load()
		return resilience.NewPipeline(resilience.PipelineDeps{
			ConnectionName: connectionName,
			Options:        *current,
			Classifier:     deps.Classifier,
			Logger:         deps.Logger,
			CBMetrics:      cbMetrics,
			Metrics:        pipelineMetrics,
		}), nil
	})
	if err != nil {
		return nil, err
	}

	optionsProvider := &registrationOptionsProvider{options: optionsHolder}
	client := executor.NewDbClient(optionsProvider, sources, pipelines, clientMetrics, deps.Logger)

	return &Registration{
		optionsHolder:    optionsHolder,
		resilienceHolder: resilienceHolder,
		sources:          sources,
		pipelines:        pipelines,
		client:           client,
	}, nil
}

// Client returns the wired DbClient.
func (r *Registration) Client() *executor.DbClient { return r.client }

// Reload atomically swaps in new options (never mutating the previous
// snapshot in place) and invalidates both caches, so every connection name
// lazily rebuilds its data source and pipeline against the new settings,
// grounded on ReloadCoordinator's atomic-swap-then-invalidate idiom.
func (r *Registration) Reload(options *DbOptions, res *DbResilienceOptions) error {
	if err := options.Validate(); err != nil {
		return err
	}
	if err := res.Validate(); err != nil {
		return err
	}
	r.optionsHolder.Store(options)
	r.resilienceHolder.Store(res)
	r.sources.Invalidate()
	r.pipelines.Invalidate()
	return nil
}

// Close disposes the underlying client, which disposes the data-source
// cache; the pipeline cache is not touched.
func (r *Registration) Close() error {
	return r.client.Close()
}

type registrationOptionsProvider struct {
	options *atomic.Pointer[DbOptions]
}

func (p *registrationOptionsProvider) Snapshot() executor.OptionsSnapshot {
	o := p.options.Load()
	return executor.OptionsSnapshot{
		DefaultConnectionName: o.DefaultConnectionName,
		CommandTimeout:        o.CommandTimeout,
		DefaultIsolation:      o.DefaultIsolation,
	}
}

type registrationConfigProvider struct {
	options *atomic.Pointer[DbOptions]
}

func (p *registrationConfigProvider) ConnectionString(name string) (string, bool) {
	o := p.options.Load()
	resolved := o.EffectiveConnectionName(name)
	return o.connectionString(resolved)
}
