// Package creator is the public entry point for turning PDF manuals into
// training modules and assessments.
package creator

import (
	"context"
	"errors"

	"github.com/spherical/module-creator/internal/config"
	"github.com/spherical/module-creator/internal/domain"
	"github.com/spherical/module-creator/internal/events"
	"github.com/spherical/module-creator/internal/generate"
	"github.com/spherical/module-creator/internal/llm"
	"github.com/spherical/module-creator/internal/observability"
	"github.com/spherical/module-creator/internal/pdf"
	"github.com/spherical/module-creator/internal/process"
)

// Re-exported types for the public API
type (
	Config        = config.Config
	Snapshot      = process.Snapshot
	DocumentInfo  = process.DocumentInfo
	ProgressEvent = domain.ProgressEvent
	EventType     = domain.EventType
	ModuleSet     = domain.ModuleSet
	Assessment    = domain.Assessment
	PipelineState = domain.PipelineState
	Phase         = domain.Phase
)

// Event type constants
const (
	EventRunStarted   = domain.EventRunStarted
	EventStateChanged = domain.EventStateChanged
	EventRunSucceeded = domain.EventRunSucceeded
	EventRunFailed    = domain.EventRunFailed
)

// Client wires extraction, generation and progress reporting together.
type Client struct {
	cfg    *config.Config
	log    *observability.Logger
	ctrl   *process.Controller
	broker *events.Broker
	redis  *events.RedisPublisher
}

type options struct {
	logger     *observability.Logger
	extractor  domain.TextExtractor
	generator  domain.Generator
	previewDir string
}

// Option customises a Client.
type Option func(*options)

// WithLogger sets the logger. By default one is built from the
// observability section of the config.
func WithLogger(l *observability.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithExtractor replaces the PDF text extractor.
func WithExtractor(e domain.TextExtractor) Option {
	return func(o *options) { o.extractor = e }
}

// WithGenerator replaces the LLM generation pipeline.
func WithGenerator(g domain.Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithPreviewDir sets where the document preview copy is kept.
func WithPreviewDir(dir string) Option {
	return func(o *options) { o.previewDir = dir }
}

// NewClient loads configuration from the environment (and .env) and
// creates a client.
func NewClient(opts ...Option) (*Client, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	return NewClientWithConfig(cfg, opts...)
}

// NewClientWithConfig creates a client from an explicit configuration.
func NewClientWithConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, domain.ConfigError("config is required", nil)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = observability.NewLogger(observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      cfg.Observability.LogFormat,
			ServiceName: cfg.Observability.ServiceName,
		})
	}

	if o.extractor == nil {
		var extOpts []pdf.Option
		extOpts = append(extOpts, pdf.WithLogger(o.logger))
		if cfg.Extractor.ValidateStructure {
			extOpts = append(extOpts, pdf.WithStructureCheck())
		}
		ext, err := pdf.NewExtractor(cfg.Extractor.Backend, extOpts...)
		if err != nil {
			return nil, err
		}
		o.extractor = ext
	}

	if o.generator == nil {
		client, err := llm.NewClient(llm.Config{
			Endpoint:          cfg.LLM.Endpoint,
			Model:             cfg.LLM.Model,
			APIKey:            cfg.LLM.APIKey,
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
			Retry: llm.RetryConfig{
				MaxRetries:     cfg.LLM.MaxRetries,
				InitialBackoff: cfg.LLM.InitialBackoff,
				MaxBackoff:     cfg.LLM.MaxBackoff,
			},
			Logger: o.logger,
		})
		if err != nil {
			return nil, err
		}
		o.generator = generate.NewPipeline(client, generate.Options{
			StageTimeout: cfg.Pipeline.StageTimeout,
			Parallel:     cfg.Pipeline.ParallelStructuring,
			JSONMode:     cfg.Pipeline.JSONMode,
			Logger:       o.logger,
		})
	}

	c := &Client{
		cfg:    cfg,
		log:    o.logger,
		broker: events.NewBroker(o.logger),
	}

	publishers := events.Multi{c.broker}
	if cfg.Events.Redis.Enabled() {
		rp, err := events.NewRedisPublisher(redisConfig(cfg))
		if err != nil {
			// Progress still reaches in-process subscribers.
			o.logger.Warn().Err(err).Str("addr", cfg.Events.Redis.Addr).Msg("redis unavailable, events stay in-process")
		} else {
			c.redis = rp
			publishers = append(publishers, rp)
		}
	}

	ctrlOpts := []process.Option{
		process.WithPublisher(publishers),
		process.WithLogger(o.logger),
		process.WithValidator(&pdf.Validator{MaxSize: cfg.Server.MaxUploadBytes}),
	}
	if o.previewDir != "" {
		ctrlOpts = append(ctrlOpts, process.WithPreviewDir(o.previewDir))
	}
	c.ctrl = process.NewController(o.extractor, o.generator, ctrlOpts...)

	return c, nil
}

func redisConfig(cfg *config.Config) events.RedisConfig {
	return events.RedisConfig{
		Addr:     cfg.Events.Redis.Addr,
		Password: cfg.Events.Redis.Password,
		DB:       cfg.Events.Redis.DB,
		Channel:  cfg.Events.Redis.Channel,
	}
}

// Config returns the configuration the client was built with.
func (c *Client) Config() *config.Config { return c.cfg }

// Logger returns the client logger.
func (c *Client) Logger() *observability.Logger { return c.log }

// Controller exposes the process controller, e.g. for the HTTP API.
func (c *Client) Controller() *process.Controller { return c.ctrl }

// Broker exposes the in-process event broker.
func (c *Client) Broker() *events.Broker { return c.broker }

// Subscribe follows progress events of every run. The returned function
// stops the subscription.
func (c *Client) Subscribe() (<-chan ProgressEvent, func()) {
	return c.broker.Subscribe(0)
}

// ProcessFile loads a PDF from disk and runs it to completion.
func (c *Client) ProcessFile(ctx context.Context, path string) (Snapshot, error) {
	doc, err := pdf.NewValidator().LoadDocument(path)
	if err != nil {
		return c.ctrl.Snapshot(), err
	}
	return c.ctrl.Run(ctx, doc)
}

// Process runs an in-memory document to completion.
func (c *Client) Process(ctx context.Context, name string, data []byte) (Snapshot, error) {
	doc := &domain.SourceDocument{
		Name:      name,
		MediaType: pdf.DetectMediaType(name, data),
		Data:      data,
	}
	return c.ctrl.Run(ctx, doc)
}

// UserMessage returns the notice to show for err.
func UserMessage(err error) string {
	return domain.UserMessage(err)
}

// Close releases the preview document and event connections.
func (c *Client) Close() error {
	var errs []error
	errs = append(errs, c.ctrl.Close())
	errs = append(errs, c.broker.Close())
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	return errors.Join(errs...)
}
