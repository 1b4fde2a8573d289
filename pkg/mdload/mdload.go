// Package mdload converts documents to markdown through a chain of
// progressively stronger converters, escalating only units whose output
// looks broken.
package mdload

import (
	"context"
	"strings"

	"github.com/spherical/mdload/internal/cache"
	"github.com/spherical/mdload/internal/config"
	"github.com/spherical/mdload/internal/domain"
	"github.com/spherical/mdload/internal/observability"
	"github.com/spherical/mdload/internal/output"
	"github.com/spherical/mdload/internal/quality"
	"github.com/spherical/mdload/internal/tiering"
)

// Re-export core types for public API
type (
	Result      = domain.Result
	RunStats    = domain.RunStats
	UnitOutcome = domain.UnitOutcome
	UnitSource  = domain.UnitSource
	StreamEvent = domain.StreamEvent
	EventType   = domain.EventType
	Mode        = domain.Mode
	Identity    = domain.ConverterIdentity
	Converter   = domain.Converter
	Validator   = domain.Validator
	Config      = config.Config
	TierConfig  = config.TierConfig
	Escalation  = tiering.Escalation
	Logger      = observability.Logger
	LogConfig   = observability.LogConfig
	CacheStore  = cache.Store
)

// Constructors re-exported for callers outside this module.
var (
	DefaultConfig  = config.DefaultConfig
	LoadConfig     = config.Load
	NewLogger      = observability.NewLogger
	NewMemoryCache = cache.NewMemoryStore
)

// Event type constants
const (
	EventStart          = domain.EventStart
	EventUnitProcessing = domain.EventUnitProcessing
	EventEscalation     = domain.EventEscalation
	EventUnitComplete   = domain.EventUnitComplete
	EventError          = domain.EventError
	EventComplete       = domain.EventComplete
)

// Conversion modes
const (
	ModePage     = domain.ModePage
	ModeDocument = domain.ModeDocument
)

// Unit sources
const (
	SourceCache     = domain.SourceCache
	SourceConverted = domain.SourceConverted
	SourceFallback  = domain.SourceFallback
	SourceError     = domain.SourceError
)

// Client is the main entry point for the mdload library
type Client struct {
	cfg       *config.Config
	tiers     []domain.Converter
	splitter  domain.Splitter
	validator domain.Validator
	store     cache.Store
	logger    *observability.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger used by every component.
func WithLogger(l *observability.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCache replaces the configured cache store.
func WithCache(s cache.Store) Option {
	return func(c *Client) { c.store = s }
}

// WithValidator replaces the default heuristic validator.
func WithValidator(v domain.Validator) Option {
	return func(c *Client) { c.validator = v }
}

// WithTiers replaces the configured converter chain.
func WithTiers(tiers ...domain.Converter) Option {
	return func(c *Client) { c.tiers = tiers }
}

// NewClient loads configuration from configPath (optional), .env and the
// environment, then builds a client.
func NewClient(ctx context.Context, configPath string, opts ...Option) (*Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, domain.ConfigError("load configuration", err)
	}
	return NewClientWithConfig(ctx, cfg, opts...)
}

// NewClientWithConfig builds a client from an explicit configuration.
func NewClientWithConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("invalid configuration", err)
	}

	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = observability.NewLogger(observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      cfg.Observability.LogFormat,
			ServiceName: "mdload",
		})
	}
	if c.validator == nil {
		c.validator = quality.NewHeuristic()
	}
	if c.tiers == nil {
		tiers, err := tiering.BuildTiers(cfg, c.logger)
		if err != nil {
			return nil, err
		}
		c.tiers = tiers
	}
	if c.store == nil {
		store, err := cache.Open(ctx, cfg.Cache, c.logger)
		if err != nil {
			return nil, err
		}
		c.store = store
	}
	c.splitter = tiering.NewSplitter(cfg, c.logger)

	return c, nil
}

// Convert converts the document at path.
func (c *Client) Convert(ctx context.Context, path string, mode Mode) (*Result, error) {
	return c.ConvertWithEvents(ctx, path, mode, nil)
}

// ConvertWithEvents converts the document at path and reports progress on
// events. Sends never block; the caller owns and closes the channel.
func (c *Client) ConvertWithEvents(ctx context.Context, path string, mode Mode, events chan<- StreamEvent) (*Result, error) {
	if mode == "" {
		m, err := domain.ParseMode(c.cfg.Conversion.Mode)
		if err != nil {
			return nil, err
		}
		mode = m
	}

	pipeline, err := tiering.NewPipeline(tiering.Options{
		Tiers:       c.tiers,
		Budget:      tiering.PolicyFromConfig(c.cfg.Escalation),
		Validator:   c.validator,
		Cache:       c.store,
		Splitter:    c.splitter,
		Workers:     c.cfg.Conversion.Workers,
		UnitTimeout: c.cfg.Conversion.UnitTimeout,
		Logger:      c.logger,
		Events:      events,
	})
	if err != nil {
		return nil, err
	}

	return pipeline.Convert(ctx, domain.Document{FilePath: path}, mode)
}

// WriteMarkdown writes the result text into the configured output directory
// and returns the file path. name may be empty to derive it from path.
func (c *Client) WriteMarkdown(res *Result, name, sourcePath string) (string, error) {
	w, err := output.NewWriter(c.cfg.Conversion.OutputDir)
	if err != nil {
		return "", err
	}
	return w.Write(output.DeriveFilename(name, sourcePath), res.Text())
}

// IsSuspect runs the client's validator over text.
func (c *Client) IsSuspect(text string) bool {
	return c.validator.IsSuspect(strings.TrimSpace(text))
}

// Config returns the configuration the client was built from.
func (c *Client) Config() *config.Config { return c.cfg }

// Close releases the cache store.
func (c *Client) Close() error {
	return c.store.Close()
}
