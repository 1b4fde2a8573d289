// Package tiering runs the quality-gated escalation pipeline: every unit is
// converted by the cheapest tier, checked, and escalated up the tier chain
// only when its text is missing or looks broken and the budget allows.
package tiering

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spherical/mdload/internal/cache"
	"github.com/spherical/mdload/internal/digest"
	"github.com/spherical/mdload/internal/domain"
	"github.com/spherical/mdload/internal/observability"
	"github.com/spherical/mdload/internal/quality"
)

const progressEvery = 10

// Options configures a Pipeline. Tiers are ordered cheapest first.
type Options struct {
	Tiers       []domain.Converter
	Budget      *BudgetPolicy // nil means DefaultBudgetPolicy
	Validator   domain.Validator
	Cache       cache.Store
	Splitter    domain.Splitter
	Workers     int
	UnitTimeout time.Duration // zero disables the per-conversion deadline
	Logger      *observability.Logger

	// Events receives progress events; sends never block.
	Events chan<- domain.StreamEvent
}

// Pipeline orchestrates hashing, splitting, per-unit tier decisions and
// ordered assembly.
type Pipeline struct {
	tiers       []domain.Converter
	policy      BudgetPolicy
	validator   domain.Validator
	store       cache.Store
	splitter    domain.Splitter
	workers     int
	unitTimeout time.Duration
	logger      *observability.Logger
	events      chan<- domain.StreamEvent
}

// NewPipeline validates opts and fills in defaults.
func NewPipeline(opts Options) (*Pipeline, error) {
	if len(opts.Tiers) < 2 {
		return nil, domain.ConfigError(fmt.Sprintf("at least two tiers are required, got %d", len(opts.Tiers)), nil)
	}
	for i, t := range opts.Tiers {
		if t == nil {
			return nil, domain.ConfigError(fmt.Sprintf("tier %d is nil", i), nil)
		}
	}
	if opts.Splitter == nil {
		return nil, domain.ConfigError("a splitter is required", nil)
	}

	p := &Pipeline{
		tiers:       opts.Tiers,
		policy:      DefaultBudgetPolicy(),
		validator:   opts.Validator,
		store:       opts.Cache,
		splitter:    opts.Splitter,
		workers:     opts.Workers,
		unitTimeout: opts.UnitTimeout,
		logger:      opts.Logger,
		events:      opts.Events,
	}
	if opts.Budget != nil {
		p.policy = *opts.Budget
	}
	if p.validator == nil {
		p.validator = quality.NewHeuristic()
	}
	if p.store == nil {
		p.store = cache.NewMemoryStore()
	}
	if p.workers < 1 {
		p.workers = 1
	}
	if p.logger == nil {
		p.logger = observability.NewNop()
	}
	return p, nil
}

// run holds the state shared by the units of one Convert call.
type run struct {
	hash   string
	total  int
	budget *Budget
	done   atomic.Int32
	logger *observability.Logger
}

// unitTrace is what a single unit reports back for aggregation.
type unitTrace struct {
	text        string
	outcome     domain.UnitOutcome
	cacheHits   int
	conversions int
	quality     int
	forced      int
}

// Convert hashes doc, splits it and converts every unit. Only split failures,
// unreadable input and cancellation of ctx abort the run; converter failures
// are absorbed per unit.
func (p *Pipeline) Convert(ctx context.Context, doc domain.Document, mode domain.Mode) (*domain.Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = observability.ContextWithRunID(ctx, runID)
	logger := p.logger.WithContext(ctx).WithOperation("convert")

	p.emitEvent(domain.StreamEvent{
		Type:      domain.EventStart,
		Payload:   fmt.Sprintf("Starting conversion of %s", doc.FilePath),
		Timestamp: time.Now(),
	})

	if doc.ContentHash == "" {
		hash, err := digest.File(doc.FilePath)
		if err != nil {
			err = domain.ValidationError(fmt.Sprintf("cannot read source document %s", doc.FilePath), err)
			p.emitError(nil, err)
			return nil, err
		}
		doc.ContentHash = hash
	}

	units, cleanup, err := p.splitter.Split(ctx, doc, mode)
	if cleanup != nil {
		defer func() {
			if err := cleanup(); err != nil {
				logger.Warn().Err(err).Msg("Failed to release split resources")
			}
		}()
	}
	if err != nil {
		p.emitError(nil, err)
		return nil, err
	}
	if len(units) == 0 {
		err := domain.SplitError("document produced no units", nil)
		p.emitError(nil, err)
		return nil, err
	}

	r := &run{
		hash:   doc.ContentHash,
		total:  len(units),
		budget: p.policy.For(len(units)),
		logger: logger,
	}

	logger.Info().
		Str("file", doc.FilePath).
		Str("mode", string(mode)).
		Int("units", r.total).
		Int("workers", p.workers).
		Int("budget", r.budget.Initial()).
		Msg("Conversion started")

	traces := make([]unitTrace, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range units {
		g.Go(func() error {
			trace, err := p.processUnit(gctx, r, units[i])
			if err != nil {
				return err
			}
			traces[i] = trace
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.emitError(nil, err)
		return nil, err
	}

	result := &domain.Result{
		RunID:       runID,
		ContentHash: doc.ContentHash,
		Texts:       make([]string, len(units)),
		Units:       make([]domain.UnitOutcome, len(units)),
	}
	stats := &result.Stats
	for i, t := range traces {
		result.Texts[i] = t.text
		result.Units[i] = t.outcome
		stats.CacheHits += t.cacheHits
		stats.Conversions += t.conversions
		stats.QualityEscalations += t.quality
		stats.ForcedEscalations += t.forced
		switch t.outcome.Source {
		case domain.SourceFallback:
			stats.Fallbacks++
		case domain.SourceError:
			stats.Errors++
		}
	}
	stats.Units = len(units)
	stats.BudgetInitial = r.budget.Initial()
	stats.BudgetRemaining = r.budget.Remaining()
	stats.Duration = time.Since(start)

	p.emitEvent(domain.StreamEvent{
		Type:      domain.EventComplete,
		Total:     len(units),
		Payload:   *stats,
		Timestamp: time.Now(),
	})

	logger.Info().
		Int("units", stats.Units).
		Int("cache_hits", stats.CacheHits).
		Int("conversions", stats.Conversions).
		Int("quality_escalations", stats.QualityEscalations).
		Int("forced_escalations", stats.ForcedEscalations).
		Int("fallbacks", stats.Fallbacks).
		Int("errors", stats.Errors).
		Int("budget_remaining", stats.BudgetRemaining).
		Dur("duration", stats.Duration).
		Msg("Conversion complete")

	return result, nil
}

// processUnit runs the tier decision for one unit. It returns an error only
// when ctx is done.
func (p *Pipeline) processUnit(ctx context.Context, r *run, u domain.Unit) (unitTrace, error) {
	if err := ctx.Err(); err != nil {
		return unitTrace{}, err
	}

	p.emitEvent(domain.StreamEvent{
		Type:      domain.EventUnitProcessing,
		Unit:      u.Index,
		Total:     r.total,
		Payload:   fmt.Sprintf("Processing %s", u.Label()),
		Timestamp: time.Now(),
	})

	trace := unitTrace{outcome: domain.UnitOutcome{Index: u.Index}}
	logger := r.logger.With().Str("unit", u.Label()).Logger()
	top := len(p.tiers) - 1

	// the strongest cached text wins outright; tier 0 is handled below
	for i := top; i >= 1; i-- {
		if text, ok := p.cacheGet(ctx, logger, r.hash, u, p.tiers[i]); ok {
			trace.cacheHits++
			trace.text = text
			trace.outcome.Tier = tierName(p.tiers[i])
			trace.outcome.Source = domain.SourceCache
			logger.Debug().Str("tier", trace.outcome.Tier).Str("cache", "hit").Msg("Unit served from cache")
			return p.finishUnit(r, trace), nil
		}
	}

	var (
		cur      string
		have     bool
		curTier  int
		source   domain.UnitSource
		fellBack bool
		lastErr  error
	)

	if text, ok := p.cacheGet(ctx, logger, r.hash, u, p.tiers[0]); ok {
		trace.cacheHits++
		cur, have, source = text, true, domain.SourceCache
	} else {
		trace.conversions++
		text, err := p.convert(ctx, p.tiers[0], u)
		switch {
		case err != nil && ctx.Err() != nil:
			return unitTrace{}, ctx.Err()
		case err != nil:
			lastErr = err
			logger.Warn().Err(err).Str("tier", tierName(p.tiers[0])).Msg("Conversion failed")
		default:
			p.cachePut(ctx, logger, r.hash, u, p.tiers[0], text)
			cur, have, source = text, true, domain.SourceConverted
		}
	}

	for i := 1; i <= top; i++ {
		qualityDriven := false
		if have {
			suspect := p.validator.IsSuspect(cur)
			trace.outcome.Suspect = trace.outcome.Suspect || suspect
			if !suspect {
				logger.Debug().Str("tier", tierName(p.tiers[curTier])).Bool("suspect", false).Msg("Text accepted")
				break
			}
			if !r.budget.Reserve() {
				logger.Debug().Str("tier", tierName(p.tiers[curTier])).Bool("suspect", true).
					Str("escalation", "budget_exhausted").Msg("Keeping suspect text")
				break
			}
			qualityDriven = true
		}

		kind := "forced"
		if qualityDriven {
			kind = "quality"
			trace.outcome.Escalated = true
		} else {
			trace.forced++
			trace.outcome.Forced = true
		}
		logger.Debug().Str("tier", tierName(p.tiers[i])).Str("escalation", kind).Msg("Escalating")
		p.emitEvent(domain.StreamEvent{
			Type:      domain.EventEscalation,
			Unit:      u.Index,
			Total:     r.total,
			Payload:   Escalation{To: tierName(p.tiers[i]), Kind: kind},
			Timestamp: time.Now(),
		})

		trace.conversions++
		text, err := p.convert(ctx, p.tiers[i], u)
		if err != nil {
			if qualityDriven {
				r.budget.Refund()
			}
			if ctx.Err() != nil {
				return unitTrace{}, ctx.Err()
			}
			lastErr = err
			fellBack = have
			logger.Warn().Err(err).Str("tier", tierName(p.tiers[i])).Msg("Conversion failed")
			continue
		}

		if qualityDriven {
			r.budget.Commit()
			trace.quality++
		}
		p.cachePut(ctx, logger, r.hash, u, p.tiers[i], text)
		cur, have, curTier, source, fellBack = text, true, i, domain.SourceConverted, false
	}

	switch {
	case !have:
		if lastErr == nil {
			lastErr = errors.New("no tier produced text")
		}
		trace.text = fmt.Sprintf("[ERROR %s: %v]", u.Label(), lastErr)
		trace.outcome.Source = domain.SourceError
		trace.outcome.Error = lastErr.Error()
		p.emitError(u.Index, lastErr)
	case fellBack:
		trace.text = cur
		trace.outcome.Tier = tierName(p.tiers[curTier])
		trace.outcome.Source = domain.SourceFallback
	default:
		trace.text = cur
		trace.outcome.Tier = tierName(p.tiers[curTier])
		trace.outcome.Source = source
	}

	return p.finishUnit(r, trace), nil
}

func (p *Pipeline) finishUnit(r *run, trace unitTrace) unitTrace {
	p.emitEvent(domain.StreamEvent{
		Type:      domain.EventUnitComplete,
		Unit:      trace.outcome.Index,
		Total:     r.total,
		Payload:   trace.outcome,
		Timestamp: time.Now(),
	})

	if n := int(r.done.Add(1)); n%progressEvery == 0 || n == r.total {
		r.logger.Info().
			Int("done", n).
			Int("total", r.total).
			Int("budget_remaining", r.budget.Remaining()).
			Msg("Progress")
	}
	return trace
}

// convert calls one tier with the per-unit deadline applied. Panics and
// timeouts become converter failures. A converter that ignores its context is
// abandoned at the deadline; its late result is discarded.
func (p *Pipeline) convert(ctx context.Context, tier domain.Converter, u domain.Unit) (string, error) {
	if p.unitTimeout <= 0 {
		return call(ctx, tier, u)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.unitTimeout)
	defer cancel()

	type callResult struct {
		text string
		err  error
	}
	done := make(chan callResult, 1)
	go func() {
		text, err := call(callCtx, tier, u)
		done <- callResult{text, err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", p.timeoutFailure(tier, res.err)
		}
		return res.text, res.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", p.timeoutFailure(tier, callCtx.Err())
	}
}

func (p *Pipeline) timeoutFailure(tier domain.Converter, err error) error {
	return domain.ConverterFailure(fmt.Sprintf("%s timed out after %s", tierName(tier), p.unitTimeout), err)
}

// call invokes tier.Convert, turning a panic into a converter failure.
func call(ctx context.Context, tier domain.Converter, u domain.Unit) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", domain.ConverterFailure(fmt.Sprintf("%s panicked: %v", tierName(tier), rec), nil)
		}
	}()
	return tier.Convert(ctx, u)
}

func (p *Pipeline) cacheGet(ctx context.Context, logger *observability.Logger, hash string, u domain.Unit, tier domain.Converter) (string, bool) {
	key := cache.Key(hash, u.Index, tier.Identity())
	text, err := p.store.Get(ctx, key)
	if err == nil {
		return text, true
	}
	if !errors.Is(err, cache.ErrMiss) && ctx.Err() == nil {
		logger.Warn().Err(err).Str("tier", tierName(tier)).Msg("Cache read failed, treating as miss")
	}
	return "", false
}

func (p *Pipeline) cachePut(ctx context.Context, logger *observability.Logger, hash string, u domain.Unit, tier domain.Converter, text string) {
	key := cache.Key(hash, u.Index, tier.Identity())
	if err := p.store.Put(ctx, key, text); err != nil {
		logger.Warn().Err(err).Str("tier", tierName(tier)).Msg("Cache write failed")
	}
}

// emitEvent safely emits an event to the channel
func (p *Pipeline) emitEvent(event domain.StreamEvent) {
	if p.events != nil {
		select {
		case p.events <- event:
		default:
			p.logger.Warn().Str("event", string(event.Type)).Msg("Event channel full, dropping event")
		}
	}
}

// emitError emits an error event
func (p *Pipeline) emitError(unit *int, err error) {
	p.emitEvent(domain.StreamEvent{
		Type:      domain.EventError,
		Unit:      unit,
		Payload:   err.Error(),
		Timestamp: time.Now(),
	})
}

func tierName(c domain.Converter) string {
	return c.Identity().TierName
}
