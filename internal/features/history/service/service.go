package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
	bdomain "github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/domain"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

// Config holds the configuration for the history service
type Config struct {
	// ValueRange bounds every accepted value
	ValueRange domain.ValueRange
	// MinPageBytes is the smallest graph page considered plausible
	MinPageBytes int
	// OverallTimeout bounds one extraction; zero disables it
	OverallTimeout time.Duration
	// AlternateURLCacheTTL is how long a working alternate URL is remembered
	AlternateURLCacheTTL time.Duration
}

// DefaultConfig returns the default history service configuration
func DefaultConfig() Config {
	return Config{
		ValueRange:           domain.DefaultValueRange(),
		MinPageBytes:         512,
		AlternateURLCacheTTL: 10 * time.Minute,
	}
}

// HistoryService implements domain.Provider
type HistoryService struct {
	config       Config
	sessions     bdomain.SessionProvider
	fetcher      *PageFetcher
	markup       *MarkupParser
	params       *ParameterExtractor
	ajax         *AjaxGraphClient
	graphs       *GraphResponseParser
	tables       *TableStatisticsExtractor
	scripts      *ScriptFallbackExtractor
	alternatives *AlternativeApproachEngine
	normalizer   *DataNormalizer
	metrics      *Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// NewHistoryService creates a new history service
func NewHistoryService(
	config Config,
	sessions bdomain.SessionProvider,
	httpClient bdomain.HTTPClientInterface,
	metrics *Metrics,
	logger *slog.Logger,
) *HistoryService {
	if sessions == nil {
		panic("session provider cannot be nil")
	}
	if httpClient == nil {
		panic("HTTP client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.ValueRange == (domain.ValueRange{}) {
		config.ValueRange = domain.DefaultValueRange()
	}

	markup := NewMarkupParser(logger)
	scripts := NewScriptFallbackExtractor(config.ValueRange, logger)
	graphs := NewGraphResponseParser(config.ValueRange, markup, scripts, logger)

	return &HistoryService{
		config:   config,
		sessions: sessions,
		fetcher:  NewPageFetcher(httpClient, sessions, config.MinPageBytes, metrics, logger),
		markup:   markup,
		params:   NewParameterExtractor(logger),
		ajax:     NewAjaxGraphClient(httpClient, logger),
		graphs:   graphs,
		tables:   NewTableStatisticsExtractor(config.ValueRange, logger),
		scripts:  scripts,
		alternatives: NewAlternativeApproachEngine(httpClient, graphs, scripts, markup,
			config.ValueRange, config.AlternateURLCacheTTL, metrics, logger),
		normalizer: NewDataNormalizer(config.ValueRange, logger),
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// ExtractHistoricalData returns the normalized samples of one service over
// the period. Running out of time yields whatever is known so far, usually
// nothing, without an error.
func (s *HistoryService) ExtractHistoricalData(ctx context.Context, periodToken, host, check string) ([]domain.Sample, error) {
	if host == "" {
		return nil, common.InvalidInputError("host cannot be empty")
	}
	if check == "" {
		return nil, common.InvalidInputError("check cannot be empty")
	}

	started := s.now()
	logger := common.LoggerFromContextOr(ctx, s.logger).With("host", host, "check", check)

	period, known := domain.ResolvePeriod(periodToken)
	if !known {
		logger.Warn("unknown period, using the shortest one", "requested", periodToken, "period", period.Token)
	}
	logger = logger.With("period", period.Token)

	if s.config.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.OverallTimeout)
		defer cancel()
	}
	ctx = common.ContextWithLogger(ctx, logger)

	samples, err := s.extract(ctx, period, host, check)

	result := "success"
	switch {
	case err != nil:
		result = "error"
	case len(samples) == 0:
		result = "empty"
	}
	s.metrics.ObserveExtraction(result, period.Token, s.now().Sub(started).Seconds(), len(samples))

	if err != nil {
		logger.Error("extraction failed", "error", err)
		return nil, err
	}
	logger.Info("extraction finished", "samples", len(samples), "duration", s.now().Sub(started))
	return samples, nil
}

func (s *HistoryService) extract(ctx context.Context, period domain.Period, host, check string) ([]domain.Sample, error) {
	logger := common.LoggerFromContext(ctx)

	session, err := s.sessions.Authenticate(ctx)
	if err != nil {
		return s.abandon(ctx, "authenticate", err)
	}

	page, session, err := s.fetcher.Fetch(ctx, session, period, host, check)
	if err != nil {
		return s.abandon(ctx, "fetch page", err)
	}

	doc, err := s.markup.Parse(page)
	if err != nil {
		return nil, err
	}
	if ok, score := s.markup.ValidateStructure(doc, host, check); !ok {
		logger.Warn("graph page structure looks unusual, extracting anyway", "score", score)
	}

	req := &Request{
		Host:      host,
		Check:     check,
		Period:    period,
		Session:   session,
		Page:      page,
		Document:  doc,
		WindowEnd: s.now().UTC().Truncate(time.Second),
	}

	graph := &Cascade{
		Stage: "graph",
		Strategies: []Strategy{
			NewStrategy("ajax_render", s.renderGraphs),
			NewStrategy("script_fallback", s.scriptArrays),
		},
		Logger:  logger,
		Metrics: s.metrics,
	}
	combined := graph.Run(ctx, req)

	tableSamples := s.tables.Extract(doc, req.WindowEnd)
	s.metrics.RecordOutcome("tables", "table_statistics", Success(tableSamples).Status)
	combined = append(combined, tableSamples...)

	if len(combined) <= 1 && ctx.Err() == nil {
		logger.Info("graph and table extraction found too little, trying alternatives", "samples", len(combined))
		combined = append(combined, s.alternatives.TryAll(ctx, req, len(combined))...)
	}

	return s.normalizer.Normalize(combined), nil
}

// abandon turns a deadline into an empty result and passes other errors on
func (s *HistoryService) abandon(ctx context.Context, stage string, err error) ([]domain.Sample, error) {
	if ctx.Err() != nil || common.IsContextCanceled(err) {
		common.LoggerFromContext(ctx).Warn("extraction stopped", "stage", stage, "error", err)
		return nil, nil
	}
	return nil, err
}

// renderGraphs replays every graph loader call on the page and merges the curves
func (s *HistoryService) renderGraphs(ctx context.Context, req *Request) Outcome {
	all := s.params.ExtractAll(req.Page)
	if len(all) == 0 {
		return Empty()
	}

	referer := req.Session.URL(graphPage, nil)
	var (
		samples []domain.Sample
		errs    []error
	)
	for i, params := range all {
		if err := common.HandleContextError(ctx, "graph render"); err != nil {
			errs = append(errs, err)
			break
		}
		resp, err := s.ajax.Render(ctx, req.Session, params, req.Period, req.WindowEnd, referer)
		if err != nil {
			errs = append(errs, fmt.Errorf("graph %d: %w", i, err))
			continue
		}
		bounds := resp.Bounds
		samples = append(samples, s.graphs.Parse(resp.Body, &bounds)...)
	}

	if len(samples) == 0 && len(errs) > 0 {
		return SoftFailure(errors.Join(errs...))
	}
	return Success(samples)
}

func (s *HistoryService) scriptArrays(_ context.Context, req *Request) Outcome {
	return Success(s.scripts.Extract(req.Document.Scripts()))
}
