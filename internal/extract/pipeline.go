// Package extract turns observance list pages into normalized Observance
// records. A structured extraction service is tried first; when it fails or
// returns nothing usable the page is fetched and parsed with per-source
// regular expressions.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/observance"
)

// Method records which path produced a Result.
type Method string

// Extraction methods.
const (
	MethodNone       Method = ""
	MethodStructured Method = "structured"
	MethodRegex      Method = "regex"
)

// Render modes for Source.Render.
// RenderAuto fetches statically and switches to the browser when the page
// looks unrendered.
const (
	RenderStatic   = "static"
	RenderHeadless = "headless"
	RenderAuto     = "auto"
)

// Stages reported in ExtractionError.
const (
	StageStructured = "structured"
	StageFetch      = "fetch"
	StageConvert    = "convert"
	StageParse      = "parse"
)

// Source describes one scraped observance list.
type Source struct {
	Name        string `mapstructure:"name"`
	URL         string `mapstructure:"url"`
	Instruction string `mapstructure:"instruction"`
	Parser      string `mapstructure:"parser"`
	Render      string `mapstructure:"render"`
}

// Default source names and pages.
const (
	UNURL     = "https://www.un.org/en/observances/list-days-weeks"
	WHOURL    = "https://www.who.int/campaigns"
	UNESCOURL = "https://www.unesco.org/en/days/list"
)

// DefaultSources returns the built-in scraped sources keyed by name.
func DefaultSources() map[string]Source {
	return map[string]Source{
		observance.SourceUN: {
			Name:   observance.SourceUN,
			URL:    UNURL,
			Parser: ParserUN,
			Render: RenderStatic,
			Instruction: "Extract ALL UN International Days from this page. For each entry give the " +
				"exact day number and full month name, the observance name WITHOUT agency suffixes " +
				"such as [WHO] or [UNESCO], and the URL from its link. Skip week-long and decade " +
				"entries. Pick 1 relevant emoji.",
		},
		observance.SourceWHO: {
			Name:   observance.SourceWHO,
			URL:    WHOURL,
			Parser: ParserWHO,
			Render: RenderStatic,
			Instruction: "Extract ALL WHO Global Health Days and campaigns from this page, including " +
				"both the world health days and the other campaigns sections. Give the exact day " +
				"number and full month name; for date ranges use the START date. Construct full " +
				"URLs with the prefix https://www.who.int. Skip week-long events. Pick 1 health emoji.",
		},
		observance.SourceUNESCO: {
			Name:   observance.SourceUNESCO,
			URL:    UNESCOURL,
			Parser: ParserUNESCO,
			Render: RenderStatic,
			Instruction: "Extract ALL UNESCO International Days from this page. Give the exact day " +
				"number and full month name, and construct full URLs with the prefix " +
				"https://www.unesco.org. Skip week and decade entries. Pick 1 relevant emoji.",
		},
	}
}

// Extractor calls a structured extraction service for a page. It returns the
// raw response body, which ParseItems understands.
type Extractor interface {
	Extract(ctx context.Context, url, instruction string) ([]byte, error)
}

// ExtractionError reports which stage of an extraction failed.
type ExtractionError struct {
	Source string
	Stage  string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s: %v", e.Source, e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// ErrNoObservances is reported when a page yields nothing usable.
var ErrNoObservances = errors.New("no observances found on page")

// Result is the outcome of one extraction. On total failure Observances is
// empty and Err is set.
type Result struct {
	Observances []observance.Observance
	Method      Method
	Err         *ExtractionError
	Duration    time.Duration
}

// Pipeline runs extractions. Any collaborator may be nil: a nil structured
// extractor skips the primary path, a nil renderer falls back to the static
// fetcher for headless sources.
type Pipeline struct {
	fetcher    observance.Fetcher
	renderer   observance.Fetcher
	structured Extractor
	detector   RenderDetector
	logger     *zap.Logger
}

// RenderDetector inspects a static response for RenderAuto sources.
type RenderDetector interface {
	NeedsRender(resp observance.FetchResponse) bool
}

// WithRenderDetector enables promotion of RenderAuto sources to the
// renderer. Without a detector those sources behave like RenderStatic.
func (p *Pipeline) WithRenderDetector(d RenderDetector) *Pipeline {
	p.detector = d
	return p
}

// NewPipeline wires a Pipeline.
func NewPipeline(fetcher, renderer observance.Fetcher, structured Extractor, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher:    fetcher,
		renderer:   renderer,
		structured: structured,
		logger:     logger.Named("extract"),
	}
}

// Run extracts observances for src. It never panics and never returns a bare
// error; failures are described by Result.Err.
func (p *Pipeline) Run(ctx context.Context, src Source) (res Result) {
	start := time.Now()
	logger := p.logger.With(zap.String("source", src.Name), zap.String("url", src.URL))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("extraction panicked", zap.Any("panic", r))
			res = Result{
				Observances: []observance.Observance{},
				Err:         &ExtractionError{Source: src.Name, Stage: StageParse, Err: fmt.Errorf("panic: %v", r)},
			}
		}
		res.Duration = time.Since(start)
	}()

	var structuredErr error
	if p.structured != nil && src.Instruction != "" {
		list, err := p.runStructured(ctx, src, logger)
		if err == nil && len(list) > 0 {
			logger.Info("structured extraction succeeded", zap.Int("count", len(list)))
			return Result{Observances: list, Method: MethodStructured}
		}
		if err == nil {
			err = ErrNoObservances
		}
		structuredErr = err
		logger.Warn("structured extraction failed, falling back to parser", zap.Error(err))
	}

	if ctx.Err() != nil {
		return failed(src, StageFetch, ctx.Err())
	}

	list, stage, err := p.runFallback(ctx, src)
	if err != nil {
		if structuredErr != nil {
			err = errors.Join(structuredErr, err)
		}
		logger.Error("extraction failed", zap.String("stage", stage), zap.Error(err))
		return failed(src, stage, err)
	}
	logger.Info("parser extraction succeeded", zap.Int("count", len(list)))
	return Result{Observances: list, Method: MethodRegex}
}

func failed(src Source, stage string, err error) Result {
	return Result{
		Observances: []observance.Observance{},
		Err:         &ExtractionError{Source: src.Name, Stage: stage, Err: err},
	}
}

func (p *Pipeline) runStructured(ctx context.Context, src Source, logger *zap.Logger) ([]observance.Observance, error) {
	raw, err := p.structured.Extract(ctx, src.URL, src.Instruction)
	if err != nil {
		return nil, fmt.Errorf("call extraction service: %w", err)
	}
	items, parseStats, err := ParseItems(raw)
	if err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}
	list, stats := ProcessItems(src, items)
	if stats.Invalid > 0 || stats.Duplicate > 0 || parseStats.ParseErrors > 0 || parseStats.Unexpected > 0 {
		logger.Info("skipped structured items",
			zap.Int("chunks", parseStats.Chunks),
			zap.Int("parse_errors", parseStats.ParseErrors),
			zap.Int("unexpected", parseStats.Unexpected),
			zap.Int("invalid", stats.Invalid),
			zap.Int("duplicate", stats.Duplicate),
		)
	}
	return list, nil
}

func (p *Pipeline) runFallback(ctx context.Context, src Source) ([]observance.Observance, string, error) {
	f := p.fetcher
	if strings.EqualFold(src.Render, RenderHeadless) && p.renderer != nil {
		f = p.renderer
	}
	if f == nil {
		return nil, StageFetch, errors.New("no fetcher configured")
	}
	resp, err := f.Fetch(ctx, observance.FetchRequest{URL: src.URL, Method: http.MethodGet})
	if err != nil {
		return nil, StageFetch, fmt.Errorf("fetch page: %w", err)
	}
	if p.promote(src, resp) {
		p.logger.Info("promoting source to headless render", zap.String("source", src.Name))
		rendered, err := p.renderer.Fetch(ctx, observance.FetchRequest{URL: src.URL, Method: http.MethodGet})
		if err != nil {
			p.logger.Warn("headless render failed, keeping static page", zap.String("source", src.Name), zap.Error(err))
		} else {
			resp = rendered
		}
	}
	text, err := Markdown(resp.Body)
	if err != nil {
		return nil, StageConvert, err
	}
	list := LookupParser(src.Parser)(src, text)
	if len(list) == 0 {
		return nil, StageParse, ErrNoObservances
	}
	return list, "", nil
}

func (p *Pipeline) promote(src Source, resp observance.FetchResponse) bool {
	if !strings.EqualFold(src.Render, RenderAuto) || p.detector == nil || p.renderer == nil || resp.UsedHeadless {
		return false
	}
	return p.detector.NeedsRender(resp)
}
