package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wgomg/pulsegen/internal/config"
	"github.com/wgomg/pulsegen/internal/feedback"
	"github.com/wgomg/pulsegen/internal/llm"
	"github.com/wgomg/pulsegen/internal/taxonomy"
	"github.com/wgomg/pulsegen/internal/trends"
	"github.com/wgomg/pulsegen/internal/utils"
)

const (
	defaultChunkSize = 20
	defaultMinChars  = 4
)

type Pipeline struct {
	store       *taxonomy.Store
	matcher     *taxonomy.Matcher
	inference   Inference
	source      feedback.Source
	logger      *utils.Logger
	recorder    Recorder
	chunkSize   int
	minChars    int
	concurrency int

	// admitMu makes match, contains and add one step across chunks and dates.
	admitMu sync.Mutex
}

// New wires a pipeline. source may be nil when only ProcessDailyBatch is used;
// recorder may be nil.
func New(
	store *taxonomy.Store,
	matcher *taxonomy.Matcher,
	inference Inference,
	source feedback.Source,
	cfg config.PipelineConfig,
	logger *utils.Logger,
	recorder Recorder,
) *Pipeline {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	p := &Pipeline{
		store:       store,
		matcher:     matcher,
		inference:   inference,
		source:      source,
		logger:      logger.Named("pipeline"),
		recorder:    recorder,
		chunkSize:   cfg.ChunkSize,
		minChars:    cfg.MinContentChars,
		concurrency: cfg.ExtractConcurrency,
	}
	if p.chunkSize < 1 {
		p.chunkSize = defaultChunkSize
	}
	if p.minChars < 1 {
		p.minChars = defaultMinChars
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	return p
}

// ProcessDailyBatch extracts topics from one day of reviews, maps them onto
// the taxonomy (admitting unseen ones) and returns the per-topic counts.
// Extraction failures only drop the affected chunk. Embedding and save
// failures abort the batch.
func (p *Pipeline) ProcessDailyBatch(ctx context.Context, date string, reviews []feedback.Review) (map[string]int, error) {
	reqID := runID(ctx)
	start := time.Now()
	defer func() { p.recorder.BatchDuration(time.Since(start)) }()

	chunks := buildChunks(reviews, p.chunkSize, p.minChars)
	p.logger.Info(&reqID, "Processing %d reviews for %s in %d batches", len(reviews), date, len(chunks))
	p.recorder.ReviewsProcessed(len(reviews))

	counts := make(map[string]int)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := p.extractAll(ctx, chunks)
	for i := range chunks {
		var ext llm.Extraction
		select {
		case ext = <-results[i]:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		p.logger.Debug(&reqID, "Batch %d/%d: ~%d tokens, %d topics",
			i+1, len(chunks), utils.EstimateTokensFromWords(utils.CountWords(chunks[i])), len(ext.Topics))

		p.recorder.Extraction(ext.Status)
		if ext.Status == llm.StatusDegraded {
			p.logger.Error(&reqID, "Batch %d/%d of %s degraded: %s", i+1, len(chunks), date, ext.Reason)
		}

		for _, raw := range ext.Topics {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			name, err := p.resolve(ctx, reqID, raw)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve topic %q: %w", raw, err)
			}
			counts[name]++
		}

		p.logger.Info(&reqID, "Processed batch %d/%d", i+1, len(chunks))
	}

	if err := p.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save taxonomy: %w", err)
	}
	return counts, nil
}

// extractAll starts extraction for every chunk, at most p.concurrency at a
// time. Result i arrives on channel i.
func (p *Pipeline) extractAll(ctx context.Context, chunks []string) []chan llm.Extraction {
	results := make([]chan llm.Extraction, len(chunks))
	for i := range results {
		results[i] = make(chan llm.Extraction, 1)
	}

	go func() {
		var g errgroup.Group
		g.SetLimit(p.concurrency)
		for i, text := range chunks {
			g.Go(func() error {
				results[i] <- p.inference.ExtractTopics(ctx, text)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return results
}

func (p *Pipeline) resolve(ctx context.Context, reqID, raw string) (string, error) {
	p.admitMu.Lock()
	defer p.admitMu.Unlock()

	m, err := p.matcher.Match(ctx, raw)
	if err != nil {
		return "", err
	}
	p.recorder.TopicMatched(m.Existing)
	if m.Existing || p.store.Contains(m.Name) {
		return m.Name, nil
	}

	added, err := p.store.Add(ctx, m.Name)
	if err != nil {
		return "", err
	}
	if added {
		p.recorder.TopicAdmitted()
		p.logger.Info(&reqID, "[NEW TOPIC] %s", m.Name)
	}
	return m.Name, nil
}

// Analyze runs the daily pipeline for each date of appName and builds the
// trend report with insights.
func (p *Pipeline) Analyze(ctx context.Context, appName string, dates []string) (*Report, error) {
	if p.source == nil {
		return nil, fmt.Errorf("no feedback source configured")
	}
	reqID := runID(ctx)
	ctx = utils.WithRequestID(ctx, reqID)

	appID, err := p.source.ResolveApp(ctx, appName, reqID)
	if err != nil {
		return nil, err
	}
	p.logger.Info(&reqID, "Analyzing %s (%s) over %d dates", appName, appID, len(dates))

	daily := make(trends.DailyCounts, len(dates))
	for _, date := range dates {
		reviews, err := p.source.Reviews(ctx, appID, date, reqID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch reviews for %s: %w", date, err)
		}
		if len(reviews) == 0 {
			p.logger.Warn(&reqID, "No reviews for %s on %s", appID, date)
			daily[date] = map[string]int{}
			continue
		}

		counts, err := p.ProcessDailyBatch(ctx, date, reviews)
		if err != nil {
			return nil, fmt.Errorf("failed to process %s: %w", date, err)
		}
		daily[date] = counts
	}

	result := trends.AnalyzeTrends(daily)
	insight := p.inference.GenerateInsights(ctx, result.Matrix, result.NewTopics, result.Spikes)
	p.recorder.Insight(insight.Degraded)

	return &Report{
		Topics:           result.Matrix.Topics(),
		Trend:            result.Matrix,
		Dates:            result.Dates,
		NewTopics:        result.NewTopics,
		Spikes:           result.Spikes,
		Insights:         insight.Text,
		InsightsDegraded: insight.Degraded,
	}, nil
}

func runID(ctx context.Context) string {
	if id := utils.RequestID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}
