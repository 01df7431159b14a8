package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wgomg/pulsegen/internal/llm"
)

var taxonomyTopicsDesc = prometheus.NewDesc(
	"pulsegen_taxonomy_topics",
	"Number of canonical topics currently in the taxonomy",
	nil,
	nil,
)

// taxonomyCollector reads the catalog size on each scrape.
type taxonomyCollector struct {
	size func() int
}

func (c *taxonomyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- taxonomyTopicsDesc
}

func (c *taxonomyCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(taxonomyTopicsDesc, prometheus.GaugeValue, float64(c.size()))
}

// Collector exports pipeline and inference metrics from its own registry.
type Collector struct {
	registry *prometheus.Registry

	llmAttempts    *prometheus.CounterVec
	extractions    *prometheus.CounterVec
	insights       *prometheus.CounterVec
	topicMatches   *prometheus.CounterVec
	topicsAdmitted prometheus.Counter
	reviews        prometheus.Counter
	embeddingCache *prometheus.CounterVec
	batchDuration  prometheus.Histogram
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		llmAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsegen_llm_attempts_total",
			Help: "LLM backend calls by backend and outcome",
		}, []string{"backend", "outcome"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsegen_extractions_total",
			Help: "Topic extractions per chunk by status",
		}, []string{"status"}),
		insights: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsegen_insights_total",
			Help: "Insight generations by status",
		}, []string{"status"}),
		topicMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsegen_topic_matches_total",
			Help: "Raw topics resolved to an existing topic or kept as new",
		}, []string{"result"}),
		topicsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulsegen_topics_admitted_total",
			Help: "Topics added to the taxonomy",
		}),
		reviews: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulsegen_reviews_processed_total",
			Help: "Reviews received by the daily pipeline",
		}),
		embeddingCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsegen_embedding_cache_total",
			Help: "Embedding cache lookups by result",
		}, []string{"result"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulsegen_batch_duration_seconds",
			Help:    "Duration of one daily batch",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.llmAttempts,
		c.extractions,
		c.insights,
		c.topicMatches,
		c.topicsAdmitted,
		c.reviews,
		c.embeddingCache,
		c.batchDuration,
	)
	return c
}

// WatchTaxonomy exports size() as pulsegen_taxonomy_topics. Call once.
func (c *Collector) WatchTaxonomy(size func() int) {
	c.registry.MustRegister(&taxonomyCollector{size: size})
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) LLMAttempt(backend string, outcome llm.Outcome) {
	c.llmAttempts.WithLabelValues(backend, string(outcome)).Inc()
}

func (c *Collector) Extraction(status llm.ExtractionStatus) {
	c.extractions.WithLabelValues(string(status)).Inc()
}

func (c *Collector) Insight(degraded bool) {
	status := "ok"
	if degraded {
		status = "degraded"
	}
	c.insights.WithLabelValues(status).Inc()
}

func (c *Collector) TopicMatched(existing bool) {
	result := "new"
	if existing {
		result = "existing"
	}
	c.topicMatches.WithLabelValues(result).Inc()
}

func (c *Collector) TopicAdmitted() {
	c.topicsAdmitted.Inc()
}

func (c *Collector) ReviewsProcessed(n int) {
	c.reviews.Add(float64(n))
}

func (c *Collector) BatchDuration(d time.Duration) {
	c.batchDuration.Observe(d.Seconds())
}

func (c *Collector) EmbeddingCacheHit() {
	c.embeddingCache.WithLabelValues("hit").Inc()
}

func (c *Collector) EmbeddingCacheMiss() {
	c.embeddingCache.WithLabelValues("miss").Inc()
}
