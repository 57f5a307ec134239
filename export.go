package datavet

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// ExportConfig defines outbound quality metrics settings.
type ExportConfig struct {
	// Enabled turns on metrics export after each validation run.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the full Prometheus remote write URL
	// (e.g., "http://prometheus:9090/api/v1/write").
	Endpoint string `yaml:"endpoint"`

	// Headers are added to every outbound request (e.g., auth tokens).
	Headers map[string]string `yaml:"headers"`

	// BatchSize is the maximum samples per request. Default: 500.
	BatchSize int `yaml:"batch_size"`

	// MaxBatchBytes splits requests whose serialized size exceeds this
	// many bytes. Default: 512KB.
	MaxBatchBytes int `yaml:"max_batch_bytes"`

	// FlushInterval is how often buffered samples are pushed. Default: 5s.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Timeout for each outbound request. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries bounds retry attempts per push (default: 3).
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the initial backoff between retries (default: 100ms).
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// HTTPClient allows injecting a custom HTTP client for testing.
	// If nil, a default client is created with the configured timeout.
	HTTPClient HTTPDoer `yaml:"-"`
}

// DefaultExportConfig returns export settings suitable for a local
// Prometheus. Enabled and Endpoint still have to be set.
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		BatchSize:     500,
		MaxBatchBytes: 512 * 1024,
		FlushInterval: 5 * time.Second,
		Timeout:       10 * time.Second,
		MaxRetries:    3,
		RetryBackoff:  100 * time.Millisecond,
	}
}

func (c *ExportConfig) normalize() {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = 512 * 1024
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
}

// qualitySample is one gauge reading queued for export.
type qualitySample struct {
	name   string
	labels map[string]string
	value  float64
	ts     int64 // milliseconds since epoch
}

// Exporter pushes per-run quality gauges to a Prometheus remote write
// endpoint:
//
//	datavet_validation_clean{environment}
//	datavet_validation_anomalies{environment,feature,kind,severity}
//	datavet_feature_presence{environment,feature}
//	datavet_drift_distance{environment,feature}
//
// Samples are queued and flushed in batches. A full queue drops samples
// rather than blocking validation.
type Exporter struct {
	cfg      ExportConfig
	queue    chan qualitySample
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	client   HTTPDoer
	retryer  *Retryer
	cb       *CircuitBreaker
}

// NewExporter creates an exporter. Call Start to begin the flush loop.
func NewExporter(cfg ExportConfig) *Exporter {
	cfg.normalize()
	e := &Exporter{
		cfg:   cfg,
		queue: make(chan qualitySample, 10000),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	if cfg.HTTPClient != nil {
		e.client = cfg.HTTPClient
	} else {
		e.client = &http.Client{Timeout: cfg.Timeout}
	}
	e.retryer = NewRetryer(RetryConfig{
		MaxAttempts:       cfg.MaxRetries,
		InitialBackoff:    cfg.RetryBackoff,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryIf:           IsRetryable,
	})
	e.cb = NewCircuitBreaker(5, 30*time.Second)
	return e
}

// Start launches the background flush loop.
func (e *Exporter) Start() {
	go e.loop()
}

// Stop flushes the current batch and waits for the loop to exit.
func (e *Exporter) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

// ExportReport queues quality gauges for one validation run. Presence
// gauges come from the validated statistics; anomaly and drift gauges
// from the report. Never blocks.
func (e *Exporter) ExportReport(report *Report, stats *DatasetStatistics) {
	if report == nil {
		return
	}
	now := time.Now().UnixMilli()
	env := report.Environment

	clean := 0.0
	if report.Clean() {
		clean = 1.0
	}
	e.enqueue(qualitySample{
		name:   "datavet_validation_clean",
		labels: map[string]string{"environment": env},
		value:  clean,
		ts:     now,
	})

	type anomalyKey struct {
		feature  string
		kind     AnomalyKind
		severity Severity
	}
	counts := make(map[anomalyKey]int)
	for _, a := range report.Anomalies {
		counts[anomalyKey{a.Feature, a.Kind, a.Severity}]++
		if a.Kind == AnomalyDrift {
			e.enqueue(qualitySample{
				name: "datavet_drift_distance",
				labels: map[string]string{
					"environment": env,
					"feature":     a.Feature,
				},
				value: a.Extent,
				ts:    now,
			})
		}
	}
	for key, n := range counts {
		e.enqueue(qualitySample{
			name: "datavet_validation_anomalies",
			labels: map[string]string{
				"environment": env,
				"feature":     key.feature,
				"kind":        key.kind.String(),
				"severity":    key.severity.String(),
			},
			value: float64(n),
			ts:    now,
		})
	}

	if stats != nil {
		for _, fs := range stats.Features() {
			e.enqueue(qualitySample{
				name: "datavet_feature_presence",
				labels: map[string]string{
					"environment": env,
					"feature":     fs.Name,
				},
				value: fs.Presence(),
				ts:    now,
			})
		}
	}
}

func (e *Exporter) enqueue(s qualitySample) {
	select {
	case e.queue <- s:
	default:
	}
}

func (e *Exporter) loop() {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]qualitySample, 0, e.cfg.BatchSize)
	for {
		select {
		case <-e.stop:
			e.flush(batch)
			return
		case s := <-e.queue:
			batch = append(batch, s)
			if len(batch) >= e.cfg.BatchSize {
				e.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				e.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (e *Exporter) flush(samples []qualitySample) {
	if len(samples) == 0 || e.cfg.Endpoint == "" {
		return
	}

	req := prompb.WriteRequest{Timeseries: make([]prompb.TimeSeries, 0, len(samples))}
	for _, s := range samples {
		req.Timeseries = append(req.Timeseries, toTimeSeries(s))
	}
	payload, err := req.Marshal()
	if err != nil {
		slog.Error("metrics export marshal error", "err", err)
		return
	}

	if len(payload) > e.cfg.MaxBatchBytes {
		mid := len(samples) / 2
		if mid > 0 {
			e.flush(samples[:mid])
			e.flush(samples[mid:])
		}
		return
	}

	compressed := snappy.Encode(nil, payload)

	err = e.cb.Execute(func() error {
		return e.sendWithRetry(compressed)
	})
	if err == ErrCircuitOpen {
		slog.Warn("metrics export circuit breaker open, dropping samples", "count", len(samples))
	}
}

// toTimeSeries converts a sample to a single-point series. Remote write
// requires labels sorted by name, with __name__ carrying the metric name.
func toTimeSeries(s qualitySample) prompb.TimeSeries {
	labels := make([]prompb.Label, 0, len(s.labels)+1)
	labels = append(labels, prompb.Label{Name: "__name__", Value: s.name})
	for name, value := range s.labels {
		if value == "" {
			continue
		}
		labels = append(labels, prompb.Label{Name: name, Value: value})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
	return prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: s.value, Timestamp: s.ts}},
	}
}

func (e *Exporter) sendWithRetry(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout*time.Duration(e.cfg.MaxRetries))
	defer cancel()

	result := e.retryer.Do(ctx, func() error {
		return e.send(payload)
	})
	if result.LastErr != nil {
		slog.Error("metrics export failed", "attempts", result.Attempts, "err", result.LastErr)
	}
	return result.LastErr
}

func (e *Exporter) send(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	for name, value := range e.cfg.Headers {
		req.Header.Set(name, value)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error: status %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("rate limited: status 429")
	}
	if resp.StatusCode >= 400 {
		// Client errors are not retryable
		slog.Warn("remote write endpoint returned client error", "status", resp.StatusCode)
		return nil
	}
	return nil
}
