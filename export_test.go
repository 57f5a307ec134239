package datavet

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// fakeRemoteWrite records remote write pushes and answers with a fixed
// status per call, defaulting to 204.
type fakeRemoteWrite struct {
	mu       sync.Mutex
	bodies   [][]byte
	headers  []http.Header
	statuses []int
}

func (f *fakeRemoteWrite) Do(req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.headers = append(f.headers, req.Header.Clone())
	status := http.StatusNoContent
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		f.statuses = f.statuses[1:]
	}
	f.mu.Unlock()
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func (f *fakeRemoteWrite) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

func (f *fakeRemoteWrite) decode(t *testing.T, i int) prompb.WriteRequest {
	t.Helper()
	f.mu.Lock()
	body := f.bodies[i]
	f.mu.Unlock()
	raw, err := snappy.Decode(nil, body)
	if err != nil {
		t.Fatalf("snappy decode failed: %v", err)
	}
	var req prompb.WriteRequest
	if err := req.Unmarshal(raw); err != nil {
		t.Fatalf("unmarshal write request: %v", err)
	}
	return req
}

func drainSamples(e *Exporter) []qualitySample {
	var samples []qualitySample
	for {
		select {
		case s := <-e.queue:
			samples = append(samples, s)
			continue
		default:
		}
		break
	}
	return samples
}

func exportReport() *Report {
	return &Report{
		Environment: "serving",
		Anomalies: []Anomaly{
			{Feature: "age", Kind: AnomalyOutOfRange, Severity: SeverityError},
			{Feature: "age", Kind: AnomalyOutOfRange, Severity: SeverityError},
			{Feature: "score", Kind: AnomalyDrift, Severity: SeverityWarning, Extent: 0.4},
		},
	}
}

func TestExporter_ReportGauges(t *testing.T) {
	e := NewExporter(ExportConfig{Endpoint: "http://prometheus:9090/api/v1/write"})

	stats := mustComputeRows(t, []Row{
		{"age": Int(30), "score": Float(0.5)},
		{"age": Int(40)},
	})
	e.ExportReport(exportReport(), stats)

	byName := make(map[string][]qualitySample)
	for _, s := range drainSamples(e) {
		byName[s.name] = append(byName[s.name], s)
	}

	clean := byName["datavet_validation_clean"]
	if len(clean) != 1 {
		t.Fatalf("expected 1 clean gauge, got %d", len(clean))
	}
	if clean[0].value != 0 {
		t.Errorf("a run with errors should report clean=0, got %v", clean[0].value)
	}
	if clean[0].labels["environment"] != "serving" {
		t.Errorf("expected environment label serving, got %q", clean[0].labels["environment"])
	}

	// Identical anomalies aggregate into one counted sample.
	anomalies := byName["datavet_validation_anomalies"]
	if len(anomalies) != 2 {
		t.Fatalf("expected 2 anomaly gauges, got %d", len(anomalies))
	}
	for _, s := range anomalies {
		switch s.labels["kind"] {
		case "OUT_OF_RANGE":
			if s.value != 2 {
				t.Errorf("expected 2 out-of-range anomalies, got %v", s.value)
			}
			if s.labels["severity"] != "ERROR" {
				t.Errorf("expected ERROR severity, got %q", s.labels["severity"])
			}
		case "DISTRIBUTION_DRIFT":
			if s.value != 1 {
				t.Errorf("expected 1 drift anomaly, got %v", s.value)
			}
		default:
			t.Errorf("unexpected anomaly kind %q", s.labels["kind"])
		}
	}

	drift := byName["datavet_drift_distance"]
	if len(drift) != 1 {
		t.Fatalf("expected 1 drift gauge, got %d", len(drift))
	}
	if drift[0].value != 0.4 {
		t.Errorf("expected drift distance 0.4, got %v", drift[0].value)
	}
	if drift[0].labels["feature"] != "score" {
		t.Errorf("expected feature label score, got %q", drift[0].labels["feature"])
	}

	presence := byName["datavet_feature_presence"]
	if len(presence) != 2 {
		t.Fatalf("expected 2 presence gauges, got %d", len(presence))
	}
	for _, s := range presence {
		switch s.labels["feature"] {
		case "age":
			if s.value != 1.0 {
				t.Errorf("expected age presence 1.0, got %v", s.value)
			}
		case "score":
			if s.value != 0.5 {
				t.Errorf("expected score presence 0.5, got %v", s.value)
			}
		default:
			t.Errorf("unexpected presence feature %q", s.labels["feature"])
		}
	}

	// A nil report queues nothing.
	e.ExportReport(nil, stats)
	if extra := drainSamples(e); len(extra) != 0 {
		t.Errorf("expected no samples for a nil report, got %d", len(extra))
	}
}

func TestExporter_RemoteWritePush(t *testing.T) {
	fake := &fakeRemoteWrite{}
	e := NewExporter(ExportConfig{
		Endpoint:      "http://prometheus:9090/api/v1/write",
		FlushInterval: 10 * time.Millisecond,
		HTTPClient:    fake,
	})
	e.Start()

	e.ExportReport(exportReport(), nil)

	deadline := time.Now().Add(5 * time.Second)
	for fake.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	e.Stop()
	if fake.calls() == 0 {
		t.Fatal("expected at least one remote write push")
	}

	fake.mu.Lock()
	hdr := fake.headers[0]
	fake.mu.Unlock()
	if hdr.Get("Content-Encoding") != "snappy" {
		t.Errorf("expected snappy encoding, got %q", hdr.Get("Content-Encoding"))
	}
	if hdr.Get("Content-Type") != "application/x-protobuf" {
		t.Errorf("expected protobuf content type, got %q", hdr.Get("Content-Type"))
	}
	if hdr.Get("X-Prometheus-Remote-Write-Version") == "" {
		t.Error("expected a remote write version header")
	}

	req := fake.decode(t, 0)
	names := make(map[string]bool)
	for _, ts := range req.Timeseries {
		if len(ts.Samples) != 1 {
			t.Errorf("expected 1 sample per series, got %d", len(ts.Samples))
		}
		var name string
		for i, l := range ts.Labels {
			if i > 0 && ts.Labels[i-1].Name >= l.Name {
				t.Errorf("labels out of order: %q before %q", ts.Labels[i-1].Name, l.Name)
			}
			if l.Name == "__name__" {
				name = l.Value
			}
		}
		if name == "" {
			t.Error("series without __name__")
		}
		names[name] = true
	}
	for _, want := range []string{"datavet_validation_clean", "datavet_validation_anomalies", "datavet_drift_distance"} {
		if !names[want] {
			t.Errorf("missing series %s", want)
		}
	}
}

func TestExporter_RetriesServerErrors(t *testing.T) {
	fake := &fakeRemoteWrite{statuses: []int{503, 503, 204}}
	e := NewExporter(ExportConfig{
		Endpoint:      "http://prometheus:9090/api/v1/write",
		FlushInterval: time.Hour,
		RetryBackoff:  time.Millisecond,
		MaxRetries:    3,
		HTTPClient:    fake,
	})

	e.flush([]qualitySample{{name: "datavet_validation_clean", value: 1, ts: time.Now().UnixMilli()}})

	if got := fake.calls(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestExporter_ClientErrorsNotRetried(t *testing.T) {
	fake := &fakeRemoteWrite{statuses: []int{400}}
	e := NewExporter(ExportConfig{
		Endpoint:      "http://prometheus:9090/api/v1/write",
		FlushInterval: time.Hour,
		RetryBackoff:  time.Millisecond,
		HTTPClient:    fake,
	})

	e.flush([]qualitySample{{name: "datavet_validation_clean", value: 1, ts: time.Now().UnixMilli()}})

	if got := fake.calls(); got != 1 {
		t.Errorf("expected 1 attempt for a client error, got %d", got)
	}
}

func TestToTimeSeries(t *testing.T) {
	ts := toTimeSeries(qualitySample{
		name: "datavet_feature_presence",
		labels: map[string]string{
			"feature":     "age",
			"environment": "",
		},
		value: 0.75,
		ts:    1700000000000,
	})

	// Empty label values are dropped; the rest arrive sorted with
	// __name__ first.
	if len(ts.Labels) != 2 {
		t.Fatalf("expected 2 labels, got %d", len(ts.Labels))
	}
	if ts.Labels[0].Name != "__name__" || ts.Labels[0].Value != "datavet_feature_presence" {
		t.Errorf("unexpected first label %+v", ts.Labels[0])
	}
	if ts.Labels[1].Name != "feature" || ts.Labels[1].Value != "age" {
		t.Errorf("unexpected second label %+v", ts.Labels[1])
	}
	if len(ts.Samples) != 1 || ts.Samples[0].Value != 0.75 || ts.Samples[0].Timestamp != 1700000000000 {
		t.Errorf("unexpected samples %+v", ts.Samples)
	}
}
