package datavet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// StatisticsComputer provides statistics passes over record sources.
// This interface allows HTTP handlers to be tested independently of the engine.
type StatisticsComputer interface {
	ComputeStatistics(src RecordSource, opts *ComputeOptions) (*DatasetStatistics, error)
	ComputeWithSchema(src RecordSource) (*DatasetStatistics, error)
}

// SchemaProposer proposes schema candidates from observed statistics.
// This interface allows HTTP handlers to be tested independently of the engine.
type SchemaProposer interface {
	InferSchema(stats *DatasetStatistics) (*Schema, error)
}

// SchemaAdopter manages the working schema.
type SchemaAdopter interface {
	AdoptSchema(ctx context.Context, candidate *Schema) (int, error)
}

// RunValidator validates statistics and records runs.
type RunValidator interface {
	Validate(ctx context.Context, stats *DatasetStatistics, opts ValidateOptions) (*RunResult, error)
}

// Ensure Engine implements the interfaces
var (
	_ StatisticsComputer = (*Engine)(nil)
	_ SchemaProposer     = (*Engine)(nil)
	_ SchemaAdopter      = (*Engine)(nil)
	_ RunValidator       = (*Engine)(nil)
)

type httpServer struct {
	srv *http.Server
	rl  *rateLimiter
}

type statisticsRequest struct {
	Rows []map[string]any `json:"rows"`
	Name string           `json:"name,omitempty"`
}

type inferRequest struct {
	Rows      []map[string]any `json:"rows,omitempty"`
	StatsName string           `json:"stats_name,omitempty"`
}

type validateRequest struct {
	Rows         []map[string]any `json:"rows,omitempty"`
	StatsName    string           `json:"stats_name,omitempty"`
	Environment  string           `json:"environment,omitempty"`
	BaselineName string           `json:"baseline_name,omitempty"`
}

const (
	// maxBodySize is the maximum allowed request body size (10MB)
	maxBodySize = 10 * 1024 * 1024
)

// rateLimiter implements a simple token bucket rate limiter per IP
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
	cleanup  time.Duration // cleanup interval

	stop     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// newRateLimiter creates a rate limiter with the given rate per window.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		cleanup:  window * 2,
		stop:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for ip, v := range rl.visitors {
				if now.Sub(v.lastReset) > rl.cleanup {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

func (rl *rateLimiter) stopCleanup() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: now}
		return true
	}

	if now.Sub(v.lastReset) >= rl.window {
		v.tokens = rl.rate - 1
		v.lastReset = now
		return true
	}

	if v.tokens > 0 {
		v.tokens--
		return true
	}

	return false
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header
	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// rateLimitMiddleware wraps a handler with rate limiting
func rateLimitMiddleware(rl *rateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if !rl.allow(ip) {
			w.Header().Set("Retry-After", "1")
			apiError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// authenticator handles API key authentication
type authenticator struct {
	enabled      bool
	apiKeys      map[string]bool
	readOnlyKeys map[string]bool
	excludePaths map[string]bool
}

func newAuthenticator(cfg *AuthConfig) *authenticator {
	a := &authenticator{
		apiKeys:      make(map[string]bool),
		readOnlyKeys: make(map[string]bool),
		excludePaths: make(map[string]bool),
	}

	if cfg == nil || !cfg.Enabled {
		a.enabled = false
		return a
	}

	a.enabled = true
	for _, key := range cfg.APIKeys {
		a.apiKeys[key] = true
	}
	for _, key := range cfg.ReadOnlyKeys {
		a.readOnlyKeys[key] = true
	}
	for _, path := range cfg.ExcludePaths {
		a.excludePaths[path] = true
	}
	// Always allow health endpoint without auth
	a.excludePaths["/health"] = true

	return a
}

// extractAPIKey extracts the API key from the request
func extractAPIKey(r *http.Request) string {
	// Check Authorization header (Bearer token)
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	// Check X-API-Key header
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	// Check query parameter
	return r.URL.Query().Get("api_key")
}

// isWriteOperation reports whether the request mutates the working
// schema or the run ledger. Statistics and inference passes are pure
// compute, so they stay available to read-only keys even with POST.
func isWriteOperation(r *http.Request) bool {
	if r.Method == http.MethodDelete {
		return true
	}
	switch {
	case r.Method == http.MethodPut && r.URL.Path == "/api/v1/schema":
		return true
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/validate":
		return true
	}
	return false
}

// authMiddleware wraps a handler with authentication
func authMiddleware(auth *authenticator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !auth.enabled {
			next(w, r)
			return
		}

		// Check if path is excluded from auth
		if auth.excludePaths[r.URL.Path] {
			next(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			apiError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		// Check if it's a full-access key
		if auth.apiKeys[apiKey] {
			next(w, r)
			return
		}

		// Check if it's a read-only key
		if auth.readOnlyKeys[apiKey] {
			if isWriteOperation(r) {
				apiError(w, http.StatusForbidden, "read-only API key cannot adopt schemas or trigger validation runs")
				return
			}
			next(w, r)
			return
		}

		apiError(w, http.StatusUnauthorized, "invalid API key")
	}
}

// middlewareWrapper wraps handlers with authentication and rate limiting
type middlewareWrapper func(h http.HandlerFunc) http.HandlerFunc

// newHTTPMux builds the route table with authentication and rate
// limiting applied. The returned rate limiter is nil when rate limiting
// is disabled; a non-nil one must be stopped when the mux is retired.
func newHTTPMux(e *Engine) (*http.ServeMux, *rateLimiter) {
	var rl *rateLimiter
	if e.config.RateLimitPerSecond > 0 {
		rl = newRateLimiter(e.config.RateLimitPerSecond, time.Second)
	}
	auth := newAuthenticator(e.config.Auth)

	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		h = authMiddleware(auth, h)
		if rl != nil {
			h = rateLimitMiddleware(rl, h)
		}
		return h
	}

	mux := http.NewServeMux()
	setupHealthRoutes(mux, e)
	setupStatisticsRoutes(mux, e, wrap)
	setupSchemaRoutes(mux, e, wrap)
	setupValidationRoutes(mux, e, wrap)
	setupRunRoutes(mux, e, wrap)
	setupStreamRoutes(mux, e, wrap)
	return mux, rl
}

// startHTTPServer builds the route table and starts the API listener.
func startHTTPServer(e *Engine) (*httpServer, error) {
	cfg := e.config.HTTP
	mux, rl := newHTTPMux(e)

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if rl != nil {
			rl.stopCleanup()
		}
		return nil, err
	}

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		_ = srv.Serve(listener)
	}()

	return &httpServer{srv: srv, rl: rl}, nil
}

func (s *httpServer) Close() error {
	if s == nil || s.srv == nil {
		return nil
	}
	if s.rl != nil {
		s.rl.stopCleanup()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// setupHealthRoutes configures the unauthenticated health endpoint
func setupHealthRoutes(mux *http.ServeMux, e *Engine) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":         "ok",
			"schema_version": e.schemas.Version(),
		})
	})
}

// setupStatisticsRoutes configures statistics compute and lookup endpoints
func setupStatisticsRoutes(mux *http.ServeMux, e *Engine, wrap middlewareWrapper) {
	mux.HandleFunc("/api/v1/statistics", wrap(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			name := r.URL.Query().Get("name")
			if name == "" {
				names, err := e.registry.ListStatistics(r.Context())
				if err != nil {
					apiErrorFor(w, err)
					return
				}
				writeJSON(w, map[string]any{"statistics": names})
				return
			}
			stats, err := e.registry.GetStatistics(r.Context(), name)
			if err != nil {
				apiErrorFor(w, err)
				return
			}
			writeJSON(w, stats)

		case http.MethodPost:
			var req statisticsRequest
			if err := decodeJSONBody(w, r, &req); err != nil {
				apiError(w, http.StatusBadRequest, err.Error())
				return
			}
			if len(req.Rows) == 0 {
				apiError(w, http.StatusBadRequest, "rows required")
				return
			}
			rows, err := rowsFromJSON(req.Rows)
			if err != nil {
				apiErrorFor(w, err)
				return
			}
			stats, err := e.ComputeWithSchema(NewRowsSource(rows))
			if err != nil {
				apiErrorFor(w, err)
				return
			}
			if req.Name != "" {
				if _, err := e.registry.PutStatistics(r.Context(), req.Name, stats); err != nil {
					apiErrorFor(w, err)
					return
				}
			}
			writeJSON(w, stats)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

// setupSchemaRoutes configures schema inspection, inference, and adoption
func setupSchemaRoutes(mux *http.ServeMux, e *Engine, wrap middlewareWrapper) {
	mux.HandleFunc("/api/v1/schema", wrap(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handleSchemaGet(w, r, e)
		case http.MethodPut:
			handleSchemaAdopt(w, r, e)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))

	mux.HandleFunc("/api/v1/schema/infer", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req inferRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			apiError(w, http.StatusBadRequest, err.Error())
			return
		}
		stats, err := statsFromRequest(r.Context(), e, req.Rows, req.StatsName)
		if err != nil {
			apiErrorFor(w, err)
			return
		}
		candidate, err := e.InferSchema(stats)
		if err != nil {
			apiErrorFor(w, err)
			return
		}
		writeSchema(w, r, candidate)
	}))

	mux.HandleFunc("/api/v1/schema/versions", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		versions, err := e.registry.SchemaVersions(r.Context())
		if err != nil {
			apiErrorFor(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"versions": versions,
			"current":  e.schemas.Version(),
		})
	}))
}

func handleSchemaGet(w http.ResponseWriter, r *http.Request, e *Engine) {
	sc := e.schemas.Schema()
	if v := r.URL.Query().Get("version"); v != "" {
		version, err := strconv.Atoi(v)
		if err != nil {
			apiError(w, http.StatusBadRequest, "invalid version")
			return
		}
		sc, err = e.registry.GetSchema(r.Context(), version)
		if err != nil {
			apiErrorFor(w, err)
			return
		}
	}
	writeSchema(w, r, sc)
}

func handleSchemaAdopt(w http.ResponseWriter, r *http.Request, e *Engine) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		apiError(w, http.StatusBadRequest, err.Error())
		return
	}
	// The canonical document parser accepts both YAML and JSON bodies.
	sc, err := UnmarshalSchema(body)
	if err != nil {
		apiErrorFor(w, err)
		return
	}
	version, err := e.AdoptSchema(r.Context(), sc)
	if err != nil {
		apiErrorFor(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]any{"version": version})
}

// writeSchema renders a schema as YAML when the client asks for it,
// otherwise as the JSON form of the canonical document.
func writeSchema(w http.ResponseWriter, r *http.Request, sc *Schema) {
	if strings.Contains(r.Header.Get("Accept"), "yaml") {
		data, err := MarshalSchema(sc)
		if err != nil {
			apiErrorFor(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, newSchemaDocument(sc))
}

// setupValidationRoutes configures the validation endpoint
func setupValidationRoutes(mux *http.ServeMux, e *Engine, wrap middlewareWrapper) {
	mux.HandleFunc("/api/v1/validate", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req validateRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			apiError(w, http.StatusBadRequest, err.Error())
			return
		}
		stats, err := statsFromRequest(r.Context(), e, req.Rows, req.StatsName)
		if err != nil {
			apiErrorFor(w, err)
			return
		}
		opts := ValidateOptions{
			Environment: req.Environment,
			StatsName:   req.StatsName,
		}
		if req.BaselineName != "" {
			baseline, err := e.registry.GetStatistics(r.Context(), req.BaselineName)
			if err != nil {
				apiErrorFor(w, err)
				return
			}
			opts.Baseline = baseline
		}
		result, err := e.Validate(r.Context(), stats, opts)
		if err != nil {
			apiErrorFor(w, err)
			return
		}
		writeJSON(w, result)
	}))
}

// setupRunRoutes configures run history endpoints
func setupRunRoutes(mux *http.ServeMux, e *Engine, wrap middlewareWrapper) {
	mux.HandleFunc("/api/v1/runs", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if e.history == nil {
			apiError(w, http.StatusNotFound, "run history disabled")
			return
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				apiError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		runs, err := e.history.Runs(r.Context(), limit)
		if err != nil {
			apiErrorFor(w, err)
			return
		}
		writeJSON(w, map[string]any{"runs": runs})
	}))

	// Exact pattern wins over the /api/v1/runs/ prefix below.
	mux.HandleFunc("/api/v1/runs/stats", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if e.history == nil {
			apiError(w, http.StatusNotFound, "run history disabled")
			return
		}
		stats, err := e.history.Stats(r.Context())
		if err != nil {
			apiErrorFor(w, err)
			return
		}
		writeJSON(w, stats)
	}))

	mux.HandleFunc("/api/v1/runs/", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if e.history == nil {
			apiError(w, http.StatusNotFound, "run history disabled")
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
		if id == "" || strings.Contains(id, "/") {
			apiError(w, http.StatusNotFound, "run not found")
			return
		}
		rec, err := e.history.Run(r.Context(), id)
		if err != nil {
			apiErrorFor(w, err)
			return
		}
		anomalies, err := e.history.RunAnomalies(r.Context(), id)
		if err != nil {
			apiErrorFor(w, err)
			return
		}
		resp := map[string]any{
			"run":       rec,
			"anomalies": anomalies,
		}
		// The full report lives in the registry; a miss there is not fatal.
		if report, err := e.registry.GetReport(r.Context(), id); err == nil {
			resp["report"] = report
		}
		writeJSON(w, resp)
	}))

	mux.HandleFunc("/api/v1/incidents", wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if e.history == nil {
			apiError(w, http.StatusNotFound, "run history disabled")
			return
		}
		feature := r.URL.Query().Get("feature")
		if feature == "" {
			apiError(w, http.StatusBadRequest, "feature required")
			return
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				apiError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		incidents, err := e.history.FeatureIncidents(r.Context(), feature, limit)
		if err != nil {
			apiErrorFor(w, err)
			return
		}
		writeJSON(w, map[string]any{"incidents": incidents})
	}))
}

// setupStreamRoutes configures the websocket endpoint
func setupStreamRoutes(mux *http.ServeMux, e *Engine, wrap middlewareWrapper) {
	mux.HandleFunc("/api/v1/stream", wrap(func(w http.ResponseWriter, r *http.Request) {
		if e.hub == nil {
			apiError(w, http.StatusNotFound, ErrStreamingDisabled.Error())
			return
		}
		e.hub.WebSocketHandler()(w, r)
	}))
}

// decodeJSONBody decodes a JSON request body with numbers kept exact.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(dst)
}

// rowsFromJSON converts decoded JSON objects into typed rows. Null cells
// stay absent from the row, booleans become the string tokens "true" and
// "false", and integral numbers become ints so integer-coded categorical
// features keep their representation.
func rowsFromJSON(raw []map[string]any) ([]Row, error) {
	rows := make([]Row, 0, len(raw))
	for i, obj := range raw {
		row := make(Row, len(obj))
		for name, v := range obj {
			switch t := v.(type) {
			case nil:
				continue
			case string:
				row[name] = Str(t)
			case bool:
				if t {
					row[name] = Str("true")
				} else {
					row[name] = Str("false")
				}
			case json.Number:
				if n, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
					row[name] = Int(n)
				} else if f, err := t.Float64(); err == nil {
					row[name] = Float(f)
				} else {
					return nil, newInvalidRecordError(i, name, Str(t.String()), "unparseable number")
				}
			case float64:
				// Decoders without UseNumber land here.
				row[name] = Float(t)
			default:
				return nil, newInvalidRecordError(i, name, Str(fmt.Sprint(t)), "unsupported JSON value")
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// statsFromRequest resolves the statistics a request names: inline rows
// computed under the working schema, or a stored registry artifact.
func statsFromRequest(ctx context.Context, e *Engine, raw []map[string]any, name string) (*DatasetStatistics, error) {
	switch {
	case len(raw) > 0:
		rows, err := rowsFromJSON(raw)
		if err != nil {
			return nil, err
		}
		return e.ComputeWithSchema(NewRowsSource(rows))
	case name != "":
		return e.registry.GetStatistics(ctx, name)
	default:
		return nil, newInvalidArgumentError("resolve statistics", "rows or stats_name required")
	}
}
