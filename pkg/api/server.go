package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/vjranagit/sampleby/pkg/sampleby"
	"github.com/vjranagit/sampleby/pkg/sampler"
	"github.com/vjranagit/sampleby/pkg/storage"
	"github.com/vjranagit/sampleby/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultTenant = "default"
	// maxExplainBoundaries caps the count parameter of /api/v1/explain.
	maxExplainBoundaries = 1000
)

// Server implements the HTTP API server
type Server struct {
	storage storage.Storage
	addr    string
	timeout time.Duration
	server  *http.Server
	log     *log.Entry
}

// NewServer creates a new API server. timeout bounds request reads and
// writes; zero means 30 seconds.
func NewServer(addr string, store storage.Storage, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		storage: store,
		addr:    addr,
		timeout: timeout,
		log:     log.WithField("component", "api"),
	}
}

// Handler returns the routes of the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/write", s.handleWrite)
	mux.HandleFunc("/api/v1/query", s.handleQuery)
	mux.HandleFunc("/api/v1/sample", s.handleSample)
	mux.HandleFunc("/api/v1/explain", s.handleExplain)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return s.logRequests(mux)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.timeout,
		WriteTimeout: s.timeout,
	}

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("Request served")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// handleWrite handles remote write requests
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.TenantID = tenantID(r)

	if err := s.storage.Write(r.Context(), &req); err != nil {
		s.fail(w, "Write failed", err)
		return
	}

	s.writeJSON(w, map[string]string{
		"status": "success",
	})
}

// handleQuery handles query requests
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseQuery(w, r)
	if !ok {
		return
	}

	result, err := s.storage.Query(r.Context(), req)
	if err != nil {
		s.fail(w, "Query failed", err)
		return
	}
	s.writeJSON(w, result)
}

// handleSample handles sample-by requests
func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	q, ok := s.parseQuery(w, r)
	if !ok {
		return
	}

	params := r.URL.Query()
	by := params.Get("by")
	if by == "" {
		http.Error(w, "Missing by parameter", http.StatusBadRequest)
		return
	}

	// FILL(<number>) can be written as fill=value&value=<number>.
	fill := params.Get("fill")
	if fill == "value" {
		if fill = params.Get("value"); fill == "" {
			http.Error(w, "Missing value parameter", http.StatusBadRequest)
			return
		}
	}

	req := &types.SampleRequest{
		QueryRequest: *q,
		By:           by,
		Fill:         fill,
		Align:        params.Get("align"),
	}

	result, err := s.storage.SampleBy(r.Context(), req)
	if err != nil {
		s.fail(w, "Sample failed", err)
		return
	}
	s.writeJSON(w, result)
}

// ExplainResult describes a sampler and the boundaries following from.
type ExplainResult struct {
	Sampler          string  `json:"sampler"`
	BucketSize       int64   `json:"bucket_size"`
	ApproxBucketSize int64   `json:"approx_bucket_size"`
	Boundaries       []int64 `json:"boundaries,omitempty"`
}

// handleExplain describes the sampler a granularity resolves to.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	smp, err := sampler.NewFromString(params.Get("by"))
	if err != nil {
		s.fail(w, "Explain failed", err)
		return
	}

	var from int64
	if v := params.Get("from"); v != "" {
		if from, err = ParseTime(v); err != nil {
			http.Error(w, "Invalid from time", http.StatusBadRequest)
			return
		}
	}
	smp.SetStart(from)

	count := 0
	if v := params.Get("count"); v != "" {
		if count, err = strconv.Atoi(v); err != nil || count < 0 || count > maxExplainBoundaries {
			http.Error(w, "Invalid count", http.StatusBadRequest)
			return
		}
	}

	boundaries, err := sampler.Boundaries(smp, from, count)
	if err != nil {
		s.fail(w, "Explain failed", err)
		return
	}

	s.writeJSON(w, ExplainResult{
		Sampler:          smp.String(),
		BucketSize:       smp.BucketSize(),
		ApproxBucketSize: smp.ApproxBucketSize(),
		Boundaries:       boundaries,
	})
}

// HealthStatus is the body of /health.
type HealthStatus struct {
	Status string              `json:"status"`
	Cache  *storage.CacheStats `json:"cache,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{Status: "healthy"}
	if c, ok := s.storage.(storage.CacheStatsReporter); ok {
		stats := c.CacheStats()
		status.Cache = &stats
	}
	s.writeJSON(w, status)
}

// parseQuery reads the query, start and end parameters shared by the read
// endpoints. start defaults to an hour before end, end defaults to now.
func (s *Server) parseQuery(w http.ResponseWriter, r *http.Request) (*types.QueryRequest, bool) {
	params := r.URL.Query()
	query := params.Get("query")
	if query == "" {
		http.Error(w, "Missing query parameter", http.StatusBadRequest)
		return nil, false
	}

	endTime := time.Now().UnixMicro()
	if v := params.Get("end"); v != "" {
		t, err := ParseTime(v)
		if err != nil {
			http.Error(w, "Invalid end time", http.StatusBadRequest)
			return nil, false
		}
		endTime = t
	}

	startTime := endTime - time.Hour.Microseconds()
	if endTime < math.MinInt64+time.Hour.Microseconds() {
		startTime = math.MinInt64
	}
	if v := params.Get("start"); v != "" {
		t, err := ParseTime(v)
		if err != nil {
			http.Error(w, "Invalid start time", http.StatusBadRequest)
			return nil, false
		}
		startTime = t
	}

	return &types.QueryRequest{
		TenantID:  tenantID(r),
		Query:     query,
		StartTime: startTime,
		EndTime:   endTime,
	}, true
}

// ParseTime accepts RFC3339 times and integer microseconds since the epoch.
func ParseTime(v string) (int64, error) {
	if us, err := strconv.ParseInt(v, 10, 64); err == nil {
		return us, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return 0, err
	}
	return t.UnixMicro(), nil
}

// tenantID extracts the tenant from the X-Tenant-ID header
func tenantID(r *http.Request) string {
	if id := r.Header.Get("X-Tenant-ID"); id != "" {
		return id
	}
	return defaultTenant
}

// fail reports err with the status its kind maps to.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error(msg)
	}
	http.Error(w, msg+": "+err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sampleby.ErrTooManyBuckets):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sampler.ErrInvalidBucketWidth),
		errors.Is(err, sampler.ErrUnsupportedGranularity),
		errors.Is(err, sampler.ErrArithmeticOverflow),
		errors.Is(err, sampleby.ErrUnknownFill),
		errors.Is(err, sampleby.ErrUnknownAlign),
		errors.Is(err, sampleby.ErrInvalidRange),
		errors.Is(err, storage.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("Failed to encode response")
	}
}
