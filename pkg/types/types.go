package types

// Sample represents a single time-series sample. Timestamp is in
// microseconds since the Unix epoch.
type Sample struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Metric represents a time-series metric with labels
type Metric struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
}

// Series represents a complete time-series
type Series struct {
	Metric  Metric   `json:"metric"`
	Samples []Sample `json:"samples"`
}

// WriteRequest represents a write request to the storage engine
type WriteRequest struct {
	TenantID string   `json:"tenant_id,omitempty"`
	Series   []Series `json:"series"`
}

// QueryRequest represents a raw range query. The range is [StartTime, EndTime]
// in microseconds.
type QueryRequest struct {
	TenantID  string
	Query     string
	StartTime int64
	EndTime   int64
}

// QueryResult represents query results
type QueryResult struct {
	Series []Series `json:"series"`
}

// SampleRequest is a range query grouped into time buckets.
type SampleRequest struct {
	QueryRequest

	// By is the bucket granularity, e.g. "15m" or "1M".
	By string
	// Fill is the gap filling mode: none, null, prev, linear or a number.
	Fill string
	// Align is "calendar" or "first".
	Align string
}

// Bucket is the aggregate of all samples of one series that fall into the
// same time bucket.
type Bucket struct {
	Timestamp int64   `json:"timestamp"`
	Count     int64   `json:"count"`
	Sum       float64 `json:"sum"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	First     float64 `json:"first"`
	Last      float64 `json:"last"`
	Avg       float64 `json:"avg"`
	// Filled marks buckets produced by gap filling rather than samples.
	Filled bool `json:"filled,omitempty"`
	// Null marks filled buckets that carry no values.
	Null bool `json:"null,omitempty"`
}

// SampledSeries is a series reduced to buckets.
type SampledSeries struct {
	Metric  Metric   `json:"metric"`
	Buckets []Bucket `json:"buckets"`
}

// SampleResult is the result of a SampleRequest.
type SampleResult struct {
	// Sampler describes the bucketing, as shown in query plans.
	Sampler string          `json:"sampler"`
	Series  []SampledSeries `json:"series"`
}
