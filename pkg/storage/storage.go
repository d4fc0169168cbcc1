package storage

import (
	"context"
	"encoding/binary"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
	"github.com/vjranagit/sampleby/internal/metrics"
	"github.com/vjranagit/sampleby/pkg/sampleby"
	"github.com/vjranagit/sampleby/pkg/sampler"
	"github.com/vjranagit/sampleby/pkg/types"
)

// Storage interface defines the contract for time-series storage
type Storage interface {
	// Write writes samples to storage
	Write(ctx context.Context, req *types.WriteRequest) error

	// Query returns the raw samples of every matching series
	Query(ctx context.Context, req *types.QueryRequest) (*types.QueryResult, error)

	// SampleBy returns the matching series grouped into time buckets
	SampleBy(ctx context.Context, req *types.SampleRequest) (*types.SampleResult, error)

	// Close closes the storage
	Close() error
}

// Config holds storage configuration
type Config struct {
	Path             string
	RetentionDays    int
	CompressionLevel int
	EnableWAL        bool
	// BlockGranularity partitions each series into blocks, e.g. "1h" or "1d".
	BlockGranularity string
	// MaxBuckets caps the buckets a single series may produce in SampleBy.
	MaxBuckets int
	// DefaultFill and DefaultAlign apply when a SampleRequest leaves them empty.
	DefaultFill  string
	DefaultAlign string
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		RetentionDays:    30,
		CompressionLevel: 3,
		EnableWAL:        true,
		BlockGranularity: "1h",
		MaxBuckets:       100_000,
		DefaultFill:      "none",
		DefaultAlign:     "calendar",
	}
}

var (
	dataPrefix  = []byte("d/")
	indexPrefix = []byte("i/")
)

// badgerStorage implements Storage using BadgerDB
type badgerStorage struct {
	cfg        *Config
	db         *badger.DB
	index      *Index
	compressor *Compressor
	wal        *WAL
	// blocks maps sample timestamps to block keys. It is anchored once at
	// open and only read afterwards.
	blocks sampler.TimestampSampler
	log    *log.Entry
	mu     sync.RWMutex
}

// NewStorage opens the storage under cfg.Path, loads the series index and
// replays any write-ahead log left by an unclean shutdown.
func NewStorage(cfg *Config) (Storage, error) {
	return newBadgerStorage(cfg)
}

func newBadgerStorage(cfg *Config) (*badgerStorage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BlockGranularity == "" {
		cfg.BlockGranularity = DefaultConfig().BlockGranularity
	}

	blocks, err := sampler.NewFromString(cfg.BlockGranularity)
	if err != nil {
		return nil, errors.Wrap(err, "invalid block granularity")
	}
	blocks.SetStart(0)

	logger := log.WithField("component", "storage")

	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	opts = opts.WithLogger(log.WithField("component", "badger")).WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open BadgerDB")
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create compressor")
	}

	s := &badgerStorage{
		cfg:        cfg,
		db:         db,
		index:      NewIndex(),
		compressor: compressor,
		blocks:     blocks,
		log:        logger,
	}

	if err := s.loadIndex(); err != nil {
		s.closeResources()
		return nil, err
	}

	if cfg.EnableWAL {
		n, err := ReplayWAL(cfg.Path, s.apply, s.db.Sync)
		metrics.WALReplayed.Add(float64(n))
		if err != nil {
			s.closeResources()
			return nil, errors.Wrap(err, "failed to replay WAL")
		}
		if n > 0 {
			logger.WithField("entries", n).Info("Replayed write-ahead log")
		}
		if s.wal, err = NewWAL(cfg.Path); err != nil {
			s.closeResources()
			return nil, err
		}
	}

	logger.WithFields(log.Fields{
		"path":   cfg.Path,
		"blocks": blocks.String(),
		"series": s.index.SeriesCount(),
	}).Info("Storage opened")
	return s, nil
}

// Write implements Storage.Write
func (s *badgerStorage) Write(ctx context.Context, req *types.WriteRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { metrics.WriteDuration.Observe(time.Since(start).Seconds()) }()

	// Rejected requests must not reach the WAL, or every replay fails.
	for _, series := range req.Series {
		if _, err := s.groupSamplesByBlock(series.Samples); err != nil {
			return errors.Wrapf(err, "series %s", series.Metric.Name)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wal != nil {
		if err := s.wal.Append(req); err != nil {
			return errors.Wrap(err, "WAL append failed")
		}
	}
	return s.applyLocked(req)
}

// apply is the WAL replay handler.
func (s *badgerStorage) apply(req *types.WriteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(req)
}

func (s *badgerStorage) applyLocked(req *types.WriteRequest) error {
	for _, series := range req.Series {
		if len(series.Samples) == 0 {
			continue
		}

		seriesID, created := s.index.AddSeries(&series.Metric)

		blocks, err := s.groupSamplesByBlock(series.Samples)
		if err != nil {
			return errors.Wrapf(err, "series %s", series.Metric.Name)
		}

		for blockTime, samples := range blocks {
			if err := s.writeBlock(req.TenantID, seriesID, blockTime, samples); err != nil {
				return errors.Wrap(err, "failed to write block")
			}
		}

		minTime, maxTime := timeRange(series.Samples)
		changed, err := s.index.UpdateTimeRange(seriesID, minTime, maxTime)
		if err != nil {
			return err
		}
		if created || changed {
			if err := s.persistSeries(seriesID); err != nil {
				return err
			}
		}
		metrics.SamplesWritten.Add(float64(len(series.Samples)))
	}
	metrics.SeriesIndexed.Set(float64(s.index.SeriesCount()))
	return nil
}

// groupSamplesByBlock groups samples by the boundary of their block.
func (s *badgerStorage) groupSamplesByBlock(samples []types.Sample) (map[int64][]types.Sample, error) {
	blocks := make(map[int64][]types.Sample)
	for _, sample := range samples {
		blockTime, err := s.blocks.Round(sample.Timestamp)
		if err != nil {
			return nil, err
		}
		blocks[blockTime] = append(blocks[blockTime], sample)
	}
	return blocks, nil
}

// writeBlock merges samples into the stored block. A sample replaces any
// stored sample with the same timestamp, which makes WAL replay idempotent.
func (s *badgerStorage) writeBlock(tenantID string, seriesID uint64, blockTime int64, samples []types.Sample) error {
	key := generateKey(tenantID, seriesID, blockTime)

	return s.db.Update(func(txn *badger.Txn) error {
		existing, err := s.getBlock(txn, key)
		if err != nil {
			return err
		}

		merged := mergeSamples(existing, samples)
		entry := badger.NewEntry(key, s.compressor.EncodeBlock(merged))
		if s.cfg.RetentionDays > 0 {
			entry = entry.WithTTL(time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		}
		return txn.SetEntry(entry)
	})
}

// getBlock returns the decoded block stored at key, or nil if there is none.
func (s *badgerStorage) getBlock(txn *badger.Txn, key []byte) ([]types.Sample, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.decodeItem(item)
}

func (s *badgerStorage) decodeItem(item *badger.Item) ([]types.Sample, error) {
	var samples []types.Sample
	err := item.Value(func(val []byte) error {
		var err error
		samples, err = s.compressor.DecodeBlock(val)
		return err
	})
	return samples, err
}

// mergeSamples returns the union of two sample sets sorted by timestamp.
// On equal timestamps the sample from updates wins.
func mergeSamples(existing, updates []types.Sample) []types.Sample {
	byTime := make(map[int64]float64, len(existing)+len(updates))
	for _, sample := range existing {
		byTime[sample.Timestamp] = sample.Value
	}
	for _, sample := range updates {
		byTime[sample.Timestamp] = sample.Value
	}

	merged := make([]types.Sample, 0, len(byTime))
	for ts, v := range byTime {
		merged = append(merged, types.Sample{Timestamp: ts, Value: v})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return merged
}

// Query implements Storage.Query
func (s *badgerStorage) Query(ctx context.Context, req *types.QueryRequest) (*types.QueryResult, error) {
	start := time.Now()
	defer func() { metrics.QueryDuration.Observe(time.Since(start).Seconds()) }()

	if req.EndTime < req.StartTime {
		return nil, errors.Wrapf(ErrInvalidQuery, "end %d before start %d", req.EndTime, req.StartTime)
	}
	labelSelectors, err := parseLabelSelectors(req.Query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seriesIDs := s.index.FindSeries(labelSelectors)
	result := &types.QueryResult{
		Series: make([]types.Series, 0, len(seriesIDs)),
	}

	for _, seriesID := range seriesIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		meta, ok := s.index.GetSeries(seriesID)
		if !ok || !meta.HasData {
			continue
		}

		// Only walk blocks that can hold data.
		from, to := max(req.StartTime, meta.MinTime), min(req.EndTime, meta.MaxTime)
		if from > to {
			continue
		}

		samples, err := s.readRange(ctx, req.TenantID, seriesID, from, to)
		if err != nil {
			return nil, errors.Wrapf(err, "series %d", seriesID)
		}
		if len(samples) > 0 {
			result.Series = append(result.Series, types.Series{
				Metric:  meta.Metric,
				Samples: samples,
			})
		}
	}

	return result, nil
}

// readRange returns the samples of a series in [from, to]. It iterates the
// stored blocks of the series in key order, so empty blocks cost nothing.
func (s *badgerStorage) readRange(ctx context.Context, tenantID string, seriesID uint64, from, to int64) ([]types.Sample, error) {
	firstBlock, err := s.blocks.Round(from)
	if err != nil {
		return nil, err
	}

	seek := generateKey(tenantID, seriesID, firstBlock)
	var samples []types.Sample
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = seek[:len(seek)-8]
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			blockTime := blockTimeFromKey(item.Key())
			if blockTime > to {
				return nil
			}

			block, err := s.decodeItem(item)
			if err != nil {
				return errors.Wrapf(err, "block %d", blockTime)
			}
			for _, sample := range block {
				if sample.Timestamp >= from && sample.Timestamp <= to {
					samples = append(samples, sample)
				}
			}
		}
		return nil
	})
	return samples, err
}

// SampleBy implements Storage.SampleBy. Each series gets its own run of the
// sample-by pipeline with a sampler built for this request.
func (s *badgerStorage) SampleBy(ctx context.Context, req *types.SampleRequest) (*types.SampleResult, error) {
	start := time.Now()

	smp, err := sampler.NewFromString(req.By)
	if err != nil {
		return nil, err
	}
	opts, err := s.sampleOptions(req)
	if err != nil {
		return nil, err
	}

	raw, err := s.Query(ctx, &req.QueryRequest)
	if err != nil {
		return nil, err
	}

	result := &types.SampleResult{
		Sampler: smp.String(),
		Series:  make([]types.SampledSeries, 0, len(raw.Series)),
	}
	for _, series := range raw.Series {
		buckets, err := sampleby.Aggregate(smp, series.Samples, opts)
		if err != nil {
			return nil, errors.Wrapf(err, "sampling %s", series.Metric.Name)
		}

		filled := 0
		for _, b := range buckets {
			if b.Filled {
				filled++
			}
		}
		metrics.RowsSampled.Add(float64(len(series.Samples)))
		metrics.BucketsEmitted.WithLabelValues("sampled").Add(float64(len(buckets) - filled))
		metrics.BucketsEmitted.WithLabelValues("filled").Add(float64(filled))

		result.Series = append(result.Series, types.SampledSeries{
			Metric:  series.Metric,
			Buckets: buckets,
		})
	}

	metrics.SampleDuration.WithLabelValues(smp.Granularity().Unit.String()).Observe(time.Since(start).Seconds())
	s.log.WithFields(log.Fields{
		"sampler": result.Sampler,
		"series":  len(result.Series),
	}).Debug("Sample-by query")
	return result, nil
}

func (s *badgerStorage) sampleOptions(req *types.SampleRequest) (sampleby.Options, error) {
	fillSpec, alignSpec := req.Fill, req.Align
	if fillSpec == "" {
		fillSpec = s.cfg.DefaultFill
	}
	if alignSpec == "" {
		alignSpec = s.cfg.DefaultAlign
	}

	fill, err := sampleby.ParseFill(fillSpec)
	if err != nil {
		return sampleby.Options{}, err
	}
	align, err := sampleby.ParseAlign(alignSpec)
	if err != nil {
		return sampleby.Options{}, err
	}

	// The query range is inclusive, sample-by ranges are half-open.
	to := req.EndTime
	if to < math.MaxInt64 {
		to++
	}
	return sampleby.Options{
		Fill:       fill,
		Align:      align,
		Bounded:    true,
		From:       req.StartTime,
		To:         to,
		MaxBuckets: s.cfg.MaxBuckets,
	}, nil
}

// Close implements Storage.Close. A clean close checkpoints the WAL.
func (s *badgerStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	if err := s.closeResources(); err != nil {
		return err
	}
	if s.wal != nil {
		return s.wal.Checkpoint()
	}
	return nil
}

func (s *badgerStorage) closeResources() error {
	s.compressor.Close()
	err := s.db.Close()
	s.db = nil
	return err
}

// loadIndex rebuilds the series index from its persisted entries.
func (s *badgerStorage) loadIndex() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = indexPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var meta seriesMetadata
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				return errors.Wrapf(err, "index entry %x", it.Item().Key())
			}
			s.index.insert(&meta)
		}
		metrics.SeriesIndexed.Set(float64(s.index.SeriesCount()))
		return nil
	})
}

// persistSeries stores the index entry of a series.
func (s *badgerStorage) persistSeries(id uint64) error {
	meta, ok := s.index.GetSeries(id)
	if !ok {
		return errors.Newf("series %d not found", id)
	}
	val, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "failed to marshal index entry")
	}
	key := binary.BigEndian.AppendUint64(append([]byte(nil), indexPrefix...), id)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

// generateKey generates a storage key for a time block. The block time is
// stored with its sign bit flipped so keys sort in time order.
func generateKey(tenantID string, seriesID uint64, blockTime int64) []byte {
	key := make([]byte, 0, len(dataPrefix)+len(tenantID)+1+8+1+8)
	key = append(key, dataPrefix...)
	key = append(key, tenantID...)
	key = append(key, '/')
	key = binary.BigEndian.AppendUint64(key, seriesID)
	key = append(key, '/')
	return binary.BigEndian.AppendUint64(key, uint64(blockTime)^(1<<63))
}

// blockTimeFromKey is the inverse of the block time encoding in generateKey.
func blockTimeFromKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]) ^ (1 << 63))
}

func timeRange(samples []types.Sample) (minTime, maxTime int64) {
	minTime, maxTime = samples[0].Timestamp, samples[0].Timestamp
	for _, sample := range samples[1:] {
		minTime = min(minTime, sample.Timestamp)
		maxTime = max(maxTime, sample.Timestamp)
	}
	return minTime, maxTime
}
