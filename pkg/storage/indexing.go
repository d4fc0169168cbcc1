package storage

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/vjranagit/sampleby/pkg/types"
)

// metricNameLabel indexes the metric name next to the regular labels.
const metricNameLabel = "__name__"

// ErrInvalidQuery is returned for malformed selectors and time ranges.
var ErrInvalidQuery = errors.New("invalid query")

// Index manages the time-series index
type Index struct {
	// Maps metric fingerprint to series metadata
	series map[uint64]*seriesMetadata
	// Inverted index: label name -> label value -> series IDs
	labelIndex map[string]map[string][]uint64
}

// seriesMetadata holds metadata about a single series. MinTime and MaxTime
// are only meaningful once HasData is set.
type seriesMetadata struct {
	ID      uint64       `json:"id"`
	Metric  types.Metric `json:"metric"`
	HasData bool         `json:"has_data"`
	MinTime int64        `json:"min_time"`
	MaxTime int64        `json:"max_time"`
}

// NewIndex creates a new index
func NewIndex() *Index {
	return &Index{
		series:     make(map[uint64]*seriesMetadata),
		labelIndex: make(map[string]map[string][]uint64),
	}
}

// AddSeries adds a series to the index. created reports whether the series
// was not indexed before.
func (idx *Index) AddSeries(metric *types.Metric) (id uint64, created bool) {
	fingerprint := calculateFingerprint(metric)
	if meta, exists := idx.series[fingerprint]; exists {
		return meta.ID, false
	}

	idx.insert(&seriesMetadata{
		ID:     fingerprint,
		Metric: *metric,
	})
	return fingerprint, true
}

// insert adds meta to the series map and the inverted index.
func (idx *Index) insert(meta *seriesMetadata) {
	idx.series[meta.ID] = meta

	idx.addLabel(metricNameLabel, meta.Metric.Name, meta.ID)
	for name, value := range meta.Metric.Labels {
		idx.addLabel(name, value, meta.ID)
	}
}

func (idx *Index) addLabel(name, value string, id uint64) {
	if idx.labelIndex[name] == nil {
		idx.labelIndex[name] = make(map[string][]uint64)
	}
	idx.labelIndex[name][value] = append(idx.labelIndex[name][value], id)
}

// GetSeries retrieves series metadata by ID
func (idx *Index) GetSeries(id uint64) (*seriesMetadata, bool) {
	meta, ok := idx.series[id]
	return meta, ok
}

// FindSeries finds series matching all label selectors. The result is
// sorted by series ID.
func (idx *Index) FindSeries(labelSelectors map[string]string) []uint64 {
	var result []uint64
	if len(labelSelectors) == 0 {
		result = make([]uint64, 0, len(idx.series))
		for id := range idx.series {
			result = append(result, id)
		}
		sortIDs(result)
		return result
	}

	first := true
	for labelName, labelValue := range labelSelectors {
		seriesIDs, ok := idx.labelIndex[labelName][labelValue]
		if !ok {
			return nil
		}

		if first {
			result = append([]uint64(nil), seriesIDs...)
			sortIDs(result)
			first = false
		} else {
			result = intersect(result, seriesIDs)
		}

		if len(result) == 0 {
			return nil
		}
	}

	return result
}

// UpdateTimeRange widens the time range of a series to cover
// [minTime, maxTime]. changed reports whether the range grew.
func (idx *Index) UpdateTimeRange(id uint64, minTime, maxTime int64) (changed bool, err error) {
	meta, ok := idx.series[id]
	if !ok {
		return false, errors.Newf("series %d not found", id)
	}

	if !meta.HasData {
		meta.HasData, meta.MinTime, meta.MaxTime = true, minTime, maxTime
		return true, nil
	}
	if minTime < meta.MinTime {
		meta.MinTime, changed = minTime, true
	}
	if maxTime > meta.MaxTime {
		meta.MaxTime, changed = maxTime, true
	}
	return changed, nil
}

// SeriesCount returns the number of indexed series
func (idx *Index) SeriesCount() int {
	return len(idx.series)
}

// calculateFingerprint hashes the metric name and its sorted labels.
func calculateFingerprint(metric *types.Metric) uint64 {
	keys := make([]string, 0, len(metric.Labels))
	for k := range metric.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := xxhash.New()
	d.WriteString(metric.Name)
	for _, k := range keys {
		d.Write([]byte{0})
		d.WriteString(k)
		d.Write([]byte{0})
		d.WriteString(metric.Labels[k])
	}
	return d.Sum64()
}

func sortIDs(ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// intersect returns the IDs of sorted slice a that are also in b.
func intersect(a, b []uint64) []uint64 {
	b = append([]uint64(nil), b...)
	sortIDs(b)

	result := make([]uint64, 0)
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			i++
		} else if a[i] > b[j] {
			j++
		} else {
			result = append(result, a[i])
			i++
			j++
		}
	}

	return result
}

// parseLabelSelectors parses a selector of the form
// metric_name{label1="value1",label2="value2"}. Either part may be omitted.
func parseLabelSelectors(query string) (map[string]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	selectors := make(map[string]string)
	name, rest, hasLabels := strings.Cut(query, "{")
	if name = strings.TrimSpace(name); name != "" {
		selectors[metricNameLabel] = name
	}
	if !hasLabels {
		return selectors, nil
	}

	body, ok := strings.CutSuffix(strings.TrimSpace(rest), "}")
	if !ok {
		return nil, errors.Wrapf(ErrInvalidQuery, "unterminated selector %q", query)
	}
	for _, pair := range strings.Split(body, ",") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.Wrapf(ErrInvalidQuery, "bad label matcher %q", pair)
		}
		k = strings.TrimSpace(k)
		v = strings.Trim(strings.TrimSpace(v), `"`)
		if k == "" {
			return nil, errors.Wrapf(ErrInvalidQuery, "bad label matcher %q", pair)
		}
		selectors[k] = v
	}
	return selectors, nil
}
