// Package util
//
// This file implements summary statistics and a size histogram used by the engines
// to report on data characteristics without performing expensive full scans.
// The histogram uses exponential bucket sizing to cover a wide range of values
// (bytes to gigabytes) with minimal memory overhead.
package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes mean, population standard deviation, minimum and maximum.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	s := Stats{Min: values[0], Max: values[0], MinMaxRatio: 1}
	var sum float64
	for _, v := range values {
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = sum / float64(len(values))

	var sumSquaredDiffs float64
	for _, v := range values {
		diff := v - s.Mean
		sumSquaredDiffs += diff * diff
	}
	s.StdDeviation = math.Sqrt(sumSquaredDiffs / float64(len(values)))

	if s.Max > 0 {
		s.MinMaxRatio = s.Min / s.Max
	}
	return s
}

type DistributionStats struct {
	Stats
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats computes how evenly values (e.g. rows per collection) are
// distributed. A quality of 1 means all values are equal.
func NewDistributionStats(sizes []float64) DistributionStats {
	stats := NewStats(sizes)

	// coefficient of variation
	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	// lower CV and higher min/max ratio indicate a better distribution
	return DistributionStats{
		Stats:               stats,
		DistributionQuality: (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// bucket boundaries from 16 bytes to 4 GB, one extra bucket for larger values
var sizeBoundaries = []int{
	16, 64, 256, 1024, 4096,
	16384, 65536, 262144, 1048576,
	4194304, 16777216, 67108864,
	268435456, 1073741824, 4294967296,
}

// SizeHistogram tracks the distribution of data sizes
//
// Thread-safe: all methods are safe for concurrent use
type SizeHistogram struct {
	mutex   sync.RWMutex
	buckets [16]int64
	count   int64
	sum     int64
}

// NewSizeHistogram creates an empty histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{}
}

// AddSample adds a size sample to the histogram
func (h *SizeHistogram) AddSample(size int) {
	bucket := len(sizeBoundaries)
	for i, boundary := range sizeBoundaries {
		if size <= boundary {
			bucket = i
			break
		}
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.buckets[bucket]++
	h.count++
	h.sum += int64(size)
}

// Count returns the total number of samples
func (h *SizeHistogram) Count() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// AverageSize returns the average size across all samples
func (h *SizeHistogram) AverageSize() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// MedianEstimate estimates the median size based on the histogram
func (h *SizeHistogram) MedianEstimate() int {
	return h.PercentileEstimate(50)
}

// PercentileEstimate returns an estimate for the given percentile (0-100)
func (h *SizeHistogram) PercentileEstimate(percentile int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(percentile) / 100.0))
	var cumulative int64
	for i, count := range h.buckets {
		cumulative += count
		if cumulative < target || count == 0 {
			continue
		}
		switch {
		case i == 0:
			return sizeBoundaries[0] / 2
		case i < len(sizeBoundaries):
			return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
		default:
			return sizeBoundaries[len(sizeBoundaries)-1] * 2
		}
	}
	return int(h.sum / h.count)
}
