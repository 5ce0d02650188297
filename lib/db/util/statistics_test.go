package util

import (
	"math"
	"testing"
)

func TestNewStats(t *testing.T) {
	s := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})

	if s.Mean != 5 || s.StdDeviation != 2 {
		t.Errorf("Expected mean 5 and std deviation 2, got %v and %v", s.Mean, s.StdDeviation)
	}
	if s.Min != 2 || s.Max != 9 {
		t.Errorf("Expected min 2 and max 9, got %v and %v", s.Min, s.Max)
	}
	if math.Abs(s.MinMaxRatio-2.0/9.0) > 1e-9 {
		t.Errorf("Unexpected min/max ratio %v", s.MinMaxRatio)
	}

	if empty := NewStats(nil); empty != (Stats{}) {
		t.Errorf("Expected zero stats for no values, got %+v", empty)
	}
}

func TestDistributionQuality(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10})
	if even.DistributionQuality != 1 {
		t.Errorf("Expected quality 1 for equal values, got %v", even.DistributionQuality)
	}
	skewed := NewDistributionStats([]float64{1, 100})
	if skewed.DistributionQuality >= even.DistributionQuality {
		t.Errorf("Skewed distribution should have lower quality: %v", skewed.DistributionQuality)
	}
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	if h.MedianEstimate() != 0 || h.AverageSize() != 0 {
		t.Errorf("Empty histogram should report 0")
	}

	for i := 0; i < 90; i++ {
		h.AddSample(100) // bucket (64, 256]
	}
	for i := 0; i < 10; i++ {
		h.AddSample(10_000) // bucket (4096, 16384]
	}

	if h.Count() != 100 {
		t.Errorf("Expected 100 samples, got %d", h.Count())
	}
	if h.AverageSize() != 1090 {
		t.Errorf("Expected average 1090, got %d", h.AverageSize())
	}
	if m := h.MedianEstimate(); m != (64+256)/2 {
		t.Errorf("Expected median estimate %d, got %d", (64+256)/2, m)
	}
	if p := h.PercentileEstimate(99); p != (4096+16384)/2 {
		t.Errorf("Expected p99 estimate %d, got %d", (4096+16384)/2, p)
	}
	if p := h.PercentileEstimate(101); p != 0 {
		t.Errorf("Invalid percentile should return 0, got %d", p)
	}
}
