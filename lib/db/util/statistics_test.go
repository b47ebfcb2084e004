package util

import "testing"

// TestRowSizes tests the overall and per tag size estimates
func TestRowSizes(t *testing.T) {
	sizes := NewRowSizes()

	if got := sizes.Estimate(); got != 0 {
		t.Errorf("empty estimate should be 0, got %d", got)
	}
	if got := len(sizes.PerTag()); got != 0 {
		t.Errorf("empty sizes should have no tags, got %d", got)
	}

	sizes.Add(1, 10)
	sizes.Add(1, 10)
	sizes.Add(2, 100)

	perTag := sizes.PerTag()
	if got, want := perTag[1], (TagSizes{Sampled: 2, AvgBytes: 10, MedianBytes: 8}); got != want {
		t.Errorf("tag 1: got %+v, want %+v", got, want)
	}
	if got, want := perTag[2], (TagSizes{Sampled: 1, AvgBytes: 100, MedianBytes: 160}); got != want {
		t.Errorf("tag 2: got %+v, want %+v", got, want)
	}

	// median 8 (60%), average 40 (40%)
	if got := sizes.Estimate(); got != 20 {
		t.Errorf("estimate should be 20, got %d", got)
	}
}

// TestRowSizesLargeRows tests that rows above the last boundary are counted
func TestRowSizesLargeRows(t *testing.T) {
	sizes := NewRowSizes()
	sizes.Add(3, 1<<30)

	got := sizes.PerTag()[3]
	if got.Sampled != 1 || got.AvgBytes != 1<<30 {
		t.Errorf("unexpected summary %+v", got)
	}
	if want := sizeBoundaries[len(sizeBoundaries)-1] * 2; got.MedianBytes != want {
		t.Errorf("median should be %d, got %d", want, got.MedianBytes)
	}
}

// TestDistributionStats tests the spread metrics
func TestDistributionStats(t *testing.T) {
	if got := NewDistributionStats(nil); got != (DistributionStats{}) {
		t.Errorf("empty values should give zero stats, got %+v", got)
	}

	even := NewDistributionStats([]float64{2, 2, 2})
	if even.StdDeviation != 0 || even.Mean != 2 || even.MinMaxRatio != 1 || even.DistributionQuality != 1 {
		t.Errorf("even spread: unexpected stats %+v", even)
	}

	skewed := NewDistributionStats([]float64{0, 4})
	if skewed.Mean != 2 || skewed.StdDeviation != 2 || skewed.Min != 0 || skewed.Max != 4 {
		t.Errorf("skewed spread: unexpected stats %+v", skewed)
	}
	if skewed.DistributionQuality != 0 {
		t.Errorf("skewed spread should have quality 0, got %f", skewed.DistributionQuality)
	}
}
