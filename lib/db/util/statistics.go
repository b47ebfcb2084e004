package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// Distribution
// ----------------------------------------------------------------------------

// DistributionStats describes how evenly values (e.g. rows per shard) are spread.
type DistributionStats struct {
	StdDeviation        float64 `json:"std_deviation"`
	Min                 float64 `json:"min"`
	Max                 float64 `json:"max"`
	Mean                float64 `json:"mean"`
	MinMaxRatio         float64 `json:"min_max_ratio"`
	DistributionQuality float64 `json:"distribution_quality"` // 1 is a perfectly even spread
}

// NewDistributionStats computes spread and quality metrics of values
func NewDistributionStats(values []float64) DistributionStats {
	if len(values) == 0 {
		return DistributionStats{}
	}

	s := DistributionStats{Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = sum / float64(len(values))

	var squared float64
	for _, v := range values {
		squared += (v - s.Mean) * (v - s.Mean)
	}
	s.StdDeviation = math.Sqrt(squared / float64(len(values)))

	s.MinMaxRatio = 1
	if s.Max > 0 {
		s.MinMaxRatio = s.Min / s.Max
	}

	// lower coefficient of variation and higher min/max ratio mean a better spread
	var cv float64
	if s.Mean > 0 {
		cv = s.StdDeviation / s.Mean
	}
	s.DistributionQuality = (1-math.Min(1, cv))*0.5 + s.MinMaxRatio*0.5
	return s
}

// ----------------------------------------------------------------------------
// Row sizes
// ----------------------------------------------------------------------------

// sizeBoundaries are the upper bounds of the histogram buckets, rows larger than
// the last one fall into an extra bucket
var sizeBoundaries = []int{
	16, 64, 256, 1024, 4096, // bytes
	16384, 65536, 262144, 1048576, // KB
	4194304, 16777216, 67108864, // MB
}

// histogram counts row sizes in exponential buckets
type histogram struct {
	buckets [13]int // len(sizeBoundaries) + 1
	count   int
	sum     int
}

func (h *histogram) add(size int) {
	i := len(sizeBoundaries)
	for j, boundary := range sizeBoundaries {
		if size <= boundary {
			i = j
			break
		}
	}
	h.buckets[i]++
	h.count++
	h.sum += size
}

func (h *histogram) average() int {
	if h.count == 0 {
		return 0
	}
	return h.sum / h.count
}

// median estimates the median from the bucket the middle sample falls into
func (h *histogram) median() int {
	if h.count == 0 {
		return 0
	}
	middle, cumulative := (h.count+1)/2, 0
	for i, n := range h.buckets {
		cumulative += n
		if cumulative < middle {
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
	return h.average()
}

// TagSizes summarizes the sampled rows of one tag
type TagSizes struct {
	Sampled     int `json:"sampled"`
	AvgBytes    int `json:"avg_bytes"`
	MedianBytes int `json:"median_bytes"`
}

// RowSizes collects row size samples, overall and per tag.
// It is safe for concurrent use.
type RowSizes struct {
	mu     sync.Mutex
	all    histogram
	perTag map[uint32]*histogram
}

func NewRowSizes() *RowSizes {
	return &RowSizes{perTag: make(map[uint32]*histogram)}
}

// Add records one row of the given tag and value size
func (r *RowSizes) Add(tag uint32, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.all.add(size)
	h, ok := r.perTag[tag]
	if !ok {
		h = &histogram{}
		r.perTag[tag] = h
	}
	h.add(size)
}

// Estimate returns the estimated size of one row, weighting the median (60%)
// over the average (40%) so a few large rows do not dominate.
func (r *RowSizes) Estimate() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (r.all.median()*60 + r.all.average()*40) / 100
}

// PerTag returns the summary of every sampled tag
func (r *RowSizes) PerTag() map[uint32]TagSizes {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[uint32]TagSizes, len(r.perTag))
	for tag, h := range r.perTag {
		out[tag] = TagSizes{Sampled: h.count, AvgBytes: h.average(), MedianBytes: h.median()}
	}
	return out
}
