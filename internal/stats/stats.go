// Package stats provides the pure numeric kernel for anomaly detection and
// trend analysis: descriptive statistics, robust dispersion measures,
// autocorrelation, and ordinary least squares over an index sequence.
//
// All functions are deterministic and side-effect free. An empty input yields
// zero values rather than an error so callers can guard on sample count once.
package stats

import (
	"math"
	"sort"
)

// Summary holds the descriptive statistics of a series computed in one pass
// over a sorted copy. Variance and StdDev use the population form (divide by
// N): detection windows are treated as the full reference distribution, not a
// sample of one.
type Summary struct {
	Count    int
	Mean     float64
	Median   float64
	Variance float64
	StdDev   float64
	Min      float64
	Max      float64
	Q1       float64
	Q3       float64
	IQR      float64
}

// Summarize computes a Summary for values. Returns the zero Summary for an
// empty slice.
func Summarize(values []float64) Summary {
	n := len(values)
	if n == 0 {
		return Summary{}
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	mean := Mean(values)
	s := Summary{
		Count:    n,
		Mean:     mean,
		Median:   medianSorted(sorted),
		Variance: Variance(values),
		Min:      sorted[0],
		Max:      sorted[n-1],
		Q1:       quantileSorted(sorted, 0.25),
		Q3:       quantileSorted(sorted, 0.75),
	}
	s.StdDev = math.Sqrt(s.Variance)
	s.IQR = s.Q3 - s.Q1
	return s
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance returns the population variance (divide by N), or 0 for an empty
// slice. A single-element series has variance 0.
func Variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(len(values))
}

// StdDev returns the population standard deviation.
func StdDev(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// Median returns the middle order statistic; for an even-length series it is
// the average of the two middle elements.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return medianSorted(sorted)
}

func medianSorted(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Quantile returns the q-th quantile (0 <= q <= 1) using linear interpolation
// between the surrounding order statistics.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return quantileSorted(sorted, q)
}

func quantileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// MAD returns the median absolute deviation from the median, the robust
// dispersion measure behind the modified Z-score.
func MAD(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	med := Median(values)
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	return Median(devs)
}

// Skewness returns the third standardized moment, or 0 when the series has no
// dispersion.
func Skewness(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	mean := Mean(values)
	sd := StdDev(values)
	if sd == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		z := (v - mean) / sd
		sum += z * z * z
	}
	return sum / float64(n)
}

// Kurtosis returns the excess kurtosis (fourth standardized moment minus 3),
// or 0 when the series has no dispersion.
func Kurtosis(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	mean := Mean(values)
	sd := StdDev(values)
	if sd == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		z := (v - mean) / sd
		sum += z * z * z * z
	}
	return sum/float64(n) - 3
}

// Autocorrelation returns the lag-k autocorrelation of the demeaned series,
// normalized by the total sum of squares. Returns 0 when lag is out of range
// or the series is constant.
func Autocorrelation(values []float64, lag int) float64 {
	n := len(values)
	if lag <= 0 || lag >= n {
		return 0
	}
	mean := Mean(values)

	var denom float64
	for _, v := range values {
		d := v - mean
		denom += d * d
	}
	if denom == 0 {
		return 0
	}

	var num float64
	for i := 0; i < n-lag; i++ {
		num += (values[i] - mean) * (values[i+lag] - mean)
	}
	return num / denom
}

// Regression holds an ordinary least squares fit of values against their
// indices 0..n-1.
type Regression struct {
	Slope     float64
	Intercept float64
	R2        float64
}

// LinearRegression fits values over the index sequence 0..n-1. Returns the
// zero Regression for fewer than two points. A constant series yields slope 0
// and R² 0 (there is no variance to explain).
func LinearRegression(values []float64) Regression {
	n := len(values)
	if n < 2 {
		return Regression{}
	}

	// Index mean for 0..n-1 is (n-1)/2.
	xMean := float64(n-1) / 2
	yMean := Mean(values)

	var sxy, sxx float64
	for i, v := range values {
		dx := float64(i) - xMean
		sxy += dx * (v - yMean)
		sxx += dx * dx
	}
	if sxx == 0 {
		return Regression{Intercept: yMean}
	}

	slope := sxy / sxx
	intercept := yMean - slope*xMean

	var ssTot, ssRes float64
	for i, v := range values {
		pred := slope*float64(i) + intercept
		ssRes += (v - pred) * (v - pred)
		ssTot += (v - yMean) * (v - yMean)
	}

	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	return Regression{Slope: slope, Intercept: intercept, R2: r2}
}
