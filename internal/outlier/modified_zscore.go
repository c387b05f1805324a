package outlier

import (
	"math"

	"github.com/castplan/driftwatch/internal/stats"
)

// madScale converts a MAD into a consistent estimator of the standard
// deviation under normality (1/1.4826).
const madScale = 0.6745

// ModifiedZScore is the robust variant of the Z-score test: it centers on the
// window median and scales by the MAD, so a burst of outliers inside the
// window cannot inflate the reference dispersion and mask itself.
type ModifiedZScore struct {
	Window    int
	Threshold float64 // conventional default is 3.5
}

// Name returns the persisted algorithm tag.
func (d ModifiedZScore) Name() string { return AlgorithmModifiedZScore }

// Detect scans the series, skipping windows whose MAD is zero.
func (d ModifiedZScore) Detect(values []float64) []Flag {
	var flags []Flag
	for i := d.Window; i < len(values); i++ {
		window := values[i-d.Window : i]
		median := stats.Median(window)
		mad := stats.MAD(window)
		if mad == 0 {
			continue
		}

		mz := math.Abs(madScale * (values[i] - median) / mad)
		if mz <= d.Threshold {
			continue
		}

		w := stats.Summarize(window)
		ratio := mz / d.Threshold
		flags = append(flags, Flag{
			Algorithm:  AlgorithmModifiedZScore,
			Index:      i,
			Value:      values[i],
			Expected:   median,
			Mean:       w.Mean,
			StdDev:     w.StdDev,
			Ratio:      ratio,
			Score:      clamp01(ratio),
			Confidence: confidence(d.Window, w.StdDev),
			DataPoints: d.Window,
			Detail:     detail(AlgorithmModifiedZScore, values[i], mz, d.Threshold),
		})
	}
	return flags
}
