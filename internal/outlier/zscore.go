package outlier

import (
	"math"

	"github.com/castplan/driftwatch/internal/stats"
)

// ZScore flags points whose distance from the trailing-window mean exceeds
// Threshold standard deviations. The classic parametric detector: cheap,
// sensitive, and assumes the window is roughly normal.
type ZScore struct {
	Window    int     // trailing points used as the reference distribution
	Threshold float64 // flag when |z| > Threshold
}

// Name returns the persisted algorithm tag.
func (d ZScore) Name() string { return AlgorithmZScore }

// Detect scans the series. Index i is only evaluated once a full window of
// prior points exists; zero-stddev windows are skipped entirely.
func (d ZScore) Detect(values []float64) []Flag {
	var flags []Flag
	for i := d.Window; i < len(values); i++ {
		w := windowStats(values, i, d.Window)
		if w.StdDev == 0 {
			continue
		}

		z := math.Abs(values[i]-w.Mean) / w.StdDev
		if z <= d.Threshold {
			continue
		}

		ratio := z / d.Threshold
		flags = append(flags, Flag{
			Algorithm:  AlgorithmZScore,
			Index:      i,
			Value:      values[i],
			Expected:   w.Mean,
			Mean:       w.Mean,
			StdDev:     w.StdDev,
			Ratio:      ratio,
			Score:      clamp01(ratio),
			Confidence: confidence(d.Window, w.StdDev),
			DataPoints: d.Window,
			Detail:     detail(AlgorithmZScore, values[i], z, d.Threshold),
		})
	}
	return flags
}

// RealtimeZScore applies the Z-score test to a single new value against a
// bounded trailing history, for the low-latency path. History longer than
// window is truncated to its most recent points. Returns false when the
// history is shorter than two points, when dispersion is zero, or when the
// value is within threshold.
func RealtimeZScore(history []float64, value float64, window int, threshold float64) (Flag, bool) {
	if len(history) > window {
		history = history[len(history)-window:]
	}
	if len(history) < 2 {
		return Flag{}, false
	}

	w := stats.Summarize(history)
	if w.StdDev == 0 {
		return Flag{}, false
	}

	z := math.Abs(value-w.Mean) / w.StdDev
	if z <= threshold {
		return Flag{}, false
	}

	ratio := z / threshold
	return Flag{
		Algorithm:  AlgorithmZScoreRealtime,
		Index:      len(history),
		Value:      value,
		Expected:   w.Mean,
		Mean:       w.Mean,
		StdDev:     w.StdDev,
		Ratio:      ratio,
		Score:      clamp01(ratio),
		Confidence: confidence(len(history), w.StdDev),
		DataPoints: len(history),
		Detail:     detail(AlgorithmZScoreRealtime, value, z, threshold),
	}, true
}
