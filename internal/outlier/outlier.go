// Package outlier implements the window-based outlier detectors: Z-score,
// modified Z-score (MAD-based), and IQR fences, plus the single-point Z-score
// variant used on the real-time path.
//
// Detectors are stateless and operate on plain float64 series; the caller owns
// the mapping from flagged indices back to metric records. Several detectors
// may flag the same index independently — deduplication is deliberately left
// to consumers that want a single signal.
package outlier

import (
	"fmt"

	"github.com/castplan/driftwatch/internal/stats"
)

// Algorithm tags carried on every flag, matching the persisted record format.
const (
	AlgorithmZScore         = "zscore"
	AlgorithmModifiedZScore = "modified_zscore"
	AlgorithmIQR            = "iqr"
	AlgorithmZScoreRealtime = "zscore_realtime"
)

// Flag is one flagged point. Ratio is the raw exceedance (test statistic over
// threshold) before clamping; Score is Ratio clamped to [0,1]. Severity
// classification uses Ratio so extreme outliers keep their ordering even after
// the score saturates.
type Flag struct {
	Algorithm  string
	Index      int
	Value      float64
	Expected   float64 // window center: mean for Z-score, median for modified Z
	Mean       float64
	StdDev     float64
	Ratio      float64
	Score      float64
	Confidence float64
	DataPoints int
	Detail     string
}

// Detector scans a full series and returns zero or more flags. A detector
// never evaluates index i until at least its window size prior points exist,
// and skips any window with zero dispersion.
type Detector interface {
	Name() string
	Detect(values []float64) []Flag
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// confidence estimates how trustworthy a flag is: larger windows and tighter
// dispersion both raise it. Bounded to [0,1] by construction.
func confidence(window int, stddev float64) float64 {
	sizeTerm := float64(window) / 100
	if sizeTerm > 1 {
		sizeTerm = 1
	}
	spreadTerm := 1 - stddev
	if spreadTerm < 0 {
		spreadTerm = 0
	}
	return 0.6*sizeTerm + 0.4*spreadTerm
}

// windowStats is a shared helper for the trailing window values[i-w : i].
func windowStats(values []float64, i, w int) stats.Summary {
	return stats.Summarize(values[i-w : i])
}

func detail(algorithm string, value, statistic, threshold float64) string {
	return fmt.Sprintf("%s: statistic %.4f exceeds threshold %.2f (value=%.4f)",
		algorithm, statistic, threshold, value)
}
