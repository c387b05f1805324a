package outlier

import (
	"fmt"
	"math"
)

// IQR flags points outside the Tukey fences [Q1 - k*IQR, Q3 + k*IQR] of the
// trailing window. Distribution-free: it makes no normality assumption, at
// the cost of lower sensitivity on small windows.
type IQR struct {
	Window     int
	Multiplier float64 // fence width k, conventionally 1.5
}

// Name returns the persisted algorithm tag.
func (d IQR) Name() string { return AlgorithmIQR }

// Detect scans the series, skipping windows whose IQR is zero.
func (d IQR) Detect(values []float64) []Flag {
	var flags []Flag
	for i := d.Window; i < len(values); i++ {
		w := windowStats(values, i, d.Window)
		if w.IQR == 0 {
			continue
		}

		lower := w.Q1 - d.Multiplier*w.IQR
		upper := w.Q3 + d.Multiplier*w.IQR
		v := values[i]
		if v >= lower && v <= upper {
			continue
		}

		// Deviation measured against both fences, in IQR units.
		deviation := math.Max(math.Abs(v-lower), math.Abs(v-upper)) / w.IQR
		ratio := deviation / d.Multiplier
		flags = append(flags, Flag{
			Algorithm:  AlgorithmIQR,
			Index:      i,
			Value:      v,
			Expected:   w.Median,
			Mean:       w.Mean,
			StdDev:     w.StdDev,
			Ratio:      ratio,
			Score:      clamp01(ratio),
			Confidence: confidence(d.Window, w.StdDev),
			DataPoints: d.Window,
			Detail: fmt.Sprintf("iqr: value %.4f outside fences [%.4f, %.4f] (k=%.2f)",
				v, lower, upper, d.Multiplier),
		})
	}
	return flags
}
