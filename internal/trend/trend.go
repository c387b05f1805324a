// Package trend characterizes an ordered quality series: linear trend
// direction and strength, autocorrelation-based seasonality, a linear
// forecast with confidence bands, two-window change-point detection, and a
// rolling-mean stationarity verdict.
//
// The analyzer works purely on index positions; callers map indices back to
// timestamps of the underlying metric points.
package trend

import (
	"math"

	"github.com/castplan/driftwatch/internal/stats"
)

// Direction classifies the fitted slope.
type Direction string

const (
	DirectionStable     Direction = "stable"
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
	DirectionVolatile   Direction = "volatile"
)

// Slope cutoffs for direction classification. Applied to the raw OLS slope
// per index step, not a rate per unit time.
const (
	stableSlopeMax   = 0.001
	volatileSlopeMin = 0.1
)

// Config holds the analyzer knobs. Zero values are replaced by defaults.
type Config struct {
	SeasonalPeriod       int     // bounds the autocorrelation lag search
	ForecastHorizon      int     // number of future steps to project
	ChangePointThreshold float64 // minimum two-window test statistic
	Sensitivity          float64 // minimum mean shift as a fraction of the series range
}

func (c Config) withDefaults() Config {
	if c.SeasonalPeriod <= 0 {
		c.SeasonalPeriod = 7
	}
	if c.ForecastHorizon <= 0 {
		c.ForecastHorizon = 10
	}
	if c.ChangePointThreshold <= 0 {
		c.ChangePointThreshold = 2.0
	}
	if c.Sensitivity <= 0 {
		c.Sensitivity = 0.05
	}
	return c
}

// TrendLine is the fitted linear trend.
type TrendLine struct {
	Direction    Direction
	Slope        float64
	Confidence   float64 // R² of the fit
	Significance float64 // |Pearson r| = sqrt(R²)
}

// Seasonality reports the dominant autocorrelation lag.
// Phase is always 0: the lag search finds a period but not its offset.
type Seasonality struct {
	Detected  bool
	Period    int
	Amplitude float64 // autocorrelation at the detected lag
	Phase     float64
}

// Prediction is one forecast step. Step is 1-based distance past the end of
// the series.
type Prediction struct {
	Step  int
	Value float64
	Lower float64
	Upper float64
}

// Forecast is a linear projection with a flat 95% confidence band.
type Forecast struct {
	Horizon     int
	Predictions []Prediction
	Accuracy    float64 // R² of the underlying fit
}

// ChangePoint marks an abrupt mean shift at an index.
type ChangePoint struct {
	Index      int
	Magnitude  float64 // mean(after) - mean(before)
	Confidence float64
}

// Statistics summarizes the whole series for the analysis record.
type Statistics struct {
	Mean            float64
	Variance        float64
	Autocorrelation float64 // lag-1
	Stationary      bool
}

// Analysis is the full result of one analyzer run.
type Analysis struct {
	Trend        TrendLine
	Seasonality  Seasonality
	Forecast     Forecast
	ChangePoints []ChangePoint
	Statistics   Statistics
}

// Analyze runs every component over the series. The caller is responsible for
// enforcing a minimum length; Analyze itself only needs two points to produce
// a meaningful fit and degrades component-wise below that.
func Analyze(values []float64, cfg Config) Analysis {
	cfg = cfg.withDefaults()

	reg := stats.LinearRegression(values)
	return Analysis{
		Trend:        classifyTrend(reg),
		Seasonality:  detectSeasonality(values, cfg.SeasonalPeriod),
		Forecast:     forecast(values, reg, cfg.ForecastHorizon),
		ChangePoints: detectChangePoints(values, cfg),
		Statistics: Statistics{
			Mean:            stats.Mean(values),
			Variance:        stats.Variance(values),
			Autocorrelation: stats.Autocorrelation(values, 1),
			Stationary:      isStationary(values),
		},
	}
}

func classifyTrend(reg stats.Regression) TrendLine {
	t := TrendLine{
		Slope:        reg.Slope,
		Confidence:   reg.R2,
		Significance: math.Sqrt(math.Max(reg.R2, 0)),
	}
	abs := math.Abs(reg.Slope)
	switch {
	case abs < stableSlopeMax:
		t.Direction = DirectionStable
	case abs > volatileSlopeMin:
		t.Direction = DirectionVolatile
	case reg.Slope > 0:
		t.Direction = DirectionIncreasing
	default:
		t.Direction = DirectionDecreasing
	}
	return t
}

// detectSeasonality searches lags in [2, min(n/4, 2*seasonalPeriod)] for the
// strongest |autocorrelation|. Declared detected only above 0.3.
func detectSeasonality(values []float64, seasonalPeriod int) Seasonality {
	maxLag := len(values) / 4
	if limit := 2 * seasonalPeriod; limit < maxLag {
		maxLag = limit
	}

	best := Seasonality{}
	var bestAbs float64
	for lag := 2; lag <= maxLag; lag++ {
		ac := stats.Autocorrelation(values, lag)
		if abs := math.Abs(ac); abs > bestAbs {
			bestAbs = abs
			best.Period = lag
			best.Amplitude = ac
		}
	}
	best.Detected = bestAbs > 0.3
	if !best.Detected {
		return Seasonality{}
	}
	return best
}

// forecast projects the fitted line forward with a flat ±1.96σ band.
func forecast(values []float64, reg stats.Regression, horizon int) Forecast {
	n := len(values)
	if n == 0 {
		return Forecast{Horizon: horizon, Accuracy: 0}
	}

	band := 1.96 * stats.StdDev(values)
	preds := make([]Prediction, 0, horizon)
	for i := 1; i <= horizon; i++ {
		v := reg.Slope*float64(n+i-1) + reg.Intercept
		preds = append(preds, Prediction{
			Step:  i,
			Value: v,
			Lower: v - band,
			Upper: v + band,
		})
	}
	return Forecast{Horizon: horizon, Predictions: preds, Accuracy: reg.R2}
}

// detectChangePoints slides two adjacent windows across the series and flags
// indices where the mean shift is large relative to the pooled dispersion.
// Consecutive candidates from the same underlying shift are collapsed to the
// strongest index so one regime change reports one change point.
func detectChangePoints(values []float64, cfg Config) []ChangePoint {
	n := len(values)
	window := n / 5
	if window > 20 {
		window = 20
	}
	if window < 2 {
		return nil
	}

	// Micro-shift gate: ignore mean differences below a fraction of the
	// series range. Without it a long flat series with minuscule dispersion
	// reports change points on numeric noise.
	s := stats.Summarize(values)
	minShift := cfg.Sensitivity * (s.Max - s.Min)

	type candidate struct {
		index     int
		magnitude float64
		stat      float64
	}
	var cands []candidate

	for i := window; i+window <= n; i++ {
		before := values[i-window : i]
		after := values[i : i+window]

		meanDiff := stats.Mean(after) - stats.Mean(before)
		if math.Abs(meanDiff) < minShift {
			continue
		}

		pooled := math.Sqrt((stats.Variance(before) + stats.Variance(after)) / 2)
		var t float64
		if pooled == 0 {
			// Both windows are internally constant but differ: a clean step.
			t = math.Inf(1)
		} else {
			t = math.Abs(meanDiff) / (pooled * math.Sqrt(2/float64(window)))
		}
		if t <= cfg.ChangePointThreshold {
			continue
		}
		cands = append(cands, candidate{index: i, magnitude: meanDiff, stat: t})
	}

	// Collapse clusters: candidates within one window of each other describe
	// the same shift.
	var out []ChangePoint
	for i := 0; i < len(cands); {
		best := cands[i]
		j := i + 1
		for j < len(cands) && cands[j].index-cands[j-1].index <= window {
			if cands[j].stat > best.stat {
				best = cands[j]
			}
			j++
		}
		conf := best.stat / 2
		if conf > 1 || math.IsInf(conf, 1) {
			conf = 1
		}
		out = append(out, ChangePoint{Index: best.index, Magnitude: best.magnitude, Confidence: conf})
		i = j
	}
	return out
}

// isStationary checks whether rolling means drift: the series is stationary
// iff the variance of rolling means stays below 10% of the series variance.
func isStationary(values []float64) bool {
	n := len(values)
	window := n / 4
	if window > 20 {
		window = 20
	}
	if window < 2 {
		return true
	}

	variance := stats.Variance(values)
	if variance == 0 {
		return true
	}

	rolling := make([]float64, 0, n-window+1)
	for i := 0; i+window <= n; i++ {
		rolling = append(rolling, stats.Mean(values[i:i+window]))
	}
	return stats.Variance(rolling) < 0.1*variance
}
