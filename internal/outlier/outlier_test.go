package outlier

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constantThenSpike is fifty 10s followed by one extreme value.
func constantThenSpike(spike float64) []float64 {
	vals := make([]float64, 0, 51)
	for i := 0; i < 50; i++ {
		vals = append(vals, 10)
	}
	return append(vals, spike)
}

// noisyThenSpike is fifty values of 10±0.1 followed by one extreme value.
func noisyThenSpike(spike float64) []float64 {
	rng := rand.New(rand.NewSource(42))
	vals := make([]float64, 0, 51)
	for i := 0; i < 50; i++ {
		vals = append(vals, 10+0.2*rng.Float64()-0.1)
	}
	return append(vals, spike)
}

func TestZScoreZeroVarianceWindowIsGuarded(t *testing.T) {
	// A constant window has stddev 0; the point after it is skipped rather
	// than divided by zero, so even an obvious spike is not flagged.
	d := ZScore{Window: 50, Threshold: 3.0}
	flags := d.Detect(constantThenSpike(100))
	assert.Empty(t, flags)
}

func TestZScoreNoisyWindowFlagsSpikeAsSaturated(t *testing.T) {
	d := ZScore{Window: 50, Threshold: 3.0}
	flags := d.Detect(noisyThenSpike(50))
	require.Len(t, flags, 1)

	f := flags[0]
	assert.Equal(t, 50, f.Index)
	assert.Equal(t, AlgorithmZScore, f.Algorithm)
	// z is enormous relative to the ±0.1 noise, so the clamped score
	// saturates while the raw ratio keeps the full magnitude.
	assert.Equal(t, 1.0, f.Score)
	assert.Greater(t, f.Ratio, 2.0)
	assert.GreaterOrEqual(t, f.Confidence, 0.0)
	assert.LessOrEqual(t, f.Confidence, 1.0)
}

func TestZScoreNeverEvaluatesBeforeFullWindow(t *testing.T) {
	d := ZScore{Window: 50, Threshold: 3.0}
	// 49 points: no index ever has a full window.
	vals := noisyThenSpike(50)[:49]
	assert.Empty(t, d.Detect(vals))
}

func TestModifiedZScoreFlagsSpike(t *testing.T) {
	d := ModifiedZScore{Window: 50, Threshold: 3.5}
	flags := d.Detect(noisyThenSpike(50))
	require.Len(t, flags, 1)
	assert.Equal(t, AlgorithmModifiedZScore, flags[0].Algorithm)
	assert.Equal(t, 1.0, flags[0].Score)
}

func TestModifiedZScoreZeroMADIsGuarded(t *testing.T) {
	// Majority-constant window: median deviation is 0 even though a couple of
	// points differ, so the detector must skip.
	vals := make([]float64, 50)
	for i := range vals {
		vals[i] = 10
	}
	vals[3], vals[7] = 11, 9
	vals = append(vals, 100)

	d := ModifiedZScore{Window: 50, Threshold: 3.5}
	assert.Empty(t, d.Detect(vals))
}

func TestIQRFlagsValueOutsideFences(t *testing.T) {
	// Window is 1..50; Q1=13.25, Q3=37.75, IQR=24.5.
	// Upper fence = 37.75 + 1.5*24.5 = 74.5, so 1000 is far outside.
	vals := make([]float64, 0, 51)
	for i := 1; i <= 50; i++ {
		vals = append(vals, float64(i))
	}
	vals = append(vals, 1000)

	d := IQR{Window: 50, Multiplier: 1.5}
	flags := d.Detect(vals)
	require.Len(t, flags, 1)

	f := flags[0]
	assert.Equal(t, 50, f.Index)
	assert.Equal(t, 1000.0, f.Value)
	assert.Equal(t, 1.0, f.Score)
	// deviation = max(|1000-(-23.5)|, |1000-74.5|)/24.5 ratioed over k.
	assert.InDelta(t, (1000-(13.25-1.5*24.5))/24.5/1.5, f.Ratio, 1e-9)
}

func TestIQRInlierNotFlagged(t *testing.T) {
	vals := make([]float64, 0, 51)
	for i := 1; i <= 50; i++ {
		vals = append(vals, float64(i))
	}
	vals = append(vals, 60) // inside the 74.5 fence
	d := IQR{Window: 50, Multiplier: 1.5}
	assert.Empty(t, d.Detect(vals))
}

func TestThresholdMonotonicity(t *testing.T) {
	// Raising the threshold can never increase the number of flags.
	rng := rand.New(rand.NewSource(7))
	vals := make([]float64, 300)
	for i := range vals {
		vals[i] = rng.NormFloat64()
	}
	// Sprinkle spikes.
	for _, i := range []int{80, 150, 220, 290} {
		vals[i] = 12
	}

	zCounts := []int{}
	for _, th := range []float64{1.5, 2.0, 2.5, 3.0, 4.0} {
		zCounts = append(zCounts, len(ZScore{Window: 50, Threshold: th}.Detect(vals)))
	}
	mzCounts := []int{}
	for _, th := range []float64{2.0, 2.5, 3.0, 3.5, 5.0} {
		mzCounts = append(mzCounts, len(ModifiedZScore{Window: 50, Threshold: th}.Detect(vals)))
	}
	iqrCounts := []int{}
	for _, k := range []float64{1.0, 1.5, 2.0, 3.0} {
		iqrCounts = append(iqrCounts, len(IQR{Window: 50, Multiplier: k}.Detect(vals)))
	}

	for _, counts := range [][]int{zCounts, mzCounts, iqrCounts} {
		for i := 1; i < len(counts); i++ {
			assert.LessOrEqual(t, counts[i], counts[i-1], "flags must not increase with threshold")
		}
	}
}

func TestRealtimeZScore(t *testing.T) {
	history := noisyThenSpike(50)[:50]

	f, ok := RealtimeZScore(history, 50, 50, 3.0)
	require.True(t, ok)
	assert.Equal(t, AlgorithmZScoreRealtime, f.Algorithm)
	assert.Equal(t, 1.0, f.Score)
	assert.Equal(t, 50, f.DataPoints)

	// Inlier.
	_, ok = RealtimeZScore(history, 10.05, 50, 3.0)
	assert.False(t, ok)

	// Insufficient history.
	_, ok = RealtimeZScore([]float64{10}, 50, 50, 3.0)
	assert.False(t, ok)

	// Constant history.
	_, ok = RealtimeZScore([]float64{10, 10, 10, 10}, 50, 50, 3.0)
	assert.False(t, ok)
}

func TestRealtimeZScoreCapsHistoryAtWindow(t *testing.T) {
	// 200 points of noise around 10 followed by a check that only the last
	// `window` points form the reference distribution.
	rng := rand.New(rand.NewSource(3))
	history := make([]float64, 200)
	for i := range history {
		history[i] = 10 + 0.1*rng.NormFloat64()
	}

	f, ok := RealtimeZScore(history, 20, 50, 3.0)
	require.True(t, ok)
	assert.Equal(t, 50, f.DataPoints)
}
