package driftwatch

// severityForRatio maps a raw exceedance ratio (test statistic over its
// threshold, before clamping) to a severity. Monotonic: a larger ratio never
// yields a lower severity. The boundaries are inclusive.
func severityForRatio(ratio float64) Severity {
	switch {
	case ratio >= 2.0:
		return SeverityCritical
	case ratio >= 1.5:
		return SeverityHigh
	case ratio >= 1.0:
		return SeverityMedium
	case ratio >= 0.5:
		return SeverityLow
	default:
		return SeverityInfo
	}
}
