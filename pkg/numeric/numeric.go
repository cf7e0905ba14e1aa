// Package numeric holds the small, dependency-free numerical primitives the
// TA tracker and engine share: clamping, epsilon-guarded comparisons,
// sigmoid scoring, and linear-regression slope extraction. None of the
// example repos provide a regression-slope helper, so this stays on the
// standard library (see DESIGN.md).
package numeric

import "math"

// Epsilon is the default noise-floor guard for float comparisons, per the
// "never equality" design rule: differences smaller than this are treated
// as zero.
const Epsilon = 1e-9

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 restricts v to [0, 1].
func Clamp01(v float64) float64 { return Clamp(v, 0, 1) }

// SafeDiv returns a/b, or fallback when b is within Epsilon of zero.
func SafeDiv(a, b, fallback float64) float64 {
	if math.Abs(b) < Epsilon {
		return fallback
	}
	return a / b
}

// NearlyEqual reports whether a and b differ by less than the given
// tolerance (defaults to Epsilon when tol <= 0).
func NearlyEqual(a, b, tol float64) bool {
	if tol <= 0 {
		tol = Epsilon
	}
	return math.Abs(a-b) < tol
}

// Sigmoid maps x into (0, 1) using logistic scaling with steepness k,
// centered at x0.
func Sigmoid(x, x0, k float64) float64 {
	return 1.0 / (1.0 + math.Exp(-k*(x-x0)))
}

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation of xs.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// LinearRegressionSlope fits y = a + b*t over evenly spaced t = 0..n-1 and
// returns b, normalized by the mean of ys so the result is a fractional
// per-bar rate of change rather than an absolute unit slope. Returns 0 for
// fewer than 2 points or a near-zero mean.
func LinearRegressionSlope(ys []float64) float64 {
	n := len(ys)
	if n < 2 {
		return 0
	}
	var sumT, sumY, sumTY, sumTT float64
	for i, y := range ys {
		t := float64(i)
		sumT += t
		sumY += y
		sumTY += t * y
		sumTT += t * t
	}
	nf := float64(n)
	denom := nf*sumTT - sumT*sumT
	if math.Abs(denom) < Epsilon {
		return 0
	}
	slope := (nf*sumTY - sumT*sumY) / denom
	mean := sumY / nf
	return SafeDiv(slope, mean, 0)
}

// EWMAAlpha returns the exponential smoothing factor 2/(span+1) for a
// span-based EWMA.
func EWMAAlpha(span float64) float64 {
	return 2.0 / (span + 1.0)
}
