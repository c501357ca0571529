package domain

import "math"

// NormalizeAccuracy maps the accuracy encodings seen across services onto a
// single 0-100 percent scale: fractions in (0,1] are multiplied by 100,
// percentages in (1,100] pass through, scaled integers in [1000,10000] are
// divided by 100. Values in (100,1000) could be either a bad percent or an
// implausibly low scaled value, so they yield no value and the caller falls
// back to the base/max derivation.
func NormalizeAccuracy(raw float64) (float64, bool) {
	if !math.IsInf(raw, 0) && !math.IsNaN(raw) && raw > 0 {
		switch {
		case raw <= 1.0:
			return raw * 100.0, true
		case raw <= 100.0:
			return raw, true
		case raw >= 1000.0 && raw <= 10000.0:
			return raw / 100.0, true
		}
	}
	return 0, false
}

// AccuracyFromScores derives a percent accuracy from a base score and the
// chart's max score, clamped to [0,100]. Used when a play carries no direct
// accuracy field.
func AccuracyFromScores(base, max float64) (float64, bool) {
	if math.IsNaN(base) || math.IsInf(base, 0) || math.IsNaN(max) || math.IsInf(max, 0) || max <= 0 {
		return 0, false
	}
	acc := base / max * 100.0
	if acc < 0 {
		acc = 0
	}
	if acc > 100 {
		acc = 100
	}
	return acc, true
}
