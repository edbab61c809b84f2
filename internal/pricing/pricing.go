// Package pricing normalizes raw affiliate price fields.
package pricing

import "strconv"

// Prices is the normalized (current, original) pair. Original is never below
// current.
type Prices struct {
	Current  float64
	Original float64
}

// Normalize converts a raw price string and a discount percentage into a
// consistent price pair. Raw prices may arrive pre-multiplied by 100
// (minor-unit convention); values >= 1000 are divided by 100. This is a
// heuristic, not a unit flag: a genuinely cheap item never hits it, but a
// high-value item under 100000 minor units is ambiguous and will be scaled.
// Non-numeric input normalizes to zero.
func Normalize(rawPrice string, discountPercent float64) Prices {
	value, err := strconv.ParseFloat(rawPrice, 64)
	if err != nil || value < 0 {
		value = 0
	}
	if value >= 1000 {
		value /= 100
	}

	original := value
	if discountPercent > 0 && discountPercent < 100 {
		original = value / (1 - discountPercent/100)
	}
	if original < value {
		original = value
	}
	return Prices{Current: value, Original: original}
}
