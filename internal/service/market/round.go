package market

import "math"

// MinPrice is the floor applied to simulated prices.
const MinPrice = 0.01

// Round2 rounds half away from zero to two decimals.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
