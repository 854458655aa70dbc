package measure

import (
	"golang.org/x/exp/slices"
)

// Median returns the median of data, averaging the two middle values for
// even lengths. The input is not modified
func Median(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(data)
	slices.Sort(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
