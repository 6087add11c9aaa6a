package heatmap

import (
	"errors"
	"sort"
)

// ErrInsufficientData is returned when a distribution has too few points for quartiles
var ErrInsufficientData = errors.New("must have at least two data points")

// quartiles returns the three cut points dividing counts into four groups, using the
// exclusive method: positions are interpolated over n+1 slots so the extremes are never
// treated as the 0th or 100th percentile.
func quartiles(counts []int) ([3]float64, error) {
	var cuts [3]float64

	n := len(counts)
	if n < 2 {
		return cuts, ErrInsufficientData
	}

	data := make([]int, n)
	copy(data, counts)
	sort.Ints(data)

	const groups = 4
	m := n + 1
	for i := 1; i < groups; i++ {
		j := i * m / groups
		if j < 1 {
			j = 1
		} else if j > n-1 {
			j = n - 1
		}
		delta := i*m - j*groups
		cuts[i-1] = float64(data[j-1]*(groups-delta)+data[j]*delta) / groups
	}

	return cuts, nil
}

func mean(counts []int) float64 {
	if len(counts) == 0 {
		return 0
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	return float64(total) / float64(len(counts))
}

func maxOf(counts []int) int {
	highest := 0
	for i, c := range counts {
		if i == 0 || c > highest {
			highest = c
		}
	}
	return highest
}
