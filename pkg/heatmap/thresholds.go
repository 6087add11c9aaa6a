package heatmap

import (
	"fmt"
	"math"
	"sort"

	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
)

// Gradient endpoints for data-driven schemes
const (
	GradientStart = "#ffffff"
	GradientEnd   = "#000066"
)

// SchemeForCounts derives a color scheme from the distribution of counts.
//
// Breakpoints are 0, Q1, mean, Q3, 90% of the max and the max, rounded half to even,
// deduplicated and sorted. Each breakpoint gets a color from a white to deep blue
// gradient and "more" gets the final color. An empty or all-zero distribution yields
// the default scheme. Quartiles need two or more points; fewer returns
// ErrInsufficientData.
func SchemeForCounts(counts []int) (ColorScheme, error) {
	if len(counts) == 0 {
		return DefaultScheme(), nil
	}

	highest := maxOf(counts)
	if highest == 0 {
		return DefaultScheme(), nil
	}

	q, err := quartiles(counts)
	if err != nil {
		return ColorScheme{}, fmt.Errorf("quartiles: %w", err)
	}

	candidates := []int{
		0,
		roundClamped(q[0], highest),
		roundClamped(mean(counts), highest),
		roundClamped(q[2], highest),
		roundClamped(0.9*float64(highest), highest),
		highest,
	}
	breakpoints := uniqueSorted(candidates)

	colors, err := Gradient(GradientStart, GradientEnd, len(breakpoints)+1)
	if err != nil {
		return ColorScheme{}, err
	}

	scheme := ColorScheme{Thresholds: make([]Threshold, len(breakpoints))}
	for i, value := range breakpoints {
		scheme.Thresholds[i] = Threshold{Value: value, Color: colors[i]}
	}
	scheme.More = colors[len(colors)-1]

	return scheme, nil
}

// CountsFor extracts the dimension's count from every technique, including ones
// without a technique identifier
func CountsFor(techniques []attack.Technique, dim attack.Dimension) []int {
	counts := make([]int, len(techniques))
	for i := range techniques {
		counts[i] = techniques[i].Stats.For(dim)
	}
	return counts
}

// roundClamped rounds half to even after clamping into [0, highest]. The exclusive
// quartile method extrapolates on tiny samples and can leave that range.
func roundClamped(v float64, highest int) int {
	if v < 0 {
		v = 0
	}
	if v > float64(highest) {
		v = float64(highest)
	}
	return int(math.RoundToEven(v))
}

func uniqueSorted(values []int) []int {
	seen := make(map[int]struct{}, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
