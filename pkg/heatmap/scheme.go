package heatmap

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
)

// MoreKey is the catch-all key for counts above every breakpoint
const MoreKey = "more"

// Threshold assigns a color to every count >= Value (up to the next breakpoint)
type Threshold struct {
	Value int
	Color string
}

// ColorScheme is an ordered breakpoint -> color mapping plus the catch-all "more" color
type ColorScheme struct {
	Thresholds []Threshold
	More       string
}

// DefaultScheme is the fixed red scheme used whenever the data gives nothing to work with
func DefaultScheme() ColorScheme {
	return ColorScheme{
		Thresholds: []Threshold{
			{Value: 0, Color: "#ffffff"},  // white
			{Value: 1, Color: "#ff6666"},  // light red
			{Value: 2, Color: "#f94444"},  // moderate red
			{Value: 4, Color: "#e41b1b"},  // strong red
			{Value: 6, Color: "#f10000"},  // very strong red
			{Value: 11, Color: "#950000"}, // deep red
		},
		More: "#2b0000",
	}
}

// ColorFor returns the color of the greatest breakpoint <= count. Counts above every
// breakpoint, or below the lowest one, get the "more" color.
func (s ColorScheme) ColorFor(count int) string {
	keys := s.sortedThresholds()
	if len(keys) == 0 {
		return s.More
	}

	selected := -1
	for i, t := range keys {
		if t.Value <= count {
			selected = i
		} else {
			break
		}
	}

	if selected < 0 || count > keys[len(keys)-1].Value {
		return s.More
	}
	return keys[selected].Color
}

// Colors returns the breakpoint colors in order followed by the "more" color
func (s ColorScheme) Colors() []string {
	colors := make([]string, 0, len(s.Thresholds)+1)
	for _, t := range s.Thresholds {
		colors = append(colors, t.Color)
	}
	return append(colors, s.More)
}

// Legend returns one legend entry per breakpoint plus "More"
func (s ColorScheme) Legend() []LegendItem {
	items := make([]LegendItem, 0, len(s.Thresholds)+1)
	for _, t := range s.Thresholds {
		items = append(items, LegendItem{Label: strconv.Itoa(t.Value), Color: t.Color})
	}
	return append(items, LegendItem{Label: "More", Color: s.More})
}

// Values returns the numeric breakpoints in scheme order
func (s ColorScheme) Values() []int {
	values := make([]int, len(s.Thresholds))
	for i, t := range s.Thresholds {
		values[i] = t.Value
	}
	return values
}

func (s ColorScheme) sortedThresholds() []Threshold {
	if sort.SliceIsSorted(s.Thresholds, func(i, j int) bool {
		return s.Thresholds[i].Value < s.Thresholds[j].Value
	}) {
		return s.Thresholds
	}
	sorted := append([]Threshold(nil), s.Thresholds...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })
	return sorted
}

type colorEntry struct {
	Color string `json:"color"`
}

// MarshalJSON encodes the scheme as an ordered object: {"0":{"color":...},...,"more":{...}}
func (s ColorScheme) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(key, color string) error {
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(colorEntry{Color: color})
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	for _, t := range s.Thresholds {
		if err := write(strconv.Itoa(t.Value), t.Color); err != nil {
			return nil, err
		}
		buf.WriteByte(',')
	}
	if err := write(MoreKey, s.More); err != nil {
		return nil, err
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
