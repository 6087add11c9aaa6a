// Package progress renders a one-line phase bar for long CLI runs
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Tracker follows a fixed list of named phases. A disabled tracker records
// nothing and prints nothing.
type Tracker struct {
	out     io.Writer
	enabled bool

	mu        sync.Mutex
	phases    []Phase
	current   int
	startTime time.Time
}

type Phase struct {
	Name        string
	Description string
	Status      PhaseStatus
	StartTime   time.Time
	EndTime     time.Time
	Err         error
}

type PhaseStatus int

const (
	StatusPending PhaseStatus = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

func (s PhaseStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

func New(out io.Writer, enabled bool) *Tracker {
	return &Tracker{
		out:       out,
		enabled:   enabled && out != nil,
		startTime: time.Now(),
	}
}

// AddPhase registers a phase; phases render in the order they were added
func (t *Tracker) AddPhase(name, description string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phases = append(t.phases, Phase{Name: name, Description: description})
}

func (t *Tracker) StartPhase(name string) {
	t.update(name, func(p *Phase) {
		p.Status = StatusRunning
		p.StartTime = time.Now()
	})
}

func (t *Tracker) CompletePhase(name string) {
	t.update(name, func(p *Phase) {
		p.Status = StatusCompleted
		p.EndTime = time.Now()
	})
}

func (t *Tracker) FailPhase(name string, err error) {
	t.update(name, func(p *Phase) {
		p.Status = StatusFailed
		p.EndTime = time.Now()
		p.Err = err
	})
}

// Phases returns a snapshot of all phases
func (t *Tracker) Phases() []Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Phase(nil), t.phases...)
}

func (t *Tracker) update(name string, fn func(*Phase)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.phases {
		if t.phases[i].Name == name {
			fn(&t.phases[i])
			t.current = i
			t.render()
			return
		}
	}
}

// render must be called with mu held
func (t *Tracker) render() {
	if !t.enabled {
		return
	}

	completed := 0
	for _, p := range t.phases {
		if p.Status == StatusCompleted {
			completed++
		}
	}
	percent := 0
	if len(t.phases) > 0 {
		percent = completed * 100 / len(t.phases)
	}

	const barWidth = 30
	filled := percent * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	info := ""
	if t.current < len(t.phases) {
		info = t.phases[t.current].Description
	}

	fmt.Fprintf(t.out, "\r\033[K[%s] %3d%% | %s", bar, percent, info)
}

// Complete clears the bar and prints the per-phase timings
func (t *Tracker) Complete() {
	if !t.enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "\r\033[K")
	fmt.Fprintf(t.out, "Finished in %s\n", formatDuration(time.Since(t.startTime)))
	for _, p := range t.phases {
		mark := "✓"
		switch p.Status {
		case StatusFailed:
			mark = "✗"
		case StatusPending, StatusRunning:
			mark = "-"
		}

		line := fmt.Sprintf("  %s %s", mark, p.Name)
		if !p.EndTime.IsZero() {
			line += fmt.Sprintf(" (%s)", formatDuration(p.EndTime.Sub(p.StartTime)))
		}
		if p.Err != nil {
			line += ": " + p.Err.Error()
		}
		fmt.Fprintln(t.out, line)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
