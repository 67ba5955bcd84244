package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Finalization runs these stages in order. Each has a p95 budget the perf
// endpoint reports against.
var finalizeStages = []struct {
	name   string
	budget time.Duration
}{
	{"negotiation", 2 * time.Second},
	{"stop_recording", 250 * time.Millisecond},
	{"persist_transcript", 500 * time.Millisecond},
}

func stageBudget(stage string) time.Duration {
	for _, s := range finalizeStages {
		if s.name == stage {
			return s.budget
		}
	}
	return 0
}

func stageRank(stage string) int {
	for i, s := range finalizeStages {
		if s.name == stage {
			return i
		}
	}
	return len(finalizeStages)
}

// StageReport summarizes one stage. Total and OverBudget count every
// observation since start; the latency figures cover the recent window only.
type StageReport struct {
	Stage      string  `json:"stage"`
	Total      int     `json:"total"`
	Window     int     `json:"window"`
	LastMS     float64 `json:"last_ms"`
	MeanMS     float64 `json:"mean_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_ms,omitempty"`
	OverBudget int     `json:"over_budget,omitempty"`
	WithinP95  bool    `json:"within_p95_budget"`
}

// StageSnapshot is the rolling latency view served by the perf endpoint.
type StageSnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Stages      []StageReport  `json:"stages"`
	Events      map[string]int `json:"events,omitempty"`
}

type stageWindow struct {
	mu     sync.Mutex
	size   int
	stages map[string]*stageRing
	events map[string]int
}

type stageRing struct {
	recent     []time.Duration
	pos        int
	total      int
	overBudget int
	last       time.Duration
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{
		size:   size,
		stages: make(map[string]*stageRing),
		events: make(map[string]int),
	}
}

func (w *stageWindow) Observe(stage string, d time.Duration) {
	if w == nil || stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	r := w.stages[stage]
	if r == nil {
		r = &stageRing{recent: make([]time.Duration, 0, w.size)}
		w.stages[stage] = r
	}
	if len(r.recent) < w.size {
		r.recent = append(r.recent, d)
	} else {
		r.recent[r.pos] = d
		r.pos = (r.pos + 1) % w.size
	}
	r.total++
	r.last = d
	if b := stageBudget(stage); b > 0 && d > b {
		r.overBudget++
	}
}

func (w *stageWindow) CountEvent(name string) {
	name = strings.TrimSpace(name)
	if w == nil || name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events[name]++
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := make([]string, 0, len(w.stages))
	for name := range w.stages {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if ra, rb := stageRank(a), stageRank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(a, b)
	})

	reports := make([]StageReport, 0, len(names))
	for _, name := range names {
		reports = append(reports, w.stages[name].report(name))
	}

	var events map[string]int
	if len(w.events) > 0 {
		events = make(map[string]int, len(w.events))
		for name, n := range w.events {
			events[name] = n
		}
	}
	return StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      reports,
		Events:      events,
	}
}

func (r *stageRing) report(stage string) StageReport {
	sorted := slices.Clone(r.recent)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	rep := StageReport{
		Stage:      stage,
		Total:      r.total,
		Window:     len(sorted),
		LastMS:     millis(r.last),
		P50MS:      millis(nearestRank(sorted, 0.50)),
		P95MS:      millis(nearestRank(sorted, 0.95)),
		OverBudget: r.overBudget,
		WithinP95:  true,
	}
	if len(sorted) > 0 {
		rep.MeanMS = millis(sum / time.Duration(len(sorted)))
		rep.MaxMS = millis(sorted[len(sorted)-1])
	}
	if b := stageBudget(stage); b > 0 {
		rep.BudgetMS = millis(b)
		rep.WithinP95 = rep.P95MS <= rep.BudgetMS
	}
	return rep
}

// nearestRank picks the smallest sample with at least q of the window at or
// below it.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q * float64(len(sorted))))
	rank = max(1, min(rank, len(sorted)))
	return sorted[rank-1]
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}
