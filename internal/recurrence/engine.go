package recurrence

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Frequency represents supported recurrence units.
type Frequency int

const (
	// FrequencyUnspecified indicates the rule frequency is not set.
	FrequencyUnspecified Frequency = iota
	// FrequencyDaily steps by whole days.
	FrequencyDaily
	// FrequencyWeekly steps by whole weeks.
	FrequencyWeekly
	// FrequencyMonthly steps by calendar months, clamping the day of month.
	FrequencyMonthly
	// FrequencyYearly steps by calendar years, clamping Feb 29.
	FrequencyYearly
)

var frequencyNames = map[Frequency]string{
	FrequencyDaily:   "DAILY",
	FrequencyWeekly:  "WEEKLY",
	FrequencyMonthly: "MONTHLY",
	FrequencyYearly:  "YEARLY",
}

// String returns the canonical upper-case name of the frequency.
func (f Frequency) String() string {
	if name, ok := frequencyNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Frequency(%d)", int(f))
}

// ParseFrequency maps a frequency name such as "weekly" onto a Frequency.
func ParseFrequency(value string) (Frequency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for freq, name := range frequencyNames {
		if name == normalized {
			return freq, nil
		}
	}
	return FrequencyUnspecified, fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, value)
}

// ErrInvalidRule indicates the recurrence rule is malformed.
var ErrInvalidRule = errors.New("recurrence: invalid rule")

// ErrInvalidWindow indicates the generation window is empty or inverted.
var ErrInvalidWindow = errors.New("recurrence: window end must be after start")

// ErrInvalidDuration indicates the base reservation duration is invalid.
var ErrInvalidDuration = errors.New("recurrence: reservation duration must be positive")

// MaxInterval bounds Rule.Interval so that month and day arithmetic on
// candidate indices stays far inside int range.
const MaxInterval = 10000

// Rule describes how a reservation repeats.
type Rule struct {
	Frequency Frequency
	// Interval is the number of frequency units between occurrences.
	Interval int
	// Count caps the number of generated occurrences. Zero means unbounded.
	Count int
	// Until is an inclusive bound on occurrence starts.
	Until *time.Time
}

// NewRule returns a rule stepping by one unit of freq.
func NewRule(freq Frequency) Rule {
	return Rule{Frequency: freq, Interval: 1}
}

// Validate reports ErrInvalidRule when the rule cannot be expanded.
func (r Rule) Validate() error {
	if _, ok := frequencyNames[r.Frequency]; !ok {
		return fmt.Errorf("%w: unsupported frequency %s", ErrInvalidRule, r.Frequency)
	}
	if r.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidRule, r.Interval)
	}
	if r.Interval > MaxInterval {
		return fmt.Errorf("%w: interval must not exceed %d, got %d", ErrInvalidRule, MaxInterval, r.Interval)
	}
	if r.Count < 0 {
		return fmt.Errorf("%w: count must not be negative, got %d", ErrInvalidRule, r.Count)
	}
	return nil
}

// step returns the k-th candidate start. Every candidate is derived from the
// anchor so month clamping never accumulates drift.
func (r Rule) step(anchor time.Time, k int) time.Time {
	n := k * r.Interval
	switch r.Frequency {
	case FrequencyDaily:
		return anchor.AddDate(0, 0, n)
	case FrequencyWeekly:
		return anchor.AddDate(0, 0, 7*n)
	case FrequencyMonthly:
		return addMonthsClamped(anchor, n)
	case FrequencyYearly:
		return addMonthsClamped(anchor, 12*n)
	default:
		return anchor
	}
}

// indexBefore returns an index whose candidate start is strictly before t, as
// close to t as cheaply possible. It returns 0 when t is not after the anchor.
func (r Rule) indexBefore(anchor, t time.Time) int {
	if !t.After(anchor) {
		return 0
	}
	var units int
	switch r.Frequency {
	case FrequencyDaily:
		units = int(t.Sub(anchor) / (24 * time.Hour))
	case FrequencyWeekly:
		units = int(t.Sub(anchor) / (7 * 24 * time.Hour))
	case FrequencyMonthly:
		units = monthsBetween(anchor, t)
	case FrequencyYearly:
		units = monthsBetween(anchor, t) / 12
	}
	k := units/r.Interval - 1
	if k < 0 {
		k = 0
	}
	for k > 0 && !r.step(anchor, k).Before(t) {
		k--
	}
	return k
}

// upperBound combines the rule's own Until with an external end of recurrence.
func (r Rule) upperBound(until *time.Time) (time.Time, bool) {
	var limit time.Time
	bounded := false
	if r.Until != nil {
		limit = *r.Until
		bounded = true
	}
	if until != nil && (!bounded || until.Before(limit)) {
		limit = *until
		bounded = true
	}
	return limit, bounded
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + months
	year := y + total/12
	month := time.Month(total%12 + 1)
	if last := daysIn(year, month); d > last {
		d = last
	}
	hour, minute, sec := t.Clock()
	return time.Date(year, month, d, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func monthsBetween(from, to time.Time) int {
	fy, fm, _ := from.Date()
	ty, tm, _ := to.Date()
	return (ty-fy)*12 + int(tm) - int(fm)
}

// Window is a half-open time span [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow validates and constructs a window.
func NewWindow(start, end time.Time) (Window, error) {
	w := Window{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Validate reports ErrInvalidWindow for empty or inverted windows.
func (w Window) Validate() error {
	if !w.End.After(w.Start) {
		return ErrInvalidWindow
	}
	return nil
}

// Overlaps reports whether [start, end) intersects the window. Spans that only
// touch at a boundary do not overlap.
func (w Window) Overlaps(start, end time.Time) bool {
	return Overlaps(w.Start, w.End, start, end)
}

// Contains reports whether t lies within the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Slot is a candidate occurrence produced by a rule.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Engine expands recurrence rules into candidate slots.
type Engine struct {
	cache *lru.Cache[cacheKey, []Slot]
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache memoises collected expansions in an LRU of the given size.
// Non-positive sizes disable the cache.
func WithCache(size int) Option {
	return func(e *Engine) {
		if size <= 0 {
			e.cache = nil
			return
		}
		cache, err := lru.New[cacheKey, []Slot](size)
		if err != nil {
			return
		}
		e.cache = cache
	}
}

// NewEngine constructs an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand lazily produces the candidate slots of a reservation anchored at
// [anchorStart, anchorEnd) inside window.
//
// The engine enforces the following semantics:
//   - Candidates are derived from the anchor on every call; the sequence holds no cursor state.
//   - Generation stops at the window end, at min(rule.Until, until) and after rule.Count candidates.
//   - Candidates starting before the window are skipped rather than ending the sequence.
//   - Without a rule, the anchor slot is produced iff it overlaps the window.
//   - A step that does not move past the previous candidate ends the sequence.
func (e *Engine) Expand(anchorStart, anchorEnd time.Time, rule *Rule, until *time.Time, window Window) (iter.Seq[Slot], error) {
	if !anchorEnd.After(anchorStart) {
		return nil, ErrInvalidDuration
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}
	duration := anchorEnd.Sub(anchorStart)

	if rule == nil {
		return func(yield func(Slot) bool) {
			if window.Overlaps(anchorStart, anchorEnd) {
				yield(Slot{Start: anchorStart, End: anchorEnd})
			}
		}, nil
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	r := *rule
	limit, bounded := r.upperBound(until)

	return func(yield func(Slot) bool) {
		var prev time.Time
		k := r.indexBefore(anchorStart, window.Start)
		for first := true; r.Count == 0 || k < r.Count; k, first = k+1, false {
			start := r.step(anchorStart, k)
			if !first && !start.After(prev) {
				return
			}
			prev = start
			if !start.Before(window.End) {
				return
			}
			if bounded && start.After(limit) {
				return
			}
			if start.Before(window.Start) {
				continue
			}
			if !yield(Slot{Start: start, End: start.Add(duration)}) {
				return
			}
		}
	}, nil
}

// Slots collects Expand into a slice, consulting the cache when enabled.
func (e *Engine) Slots(anchorStart, anchorEnd time.Time, rule *Rule, until *time.Time, window Window) ([]Slot, error) {
	key := newCacheKey(anchorStart, anchorEnd, rule, until, window)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			return slices.Clone(cached), nil
		}
	}

	seq, err := e.Expand(anchorStart, anchorEnd, rule, until, window)
	if err != nil {
		return nil, err
	}
	slots := slices.Collect(seq)

	if e.cache != nil {
		e.cache.Add(key, slices.Clone(slots))
	}
	return slots, nil
}

// IsCandidate reports whether start is exactly one of the slots the rule
// produces for the given anchor.
func (e *Engine) IsCandidate(anchorStart time.Time, rule *Rule, until *time.Time, start time.Time) (bool, error) {
	if rule == nil {
		return start.Equal(anchorStart), nil
	}
	if err := rule.Validate(); err != nil {
		return false, err
	}
	if start.Before(anchorStart) {
		return false, nil
	}
	if limit, ok := rule.upperBound(until); ok && start.After(limit) {
		return false, nil
	}
	var prev time.Time
	k := rule.indexBefore(anchorStart, start)
	for first := true; rule.Count == 0 || k < rule.Count; k, first = k+1, false {
		candidate := rule.step(anchorStart, k)
		if !first && !candidate.After(prev) {
			return false, nil
		}
		prev = candidate
		if candidate.Equal(start) {
			return true, nil
		}
		if candidate.After(start) {
			return false, nil
		}
	}
	return false, nil
}

// LastStart returns the latest candidate start the rule can produce. The bool
// is false when the rule recurs indefinitely.
func (e *Engine) LastStart(anchorStart time.Time, rule *Rule, until *time.Time) (time.Time, bool, error) {
	if rule == nil {
		return anchorStart, true, nil
	}
	if err := rule.Validate(); err != nil {
		return time.Time{}, false, err
	}

	limit, bounded := rule.upperBound(until)
	if !bounded && rule.Count == 0 {
		return time.Time{}, false, nil
	}
	if bounded && limit.Before(anchorStart) {
		return anchorStart, true, nil
	}

	var last time.Time
	if rule.Count > 0 {
		last = rule.step(anchorStart, rule.Count-1)
		if !bounded || !last.After(limit) {
			return last, true, nil
		}
	}

	k := rule.indexBefore(anchorStart, limit)
	for rule.Count == 0 || k+1 < rule.Count {
		next := rule.step(anchorStart, k+1)
		if next.After(limit) || !next.After(rule.step(anchorStart, k)) {
			break
		}
		k++
	}
	return rule.step(anchorStart, k), true, nil
}

type cacheKey struct {
	location    string
	anchorStart int64
	anchorEnd   int64
	hasRule     bool
	frequency   Frequency
	interval    int
	count       int
	ruleUntil   int64
	hasRuleEnd  bool
	until       int64
	hasUntil    bool
	windowStart int64
	windowEnd   int64
}

func newCacheKey(anchorStart, anchorEnd time.Time, rule *Rule, until *time.Time, window Window) cacheKey {
	key := cacheKey{
		location:    anchorStart.Location().String(),
		anchorStart: anchorStart.UnixNano(),
		anchorEnd:   anchorEnd.UnixNano(),
		windowStart: window.Start.UnixNano(),
		windowEnd:   window.End.UnixNano(),
	}
	if rule != nil {
		key.hasRule = true
		key.frequency = rule.Frequency
		key.interval = rule.Interval
		key.count = rule.Count
		if rule.Until != nil {
			key.hasRuleEnd = true
			key.ruleUntil = rule.Until.UnixNano()
		}
	}
	if until != nil {
		key.hasUntil = true
		key.until = until.UnixNano()
	}
	return key
}
