package alert

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dollarnow/internal/quote"
)

// Evaluate returns the ids of every rule the quote satisfies, in rule order.
// There is no "already triggered" suppression: a rule fires on every qualifying quote.
func Evaluate(q quote.Quote, rules []Rule) []int64 {
	fired := make([]int64, 0, len(rules))
	for _, r := range rules {
		if r.Matches(q.Value) {
			fired = append(fired, r.ID)
		}
	}
	return fired
}

// Engine owns the active rule set of one execution context.
type Engine struct {
	mu     sync.RWMutex
	rules  []Rule
	lastID int64
	now    func() time.Time
}

// NewEngine constructs an engine seeded with rules.
func NewEngine(rules []Rule) *Engine {
	e := &Engine{now: time.Now}
	e.Replace(rules)
	return e
}

// Add appends a new rule; the id is a creation-time token unique within the set.
func (e *Engine) Add(direction Direction, threshold decimal.Decimal) (Rule, error) {
	if direction != Above && direction != Below {
		return Rule{}, ErrInvalidDirection
	}
	if !threshold.IsPositive() {
		return Rule{}, ErrInvalidThreshold
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.now().UnixMilli()
	if id <= e.lastID {
		id = e.lastID + 1
	}
	e.lastID = id

	rule := Rule{ID: id, Direction: direction, Threshold: threshold}
	e.rules = append(e.rules, rule)
	return rule, nil
}

// Remove deletes the rule with id; absent ids are ignored.
func (e *Engine) Remove(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i:i], e.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Replace swaps the whole rule set, dropping duplicate ids.
func (e *Engine) Replace(rules []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[int64]struct{}, len(rules))
	next := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		next = append(next, r)
		if r.ID > e.lastID {
			e.lastID = r.ID
		}
	}
	e.rules = next
}

// Rules returns a copy of the active set.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Get returns the rule with id.
func (e *Engine) Get(id int64) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// Evaluate runs the quote against the engine's current rules.
func (e *Engine) Evaluate(q quote.Quote) []Rule {
	rules := e.Rules()
	fired := Evaluate(q, rules)
	out := make([]Rule, 0, len(fired))
	for _, id := range fired {
		for _, r := range rules {
			if r.ID == id {
				out = append(out, r)
				break
			}
		}
	}
	return out
}
