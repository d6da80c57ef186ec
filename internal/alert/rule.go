package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Direction says which side of the threshold fires a rule.
type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

var (
	// ErrInvalidThreshold rejects thresholds that are missing or not positive.
	ErrInvalidThreshold = errors.New("threshold must be a number greater than zero")
	// ErrInvalidDirection rejects directions other than above/below.
	ErrInvalidDirection = errors.New("direction must be above or below")
)

// ParseDirection converts user input into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Above:
		return Above, nil
	case Below:
		return Below, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

// Rule is a user-defined threshold condition. Rules are never mutated in place.
type Rule struct {
	ID        int64
	Direction Direction
	Threshold decimal.Decimal
}

// Matches reports whether value satisfies the rule.
func (r Rule) Matches(value decimal.Decimal) bool {
	switch r.Direction {
	case Above:
		return value.GreaterThanOrEqual(r.Threshold)
	case Below:
		return value.LessThanOrEqual(r.Threshold)
	default:
		return false
	}
}

// Tag is the notification tag shared by every notification this rule produces.
func (r Rule) Tag() string {
	return fmt.Sprintf("alert-%d", r.ID)
}

// Record is the persisted layout of a rule, shared by every store.
type Record struct {
	ID        int64           `json:"id"`
	Type      Direction       `json:"type"`
	Value     decimal.Decimal `json:"value"`
	Triggered bool            `json:"triggered"`
}

// MarshalJSON writes the threshold as a JSON number, matching the stored layout.
func (rec Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        int64       `json:"id"`
		Type      Direction   `json:"type"`
		Value     json.Number `json:"value"`
		Triggered bool        `json:"triggered"`
	}{rec.ID, rec.Type, json.Number(rec.Value.String()), rec.Triggered})
}

// ToRecord converts a rule into its persisted layout. Triggered is always false.
func (r Rule) ToRecord() Record {
	return Record{ID: r.ID, Type: r.Direction, Value: r.Threshold}
}

// ToRule validates a persisted record and converts it back.
func (rec Record) ToRule() (Rule, error) {
	dir, err := ParseDirection(string(rec.Type))
	if err != nil {
		return Rule{}, err
	}
	if !rec.Value.IsPositive() {
		return Rule{}, ErrInvalidThreshold
	}
	return Rule{ID: rec.ID, Direction: dir, Threshold: rec.Value}, nil
}

// Records converts a rule set into persisted records.
func Records(rules []Rule) []Record {
	out := make([]Record, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.ToRecord())
	}
	return out
}
