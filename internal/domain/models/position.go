// internal/domain/models/position.go
package models

// Position is a host-controlled cursor into the activity's ordered content.
type Position struct {
	Step  int `bson:"step" json:"step"`
	Phase int `bson:"phase" json:"phase"`
}

// Before reports whether p sorts strictly before other (step first, then phase).
func (p Position) Before(other Position) bool {
	if p.Step != other.Step {
		return p.Step < other.Step
	}
	return p.Phase < other.Phase
}

// Gate optionally pins an item to a cursor position. A nil Step means the
// item is always visible; a nil Phase means any phase of Step qualifies.
type Gate struct {
	Step  *int `bson:"step_index,omitempty" json:"step_index,omitempty" validate:"omitempty,min=0" label:"Gate step"`
	Phase *int `bson:"phase_index,omitempty" json:"phase_index,omitempty" validate:"omitempty,min=0" label:"Gate phase"`
}

// IsUnlockedForPosition reports whether an item gated at (itemStep, itemPhase)
// is reachable from current. This is the only implementation of the rule;
// voting, results and decision listing all call it.
func IsUnlockedForPosition(itemStep, itemPhase *int, current Position) bool {
	if itemStep == nil {
		return true
	}
	if current.Step > *itemStep {
		return true
	}
	if current.Step < *itemStep {
		return false
	}
	if itemPhase == nil {
		return true
	}
	return current.Phase >= *itemPhase
}

// Unlocked reports whether g is open at current.
func (g Gate) Unlocked(current Position) bool {
	return IsUnlockedForPosition(g.Step, g.Phase, current)
}
