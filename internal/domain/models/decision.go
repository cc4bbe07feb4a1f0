// internal/domain/models/decision.go
package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DecisionStatus is the lifecycle state of a decision.
type DecisionStatus string

const (
	DecisionOpen     DecisionStatus = "open"
	DecisionClosed   DecisionStatus = "closed"
	DecisionRevealed DecisionStatus = "revealed"
)

var decisionTransitions = map[DecisionStatus][]DecisionStatus{
	DecisionOpen:   {DecisionClosed, DecisionRevealed},
	DecisionClosed: {DecisionRevealed},
}

// ValidateDecisionTransition returns an error when from -> to is illegal.
func ValidateDecisionTransition(from, to DecisionStatus) error {
	for _, next := range decisionTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("decision is %s, cannot become %s", from, to)
}

// DecisionOption is one selectable answer.
type DecisionOption struct {
	Key   string `bson:"key" json:"key" validate:"required,optionkey" label:"Option key"`
	Label string `bson:"label" json:"label" validate:"required,max=200" label:"Option label"`
}

// Decision is a timed single-choice poll scoped to one session.
type Decision struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID  primitive.ObjectID `bson:"session_id" json:"session_id"`
	Title      string             `bson:"title" json:"title"`
	Options    []DecisionOption   `bson:"options" json:"options"`
	MaxChoices int                `bson:"max_choices" json:"max_choices"`
	Status     DecisionStatus     `bson:"status" json:"status"`
	Gate       Gate               `bson:"gate" json:"gate"`

	OpenedBy   string     `bson:"opened_by" json:"-"`
	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	ClosesAt   *time.Time `bson:"closes_at,omitempty" json:"closes_at,omitempty"`
	ClosedAt   *time.Time `bson:"closed_at,omitempty" json:"closed_at,omitempty"`
	RevealedAt *time.Time `bson:"revealed_at,omitempty" json:"revealed_at,omitempty"`
}

// HasOption reports whether key names one of the decision's options.
func (d Decision) HasOption(key string) bool {
	for _, o := range d.Options {
		if o.Key == key {
			return true
		}
	}
	return false
}

// AcceptsVotes reports whether votes may be cast at now.
func (d Decision) AcceptsVotes(now time.Time) bool {
	if d.Status != DecisionOpen {
		return false
	}
	return d.ClosesAt == nil || now.Before(*d.ClosesAt)
}

// Vote is the single choice of one participant on one decision.
// (DecisionID, ParticipantID) is unique; a new vote replaces the old one.
type Vote struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	DecisionID    primitive.ObjectID `bson:"decision_id" json:"decision_id"`
	SessionID     primitive.ObjectID `bson:"session_id" json:"-"`
	ParticipantID primitive.ObjectID `bson:"participant_id" json:"-"`
	OptionKey     string             `bson:"option_key" json:"option_key"`
	CastAt        time.Time          `bson:"cast_at" json:"cast_at"`
}

// Tally is the per-option vote count of a decision.
type Tally struct {
	DecisionID primitive.ObjectID `json:"decision_id"`
	Counts     map[string]int     `json:"counts"`
	Total      int                `json:"total"`
	RevealedAt *time.Time         `json:"revealed_at,omitempty"`
}

// NewTally returns a tally with every option present at zero.
func NewTally(d Decision) Tally {
	counts := make(map[string]int, len(d.Options))
	for _, o := range d.Options {
		counts[o.Key] = 0
	}
	return Tally{DecisionID: d.ID, Counts: counts, RevealedAt: d.RevealedAt}
}
