// Package workflow holds the publishing state machine shared by every
// publishable content kind: the states, the allowed-transitions table and the
// side effects a transition applies to a record's lifecycle fields.
package workflow

import (
	"fmt"
	"strings"
	"time"
)

type State string

const (
	Draft         State = "draft"
	PendingReview State = "pending_review"
	InReview      State = "in_review"
	Approved      State = "approved"
	Rejected      State = "rejected"
	Published     State = "published"
	Scheduled     State = "scheduled"
	Archived      State = "archived"
)

var allStates = []State{Draft, PendingReview, InReview, Approved, Rejected, Published, Scheduled, Archived}

var transitions = map[State][]State{
	Draft:         {PendingReview, Published, Scheduled, Archived},
	PendingReview: {InReview, Draft},
	InReview:      {Approved, Rejected, Draft},
	Approved:      {Published, Scheduled, Draft},
	Rejected:      {Draft, PendingReview},
	Published:     {Draft, Archived},
	Scheduled:     {Published, Draft},
	Archived:      {Draft},
}

// States returns every state in declaration order.
func States() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s State) String() string { return string(s) }

// ParseState accepts a state name, case-insensitively.
func ParseState(in string) (State, error) {
	s := State(strings.ToLower(strings.TrimSpace(in)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid state %q", in)
	}
	return s, nil
}

// CanTransition reports whether the table allows from -> to. Unknown states
// and self-loops are never allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the targets reachable from a state, in table order.
func AllowedTransitions(from State) []State {
	row := transitions[from]
	out := make([]State, len(row))
	copy(out, row)
	return out
}

// RetentionPolicy decides what happens to published_at when a record returns to draft.
type RetentionPolicy string

const (
	RetainPublishedAt RetentionPolicy = "retain"
	ClearPublishedAt  RetentionPolicy = "clear"
)

func ParseRetention(in string) (RetentionPolicy, error) {
	switch RetentionPolicy(strings.ToLower(strings.TrimSpace(in))) {
	case RetainPublishedAt:
		return RetainPublishedAt, nil
	case ClearPublishedAt:
		return ClearPublishedAt, nil
	}
	return "", fmt.Errorf("invalid retention policy %q (want retain or clear)", in)
}

// Lifecycle is the part of a record owned by the state machine.
type Lifecycle struct {
	State       State      `json:"state" enum:"draft,pending_review,in_review,approved,rejected,published,scheduled,archived"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	ReviewNotes *string    `json:"review_notes,omitempty"`
}

// Options carries caller input for targets that need it.
type Options struct {
	ScheduledAt *time.Time
	ReviewNotes *string
}

// ValidateSchedule requires a schedule time strictly after now.
func ValidateSchedule(at *time.Time, now time.Time) error {
	if at == nil {
		return fmt.Errorf("%w: scheduled_at is required", ErrInvalidScheduleTime)
	}
	if !at.After(now) {
		return fmt.Errorf("%w: %s is not after %s", ErrInvalidScheduleTime,
			at.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}
	return nil
}

// Apply computes the lifecycle after moving cur to the target state. On
// error the returned lifecycle is cur, untouched.
func Apply(entityID string, cur Lifecycle, to State, opts Options, policy RetentionPolicy, now time.Time) (Lifecycle, error) {
	if to == Scheduled {
		if err := ValidateSchedule(opts.ScheduledAt, now); err != nil {
			return cur, err
		}
	}
	if !CanTransition(cur.State, to) {
		return cur, &IllegalTransitionError{EntityID: entityID, From: cur.State, To: to}
	}
	next := cur
	next.State = to
	if cur.State == Scheduled {
		next.ScheduledAt = nil
	}
	switch to {
	case Published:
		if next.PublishedAt == nil {
			next.PublishedAt = timePtr(now)
		}
	case Scheduled:
		next.ScheduledAt = timePtr(*opts.ScheduledAt)
	case Draft:
		if policy == ClearPublishedAt {
			next.PublishedAt = nil
		}
	case Archived:
		next.ArchivedAt = timePtr(now)
	case Approved, Rejected:
		next.ReviewNotes = nil
		if opts.ReviewNotes != nil {
			notes := *opts.ReviewNotes
			next.ReviewNotes = &notes
		}
	}
	return next, nil
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC().Truncate(time.Microsecond)
	return &t
}
