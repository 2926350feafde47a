package scaling

import (
	"time"

	"github.com/migalsp/kubex-hibernate/internal/schedule"
)

// InHibernationPeriod reports whether current falls inside the window
// [scaleDown, scaleUp). When scaleDown >= scaleUp the window crosses midnight.
func InHibernationPeriod(scaleDown, scaleUp, current schedule.TimeOfDay) bool {
	if scaleDown < scaleUp {
		return scaleDown <= current && current < scaleUp
	}
	return current >= scaleDown || current < scaleUp
}

// ShouldScaleDown is the edge trigger fired on the scale-down minute.
func ShouldScaleDown(scaleDown, current schedule.TimeOfDay) bool {
	return current == scaleDown
}

// ShouldScaleUp is the edge trigger fired on the scale-up minute.
func ShouldScaleUp(scaleUp, current schedule.TimeOfDay) bool {
	return current == scaleUp
}

// Trigger says what caused a transition to be evaluated.
type Trigger string

const (
	// TriggerTick is the once-a-minute reconciliation pass.
	TriggerTick Trigger = "tick"
	// TriggerEdit is a create, update or enable coming from the API or a
	// direct edit of the stored record.
	TriggerEdit Trigger = "edit"
)

// Action is the scale action picked for a schedule.
type Action int

const (
	ActionNone Action = iota
	ActionHibernate
	ActionWake
)

func (a Action) String() string {
	switch a {
	case ActionHibernate:
		return "hibernate"
	case ActionWake:
		return "wake"
	}
	return "none"
}

// Decide picks at most one action for s at now, which must already be in the
// configured timezone.
//
// Ticks fire on the boundary minute. A boundary that passed without a
// successful transition (failed cluster call, missed tick) is caught up on the
// following ticks while the window still calls for it. LastScaledAt only moves
// on a successful write, so each boundary is consumed once.
//
// Edits hibernate right away when the window already contains now, and wake a
// disabled schedule that is still parked at zero.
func Decide(s *schedule.Schedule, now time.Time, trigger Trigger) Action {
	current := schedule.At(now)
	inWindow := InHibernationPeriod(s.ScaleDownTime, s.ScaleUpTime, current)

	switch s.State() {
	case schedule.Disabled:
		if trigger == TriggerEdit && s.IsScaledDown {
			return ActionWake
		}
	case schedule.Awake:
		if trigger == TriggerEdit {
			if inWindow {
				return ActionHibernate
			}
			return ActionNone
		}
		if ShouldScaleDown(s.ScaleDownTime, current) {
			return ActionHibernate
		}
		if inWindow && missed(s, s.ScaleDownTime, now) {
			return ActionHibernate
		}
	case schedule.Hibernating:
		if trigger == TriggerEdit {
			return ActionNone
		}
		if ShouldScaleUp(s.ScaleUpTime, current) {
			return ActionWake
		}
		if !inWindow && missed(s, s.ScaleUpTime, now) {
			return ActionWake
		}
	}
	return ActionNone
}

// missed reports whether the last occurrence of boundary happened after the
// last successful transition.
func missed(s *schedule.Schedule, boundary schedule.TimeOfDay, now time.Time) bool {
	if s.LastScaledAt == nil {
		return true
	}
	return s.LastScaledAt.Before(boundary.LastOccurrence(now))
}
