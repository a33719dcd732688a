package alerting

import (
	"time"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

// Action is the outcome of one alarm transition.
type Action string

const (
	ActionNoop          Action = "NOOP"
	ActionNotify        Action = "NOTIFY"
	ActionRenotify      Action = "RENOTIFY"
	ActionSuppress      Action = "SUPPRESS"
	ActionRecover       Action = "RECOVER"
	ActionRecoverSilent Action = "RECOVER_SILENT"
)

// Notifies reports whether the action dispatches a notification.
func (a Action) Notifies() bool {
	return a == ActionNotify || a == ActionRenotify || a == ActionRecover
}

// Input is everything the state machine needs besides the prior state.
type Input struct {
	MatchCount int
	// RenotifyMinutes nil means never renotify.
	RenotifyMinutes *int
	RecoverNotify   bool
	Now             time.Time
}

// NextState computes the action and next state for an alarm. prior may be
// nil, which is treated as OK with a zero streak. The result is nil only
// when prior is nil and nothing was detected. prior is never modified.
func NextState(prior *models.AlarmState, in Input) (Action, *models.AlarmState) {
	if !prior.IsAlarm() && in.MatchCount <= 0 {
		return ActionNoop, prior.Clone()
	}

	next := prior.Clone()
	if next == nil {
		next = &models.AlarmState{Status: models.StatusOK}
	}
	next.UpdatedAt = in.Now

	if in.MatchCount <= 0 {
		// ALARM with nothing detected: recovery.
		next.Status = models.StatusOK
		next.CurrentStreak = 0
		if in.RecoverNotify {
			next.LastNotifiedAt = in.Now
			return ActionRecover, next
		}
		return ActionRecoverSilent, next
	}

	next.DetectionCount += int64(in.MatchCount)
	next.CurrentStreak++
	next.LastDetectedAt = in.Now

	if !prior.IsAlarm() {
		next.Status = models.StatusAlarm
		next.LastNotifiedAt = in.Now
		return ActionNotify, next
	}

	if renotifyDue(prior.LastNotifiedAt, in.RenotifyMinutes, in.Now) {
		next.LastNotifiedAt = in.Now
		return ActionRenotify, next
	}
	return ActionSuppress, next
}

func renotifyDue(lastNotified time.Time, minutes *int, now time.Time) bool {
	if minutes == nil {
		return false
	}
	if lastNotified.IsZero() {
		return true
	}
	interval := time.Duration(*minutes) * time.Minute
	return now.Sub(lastNotified) >= interval
}
