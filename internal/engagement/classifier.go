package engagement

import (
	"time"

	"virtual-office/internal/leads"
)

// DefaultOverdueAfter is how long after the latest past reminder a lead
// without a pending follow-up becomes overdue.
const DefaultOverdueAfter = 48 * time.Hour

// Rules holds the classification constants. Phase ids are opaque ids from
// the external pipeline.
type Rules struct {
	EnrolledPhaseID string
	DroppedPhaseID  string
	OverdueAfter    time.Duration
}

func (r Rules) overdueAfter() time.Duration {
	if r.OverdueAfter <= 0 {
		return DefaultOverdueAfter
	}
	return r.OverdueAfter
}

// Classify maps a lead, its reminders and now to an engagement category.
//
// First match wins: enrolled phase, dropped phase, no dated reminders
// (unmanaged), any reminder at or after now (managed), latest reminder older
// than the overdue threshold (overdue), otherwise unmanaged.
//
// Reminder status is not consulted; expired and cancelled reminders still
// count as history. Classify is pure.
func (r Rules) Classify(lead leads.Lead, reminders []leads.Reminder, now time.Time) leads.EngagementStatus {
	if r.EnrolledPhaseID != "" && lead.PhaseID == r.EnrolledPhaseID {
		return leads.StatusEnrolled
	}
	if r.DroppedPhaseID != "" && lead.PhaseID == r.DroppedPhaseID {
		return leads.StatusDropped
	}

	latest, ok := Latest(reminders)
	if !ok {
		return leads.StatusUnmanaged
	}
	for _, rem := range reminders {
		if rem.ScheduledAt != nil && !rem.ScheduledAt.Before(now) {
			return leads.StatusManaged
		}
	}
	if now.Sub(*latest.ScheduledAt) > r.overdueAfter() {
		return leads.StatusOverdue
	}
	return leads.StatusUnmanaged
}

// Latest returns the dated reminder with the greatest scheduled_at. Ties go
// to the highest id so repeated calls agree regardless of input order.
func Latest(reminders []leads.Reminder) (leads.Reminder, bool) {
	var (
		best  leads.Reminder
		found bool
	)
	for _, rem := range reminders {
		if rem.ScheduledAt == nil {
			continue
		}
		if !found {
			best, found = rem, true
			continue
		}
		switch rem.ScheduledAt.Compare(*best.ScheduledAt) {
		case 1:
			best = rem
		case 0:
			if rem.ID > best.ID {
				best = rem
			}
		}
	}
	return best, found
}
