package reminders

import (
	"context"
	"errors"
	"time"

	"virtual-office/internal/domain"
	"virtual-office/internal/leads"
	"virtual-office/internal/store"
)

const reconcileBatch = 200

// SweepExpired expires every scheduled reminder dated before now and
// re-flags the leads it touched. It works lead by lead in card id order: a
// failure on one lead is collected and the sweep moves on. Running it again
// with the same now changes nothing.
//
// It returns the ids of the leads whose reminders were expired.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	now = now.UTC()
	due, err := m.repo.DueReminders(ctx, now)
	if err != nil {
		m.metrics.RecordSweep("error", 0)
		return nil, err
	}

	order := make([]string, 0)
	byLead := make(map[string][]int64)
	for _, r := range due {
		if _, ok := byLead[r.LeadID]; !ok {
			order = append(order, r.LeadID)
		}
		byLead[r.LeadID] = append(byLead[r.LeadID], r.ID)
	}

	var (
		affected = make([]string, 0, len(order))
		errs     []error
		expired  int
	)
	for _, leadID := range order {
		moved, err := m.repo.TransitionReminders(ctx, byLead[leadID], leads.ReminderScheduled, leads.ReminderExpired, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(moved) == 0 {
			continue
		}
		expired += len(moved)
		affected = append(affected, leadID)

		if err := m.settleExpired(ctx, leadID, now); err != nil {
			m.log.Error("reminders expired but lead not updated", "lead_id", leadID, "err", err)
			errs = append(errs, domain.Partial("reminders.sweep", leadID,
				[]string{StepExpireReminders}, []string{StepUpdateLead}, err))
		}
	}

	result := "ok"
	if len(errs) > 0 {
		result = "error"
	}
	m.metrics.RecordSweep(result, expired)
	if len(affected) > 0 {
		m.log.Info("reminders expired", "leads", len(affected), "reminders", expired)
		m.invalidate(ctx)
	}
	return affected, errors.Join(errs...)
}

// settleExpired re-flags a lead after its reminders expired: reviewed=false,
// assigned_at=now, reminder_active=false when nothing is scheduled any more,
// and the status the classifier gives now.
func (m *Manager) settleExpired(ctx context.Context, leadID string, now time.Time) error {
	lead, err := m.repo.Get(ctx, leadID)
	if err != nil {
		return err
	}
	rems, err := m.repo.RemindersFor(ctx, leadID)
	if err != nil {
		return err
	}
	status := m.rules.Classify(lead, Evidence(rems), now)
	reviewed := false
	p := leads.Patch{
		Status:     &status,
		Reviewed:   &reviewed,
		AssignedAt: &now,
		At:         now,
	}
	if countScheduled(rems) == 0 {
		inactive := false
		p.ReminderActive = &inactive
	}
	_, err = m.repo.Patch(ctx, leadID, p)
	return err
}

// ReconcileStatuses rewrites estado_gestion for every lead whose stored
// value disagrees with the classifier at now, for example an unmanaged lead
// whose last follow-up passed the overdue threshold, or a lead moved to the
// enrolled phase by the pipeline. Only the status column is written.
//
// It returns how many leads were corrected.
func (m *Manager) ReconcileStatuses(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	var (
		fixed int
		errs  []error
	)
	for offset := 0; ; offset += reconcileBatch {
		batch, err := m.repo.Find(ctx, store.Query{
			Order:  []store.Order{{Column: leads.ColCardID}},
			Offset: offset,
			Limit:  reconcileBatch,
		})
		if err != nil {
			return fixed, errors.Join(append(errs, err)...)
		}
		ids := make([]string, 0, len(batch))
		for _, l := range batch {
			ids = append(ids, l.CardID)
		}
		rems, err := m.repo.RemindersForLeads(ctx, ids)
		if err != nil {
			return fixed, errors.Join(append(errs, err)...)
		}

		for _, l := range batch {
			want := m.rules.Classify(l, Evidence(rems[l.CardID]), now)
			if want == l.Status {
				continue
			}
			if _, err := m.repo.Patch(ctx, l.CardID, leads.Patch{Status: &want, At: now}); err != nil {
				errs = append(errs, err)
				continue
			}
			fixed++
			m.metrics.RecordReconciled(string(want))
		}
		if len(batch) < reconcileBatch {
			break
		}
	}
	if fixed > 0 {
		m.log.Info("lead statuses reconciled", "leads", fixed)
		m.invalidate(ctx)
	}
	return fixed, errors.Join(errs...)
}

// Maintain is the periodic pass: expire due reminders, then reconcile
// stored statuses. Both halves always run.
func (m *Manager) Maintain(ctx context.Context, now time.Time) ([]string, error) {
	affected, sweepErr := m.SweepExpired(ctx, now)
	_, recErr := m.ReconcileStatuses(ctx, now)
	return affected, errors.Join(sweepErr, recErr)
}
