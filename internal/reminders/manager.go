package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"virtual-office/internal/domain"
	"virtual-office/internal/engagement"
	"virtual-office/internal/leads"
	"virtual-office/pkg/metrics"
)

// DefaultMaxAhead is the furthest in the future a reminder may be scheduled.
const DefaultMaxAhead = 30 * 24 * time.Hour

// Step names reported in partial failures.
const (
	StepInsertReminder  = "insert_reminder"
	StepCancelReminder  = "cancel_reminder"
	StepExpireReminders = "expire_reminders"
	StepUpdateLead      = "update_lead"
	StepAppendComment   = "append_comment"
)

// AuditLog receives the lifecycle audit entries (system comments).
type AuditLog interface {
	System(ctx context.Context, leadID, actor, body string) error
}

// Invalidator is told after any write that changes aggregate counts.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Options struct {
	Rules    engagement.Rules
	MaxAhead time.Duration
	Log      *slog.Logger
	Metrics  *metrics.Metrics
	// Invalidator is optional.
	Invalidator Invalidator
}

// Manager is the only writer of reminder status and of the denormalized
// engagement fields on leads.
//
// The one-scheduled-reminder-per-lead rule is enforced check-then-act. Two
// sessions acting on the same lead at the same instant can still race; a
// violation found later is logged and reported as a conflict, never repaired
// here.
type Manager struct {
	repo     *leads.Repository
	audit    AuditLog
	rules    engagement.Rules
	maxAhead time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
	inv      Invalidator
	clock    func() time.Time
}

func NewManager(repo *leads.Repository, audit AuditLog, opts Options) *Manager {
	m := &Manager{
		repo:     repo,
		audit:    audit,
		rules:    opts.Rules,
		maxAhead: opts.MaxAhead,
		log:      opts.Log,
		metrics:  opts.Metrics,
		inv:      opts.Invalidator,
		clock:    time.Now,
	}
	if m.maxAhead <= 0 {
		m.maxAhead = DefaultMaxAhead
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// WithClock overrides the time source; tests only.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

func (m *Manager) Rules() engagement.Rules { return m.rules }

type ScheduleRequest struct {
	LeadID string
	At     time.Time
	Note   string
	Author string
}

// Schedule creates the lead's scheduled reminder.
//
// On a PartialFailureError the returned reminder is persisted; callers must
// retry the pending steps (RepairLead), not Schedule.
func (m *Manager) Schedule(ctx context.Context, req ScheduleRequest) (leads.Reminder, error) {
	const op = "reminders.schedule"
	now := m.clock().UTC()
	at := req.At.UTC()

	if req.LeadID == "" {
		return leads.Reminder{}, domain.Validation(op, "lead_id is required")
	}
	if req.Author == "" {
		return leads.Reminder{}, domain.Validation(op, "author is required")
	}
	if !at.After(now) {
		return leads.Reminder{}, domain.Validation(op, "scheduled_at must be in the future")
	}
	if at.After(now.Add(m.maxAhead)) {
		return leads.Reminder{}, domain.Validation(op, fmt.Sprintf("scheduled_at must be within %s", m.maxAhead))
	}

	lead, err := m.repo.Get(ctx, req.LeadID)
	if err != nil {
		return leads.Reminder{}, err
	}
	existing, err := m.repo.ScheduledReminders(ctx, lead.CardID)
	if err != nil {
		return leads.Reminder{}, err
	}
	if len(existing) > 1 {
		m.reportViolation(lead.CardID, existing)
	}
	if len(existing) > 0 {
		return leads.Reminder{}, domain.Conflict(op, "lead already has a scheduled reminder")
	}

	rem, err := m.repo.InsertReminder(ctx, leads.Reminder{
		LeadID:                lead.CardID,
		ScheduledAt:           &at,
		Status:                leads.ReminderScheduled,
		Note:                  strings.TrimSpace(req.Note),
		CreatedBy:             req.Author,
		PhaseAtCreation:       lead.PhaseID,
		FunnelStageAtCreation: lead.FunnelStage,
		CreatedAt:             now,
		UpdatedAt:             now,
	})
	if err != nil {
		return leads.Reminder{}, err
	}
	m.metrics.RecordReminderScheduled()

	if err := m.markScheduled(ctx, lead, now); err != nil {
		m.log.Error("reminder scheduled but lead not updated", "lead_id", lead.CardID, "reminder_id", rem.ID, "err", err)
		return rem, domain.Partial(op, lead.CardID,
			[]string{StepInsertReminder},
			[]string{StepUpdateLead, StepAppendComment}, err)
	}

	body := "Reminder scheduled for " + at.Format("2006-01-02 15:04 MST")
	if rem.Note != "" {
		body += ": " + rem.Note
	}
	if err := m.audit.System(ctx, lead.CardID, req.Author, body); err != nil {
		m.log.Error("reminder scheduled but audit comment not written", "lead_id", lead.CardID, "reminder_id", rem.ID, "err", err)
		return rem, domain.Partial(op, lead.CardID,
			[]string{StepInsertReminder, StepUpdateLead},
			[]string{StepAppendComment}, err)
	}

	m.invalidate(ctx)
	return rem, nil
}

func (m *Manager) markScheduled(ctx context.Context, lead leads.Lead, now time.Time) error {
	count, err := m.repo.CountRemindersInPhase(ctx, lead.CardID, lead.PhaseID)
	if err != nil {
		return err
	}
	status := leads.StatusManaged
	active := true
	_, err = m.repo.Patch(ctx, lead.CardID, leads.Patch{
		Status:           &status,
		ReminderActive:   &active,
		RemindersInPhase: &count,
		At:               now,
	})
	return err
}

// Cancel moves a scheduled reminder to cancelled and re-flags its lead as
// needing attention.
func (m *Manager) Cancel(ctx context.Context, reminderID int64, actor string) error {
	const op = "reminders.cancel"
	now := m.clock().UTC()

	rem, err := m.repo.Reminder(ctx, reminderID)
	if domain.IsNotFound(err) {
		return domain.InvalidState(op, "reminder does not exist")
	}
	if err != nil {
		return err
	}
	if rem.Status != leads.ReminderScheduled {
		return domain.InvalidState(op, fmt.Sprintf("reminder is %s, only scheduled reminders can be cancelled", rem.Status))
	}

	moved, err := m.repo.TransitionReminders(ctx, []int64{rem.ID}, leads.ReminderScheduled, leads.ReminderCancelled, now)
	if err != nil {
		return err
	}
	if len(moved) == 0 {
		// Expired or cancelled between the read and the write.
		return domain.InvalidState(op, "reminder is no longer scheduled")
	}
	m.metrics.RecordReminderCancelled()

	status := leads.StatusUnmanaged
	inactive, reviewed := false, false
	if _, err := m.repo.Patch(ctx, rem.LeadID, leads.Patch{
		Status:         &status,
		ReminderActive: &inactive,
		Reviewed:       &reviewed,
		AssignedAt:     &now,
		At:             now,
	}); err != nil {
		m.log.Error("reminder cancelled but lead not updated", "lead_id", rem.LeadID, "reminder_id", rem.ID, "err", err)
		return domain.Partial(op, rem.LeadID,
			[]string{StepCancelReminder},
			[]string{StepUpdateLead, StepAppendComment}, err)
	}

	body := "Reminder cancelled"
	if rem.ScheduledAt != nil {
		body = "Reminder for " + rem.ScheduledAt.UTC().Format("2006-01-02 15:04 MST") + " cancelled"
	}
	if err := m.audit.System(ctx, rem.LeadID, actor, body); err != nil {
		m.log.Error("reminder cancelled but audit comment not written", "lead_id", rem.LeadID, "reminder_id", rem.ID, "err", err)
		return domain.Partial(op, rem.LeadID,
			[]string{StepCancelReminder, StepUpdateLead},
			[]string{StepAppendComment}, err)
	}

	m.invalidate(ctx)
	return nil
}

// MarkReviewed records that the assigned agent opened the lead. Other
// viewers do not change the flag.
func (m *Manager) MarkReviewed(ctx context.Context, lead leads.Lead, viewer string) (leads.Lead, error) {
	if lead.Reviewed || viewer == "" || !strings.EqualFold(lead.AgentEmail, viewer) {
		return lead, nil
	}
	reviewed := true
	return m.repo.Patch(ctx, lead.CardID, leads.Patch{Reviewed: &reviewed, At: m.clock().UTC()})
}

// RepairLead recomputes the denormalized reminder fields of one lead from
// its reminders. It is the retry for the pending update_lead step of a
// partial failure and is safe to run any number of times.
func (m *Manager) RepairLead(ctx context.Context, leadID string) (leads.Lead, error) {
	now := m.clock().UTC()
	lead, err := m.repo.Get(ctx, leadID)
	if err != nil {
		return leads.Lead{}, err
	}
	rems, err := m.repo.RemindersFor(ctx, leadID)
	if err != nil {
		return leads.Lead{}, err
	}
	scheduled := countScheduled(rems)
	if scheduled > 1 {
		m.reportViolation(leadID, filterScheduled(rems))
	}
	count, err := m.repo.CountRemindersInPhase(ctx, leadID, lead.PhaseID)
	if err != nil {
		return leads.Lead{}, err
	}
	status := m.rules.Classify(lead, Evidence(rems), now)
	active := scheduled > 0
	out, err := m.repo.Patch(ctx, leadID, leads.Patch{
		Status:           &status,
		ReminderActive:   &active,
		RemindersInPhase: &count,
		At:               now,
	})
	if err != nil {
		return leads.Lead{}, err
	}
	m.invalidate(ctx)
	return out, nil
}

// Evidence is the reminder set fed to the classifier. Cancelled reminders
// are withdrawn follow-ups and do not count as pending or past engagement.
func Evidence(rems []leads.Reminder) []leads.Reminder {
	out := make([]leads.Reminder, 0, len(rems))
	for _, r := range rems {
		if r.Status == leads.ReminderCancelled {
			continue
		}
		out = append(out, r)
	}
	return out
}

func countScheduled(rems []leads.Reminder) int {
	return len(filterScheduled(rems))
}

func filterScheduled(rems []leads.Reminder) []leads.Reminder {
	out := make([]leads.Reminder, 0, 1)
	for _, r := range rems {
		if r.Status == leads.ReminderScheduled {
			out = append(out, r)
		}
	}
	return out
}

func (m *Manager) reportViolation(leadID string, scheduled []leads.Reminder) {
	ids := make([]int64, 0, len(scheduled))
	for _, r := range scheduled {
		ids = append(ids, r.ID)
	}
	m.log.Error("invariant violated: lead has more than one scheduled reminder",
		"lead_id", leadID, "reminder_ids", ids)
}

func (m *Manager) invalidate(ctx context.Context) {
	if m.inv == nil {
		return
	}
	if err := m.inv.Invalidate(ctx); err != nil {
		m.log.Warn("stats cache invalidation failed", "err", err)
	}
}
