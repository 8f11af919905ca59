package leads

import (
	"context"
	"time"

	"virtual-office/internal/domain"
	"virtual-office/internal/store"
)

// Repository maps leads and reminders onto the generic table store.
// Store failures come back as domain external errors.
type Repository struct {
	st store.Store
}

func NewRepository(st store.Store) *Repository {
	return &Repository{st: st}
}

func (r *Repository) Get(ctx context.Context, cardID string) (Lead, error) {
	rows, err := r.st.Select(ctx, store.TableLeads, store.Query{
		Filters: []store.Filter{store.Eq(ColCardID, cardID)},
		Limit:   1,
	})
	if err != nil {
		return Lead{}, domain.External("leads.get", err)
	}
	if len(rows) == 0 {
		return Lead{}, domain.NotFound("leads.get", "lead")
	}
	return leadFromRow(rows[0]), nil
}

func (r *Repository) Find(ctx context.Context, q store.Query) ([]Lead, error) {
	rows, err := r.st.Select(ctx, store.TableLeads, q)
	if err != nil {
		return nil, domain.External("leads.find", err)
	}
	out := make([]Lead, 0, len(rows))
	for _, row := range rows {
		out = append(out, leadFromRow(row))
	}
	return out, nil
}

func (r *Repository) Count(ctx context.Context, q store.Query) (int, error) {
	n, err := r.st.Count(ctx, store.TableLeads, q)
	if err != nil {
		return 0, domain.External("leads.count", err)
	}
	return n, nil
}

// Patch is a partial update of the engagement fields. Nil fields are left
// untouched; At becomes updated_at.
type Patch struct {
	Status           *EngagementStatus
	ReminderActive   *bool
	RemindersInPhase *int64
	AssignedAt       *time.Time
	Reviewed         *bool
	At               time.Time
}

func (p Patch) row() store.Row {
	out := store.Row{ColUpdatedAt: p.At.UTC()}
	if p.Status != nil {
		out[ColStatus] = string(*p.Status)
	}
	if p.ReminderActive != nil {
		out[ColReminderActive] = *p.ReminderActive
	}
	if p.RemindersInPhase != nil {
		out[ColRemindersPhase] = *p.RemindersInPhase
	}
	if p.AssignedAt != nil {
		out[ColAssignedAt] = p.AssignedAt.UTC()
	}
	if p.Reviewed != nil {
		out[ColReviewed] = *p.Reviewed
	}
	return out
}

func (r *Repository) Patch(ctx context.Context, cardID string, p Patch) (Lead, error) {
	rows, err := r.st.Update(ctx, store.TableLeads, []store.Filter{store.Eq(ColCardID, cardID)}, p.row())
	if err != nil {
		return Lead{}, domain.External("leads.patch", err)
	}
	if len(rows) == 0 {
		return Lead{}, domain.NotFound("leads.patch", "lead")
	}
	return leadFromRow(rows[0]), nil
}

func (r *Repository) Reminder(ctx context.Context, id int64) (Reminder, error) {
	rows, err := r.st.Select(ctx, store.TableReminders, store.Query{
		Filters: []store.Filter{store.Eq(ColReminderID, id)},
		Limit:   1,
	})
	if err != nil {
		return Reminder{}, domain.External("reminders.get", err)
	}
	if len(rows) == 0 {
		return Reminder{}, domain.NotFound("reminders.get", "reminder")
	}
	return reminderFromRow(rows[0]), nil
}

// RemindersFor returns every reminder of a lead, newest first.
func (r *Repository) RemindersFor(ctx context.Context, cardID string) ([]Reminder, error) {
	return r.reminders(ctx, "reminders.list", store.Query{
		Filters: []store.Filter{store.Eq(ColLeadID, cardID)},
		Order:   []store.Order{{Column: ColCreatedAt, Desc: true}, {Column: ColReminderID, Desc: true}},
	})
}

// RemindersForLeads loads the reminders of many leads in one query.
func (r *Repository) RemindersForLeads(ctx context.Context, cardIDs []string) (map[string][]Reminder, error) {
	out := make(map[string][]Reminder, len(cardIDs))
	if len(cardIDs) == 0 {
		return out, nil
	}
	rems, err := r.reminders(ctx, "reminders.list", store.Query{
		Filters: []store.Filter{store.InStrings(ColLeadID, cardIDs)},
		Order:   []store.Order{{Column: ColReminderID}},
	})
	if err != nil {
		return nil, err
	}
	for _, rem := range rems {
		out[rem.LeadID] = append(out[rem.LeadID], rem)
	}
	return out, nil
}

func (r *Repository) ScheduledReminders(ctx context.Context, cardID string) ([]Reminder, error) {
	return r.reminders(ctx, "reminders.scheduled", store.Query{
		Filters: []store.Filter{
			store.Eq(ColLeadID, cardID),
			store.Eq(ColReminderStatus, string(ReminderScheduled)),
		},
		Order: []store.Order{{Column: ColReminderID}},
	})
}

// DueReminders returns scheduled reminders with scheduled_at strictly before now.
func (r *Repository) DueReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	return r.reminders(ctx, "reminders.due", store.Query{
		Filters: []store.Filter{
			store.Eq(ColReminderStatus, string(ReminderScheduled)),
			store.Lt(ColScheduledAt, now.UTC()),
		},
		Order: []store.Order{{Column: ColLeadID}, {Column: ColReminderID}},
	})
}

func (r *Repository) CountRemindersInPhase(ctx context.Context, cardID, phaseID string) (int64, error) {
	n, err := r.st.Count(ctx, store.TableReminders, store.Query{
		Filters: []store.Filter{
			store.Eq(ColLeadID, cardID),
			store.Eq(ColPhaseAtCreation, phaseID),
		},
	})
	if err != nil {
		return 0, domain.External("reminders.count", err)
	}
	return int64(n), nil
}

func (r *Repository) InsertReminder(ctx context.Context, rem Reminder) (Reminder, error) {
	row, err := r.st.Insert(ctx, store.TableReminders, reminderRow(rem))
	if err != nil {
		return Reminder{}, domain.External("reminders.insert", err)
	}
	return reminderFromRow(row), nil
}

// TransitionReminders moves the given reminders from one status to another.
// Only rows still in from are touched, so a concurrent transition makes this
// a no-op rather than overwriting a terminal state.
func (r *Repository) TransitionReminders(ctx context.Context, ids []int64, from, to ReminderStatus, now time.Time) ([]Reminder, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.st.Update(ctx, store.TableReminders,
		[]store.Filter{
			store.InInt64s(ColReminderID, ids),
			store.Eq(ColReminderStatus, string(from)),
		},
		store.Row{ColReminderStatus: string(to), ColUpdatedAt: now.UTC()},
	)
	if err != nil {
		return nil, domain.External("reminders.transition", err)
	}
	out := make([]Reminder, 0, len(rows))
	for _, row := range rows {
		out = append(out, reminderFromRow(row))
	}
	return out, nil
}

func (r *Repository) reminders(ctx context.Context, op string, q store.Query) ([]Reminder, error) {
	rows, err := r.st.Select(ctx, store.TableReminders, q)
	if err != nil {
		return nil, domain.External(op, err)
	}
	out := make([]Reminder, 0, len(rows))
	for _, row := range rows {
		out = append(out, reminderFromRow(row))
	}
	return out, nil
}
