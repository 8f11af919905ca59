package reminders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtual-office/internal/comments"
	"virtual-office/internal/domain"
	"virtual-office/internal/engagement"
	"virtual-office/internal/leads"
	"virtual-office/internal/store"
	"virtual-office/pkg/metrics"
)

var start = time.Unix(1700000000, 0).UTC()

var testRules = engagement.Rules{EnrolledPhaseID: "ph-enrolled", DroppedPhaseID: "ph-dropped", OverdueAfter: 48 * time.Hour}

// faultStore fails chosen operations on chosen tables.
type faultStore struct {
	*store.Memory
	mu   sync.Mutex
	fail map[string]error
}

func (f *faultStore) failOn(op, table string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op+":"+table] = err
}

func (f *faultStore) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = map[string]error{}
}

func (f *faultStore) check(op, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail[op+":"+table]
}

func (f *faultStore) Select(ctx context.Context, table string, q store.Query) ([]store.Row, error) {
	if err := f.check("select", table); err != nil {
		return nil, err
	}
	return f.Memory.Select(ctx, table, q)
}

func (f *faultStore) Count(ctx context.Context, table string, q store.Query) (int, error) {
	if err := f.check("count", table); err != nil {
		return 0, err
	}
	return f.Memory.Count(ctx, table, q)
}

func (f *faultStore) Insert(ctx context.Context, table string, row store.Row) (store.Row, error) {
	if err := f.check("insert", table); err != nil {
		return nil, err
	}
	return f.Memory.Insert(ctx, table, row)
}

func (f *faultStore) Update(ctx context.Context, table string, filters []store.Filter, patch store.Row) ([]store.Row, error) {
	if err := f.check("update", table); err != nil {
		return nil, err
	}
	return f.Memory.Update(ctx, table, filters, patch)
}

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.n++
	return nil
}

type fixture struct {
	now      time.Time
	mem      *store.Memory
	st       *faultStore
	repo     *leads.Repository
	comments *comments.Service
	mgr      *Manager
	inv      *countingInvalidator
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: start}
	f.mem = store.NewMemory().AutoIncrement(store.TableReminders, leads.ColReminderID)
	f.mem.Seed(store.TableLeads,
		store.Row{"card_id": "X", "nombre": "Xavi", "agent_email": "sam@co", "fase_id": "p1", "etapa_funnel": "contact", "estado_gestion": "unmanaged", "reviewed": true, "created_at": start},
		store.Row{"card_id": "Y", "nombre": "Yara", "agent_email": "sam@co", "fase_id": "p2", "etapa_funnel": "pitch", "estado_gestion": "unmanaged", "reviewed": true, "created_at": start},
		store.Row{"card_id": "Z", "nombre": "Zoe", "agent_email": "kim@co", "fase_id": "ph-enrolled", "estado_gestion": "unmanaged", "created_at": start},
	)
	f.st = &faultStore{Memory: f.mem, fail: map[string]error{}}
	f.repo = leads.NewRepository(f.st)
	clock := func() time.Time { return f.now }
	f.comments = comments.NewService(comments.NewStoreRepo(f.st)).WithClock(clock)
	f.inv = &countingInvalidator{}
	f.metrics = metrics.New(prometheus.NewRegistry())
	f.mgr = NewManager(f.repo, f.comments, Options{
		Rules:       testRules,
		Metrics:     f.metrics,
		Invalidator: f.inv,
	}).WithClock(clock)
	return f
}

func (f *fixture) lead(t *testing.T, id string) leads.Lead {
	t.Helper()
	l, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return l
}

func (f *fixture) scheduled(t *testing.T, id string) []leads.Reminder {
	t.Helper()
	rs, err := f.repo.ScheduledReminders(context.Background(), id)
	require.NoError(t, err)
	return rs
}

func (f *fixture) seedReminder(id int64, leadID string, at *time.Time, status leads.ReminderStatus, phase string) {
	var when any
	if at != nil {
		when = *at
	}
	f.mem.Seed(store.TableReminders, store.Row{
		"id": id, "lead_id": leadID, "scheduled_at": when, "status": string(status),
		"phase_at_creation": phase, "created_at": start, "updated_at": start,
	})
}

func ptr(t time.Time) *time.Time { return &t }

func TestSchedule_WindowBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		at   time.Time
		ok   bool
	}{
		{"one second ago", start.Add(-time.Second), false},
		{"exactly now", start, false},
		{"31 days ahead", start.Add(31 * 24 * time.Hour), false},
		{"30 days and a second", start.Add(30*24*time.Hour + time.Second), false},
		{"exactly 30 days ahead", start.Add(30 * 24 * time.Hour), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.mgr.Schedule(ctx, ScheduleRequest{LeadID: "Y", At: tc.at, Author: "sam@co"})
			if tc.ok {
				require.NoError(t, err)
				return
			}
			assert.True(t, domain.IsValidation(err), "got %v", err)
		})
	}

	_, err := f.mgr.Schedule(ctx, ScheduleRequest{LeadID: "X", At: start.Add(time.Hour)})
	assert.True(t, domain.IsValidation(err), "author required")
}

func TestSchedule_UpdatesLeadAndRejectsSecond(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedReminder(50, "X", ptr(start.Add(-500*time.Hour)), leads.ReminderExpired, "p1")
	f.seedReminder(51, "X", ptr(start.Add(-400*time.Hour)), leads.ReminderCancelled, "p1")
	f.seedReminder(52, "X", ptr(start.Add(-900*time.Hour)), leads.ReminderExpired, "p0")

	rem, err := f.mgr.Schedule(ctx, ScheduleRequest{LeadID: "X", At: start.Add(time.Hour), Note: " call back ", Author: "sam@co"})
	require.NoError(t, err)
	assert.Equal(t, int64(53), rem.ID)
	assert.Equal(t, leads.ReminderScheduled, rem.Status)
	assert.Equal(t, "p1", rem.PhaseAtCreation)
	assert.Equal(t, "contact", rem.FunnelStageAtCreation)
	assert.Equal(t, "sam@co", rem.CreatedBy)
	assert.Equal(t, "call back", rem.Note)

	lead := f.lead(t, "X")
	assert.True(t, lead.ReminderActive)
	assert.Equal(t, leads.StatusManaged, lead.Status)
	assert.Equal(t, int64(3), lead.RemindersInPhase)
	assert.Len(t, f.scheduled(t, "X"), 1)

	page, err := f.comments.List(ctx, "X", 0)
	require.NoError(t, err)
	require.Len(t, page.Comments, 1)
	assert.Equal(t, comments.OriginSystem, page.Comments[0].Origin)
	assert.Contains(t, page.Comments[0].Body, "call back")

	_, err = f.mgr.Schedule(ctx, ScheduleRequest{LeadID: "X", At: start.Add(2 * time.Hour), Author: "sam@co"})
	assert.True(t, domain.IsConflict(err), "got %v", err)
	assert.Len(t, f.scheduled(t, "X"), 1)

	assert.Equal(t, 1, f.inv.n)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RemindersScheduled))
}

func TestSchedule_ObservedViolationIsConflict(t *testing.T) {
	f := newFixture(t)
	f.seedReminder(1, "X", ptr(start.Add(time.Hour)), leads.ReminderScheduled, "p1")
	f.seedReminder(2, "X", ptr(start.Add(2*time.Hour)), leads.ReminderScheduled, "p1")

	_, err := f.mgr.Schedule(context.Background(), ScheduleRequest{LeadID: "X", At: start.Add(3 * time.Hour), Author: "sam@co"})
	assert.True(t, domain.IsConflict(err))
	assert.Len(t, f.scheduled(t, "X"), 2, "violations are reported, not repaired")
}

func TestSchedule_UnknownLead(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Schedule(context.Background(), ScheduleRequest{LeadID: "nope", At: start.Add(time.Hour), Author: "sam@co"})
	assert.True(t, domain.IsNotFound(err))
}

func TestSchedule_InsertFailureIsTotal(t *testing.T) {
	f := newFixture(t)
	f.st.failOn("insert", store.TableReminders, errors.New("connection refused"))

	_, err := f.mgr.Schedule(context.Background(), ScheduleRequest{LeadID: "X", At: start.Add(time.Hour), Author: "sam@co"})
	assert.True(t, domain.IsExternal(err))
	assert.False(t, domain.IsPartial(err))
	assert.Empty(t, f.scheduled(t, "X"))
	assert.False(t, f.lead(t, "X").ReminderActive)
}

func TestSchedule_LeadUpdateFailureIsPartialAndRepairable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.st.failOn("update", store.TableLeads, errors.New("timeout"))

	rem, err := f.mgr.Schedule(ctx, ScheduleRequest{LeadID: "X", At: start.Add(time.Hour), Author: "sam@co"})
	require.Error(t, err)
	assert.True(t, domain.IsPartial(err))
	assert.False(t, domain.IsExternal(err))

	var pe *domain.PartialFailureError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "X", pe.Ref)
	assert.Equal(t, []string{StepInsertReminder}, pe.Completed)
	assert.Equal(t, []string{StepUpdateLead, StepAppendComment}, pe.Pending)
	assert.NotZero(t, rem.ID)
	assert.Len(t, f.scheduled(t, "X"), 1)
	assert.False(t, f.lead(t, "X").ReminderActive)

	// Re-running Schedule would be refused; the repair step completes it.
	f.st.heal()
	_, err = f.mgr.Schedule(ctx, ScheduleRequest{LeadID: "X", At: start.Add(time.Hour), Author: "sam@co"})
	assert.True(t, domain.IsConflict(err))

	lead, err := f.mgr.RepairLead(ctx, "X")
	require.NoError(t, err)
	assert.True(t, lead.ReminderActive)
	assert.Equal(t, leads.StatusManaged, lead.Status)
	assert.Equal(t, int64(1), lead.RemindersInPhase)
}

func TestSchedule_CommentFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	f.st.failOn("insert", store.TableComments, errors.New("timeout"))

	_, err := f.mgr.Schedule(context.Background(), ScheduleRequest{LeadID: "X", At: start.Add(time.Hour), Author: "sam@co"})
	var pe *domain.PartialFailureError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, []string{StepInsertReminder, StepUpdateLead}, pe.Completed)
	assert.Equal(t, []string{StepAppendComment}, pe.Pending)
	assert.True(t, f.lead(t, "X").ReminderActive)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rem, err := f.mgr.Schedule(ctx, ScheduleRequest{LeadID: "X", At: start.Add(5 * time.Hour), Author: "sam@co"})
	require.NoError(t, err)

	f.now = start.Add(time.Hour)
	require.NoError(t, f.mgr.Cancel(ctx, rem.ID, "sam@co"))

	got, err := f.repo.Reminder(ctx, rem.ID)
	require.NoError(t, err)
	assert.Equal(t, leads.ReminderCancelled, got.Status)

	lead := f.lead(t, "X")
	assert.False(t, lead.ReminderActive)
	assert.False(t, lead.Reviewed)
	assert.Equal(t, leads.StatusUnmanaged, lead.Status)
	require.NotNil(t, lead.AssignedAt)
	assert.True(t, lead.AssignedAt.Equal(f.now))

	err = f.mgr.Cancel(ctx, rem.ID, "sam@co")
	assert.True(t, domain.IsInvalidState(err), "already terminal: %v", err)

	err = f.mgr.Cancel(ctx, 9999, "sam@co")
	assert.True(t, domain.IsInvalidState(err), "missing: %v", err)

	// A new reminder can be scheduled once the old one is cancelled.
	_, err = f.mgr.Schedule(ctx, ScheduleRequest{LeadID: "X", At: start.Add(3 * time.Hour), Author: "sam@co"})
	require.NoError(t, err)
}

func TestCancel_ExpiredReminderIsInvalidState(t *testing.T) {
	f := newFixture(t)
	f.seedReminder(7, "X", ptr(start.Add(-time.Hour)), leads.ReminderExpired, "p1")

	err := f.mgr.Cancel(context.Background(), 7, "sam@co")
	assert.True(t, domain.IsInvalidState(err))
}

func TestMarkReviewed_OnlyAssignedAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := f.lead(t, "Z")
	require.False(t, lead.Reviewed)

	got, err := f.mgr.MarkReviewed(ctx, lead, "boss@co")
	require.NoError(t, err)
	assert.False(t, got.Reviewed)

	got, err = f.mgr.MarkReviewed(ctx, lead, "KIM@co")
	require.NoError(t, err)
	assert.True(t, got.Reviewed)
	assert.True(t, f.lead(t, "Z").Reviewed)
}
