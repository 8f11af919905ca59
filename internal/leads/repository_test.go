package leads

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtual-office/internal/domain"
)

func TestRepository_PatchOnlyTouchesSetFields(t *testing.T) {
	_, repo, _ := newFixture(t)
	ctx := context.Background()

	status := StatusManaged
	active := true
	l, err := repo.Patch(ctx, "L1", Patch{Status: &status, ReminderActive: &active, At: t0})
	require.NoError(t, err)
	assert.Equal(t, StatusManaged, l.Status)
	assert.True(t, l.ReminderActive)
	assert.Nil(t, l.AssignedAt)
	assert.Equal(t, "Ana Lopez", l.Name)
	assert.True(t, l.UpdatedAt.Equal(t0))

	_, err = repo.Patch(ctx, "missing", Patch{At: t0})
	assert.True(t, domain.IsNotFound(err))
}

func TestRepository_TransitionOnlyFromExpectedStatus(t *testing.T) {
	_, repo, _ := newFixture(t)
	ctx := context.Background()
	past := t0.Add(-time.Hour)

	a, err := repo.InsertReminder(ctx, Reminder{LeadID: "L1", ScheduledAt: &past, Status: ReminderScheduled, CreatedAt: t0, UpdatedAt: t0})
	require.NoError(t, err)
	b, err := repo.InsertReminder(ctx, Reminder{LeadID: "L1", ScheduledAt: &past, Status: ReminderCancelled, CreatedAt: t0, UpdatedAt: t0})
	require.NoError(t, err)

	due, err := repo.DueReminders(ctx, t0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, a.ID, due[0].ID)

	moved, err := repo.TransitionReminders(ctx, []int64{a.ID, b.ID}, ReminderScheduled, ReminderExpired, t0)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, ReminderExpired, moved[0].Status)

	again, err := repo.TransitionReminders(ctx, []int64{a.ID}, ReminderScheduled, ReminderExpired, t0)
	require.NoError(t, err)
	assert.Empty(t, again)

	got, err := repo.Reminder(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, ReminderCancelled, got.Status)
}

func TestRepository_CountRemindersInPhase(t *testing.T) {
	_, repo, _ := newFixture(t)
	ctx := context.Background()

	for _, phase := range []string{"p1", "p1", "p2"} {
		_, err := repo.InsertReminder(ctx, Reminder{LeadID: "L1", Status: ReminderExpired, PhaseAtCreation: phase, CreatedAt: t0, UpdatedAt: t0})
		require.NoError(t, err)
	}
	n, err := repo.CountRemindersInPhase(ctx, "L1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	byLead, err := repo.RemindersForLeads(ctx, []string{"L1", "L2"})
	require.NoError(t, err)
	assert.Len(t, byLead["L1"], 3)
	assert.Empty(t, byLead["L2"])
}
