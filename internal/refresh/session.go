package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"virtual-office/internal/leads"
	"virtual-office/internal/reporting"
	"virtual-office/pkg/metrics"
)

// Refresh step names, also used as the metrics label.
const (
	StepSweep = "sweep"
	StepStats = "stats"
	StepLeads = "leads"

	// StepReconcile labels failures of the registry-wide reconcile pass.
	StepReconcile = "reconcile"
)

// Sweeper expires due reminders.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) ([]string, error)
}

// Reconciler rewrites stored statuses that disagree with the classifier.
type Reconciler interface {
	ReconcileStatuses(ctx context.Context, now time.Time) (int, error)
}

type StatsReader interface {
	Stats(ctx context.Context, scope leads.Scope, f leads.Filter) (reporting.Stats, error)
}

type LeadLister interface {
	List(ctx context.Context, scope leads.Scope, f leads.Filter, p leads.Page) (leads.ListResult, error)
}

// Deps are shared by every session of a registry.
type Deps struct {
	Sweeper Sweeper
	Stats   StatsReader
	Leads   LeadLister
	Log     *slog.Logger
	Metrics *metrics.Metrics

	// Lease is optional; without one sweeps are not serialized.
	Lease Lease

	// Reconciler runs on the registry, not per session. Both are optional.
	Reconciler     Reconciler
	ReconcileLease Lease
}

// View is what the dashboard is currently showing.
type View struct {
	Filter leads.Filter `json:"filter"`
	Page   leads.Page   `json:"page"`
}

// Snapshot is the dashboard state of one session.
type Snapshot struct {
	SessionID   string           `json:"session_id"`
	View        View             `json:"view"`
	Stats       reporting.Stats  `json:"stats"`
	Leads       leads.ListResult `json:"leads"`
	Loading     bool             `json:"loading"`
	Syncing     bool             `json:"syncing"`
	LastSweepAt *time.Time       `json:"last_sweep_at,omitempty"`
	RefreshedAt *time.Time       `json:"refreshed_at,omitempty"`
}

// Session is one agent's dashboard. Ticks run sweep, stats and leads in that
// order; each step fails on its own. A tick that finds the previous one still
// running is skipped.
type Session struct {
	id    string
	scope leads.Scope
	deps  Deps
	clock func() time.Time

	ticking  atomic.Bool
	inflight atomic.Int32
	loaded   atomic.Bool

	mu          sync.Mutex
	view        View
	lastSweepAt time.Time

	stats Latest[reporting.Stats]
	page  Latest[leads.ListResult]
}

func newSession(id string, scope leads.Scope, view View, deps Deps, clock func() time.Time) *Session {
	return &Session{id: id, scope: scope, view: view, deps: deps, clock: clock}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Scope() leads.Scope { return s.scope }

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Loading is true until the first load finished.
func (s *Session) Loading() bool { return !s.loaded.Load() }

// Syncing is true while a refresh runs after the first load.
func (s *Session) Syncing() bool { return s.loaded.Load() && s.inflight.Load() > 0 }

// SetView changes what later fetches read and reports whether it changed.
func (s *Session) SetView(v View) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == s.view {
		return false
	}
	s.view = v
	return true
}

// Load is the first, blocking load of the session. Read failures are
// returned.
func (s *Session) Load(ctx context.Context) error {
	defer s.loaded.Store(true)
	return s.run(ctx)
}

// Tick is the timer entry point. Failures are logged and counted, never
// returned.
func (s *Session) Tick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		s.deps.Metrics.RecordTickSkipped()
		s.deps.Log.Debug("refresh tick skipped, previous still running", "session_id", s.id)
		return
	}
	defer s.ticking.Store(false)
	_ = s.run(ctx)
}

// Refresh runs the same steps as a tick, right away. It does not wait for a
// running tick and does not move the timer. Read failures are returned so
// the caller can show them; sweep failures are only logged.
func (s *Session) Refresh(ctx context.Context) error {
	return s.run(ctx)
}

func (s *Session) run(ctx context.Context) error {
	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	now := s.clock().UTC()
	view := s.View()

	_ = s.step(ctx, StepSweep, func(ctx context.Context) error { return s.sweep(ctx, now) })
	statsErr := s.step(ctx, StepStats, func(ctx context.Context) error { return s.fetchStats(ctx, view) })
	leadsErr := s.step(ctx, StepLeads, func(ctx context.Context) error { return s.fetchLeads(ctx, view) })
	return errors.Join(statsErr, leadsErr)
}

func (s *Session) step(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("refresh step %s panicked: %v", name, p)
		}
		if err != nil {
			s.deps.Metrics.RecordRefreshFailure(name)
			s.deps.Log.Warn("refresh step failed", "session_id", s.id, "step", name, "err", err)
		}
	}()
	return fn(ctx)
}

func (s *Session) sweep(ctx context.Context, now time.Time) error {
	if s.deps.Sweeper == nil {
		return nil
	}
	if s.deps.Lease != nil {
		release, ok, err := s.deps.Lease.TryAcquire(ctx)
		if err != nil {
			return fmt.Errorf("sweep lease: %w", err)
		}
		if !ok {
			s.deps.Log.Debug("sweep already running elsewhere", "session_id", s.id)
			return nil
		}
		defer release()
	}
	if _, err := s.deps.Sweeper.SweepExpired(ctx, now); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastSweepAt = now
	s.mu.Unlock()
	return nil
}

func (s *Session) fetchStats(ctx context.Context, v View) error {
	tok := s.stats.Begin()
	st, err := s.deps.Stats.Stats(ctx, s.scope, v.Filter)
	if err != nil {
		return err
	}
	if !s.stats.Commit(tok, st, s.clock().UTC()) {
		s.deps.Log.Debug("superseded stats result discarded", "session_id", s.id)
	}
	return nil
}

func (s *Session) fetchLeads(ctx context.Context, v View) error {
	tok := s.page.Begin()
	res, err := s.deps.Leads.List(ctx, s.scope, v.Filter, v.Page)
	if err != nil {
		return err
	}
	if !s.page.Commit(tok, res, s.clock().UTC()) {
		s.deps.Log.Debug("superseded leads result discarded", "session_id", s.id)
	}
	return nil
}

func (s *Session) Snapshot() Snapshot {
	st, _, _ := s.stats.Get()
	page, at, ok := s.page.Get()

	s.mu.Lock()
	out := Snapshot{SessionID: s.id, View: s.view}
	if !s.lastSweepAt.IsZero() {
		t := s.lastSweepAt
		out.LastSweepAt = &t
	}
	s.mu.Unlock()

	out.Stats = st
	out.Leads = page
	if ok {
		out.RefreshedAt = &at
	}
	out.Loading = s.Loading()
	out.Syncing = s.Syncing()
	return out
}
