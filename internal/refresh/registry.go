package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"virtual-office/internal/leads"
	"virtual-office/pkg/logger"
)

const (
	DefaultInterval = 180 * time.Second
	DefaultIdleTTL  = 30 * time.Minute

	evictEvery = time.Minute
)

type Options struct {
	Interval time.Duration
	IdleTTL  time.Duration
	PageSize int
	// TickTimeout bounds one tick; defaults to Interval.
	TickTimeout time.Duration
	// ReconcileEvery is the cadence of the status reconciliation pass;
	// defaults to Interval.
	ReconcileEvery time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.Interval <= 0 {
		out.Interval = DefaultInterval
	}
	if out.IdleTTL <= 0 {
		out.IdleTTL = DefaultIdleTTL
	}
	if out.PageSize <= 0 {
		out.PageSize = leads.DefaultPageSize
	}
	if out.TickTimeout <= 0 {
		out.TickTimeout = out.Interval
	}
	if out.ReconcileEvery <= 0 {
		out.ReconcileEvery = out.Interval
	}
	return out
}

type entry struct {
	s        *Session
	job      cron.EntryID
	lastSeen time.Time
}

// Registry owns the refresh sessions. Every session's timer lives on one
// shared scheduler; a tick still running when the next one is due is skipped.
type Registry struct {
	deps  Deps
	opts  Options
	cron  *cron.Cron
	clock func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*entry
	started  bool
}

func NewRegistry(deps Deps, opts Options) *Registry {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	deps.Log = deps.Log.With("component", "refresh")
	cl := logger.Cron(deps.Log)
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps: deps,
		opts: opts.withDefaults(),
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		clock:    time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*entry),
	}
}

// WithClock is for tests.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Start schedules idle eviction and the reconciliation pass, then starts
// the timers. Reconciliation runs once per registry however many sessions
// are open.
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", evictEvery), func() { r.EvictIdle() }); err != nil {
		return err
	}
	if r.deps.Reconciler != nil {
		r.cron.Schedule(cron.Every(r.opts.ReconcileEvery), cron.FuncJob(func() {
			ctx, cancel := context.WithTimeout(r.ctx, r.opts.TickTimeout)
			defer cancel()
			_, _ = r.Reconcile(ctx)
		}))
	}
	r.cron.Start()
	r.started = true
	return nil
}

// Stop halts the timers and waits for running ticks until ctx is done.
func (r *Registry) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	r.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()
	r.deps.Metrics.SetActiveSessions(0)
	return nil
}

func sessionKey(scope leads.Scope) string {
	return fmt.Sprintf("%s|%t", strings.ToLower(scope.AgentEmail), scope.CanViewAll)
}

// Open returns the caller's session, creating it on first use. A new session
// sweeps and loads before Open returns; other callers arriving meanwhile get
// the same session in its loading state.
func (r *Registry) Open(ctx context.Context, scope leads.Scope) (*Session, error) {
	if scope.AgentEmail == "" && !scope.CanViewAll {
		return nil, errors.New("refresh: agent email is required")
	}
	key := sessionKey(scope)
	now := r.clock()

	r.mu.Lock()
	if e, ok := r.sessions[key]; ok {
		e.lastSeen = now
		r.mu.Unlock()
		return e.s, nil
	}
	s := newSession(uuid.NewString(), scope, View{Page: leads.Page{Limit: r.opts.PageSize}}, r.deps, r.clock)
	e := &entry{s: s, lastSeen: now}
	e.job = r.cron.Schedule(cron.Every(r.opts.Interval), cron.FuncJob(func() { r.tick(s) }))
	r.sessions[key] = e
	n := len(r.sessions)
	r.mu.Unlock()

	r.deps.Metrics.SetActiveSessions(n)
	r.deps.Log.Info("refresh session opened", "session_id", s.ID(), "agent_email", scope.AgentEmail, "can_view_all", scope.CanViewAll)
	return s, s.Load(ctx)
}

// Lookup returns the caller's session without creating one.
func (r *Registry) Lookup(scope leads.Scope) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionKey(scope)]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.clock()
	return e.s, true
}

// Close drops the caller's session and its timer.
func (r *Registry) Close(scope leads.Scope) {
	r.mu.Lock()
	e, ok := r.sessions[sessionKey(scope)]
	if ok {
		delete(r.sessions, sessionKey(scope))
	}
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.cron.Remove(e.job)
	r.deps.Metrics.SetActiveSessions(n)
}

// EvictIdle closes sessions not used within the idle TTL and returns how
// many it closed.
func (r *Registry) EvictIdle() int {
	cutoff := r.clock().Add(-r.opts.IdleTTL)

	r.mu.Lock()
	var stale []*entry
	for k, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e)
			delete(r.sessions, k)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, e := range stale {
		r.cron.Remove(e.job)
		r.deps.Log.Info("refresh session closed, idle", "session_id", e.s.ID())
	}
	if len(stale) > 0 {
		r.deps.Metrics.SetActiveSessions(n)
	}
	return len(stale)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) tick(s *Session) {
	ctx, cancel := context.WithTimeout(r.ctx, r.opts.TickTimeout)
	defer cancel()
	s.Tick(ctx)
}

// Reconcile runs one status reconciliation pass under the reconcile lease.
// It returns how many leads were corrected; a pass skipped because another
// holder has the lease corrects none.
func (r *Registry) Reconcile(ctx context.Context) (int, error) {
	if r.deps.Reconciler == nil {
		return 0, nil
	}
	if r.deps.ReconcileLease != nil {
		release, ok, err := r.deps.ReconcileLease.TryAcquire(ctx)
		if err != nil {
			r.deps.Metrics.RecordRefreshFailure(StepReconcile)
			r.deps.Log.Warn("reconcile lease failed", "err", err)
			return 0, fmt.Errorf("reconcile lease: %w", err)
		}
		if !ok {
			r.deps.Log.Debug("reconcile already running elsewhere")
			return 0, nil
		}
		defer release()
	}
	n, err := r.deps.Reconciler.ReconcileStatuses(ctx, r.clock())
	if err != nil {
		r.deps.Metrics.RecordRefreshFailure(StepReconcile)
		r.deps.Log.Warn("reconcile failed", "corrected", n, "err", err)
	}
	return n, err
}
