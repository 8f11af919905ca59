package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"virtual-office/pkg/utils"
)

// Timeouts configures Resilient. Zero values fall back to the defaults.
type Timeouts struct {
	Read       time.Duration
	Write      time.Duration
	RetryDelay time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	out := t
	if out.Read <= 0 {
		out.Read = 5 * time.Second
	}
	if out.Write <= 0 {
		out.Write = 5 * time.Second
	}
	if out.RetryDelay < 0 {
		out.RetryDelay = 0
	}
	return out
}

// Resilient bounds every call with a timeout. Reads are retried once;
// writes never are, a duplicated insert could break the one-scheduled rule.
type Resilient struct {
	next Store
	t    Timeouts
	log  *slog.Logger
}

func NewResilient(next Store, t Timeouts, log *slog.Logger) *Resilient {
	if log == nil {
		log = slog.Default()
	}
	return &Resilient{next: next, t: t.withDefaults(), log: log}
}

func (r *Resilient) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	var out []Row
	err := r.read(ctx, "select", table, func(ctx context.Context) error {
		var err error
		out, err = r.next.Select(ctx, table, q)
		return err
	})
	return out, err
}

func (r *Resilient) Count(ctx context.Context, table string, q Query) (int, error) {
	var out int
	err := r.read(ctx, "count", table, func(ctx context.Context) error {
		var err error
		out, err = r.next.Count(ctx, table, q)
		return err
	})
	return out, err
}

func (r *Resilient) Insert(ctx context.Context, table string, row Row) (Row, error) {
	ctx, cancel := context.WithTimeout(ctx, r.t.Write)
	defer cancel()
	return r.next.Insert(ctx, table, row)
}

func (r *Resilient) Update(ctx context.Context, table string, filters []Filter, patch Row) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, r.t.Write)
	defer cancel()
	return r.next.Update(ctx, table, filters, patch)
}

func (r *Resilient) read(ctx context.Context, op, table string, fn func(ctx context.Context) error) error {
	err := r.attempt(ctx, fn)
	if err == nil || !retryable(ctx, err) {
		return err
	}
	r.log.Warn("store read failed, retrying", "op", op, "table", table, "err", err)

	if r.t.RetryDelay > 0 {
		timer := time.NewTimer(r.t.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return r.attempt(ctx, fn)
}

func (r *Resilient) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.t.Read)
	defer cancel()
	return fn(ctx)
}

func retryable(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	return !errors.Is(err, ErrInvalidQuery) && !utils.IsPermanentPgError(err)
}
