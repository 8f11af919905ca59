package reporting

import (
	"context"
	"time"

	"virtual-office/internal/domain"
	"virtual-office/internal/leads"
	"virtual-office/internal/store"
)

// Repository is the lead read access reporting needs.
type Repository interface {
	Find(ctx context.Context, q store.Query) ([]leads.Lead, error)
	Count(ctx context.Context, q store.Query) (int, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// Stats counts the caller's leads per engagement category. The filter's
// status is ignored; every other filter applies.
func (s *Service) Stats(ctx context.Context, scope leads.Scope, f leads.Filter) (Stats, error) {
	filters, search, err := f.Conditions(scope, false)
	if err != nil {
		return Stats{}, err
	}

	out := Stats{ByStatus: make(map[leads.EngagementStatus]int, len(leads.Statuses))}
	out.Total, err = s.repo.Count(ctx, store.Query{Filters: filters, Search: search})
	if err != nil {
		return Stats{}, err
	}
	for _, st := range leads.Statuses {
		q := store.Query{
			Filters: append(append([]store.Filter{}, filters...), store.Eq(leads.ColStatus, string(st))),
			Search:  search,
		}
		n, err := s.repo.Count(ctx, q)
		if err != nil {
			return Stats{}, err
		}
		out.ByStatus[st] = n
	}
	return out, nil
}

// RangeFor returns the calendar window containing day. Weeks start on Sunday.
func RangeFor(view PitchView, day time.Time) (PitchRange, error) {
	d := day.UTC()
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	switch view {
	case PitchDay:
		return PitchRange{View: view, From: d, To: d.AddDate(0, 0, 1)}, nil
	case PitchWeek, "":
		from := d.AddDate(0, 0, -int(d.Weekday()))
		return PitchRange{View: PitchWeek, From: from, To: from.AddDate(0, 0, 7)}, nil
	}
	return PitchRange{}, domain.Validation("reporting.pitches", "view must be week or day")
}

// Pitches lists booked pitch meetings in the window, earliest first.
func (s *Service) Pitches(ctx context.Context, scope leads.Scope, view PitchView, day time.Time) (PitchCalendar, error) {
	rng, err := RangeFor(view, day)
	if err != nil {
		return PitchCalendar{}, err
	}
	filters, _, err := leads.Filter{}.Conditions(scope, false)
	if err != nil {
		return PitchCalendar{}, err
	}
	filters = append(filters,
		store.Gte(leads.ColPitchAt, rng.From),
		store.Lt(leads.ColPitchAt, rng.To),
	)

	rows, err := s.repo.Find(ctx, store.Query{
		Filters: filters,
		Order:   []store.Order{{Column: leads.ColPitchAt}, {Column: leads.ColCardID}},
	})
	if err != nil {
		return PitchCalendar{}, err
	}
	out := PitchCalendar{Range: rng, Pitches: make([]Pitch, 0, len(rows))}
	for _, l := range rows {
		if l.PitchAt == nil {
			continue
		}
		out.Pitches = append(out.Pitches, Pitch{
			CardID:     l.CardID,
			Name:       l.Name,
			AgentEmail: l.AgentEmail,
			PhaseName:  l.PhaseName,
			At:         *l.PitchAt,
		})
	}
	return out, nil
}
