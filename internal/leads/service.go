package leads

import (
	"context"

	"virtual-office/internal/domain"
	"virtual-office/internal/store"
)

// Service is the read side of leads. Writes to the engagement fields go
// through the reminders lifecycle manager only.
type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service { return &Service{repo: repo} }

type ListResult struct {
	Leads  []Lead `json:"leads"`
	Total  int    `json:"total"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// List returns one page of leads ordered by created_at desc, then card_id.
func (s *Service) List(ctx context.Context, scope Scope, f Filter, p Page) (ListResult, error) {
	p = p.normalized()
	filters, search, err := f.Conditions(scope, true)
	if err != nil {
		return ListResult{}, err
	}

	total, err := s.repo.Count(ctx, store.Query{Filters: filters, Search: search})
	if err != nil {
		return ListResult{}, err
	}
	rows, err := s.repo.Find(ctx, store.Query{
		Filters: filters,
		Search:  search,
		Order:   []store.Order{{Column: ColCreatedAt, Desc: true}, {Column: ColCardID}},
		Offset:  p.Offset,
		Limit:   p.Limit,
	})
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Leads: rows, Total: total, Offset: p.Offset, Limit: p.Limit}, nil
}

// Get returns the lead, or not found when it is outside the caller's scope.
func (s *Service) Get(ctx context.Context, scope Scope, cardID string) (Lead, error) {
	if cardID == "" {
		return Lead{}, domain.Validation("leads.get", "card_id is required")
	}
	l, err := s.repo.Get(ctx, cardID)
	if err != nil {
		return Lead{}, err
	}
	if !scope.Allows(l) {
		return Lead{}, domain.NotFound("leads.get", "lead")
	}
	return l, nil
}

func (s *Service) Reminders(ctx context.Context, scope Scope, cardID string) ([]Reminder, error) {
	if _, err := s.Get(ctx, scope, cardID); err != nil {
		return nil, err
	}
	return s.repo.RemindersFor(ctx, cardID)
}

// Reminder returns a reminder whose lead is visible to the caller.
func (s *Service) Reminder(ctx context.Context, scope Scope, id int64) (Reminder, error) {
	rem, err := s.repo.Reminder(ctx, id)
	if err != nil {
		return Reminder{}, err
	}
	if scope.CanViewAll {
		return rem, nil
	}
	if _, err := s.Get(ctx, scope, rem.LeadID); err != nil {
		if domain.IsNotFound(err) {
			return Reminder{}, domain.NotFound("reminders.get", "reminder")
		}
		return Reminder{}, err
	}
	return rem, nil
}
