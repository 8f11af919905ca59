package agents

import (
	"context"
	"strings"

	"virtual-office/internal/domain"
	"virtual-office/internal/leads"
	"virtual-office/internal/store"
)

// LeadReader resolves a lead within the caller's visibility.
type LeadReader interface {
	Get(ctx context.Context, scope leads.Scope, cardID string) (leads.Lead, error)
}

type Service struct {
	st          store.Store
	leads       LeadReader
	readyPhases map[string]struct{}
}

// NewService builds the directory. readyPhases are the phase ids whose leads
// may be offered the assigned agent's booking link.
func NewService(st store.Store, lr LeadReader, readyPhases []string) *Service {
	set := make(map[string]struct{}, len(readyPhases))
	for _, p := range readyPhases {
		set[p] = struct{}{}
	}
	return &Service{st: st, leads: lr, readyPhases: set}
}

func (s *Service) Get(ctx context.Context, email string) (Agent, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Agent{}, domain.Validation("agents.get", "email is required")
	}
	rows, err := s.st.Select(ctx, store.TableAgents, store.Query{
		Filters: []store.Filter{store.Eq(colEmail, email)},
		Limit:   1,
	})
	if err != nil {
		return Agent{}, domain.External("agents.get", err)
	}
	if len(rows) == 0 {
		return Agent{}, domain.NotFound("agents.get", "agent")
	}
	return fromRow(rows[0]), nil
}

// ActiveAgent returns the profile only when it may sign in.
func (s *Service) ActiveAgent(ctx context.Context, email string) (Agent, error) {
	a, err := s.Get(ctx, email)
	if err != nil {
		return Agent{}, err
	}
	if !a.Active {
		return Agent{}, domain.InvalidState("agents.active", "agent is not active")
	}
	return a, nil
}

// ListActive returns active agents ordered by name, for the agent filter.
func (s *Service) ListActive(ctx context.Context) ([]Agent, error) {
	rows, err := s.st.Select(ctx, store.TableAgents, store.Query{
		Filters: []store.Filter{store.Eq(colActive, true)},
		Order:   []store.Order{{Column: colName}, {Column: colEmail}},
	})
	if err != nil {
		return nil, domain.External("agents.list", err)
	}
	out := make([]Agent, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// BookingLink returns the assigned agent's scheduling URL for a lead in one
// of the ready-to-book phases.
func (s *Service) BookingLink(ctx context.Context, scope leads.Scope, cardID string) (Booking, error) {
	const op = "agents.booking_link"
	lead, err := s.leads.Get(ctx, scope, cardID)
	if err != nil {
		return Booking{}, err
	}
	if _, ok := s.readyPhases[lead.PhaseID]; !ok {
		return Booking{}, domain.InvalidState(op, "lead is not in a ready-to-book phase")
	}
	if lead.AgentEmail == "" {
		return Booking{}, domain.InvalidState(op, "lead has no assigned agent")
	}
	a, err := s.Get(ctx, lead.AgentEmail)
	if err != nil {
		return Booking{}, err
	}
	if a.BookingURL == "" {
		return Booking{}, domain.InvalidState(op, "assigned agent has no booking link")
	}
	return Booking{CardID: lead.CardID, AgentEmail: a.Email, URL: a.BookingURL}, nil
}

func normalizeEmail(e string) string { return strings.ToLower(strings.TrimSpace(e)) }

func fromRow(r store.Row) Agent {
	return Agent{
		Email:      str(r[colEmail]),
		Name:       str(r[colName]),
		Active:     boolean(r[colActive]),
		CanViewAll: boolean(r[colCanViewAll]),
		Role:       str(r[colRole]),
		BookingURL: str(r[colBookingURL]),
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}
