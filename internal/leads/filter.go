package leads

import (
	"strings"
	"time"

	"virtual-office/internal/domain"
	"virtual-office/internal/store"
)

// Scope is the caller identity. The engine trusts it as given.
type Scope struct {
	AgentEmail string
	CanViewAll bool
}

// Allows reports whether the caller may see the lead.
func (s Scope) Allows(l Lead) bool {
	return s.CanViewAll || strings.EqualFold(l.AgentEmail, s.AgentEmail)
}

// Filter narrows lead listings. Zero values mean "no filter".
type Filter struct {
	Status EngagementStatus `json:"status,omitempty"`
	// AgentEmail is honored only for view-all callers.
	AgentEmail string `json:"agent_email,omitempty"`
	// Month is a creation month in YYYY-MM form.
	Month string `json:"month,omitempty"`
	// PeriodStart selects the 7-day commission period starting on that
	// Tuesday (UTC).
	PeriodStart time.Time `json:"period_start,omitempty"`
	Search      string    `json:"search,omitempty"`
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

func (p Page) normalized() Page {
	out := p
	if out.Offset < 0 {
		out.Offset = 0
	}
	if out.Limit <= 0 {
		out.Limit = DefaultPageSize
	}
	if out.Limit > MaxPageSize {
		out.Limit = MaxPageSize
	}
	return out
}

// PeriodOf returns the Tuesday 00:00 UTC that starts the period containing t.
func PeriodOf(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	back := (int(day.Weekday()) - int(time.Tuesday) + 7) % 7
	return day.AddDate(0, 0, -back)
}

// Conditions turns the filter into store filters for the given scope.
// withStatus=false drops the status filter (used by per-status counts).
func (f Filter) Conditions(scope Scope, withStatus bool) ([]store.Filter, store.Search, error) {
	const op = "leads.filter"
	out := make([]store.Filter, 0, 4)

	switch {
	case !scope.CanViewAll:
		if scope.AgentEmail == "" {
			return nil, store.Search{}, domain.Validation(op, "agent identity is required")
		}
		out = append(out, store.IEq(ColAgentEmail, scope.AgentEmail))
	case f.AgentEmail != "":
		out = append(out, store.IEq(ColAgentEmail, f.AgentEmail))
	}

	if withStatus && f.Status != "" {
		if !f.Status.Valid() {
			return nil, store.Search{}, domain.Validation(op, "unknown status "+string(f.Status))
		}
		out = append(out, store.Eq(ColStatus, string(f.Status)))
	}

	if f.Month != "" {
		start, err := time.ParseInLocation("2006-01", f.Month, time.UTC)
		if err != nil {
			return nil, store.Search{}, domain.Validation(op, "month must be YYYY-MM")
		}
		out = append(out,
			store.Gte(ColCreatedAt, start),
			store.Lt(ColCreatedAt, start.AddDate(0, 1, 0)),
		)
	}

	if !f.PeriodStart.IsZero() {
		start := f.PeriodStart.UTC()
		if start.Weekday() != time.Tuesday || !start.Equal(PeriodOf(start)) {
			return nil, store.Search{}, domain.Validation(op, "period must start on a Tuesday at 00:00 UTC")
		}
		out = append(out,
			store.Gte(ColCreatedAt, start),
			store.Lt(ColCreatedAt, start.AddDate(0, 0, 7)),
		)
	}

	var search store.Search
	if term := strings.TrimSpace(f.Search); term != "" {
		search = store.Search{Columns: SearchColumns, Term: term}
	}
	return out, search, nil
}
