package reporting

import (
	"time"

	"virtual-office/internal/leads"
)

// Stats is the dashboard counter strip. ByStatus is read from the stored
// estado_gestion, so it reflects the last lifecycle write or reconcile.
type Stats struct {
	Total    int                            `json:"total"`
	ByStatus map[leads.EngagementStatus]int `json:"by_status"`
}

type PitchView string

const (
	PitchWeek PitchView = "week"
	PitchDay  PitchView = "day"
)

// PitchRange is the half-open window [From, To) of a calendar view.
type PitchRange struct {
	View PitchView `json:"view"`
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type Pitch struct {
	CardID     string    `json:"card_id"`
	Name       string    `json:"name"`
	AgentEmail string    `json:"agent_email"`
	PhaseName  string    `json:"phase_name"`
	At         time.Time `json:"at"`
}

type PitchCalendar struct {
	Range   PitchRange `json:"range"`
	Pitches []Pitch    `json:"pitches"`
}
