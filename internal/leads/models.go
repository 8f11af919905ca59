package leads

import "time"

// EngagementStatus is the denormalized estado_gestion of a lead.
type EngagementStatus string

const (
	StatusUnmanaged EngagementStatus = "unmanaged"
	StatusOverdue   EngagementStatus = "overdue"
	StatusManaged   EngagementStatus = "managed"
	StatusEnrolled  EngagementStatus = "enrolled"
	StatusDropped   EngagementStatus = "dropped"
)

// Statuses lists every engagement category in display order.
var Statuses = []EngagementStatus{StatusUnmanaged, StatusOverdue, StatusManaged, StatusEnrolled, StatusDropped}

func (s EngagementStatus) Valid() bool {
	switch s {
	case StatusUnmanaged, StatusOverdue, StatusManaged, StatusEnrolled, StatusDropped:
		return true
	}
	return false
}

type ReminderStatus string

const (
	ReminderScheduled ReminderStatus = "scheduled"
	ReminderExpired   ReminderStatus = "expired"
	ReminderCancelled ReminderStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s ReminderStatus) Terminal() bool {
	return s == ReminderExpired || s == ReminderCancelled
}

// Lead is a sales prospect. Leads are created by the intake automation and
// move through funnel phases externally; this service only writes the
// engagement fields (Status, ReminderActive, RemindersInPhase, AssignedAt,
// Reviewed).
type Lead struct {
	CardID      string `json:"card_id" db:"card_id"`
	Name        string `json:"name" db:"nombre"`
	Email       string `json:"email" db:"email"`
	Phone       string `json:"phone" db:"telefono"`
	Country     string `json:"country" db:"pais"`
	PhaseID     string `json:"phase_id" db:"fase_id"`
	PhaseName   string `json:"phase_name" db:"fase_nombre"`
	FunnelStage string `json:"funnel_stage" db:"etapa_funnel"`

	Status           EngagementStatus `json:"status" db:"estado_gestion"`
	ReminderActive   bool             `json:"reminder_active" db:"reminder_active"`
	RemindersInPhase int64            `json:"reminder_count_in_phase" db:"reminder_count_in_phase"`
	// AssignedAt is reset whenever the lead needs attention again.
	AssignedAt *time.Time `json:"assigned_at,omitempty" db:"assigned_at"`
	Reviewed   bool       `json:"reviewed" db:"reviewed"`

	AgentEmail   string     `json:"agent_email" db:"agent_email"`
	PitchAt      *time.Time `json:"pitch_at,omitempty" db:"fecha_pitch"`
	PhaseFormURL string     `json:"phase_form_url,omitempty" db:"url_formulario_fase"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Reminder is a follow-up an agent scheduled for a lead.
//
// CreatedBy, PhaseAtCreation and FunnelStageAtCreation are a provenance
// snapshot and never change after insert.
type Reminder struct {
	ID          int64          `json:"id" db:"id"`
	LeadID      string         `json:"lead_id" db:"lead_id"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty" db:"scheduled_at"`
	Status      ReminderStatus `json:"status" db:"status"`
	Note        string         `json:"note" db:"note"`

	CreatedBy             string `json:"created_by" db:"created_by"`
	PhaseAtCreation       string `json:"phase_at_creation" db:"phase_at_creation"`
	FunnelStageAtCreation string `json:"funnel_stage_at_creation" db:"funnel_stage_at_creation"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
