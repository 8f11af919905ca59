package leads

import (
	"time"

	"virtual-office/internal/store"
)

// Column names. Only the ones referenced outside the row mappers are exported.
const (
	ColCardID         = "card_id"
	ColName           = "nombre"
	ColEmail          = "email"
	ColPhone          = "telefono"
	ColPhaseID        = "fase_id"
	ColStatus         = "estado_gestion"
	ColReminderActive = "reminder_active"
	ColRemindersPhase = "reminder_count_in_phase"
	ColAssignedAt     = "assigned_at"
	ColReviewed       = "reviewed"
	ColAgentEmail     = "agent_email"
	ColPitchAt        = "fecha_pitch"
	ColCreatedAt      = "created_at"
	ColUpdatedAt      = "updated_at"

	ColReminderID      = "id"
	ColLeadID          = "lead_id"
	ColScheduledAt     = "scheduled_at"
	ColReminderStatus  = "status"
	ColPhaseAtCreation = "phase_at_creation"
)

// SearchColumns are matched by the free-text lead search.
var SearchColumns = []string{ColName, ColEmail, ColPhone, ColCardID}

func leadFromRow(r store.Row) Lead {
	return Lead{
		CardID:           str(r[ColCardID]),
		Name:             str(r[ColName]),
		Email:            str(r[ColEmail]),
		Phone:            str(r[ColPhone]),
		Country:          str(r["pais"]),
		PhaseID:          str(r[ColPhaseID]),
		PhaseName:        str(r["fase_nombre"]),
		FunnelStage:      str(r["etapa_funnel"]),
		Status:           EngagementStatus(str(r[ColStatus])),
		ReminderActive:   boolean(r[ColReminderActive]),
		RemindersInPhase: i64(r[ColRemindersPhase]),
		AssignedAt:       timePtr(r[ColAssignedAt]),
		Reviewed:         boolean(r[ColReviewed]),
		AgentEmail:       str(r[ColAgentEmail]),
		PitchAt:          timePtr(r[ColPitchAt]),
		PhaseFormURL:     str(r["url_formulario_fase"]),
		CreatedAt:        timeVal(r[ColCreatedAt]),
		UpdatedAt:        timeVal(r[ColUpdatedAt]),
	}
}

func reminderFromRow(r store.Row) Reminder {
	return Reminder{
		ID:                    i64(r[ColReminderID]),
		LeadID:                str(r[ColLeadID]),
		ScheduledAt:           timePtr(r[ColScheduledAt]),
		Status:                ReminderStatus(str(r[ColReminderStatus])),
		Note:                  str(r["note"]),
		CreatedBy:             str(r["created_by"]),
		PhaseAtCreation:       str(r[ColPhaseAtCreation]),
		FunnelStageAtCreation: str(r["funnel_stage_at_creation"]),
		CreatedAt:             timeVal(r[ColCreatedAt]),
		UpdatedAt:             timeVal(r[ColUpdatedAt]),
	}
}

// reminderRow is the insert payload; id is assigned by the store.
func reminderRow(rem Reminder) store.Row {
	var at any
	if rem.ScheduledAt != nil {
		at = rem.ScheduledAt.UTC()
	}
	return store.Row{
		ColLeadID:                  rem.LeadID,
		ColScheduledAt:             at,
		ColReminderStatus:          string(rem.Status),
		"note":                     rem.Note,
		"created_by":               rem.CreatedBy,
		ColPhaseAtCreation:         rem.PhaseAtCreation,
		"funnel_stage_at_creation": rem.FunnelStageAtCreation,
		ColCreatedAt:               rem.CreatedAt.UTC(),
		ColUpdatedAt:               rem.UpdatedAt.UTC(),
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

func i64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		return int64(x)
	}
	return 0
}

func timeVal(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}

func timePtr(v any) *time.Time {
	t, ok := v.(time.Time)
	if !ok {
		return nil
	}
	return &t
}
