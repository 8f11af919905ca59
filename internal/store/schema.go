package store

import (
	"context"
	"database/sql"
	"fmt"

	"virtual-office/pkg/utils"
)

// Table names shared by the repositories.
const (
	TableLeads     = "leads"
	TableReminders = "reminders"
	TableComments  = "comments"
	TableAgents    = "agents"
)

// schema is applied in one transaction on startup when STORE_MIGRATE=true.
// Leads are created by the intake automation; this only guarantees the
// columns the engine reads and writes exist.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS leads (
		card_id                 TEXT PRIMARY KEY,
		nombre                  TEXT NOT NULL DEFAULT '',
		email                   TEXT NOT NULL DEFAULT '',
		telefono                TEXT NOT NULL DEFAULT '',
		pais                    TEXT NOT NULL DEFAULT '',
		fase_id                 TEXT NOT NULL DEFAULT '',
		fase_nombre             TEXT NOT NULL DEFAULT '',
		etapa_funnel            TEXT NOT NULL DEFAULT '',
		estado_gestion          TEXT NOT NULL DEFAULT 'unmanaged',
		reminder_active         BOOLEAN NOT NULL DEFAULT FALSE,
		reminder_count_in_phase BIGINT NOT NULL DEFAULT 0,
		assigned_at             TIMESTAMPTZ,
		reviewed                BOOLEAN NOT NULL DEFAULT FALSE,
		agent_email             TEXT NOT NULL DEFAULT '',
		fecha_pitch             TIMESTAMPTZ,
		url_formulario_fase     TEXT NOT NULL DEFAULT '',
		created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS leads_agent_created_idx ON leads (lower(agent_email), created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS leads_estado_idx ON leads (estado_gestion)`,
	`CREATE TABLE IF NOT EXISTS reminders (
		id                       BIGSERIAL PRIMARY KEY,
		lead_id                  TEXT NOT NULL REFERENCES leads(card_id),
		scheduled_at             TIMESTAMPTZ,
		status                   TEXT NOT NULL DEFAULT 'scheduled',
		note                     TEXT NOT NULL DEFAULT '',
		created_by               TEXT NOT NULL DEFAULT '',
		phase_at_creation        TEXT NOT NULL DEFAULT '',
		funnel_stage_at_creation TEXT NOT NULL DEFAULT '',
		created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS reminders_status_scheduled_idx ON reminders (status, scheduled_at)`,
	`CREATE INDEX IF NOT EXISTS reminders_lead_idx ON reminders (lead_id)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id           TEXT PRIMARY KEY,
		lead_id      TEXT NOT NULL REFERENCES leads(card_id),
		body         TEXT NOT NULL,
		author_email TEXT NOT NULL DEFAULT '',
		origin       TEXT NOT NULL DEFAULT 'dashboard',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS comments_lead_created_idx ON comments (lead_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS agents (
		email        TEXT PRIMARY KEY,
		name         TEXT NOT NULL DEFAULT '',
		active       BOOLEAN NOT NULL DEFAULT TRUE,
		can_view_all BOOLEAN NOT NULL DEFAULT FALSE,
		role         TEXT NOT NULL DEFAULT 'agent',
		booking_url  TEXT NOT NULL DEFAULT ''
	)`,
}

// Migrate creates the engine tables if they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	return utils.WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for i, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("schema statement %d: %w", i, err)
			}
		}
		return nil
	})
}
