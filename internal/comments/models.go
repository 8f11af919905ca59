package comments

import "time"

// Comment is an append-only follow-up note on a lead.
//
// Invariants:
// - Comments are never updated or deleted.
// - lead_id is required.
// - System comments are written by the reminder lifecycle; dashboard comments
//   by agents.
type Comment struct {
	ID          string `json:"id" db:"id"`
	LeadID      string `json:"lead_id" db:"lead_id"`
	Body        string `json:"body" db:"body"`
	AuthorEmail string `json:"author_email,omitempty" db:"author_email"`
	Origin      Origin `json:"origin" db:"origin"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Origin string

const (
	OriginDashboard Origin = "dashboard"
	OriginSystem    Origin = "system"
)

const PageSize = 20

type ListResult struct {
	Comments []Comment `json:"comments"`
	Page     int       `json:"page"`
	HasMore  bool      `json:"has_more"`
}
