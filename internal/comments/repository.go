package comments

import (
	"context"
	"time"

	"virtual-office/internal/domain"
	"virtual-office/internal/store"
)

// Repository is the persistence contract for comments.
//
// It MUST be append-only. No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, c Comment) error
	ListByLead(ctx context.Context, leadID string, offset, limit int) ([]Comment, error)
}

// StoreRepo keeps comments in the comments table.
type StoreRepo struct {
	st store.Store
}

func NewStoreRepo(st store.Store) *StoreRepo { return &StoreRepo{st: st} }

func (r *StoreRepo) Append(ctx context.Context, c Comment) error {
	_, err := r.st.Insert(ctx, store.TableComments, store.Row{
		"id":           c.ID,
		"lead_id":      c.LeadID,
		"body":         c.Body,
		"author_email": c.AuthorEmail,
		"origin":       string(c.Origin),
		"created_at":   c.CreatedAt.UTC(),
	})
	return domain.External("comments.append", err)
}

// ListByLead returns comments newest first.
func (r *StoreRepo) ListByLead(ctx context.Context, leadID string, offset, limit int) ([]Comment, error) {
	rows, err := r.st.Select(ctx, store.TableComments, store.Query{
		Filters: []store.Filter{store.Eq("lead_id", leadID)},
		Order:   []store.Order{{Column: "created_at", Desc: true}, {Column: "id", Desc: true}},
		Offset:  offset,
		Limit:   limit,
	})
	if err != nil {
		return nil, domain.External("comments.list", err)
	}
	out := make([]Comment, 0, len(rows))
	for _, row := range rows {
		c := Comment{}
		c.ID, _ = row["id"].(string)
		c.LeadID, _ = row["lead_id"].(string)
		c.Body, _ = row["body"].(string)
		c.AuthorEmail, _ = row["author_email"].(string)
		origin, _ := row["origin"].(string)
		c.Origin = Origin(origin)
		c.CreatedAt, _ = row["created_at"].(time.Time)
		out = append(out, c)
	}
	return out, nil
}
