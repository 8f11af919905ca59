package comments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"virtual-office/internal/domain"
)

// Service appends and pages lead comments.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// WithClock overrides the time source; tests only.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

const maxBodyLen = 4000

func (s *Service) Append(ctx context.Context, c Comment) (Comment, error) {
	const op = "comments.append"
	if s.repo == nil {
		return Comment{}, errors.New("comments: repository not configured")
	}
	c.Body = strings.TrimSpace(c.Body)
	if c.LeadID == "" {
		return Comment{}, domain.Validation(op, "lead_id is required")
	}
	if c.Body == "" {
		return Comment{}, domain.Validation(op, "body is required")
	}
	if len(c.Body) > maxBodyLen {
		return Comment{}, domain.Validation(op, "body is too long")
	}
	if c.Origin == "" {
		c.Origin = OriginDashboard
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock().UTC()
	}
	if err := s.repo.Append(ctx, c); err != nil {
		return Comment{}, err
	}
	return c, nil
}

// Add records an agent comment from the dashboard.
func (s *Service) Add(ctx context.Context, leadID, author, body string) (Comment, error) {
	return s.Append(ctx, Comment{LeadID: leadID, AuthorEmail: author, Body: body, Origin: OriginDashboard})
}

// System records a lifecycle audit entry.
func (s *Service) System(ctx context.Context, leadID, actor, body string) error {
	_, err := s.Append(ctx, Comment{LeadID: leadID, AuthorEmail: actor, Body: body, Origin: OriginSystem})
	return err
}

// List returns one page (0-based) of comments, newest first.
func (s *Service) List(ctx context.Context, leadID string, page int) (ListResult, error) {
	if leadID == "" {
		return ListResult{}, domain.Validation("comments.list", "lead_id is required")
	}
	if page < 0 {
		page = 0
	}
	rows, err := s.repo.ListByLead(ctx, leadID, page*PageSize, PageSize+1)
	if err != nil {
		return ListResult{}, err
	}
	out := ListResult{Page: page, Comments: rows}
	if len(rows) > PageSize {
		out.HasMore = true
		out.Comments = rows[:PageSize]
	}
	return out, nil
}
