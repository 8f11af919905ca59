package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"virtual-office/internal/agents"
	"virtual-office/internal/auth"
	"virtual-office/internal/comments"
	"virtual-office/internal/domain"
	"virtual-office/internal/leads"
	"virtual-office/internal/notify"
	"virtual-office/internal/refresh"
	"virtual-office/internal/reminders"
	"virtual-office/internal/reporting"
)

// CallbackSecretHeader carries the shared secret of the sign-in workflow.
const CallbackSecretHeader = "X-Callback-Secret"

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Agents    *agents.Service
	Leads     *leads.Service
	Reminders *reminders.Manager
	Comments  *comments.Service
	Reports   *reporting.Service
	Stats     reporting.StatsSource
	Sessions  *refresh.Registry
	Summary   *notify.SummaryClient

	CallbackSecret string
	Clock          func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock().UTC()
	}
	return time.Now().UTC()
}

func identity(c *gin.Context) (auth.Identity, bool) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "agent identity required"})
		return auth.Identity{}, false
	}
	return id, true
}

// --- Auth ---

type callbackRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"max=200"`
}

// AuthCallback completes sign-in. The external workflow posts the identity
// it resolved; only active agents receive a token pair.
func (h Handlers) AuthCallback(c *gin.Context) {
	secret := c.GetHeader(CallbackSecretHeader)
	if h.CallbackSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.CallbackSecret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid callback secret"})
		return
	}
	var req callbackRequest
	if !bindJSON(c, &req) {
		return
	}
	h.issueFor(c, req.Email, req.Name)
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// RefreshToken exchanges a refresh token for a new pair. The agent profile
// is read again so deactivation and visibility changes apply.
func (h Handlers) RefreshToken(c *gin.Context) {
	var req refreshTokenRequest
	if !bindJSON(c, &req) {
		return
	}
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	h.issueFor(c, claims.Email, "")
}

func (h Handlers) issueFor(c *gin.Context, email, name string) {
	agent, err := h.Agents.ActiveAgent(c.Request.Context(), email)
	if domain.IsNotFound(err) || domain.IsInvalidState(err) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "agent not allowed"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if agent.Name != "" {
		name = agent.Name
	}
	id := auth.Identity{Email: agent.Email, Name: name, CanViewAll: agent.CanViewAll, Role: agent.Role}
	// Tokens follow the wall clock, like RequireAccessToken.
	pair, err := h.Auth.IssuePair(time.Now(), id)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": pair, "agent": id})
}

func (h Handlers) Me(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, id)
}

// --- Dashboard ---

type listQuery struct {
	Status string `form:"status" validate:"omitempty,oneof=unmanaged overdue managed enrolled dropped"`
	Agent  string `form:"agent" validate:"omitempty,email"`
	Month  string `form:"month" validate:"omitempty,datetime=2006-01"`
	Period string `form:"period" validate:"omitempty,datetime=2006-01-02"`
	Search string `form:"q" validate:"max=200"`
	Offset int    `form:"offset" validate:"min=0"`
	Limit  int    `form:"limit" validate:"min=0,max=200"`
}

func (q listQuery) filter() leads.Filter {
	f := leads.Filter{
		Status:     leads.EngagementStatus(q.Status),
		AgentEmail: strings.ToLower(q.Agent),
		Month:      q.Month,
		Search:     q.Search,
	}
	if q.Period != "" {
		// Format already checked by the validator.
		f.PeriodStart, _ = time.ParseInLocation("2006-01-02", q.Period, time.UTC)
	}
	return f
}

func (q listQuery) page() leads.Page {
	return leads.Page{Offset: q.Offset, Limit: q.Limit}
}

// Dashboard returns the caller's session snapshot, opening the session (and
// running its first blocking load) on first access. Query parameters change
// the session view; a changed view is loaded right away.
func (h Handlers) Dashboard(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var q listQuery
	if !bindQuery(c, &q) {
		return
	}
	ctx := c.Request.Context()

	s, err := h.Sessions.Open(ctx, id.Scope())
	if err != nil {
		writeError(c, err)
		return
	}

	view := refresh.View{Filter: q.filter(), Page: q.page()}
	if view.Page.Limit == 0 {
		view.Page.Limit = s.View().Page.Limit
	}
	if s.SetView(view) {
		if err := s.Refresh(ctx); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// RefreshDashboard runs the refresh steps now, outside the timer.
func (h Handlers) RefreshDashboard(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	s, found := h.Sessions.Lookup(id.Scope())
	if !found {
		var err error
		if s, err = h.Sessions.Open(ctx, id.Scope()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.Snapshot())
		return
	}
	if err := s.Refresh(ctx); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// --- Leads ---

func (h Handlers) ListLeads(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var q listQuery
	if !bindQuery(c, &q) {
		return
	}
	res, err := h.Leads.List(c.Request.Context(), id.Scope(), q.filter(), q.page())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetLead returns one lead. When the assigned agent opens it, it is marked
// reviewed.
func (h Handlers) GetLead(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	lead, err := h.Leads.Get(ctx, id.Scope(), c.Param("card_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	lead, err = h.Reminders.MarkReviewed(ctx, lead, id.Email)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

func (h Handlers) ListReminders(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	rems, err := h.Leads.Reminders(c.Request.Context(), id.Scope(), c.Param("card_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reminders": rems})
}

type scheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	Note        string    `json:"note" validate:"max=1000"`
}

func (h Handlers) ScheduleReminder(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req scheduleRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	lead, err := h.Leads.Get(ctx, id.Scope(), c.Param("card_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	rem, err := h.Reminders.Schedule(ctx, reminders.ScheduleRequest{
		LeadID: lead.CardID,
		At:     req.ScheduledAt,
		Note:   req.Note,
		Author: id.Email,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rem)
}

// RepairLead retries the pending lead update after a partial failure.
func (h Handlers) RepairLead(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	lead, err := h.Leads.Get(ctx, id.Scope(), c.Param("card_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	lead, err = h.Reminders.RepairLead(ctx, lead.CardID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

type reminderURI struct {
	ID int64 `uri:"id" validate:"required,gt=0"`
}

func (h Handlers) CancelReminder(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var uri reminderURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid reminder id"})
		return
	}
	if !checkStruct(c, &uri) {
		return
	}
	ctx := c.Request.Context()
	// Reminders outside the caller's scope look the same as missing ones.
	if _, err := h.Leads.Reminder(ctx, id.Scope(), uri.ID); err != nil {
		if domain.IsNotFound(err) {
			err = domain.InvalidState("reminders.cancel", "reminder does not exist")
		}
		writeError(c, err)
		return
	}
	if err := h.Reminders.Cancel(ctx, uri.ID, id.Email); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Comments, summary, booking ---

type commentsQuery struct {
	Page int `form:"page" validate:"min=0"`
}

func (h Handlers) ListComments(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var q commentsQuery
	if !bindQuery(c, &q) {
		return
	}
	ctx := c.Request.Context()
	lead, err := h.Leads.Get(ctx, id.Scope(), c.Param("card_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.Comments.List(ctx, lead.CardID, q.Page)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type commentRequest struct {
	Body string `json:"body" validate:"required,max=4000"`
}

func (h Handlers) AddComment(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req commentRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	lead, err := h.Leads.Get(ctx, id.Scope(), c.Param("card_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	cm, err := h.Comments.Add(ctx, lead.CardID, id.Email, req.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cm)
}

func (h Handlers) Summarize(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	lead, err := h.Leads.Get(ctx, id.Scope(), c.Param("card_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	s, err := h.Summary.Summarize(ctx, notify.SummaryRequest{CardID: lead.CardID, AgentEmail: id.Email})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) Booking(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	b, err := h.Agents.BookingLink(c.Request.Context(), id.Scope(), c.Param("card_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// --- Reporting ---

func (h Handlers) GetStats(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var q listQuery
	if !bindQuery(c, &q) {
		return
	}
	st, err := h.Stats.Stats(c.Request.Context(), id.Scope(), q.filter())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type pitchesQuery struct {
	View string `form:"view" validate:"omitempty,oneof=week day"`
	Date string `form:"date" validate:"omitempty,datetime=2006-01-02"`
}

func (h Handlers) Pitches(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var q pitchesQuery
	if !bindQuery(c, &q) {
		return
	}
	day := h.now()
	if q.Date != "" {
		day, _ = time.ParseInLocation("2006-01-02", q.Date, time.UTC)
	}
	cal, err := h.Reports.Pitches(c.Request.Context(), id.Scope(), reporting.PitchView(q.View), day)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cal)
}

// --- View-all ---

func (h Handlers) ListAgents(c *gin.Context) {
	list, err := h.Agents.ListActive(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": list})
}

// Sweep runs the expiry sweep and status reconciliation now.
func (h Handlers) Sweep(c *gin.Context) {
	affected, err := h.Reminders.Maintain(c.Request.Context(), h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"affected_leads": affected})
}
