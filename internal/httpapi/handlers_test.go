package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtual-office/internal/agents"
	"virtual-office/internal/auth"
	"virtual-office/internal/comments"
	"virtual-office/internal/config"
	"virtual-office/internal/domain"
	"virtual-office/internal/engagement"
	"virtual-office/internal/leads"
	"virtual-office/internal/notify"
	"virtual-office/internal/refresh"
	"virtual-office/internal/reminders"
	"virtual-office/internal/reporting"
	"virtual-office/internal/store"
	"virtual-office/pkg/metrics"
)

const testSecret = "cb-secret"

var start = time.Unix(1700000000, 0).UTC() // Tuesday 2023-11-14 22:13:20 UTC

type env struct {
	r           *gin.Engine
	mem         *store.Memory
	am          *auth.Manager
	now         time.Time
	summaryFail atomic.Bool
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e := &env{now: start}
	clock := func() time.Time { return e.now }
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	e.mem = store.NewMemory().AutoIncrement(store.TableReminders, leads.ColReminderID)
	e.mem.Seed(store.TableAgents,
		store.Row{"email": "sam@co.io", "name": "Sam", "active": true, "role": "agent", "booking_url": "https://cal.example/sam"},
		store.Row{"email": "kim@co.io", "name": "Kim", "active": true, "role": "agent"},
		store.Row{"email": "boss@co.io", "name": "Boss", "active": true, "can_view_all": true, "role": "supervisor"},
		store.Row{"email": "old@co.io", "name": "Old", "active": false, "role": "agent"},
	)
	pitch := start.Add(time.Hour)
	e.mem.Seed(store.TableLeads,
		store.Row{"card_id": "L1", "nombre": "Ana", "agent_email": "sam@co.io", "fase_id": "p1", "estado_gestion": "unmanaged", "reviewed": false, "created_at": start.Add(-time.Hour)},
		store.Row{"card_id": "L2", "nombre": "Bea", "agent_email": "sam@co.io", "fase_id": "ready", "estado_gestion": "unmanaged", "created_at": start.Add(-2 * time.Hour)},
		store.Row{"card_id": "L3", "nombre": "Cid", "agent_email": "kim@co.io", "fase_id": "p1", "estado_gestion": "unmanaged", "fecha_pitch": pitch, "created_at": start.Add(-3 * time.Hour)},
	)

	am, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Hour, RefreshTokenTTL: 2 * time.Hour})
	require.NoError(t, err)
	e.am = am

	m := metrics.New(prometheus.NewRegistry())
	repo := leads.NewRepository(e.mem)
	leadSvc := leads.NewService(repo)
	reports := reporting.NewService(repo)
	stats := reporting.NewCachedStats(reports, nil, 0, log, m)
	cm := comments.NewService(comments.NewStoreRepo(e.mem)).WithClock(clock)
	mgr := reminders.NewManager(repo, cm, reminders.Options{
		Rules:       engagement.Rules{EnrolledPhaseID: "ph-enrolled", DroppedPhaseID: "ph-dropped"},
		Log:         log,
		Metrics:     m,
		Invalidator: stats,
	}).WithClock(clock)
	reg := refresh.NewRegistry(refresh.Deps{
		Sweeper: mgr,
		Stats:   stats,
		Leads:   leadSvc,
		Lease:   &refresh.LocalLease{},
		Log:     log,
		Metrics: m,

		Reconciler: mgr,
	}, refresh.Options{}).WithClock(clock)
	t.Cleanup(func() { _ = reg.Stop(context.Background()) })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e.summaryFail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("Wants the evening cohort."))
	}))
	t.Cleanup(srv.Close)

	h := Handlers{
		Auth:           am,
		Agents:         agents.NewService(e.mem, leadSvc, []string{"ready"}),
		Leads:          leadSvc,
		Reminders:      mgr,
		Comments:       cm,
		Reports:        reports,
		Stats:          stats,
		Sessions:       reg,
		Summary:        notify.NewSummaryClient(srv.URL, time.Second, log),
		CallbackSecret: testSecret,
		Clock:          clock,
	}
	e.r = gin.New()
	Register(e.r, h, auth.RequireAccessToken(am))
	return e
}

var profiles = map[string]auth.Identity{
	"sam@co.io":  {Email: "sam@co.io", Role: "agent"},
	"kim@co.io":  {Email: "kim@co.io", Role: "agent"},
	"boss@co.io": {Email: "boss@co.io", Role: "supervisor", CanViewAll: true},
}

func (e *env) do(t *testing.T, method, path, as string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != "" {
		pair, err := e.am.IssuePair(time.Now(), profiles[as])
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestAuthCallback(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/auth/callback", "", map[string]string{"email": "sam@co.io"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	post := func(email string) *httptest.ResponseRecorder {
		b, _ := json.Marshal(map[string]string{"email": email})
		req := httptest.NewRequest(http.MethodPost, "/auth/callback", bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(CallbackSecretHeader, testSecret)
		w := httptest.NewRecorder()
		e.r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusForbidden, post("old@co.io").Code)
	assert.Equal(t, http.StatusForbidden, post("nobody@co.io").Code)
	assert.Equal(t, http.StatusBadRequest, post("not-an-email").Code)

	w = post("Boss@co.io")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Tokens auth.TokenPair `json:"tokens"`
		Agent  auth.Identity  `json:"agent"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Agent.CanViewAll)
	assert.Equal(t, "supervisor", resp.Agent.Role)

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Tokens.AccessToken)
	me := httptest.NewRecorder()
	e.r.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Equal(t, "boss@co.io", decode(t, me)["email"])

	w = e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": resp.Tokens.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": resp.Tokens.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLeads_ScopeAndReviewed(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/v1/leads", "sam@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["total"])

	w = e.do(t, http.MethodGet, "/v1/leads?status=bogus", "sam@co.io", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/v1/leads/L3", "sam@co.io", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/v1/leads/L3", "boss@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["reviewed"], "only the assigned agent marks reviewed")

	w = e.do(t, http.MethodGet, "/v1/leads/L1", "sam@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["reviewed"])

	w = e.do(t, http.MethodGet, "/v1/leads", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReminders_ScheduleConflictCancel(t *testing.T) {
	e := newEnv(t)
	path := "/v1/leads/L1/reminders"

	w := e.do(t, http.MethodPost, path, "sam@co.io", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "scheduled_at")

	w = e.do(t, http.MethodPost, path, "sam@co.io", map[string]any{"scheduled_at": start.Add(-time.Hour)})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(domain.KindValidation), decode(t, w)["kind"])

	w = e.do(t, http.MethodPost, path, "sam@co.io", map[string]any{"scheduled_at": start.Add(2 * time.Hour), "note": "call back"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := int64(decode(t, w)["id"].(float64))

	w = e.do(t, http.MethodPost, path, "sam@co.io", map[string]any{"scheduled_at": start.Add(3 * time.Hour)})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodGet, "/v1/leads/L1", "sam@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "managed", decode(t, w)["status"])

	cancel := fmt.Sprintf("/v1/reminders/%d/cancel", id)
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, cancel, "kim@co.io", nil).Code, "other agent's reminder looks missing")
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodPost, cancel, "sam@co.io", nil).Code)
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, cancel, "sam@co.io", nil).Code)
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, "/v1/reminders/999/cancel", "sam@co.io", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/v1/reminders/abc/cancel", "sam@co.io", nil).Code)

	w = e.do(t, http.MethodGet, path, "sam@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rems := decode(t, w)["reminders"].([]any)
	require.Len(t, rems, 1)
	assert.Equal(t, "cancelled", rems[0].(map[string]any)["status"])

	w = e.do(t, http.MethodPost, "/v1/leads/L1/repair", "sam@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unmanaged", decode(t, w)["status"])
}

func TestComments(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/v1/leads/L1/reminders", "sam@co.io", map[string]any{"scheduled_at": start.Add(time.Hour)})
	require.Equal(t, http.StatusCreated, w.Code)

	e.now = start.Add(time.Minute)
	w = e.do(t, http.MethodPost, "/v1/leads/L1/comments", "sam@co.io", map[string]string{"body": "Sent brochure"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "dashboard", decode(t, w)["origin"])

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/v1/leads/L1/comments", "sam@co.io", map[string]string{"body": ""}).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/v1/leads/L3/comments", "sam@co.io", map[string]string{"body": "x"}).Code)

	w = e.do(t, http.MethodGet, "/v1/leads/L1/comments", "sam@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	list := body["comments"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "Sent brochure", list[0].(map[string]any)["body"])
	assert.Equal(t, "system", list[1].(map[string]any)["origin"])
	assert.Equal(t, false, body["has_more"])
}

func TestSummaryAndBooking(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/v1/leads/L1/summary", "sam@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Wants the evening cohort.", decode(t, w)["text"])

	e.summaryFail.Store(true)
	w = e.do(t, http.MethodPost, "/v1/leads/L1/summary", "sam@co.io", nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, true, decode(t, w)["dismissible"])

	w = e.do(t, http.MethodGet, "/v1/leads/L2/booking", "sam@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://cal.example/sam", decode(t, w)["url"])

	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodGet, "/v1/leads/L1/booking", "sam@co.io", nil).Code)
}

func TestStatsPitchesDashboard(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/v1/stats", "boss@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w)["total"])

	w = e.do(t, http.MethodGet, "/v1/pitches?view=week&date=2023-11-14", "boss@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["pitches"].([]any), 1)

	w = e.do(t, http.MethodGet, "/v1/pitches?view=month", "boss@co.io", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/v1/dashboard", "sam@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snap := decode(t, w)
	assert.Equal(t, false, snap["loading"])
	assert.EqualValues(t, 2, snap["stats"].(map[string]any)["total"])
	assert.EqualValues(t, 2, snap["leads"].(map[string]any)["total"])

	w = e.do(t, http.MethodGet, "/v1/dashboard?status=managed", "sam@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["leads"].(map[string]any)["total"])

	w = e.do(t, http.MethodPost, "/v1/dashboard/refresh", "sam@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["session_id"])
}

func TestViewAllRoutes(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/v1/agents", "sam@co.io", nil).Code)
	w := e.do(t, http.MethodGet, "/v1/agents", "boss@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["agents"].([]any), 3)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "/v1/admin/sweep", "sam@co.io", nil).Code)
	w = e.do(t, http.MethodPost, "/v1/admin/sweep", "boss@co.io", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["affected_leads"])
}

func TestWriteError_Partial(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	writeError(c, domain.Partial("reminders.schedule", "L1", []string{"insert_reminder"}, []string{"update_lead"}, errors.New("timeout")))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "L1", body["ref"])
	assert.Equal(t, []any{"update_lead"}, body["pending"])
	assert.NotContains(t, w.Body.String(), "timeout")
}
