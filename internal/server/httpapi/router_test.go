package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/server/metrics"
)

type env struct {
	router    *gin.Engine
	auth      *fakeAuth
	proposals *fakeProposals
	harvest   *fakeHarvest
	brewery   *fakeBrewery
	metrics   *metrics.Metrics
}

func newEnv(t *testing.T, mutate ...func(*Deps)) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e := &env{
		auth:      &fakeAuth{},
		proposals: newFakeProposals(),
		harvest:   &fakeHarvest{},
		brewery:   &fakeBrewery{},
		metrics:   metrics.New("test"),
	}
	d := Deps{
		Auth:      e.auth,
		Proposals: e.proposals,
		Harvest:   e.harvest,
		Brewery:   e.brewery,
		Metrics:   e.metrics,
		Log:       discardLogger(),
	}
	for _, m := range mutate {
		m(&d)
	}
	e.router = NewRouter(d)
	return e
}

func (e *env) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	down := newEnv(t, func(d *Deps) { d.Ping = func(context.Context) error { return errors.New("db down") } })
	w = down.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	e := newEnv(t)
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}

func TestLogin_SetsCookieAndCounts(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/auth/login", credentialsRequest{Email: "ops@ferment.fr", Password: "pw"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := w.Result()
	defer res.Body.Close()
	var cookie *http.Cookie
	for _, c := range res.Cookies() {
		if c.Name == SessionCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, goodToken, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	body := decode(t, w)
	assert.Equal(t, goodToken, body["token"])
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.LoginAttempts.WithLabelValues(metrics.LoginSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.SessionsIssued))
}

func TestLogin_Failed(t *testing.T) {
	e := newEnv(t)
	e.auth.loginErr = common.ErrAuthenticationFailed
	w := e.do(http.MethodPost, "/auth/login", credentialsRequest{Email: "x@y.z", Password: "bad"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "authentication_failed", decode(t, w)["error"])
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.LoginAttempts.WithLabelValues(metrics.LoginFailed)))
}

func TestLogin_LockedSetsRetryAfter(t *testing.T) {
	e := newEnv(t)
	e.auth.loginErr = &common.LockedError{RetryAfter: 89500 * time.Millisecond}
	w := e.do(http.MethodPost, "/auth/login", credentialsRequest{Email: "x@y.z", Password: "bad"}, "")
	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "90", w.Header().Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.LoginAttempts.WithLabelValues(metrics.LoginLocked)))
}

func TestLogin_MalformedBody(t *testing.T) {
	e := newEnv(t)
	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{"))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "body", decode(t, w)["field"])
}

func TestRegister(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/auth/register", registerRequest{Email: "new@ferment.fr", Password: "Secret123!", Tenant: "ferment"}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "ferment", e.auth.registered.Tenant)
	assert.Empty(t, e.auth.registered.Role)

	w = e.do(http.MethodPost, "/auth/register", registerRequest{Email: "new@ferment.fr"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "password", decode(t, w)["field"])
}

func TestSession_CookieAndBearer(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/auth/session", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodGet, "/auth/session", nil, "nope")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodGet, "/auth/session", nil, goodToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t1", decode(t, w)["tenant_id"])

	r := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: goodToken})
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogout_ClearsCookie(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/auth/logout", nil, goodToken)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{goodToken}, e.auth.loggedOut)
	assert.Contains(t, w.Header().Get("Set-Cookie"), SessionCookieName+"=;")

	w = e.do(http.MethodPost, "/auth/logout", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/auth/change-password", passwordRequest{Password: "N3w-password"}, goodToken)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "N3w-password", e.auth.changed["u1"])
}

func TestPasswordReset_SameAnswerAndContext(t *testing.T) {
	e := newEnv(t)
	known := e.do(http.MethodPost, "/auth/password-reset", emailRequest{Email: "ops@ferment.fr"}, "")
	unknown := e.do(http.MethodPost, "/auth/password-reset", emailRequest{Email: "ghost@ferment.fr"}, "")

	assert.Equal(t, http.StatusAccepted, known.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
	assert.Equal(t, "ghost@ferment.fr", e.auth.lastReset.Email)
	assert.NotEmpty(t, e.auth.lastReset.IP)
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.ResetRequests))
}

func TestPasswordReset_EmailOutage(t *testing.T) {
	e := newEnv(t)
	e.auth.resetErr = common.ExternalError("email", errors.New("503"))
	w := e.do(http.MethodPost, "/auth/password-reset", emailRequest{Email: "ops@ferment.fr"}, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.ExternalErrors.WithLabelValues("email")))
}

func TestResetToken(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/reset/reset-ok", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops@ferment.fr", decode(t, w)["email"])

	w = e.do(http.MethodGet, "/reset/stale", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "token_invalid_or_expired", decode(t, w)["error"])

	w = e.do(http.MethodPost, "/reset/reset-ok", passwordRequest{Password: "Fresh-pass1"}, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "Fresh-pass1", e.auth.resetTo)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.ResetsCompleted))
}

func TestProposals_Lifecycle(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/api/proposals", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodPut, "/api/proposals/Avril", map[string]any{"tanks": 3}, goodToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = e.do(http.MethodPut, "/api/proposals/Avril", map[string]any{"tanks": 4}, goodToken)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodGet, "/api/proposals/Avril", nil, goodToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tanks":4}`, string(mustRaw(t, decode(t, w)["payload"])))

	w = e.do(http.MethodPut, "/api/proposals/Avril/status", statusRequest{Status: "validated"}, goodToken)
	assert.Equal(t, http.StatusOK, w.Code)
	w = e.do(http.MethodPut, "/api/proposals/Avril/status", statusRequest{Status: "deleted"}, goodToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/api/proposals/Avril/rename", renameRequest{Name: "Mai"}, goodToken)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodGet, "/api/proposals", nil, goodToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["proposals"], 1)

	w = e.do(http.MethodGet, "/api/proposals/Avril", nil, goodToken)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProposals_DeleteNeedsAdmin(t *testing.T) {
	e := newEnv(t)
	e.do(http.MethodPut, "/api/proposals/Avril", map[string]any{}, goodToken)

	w := e.do(http.MethodDelete, "/api/proposals/Avril", nil, goodToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(http.MethodDelete, "/api/proposals/Avril", nil, adminToken)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(http.MethodDelete, "/api/proposals/Avril", nil, adminToken)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func mustRaw(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func sheetBody() sheetRequest {
	return sheetRequest{
		PickupDate: "2026-04-20",
		Recipient:  recipientSOFRIPA(),
		Lines: []sheetLine{
			{Reference: "KB-GIN", Product: "Kombucha Gingembre 4,5°", Format: "12x33", BestBefore: "2027-03-01", Cartons: 200},
		},
		To: []string{"quai@sofripa.fr"},
	}
}

func TestHarvest_Preview(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/api/harvest-sheets/preview", sheetBody(), goodToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res struct {
		Lines  []computedLine `json:"lines"`
		Totals totals         `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Lines, 1)
	assert.Equal(t, "2027-03-01", res.Lines[0].BestBefore)
	assert.Equal(t, totals{Cartons: 200, Pallets: 2, WeightKg: 1398}, res.Totals)
}

func TestHarvest_BadDate(t *testing.T) {
	e := newEnv(t)
	b := sheetBody()
	b.Lines[0].BestBefore = "01/03/2027"
	w := e.do(http.MethodPost, "/api/harvest-sheets/preview", b, goodToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "lines[0].best_before", decode(t, w)["field"])
}

func TestHarvest_Downloads(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/api/harvest-sheets/pdf", sheetBody(), goodToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Fiche_de_ramasse_")

	w = e.do(http.MethodPost, "/api/harvest-sheets/xlsx", sheetBody(), goodToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")
}

func TestHarvest_Send(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/api/harvest-sheets", sheetBody(), goodToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, e.harvest.sent, 1)
	assert.Equal(t, []string{"quai@sofripa.fr"}, e.harvest.sent[0].To)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.HarvestSent))

	e.harvest.sendErr = common.ExternalError("email", errors.New("timeout"))
	w = e.do(http.MethodPost, "/api/harvest-sheets", sheetBody(), goodToken)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.ExternalErrors.WithLabelValues("email")))
}

func TestHarvest_Recipients(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/api/harvest-sheets/recipients", nil, goodToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "SOFRIPA")
}

func TestBrewery_Window(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/api/brewery/stock-autonomy", nil, goodToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30, e.brewery.days)
	assert.False(t, e.brewery.force)

	w = e.do(http.MethodGet, "/api/brewery/consumption?days=90&force_refresh=true", nil, goodToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 90, e.brewery.days)
	assert.True(t, e.brewery.force)

	for _, q := range []string{"0", "366", "abc"} {
		w = e.do(http.MethodGet, "/api/brewery/stock-autonomy?days="+q, nil, goodToken)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestBrewery_ExcelAndLists(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/api/brewery/stock-autonomy.xlsx?days=7", nil, goodToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, e.brewery.days)
	assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")

	for _, p := range []string{"raw-materials", "products", "warehouses"} {
		w = e.do(http.MethodGet, "/api/brewery/"+p, nil, goodToken)
		assert.Equal(t, http.StatusOK, w.Code, p)
	}
}

func TestBrewery_Outage(t *testing.T) {
	e := newEnv(t)
	e.brewery.err = common.ExternalError("easybeer", errors.New("502"))
	w := e.do(http.MethodGet, "/api/brewery/products", nil, goodToken)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.ExternalErrors.WithLabelValues("brewery")))
}

func TestBrewery_RoutesAbsentWithoutClient(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.Brewery = nil })
	w := e.do(http.MethodGet, "/api/brewery/products", nil, goodToken)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.do(http.MethodGet, "/healthz", nil, "")
	w := e.do(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_requests_total")
}
