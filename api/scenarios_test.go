package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/till-engine/api"
	"github.com/warp/till-engine/recon"
	"github.com/warp/till-engine/store/sqlite"
	"github.com/warp/till-engine/till"
)

func loadScenario(t *testing.T, s *testServer, id string) string {
	t.Helper()
	rec := s.do(t, call{method: "POST", path: "/api/scenarios/load", body: map[string]string{"scenario_id": id}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeInto[map[string]string](t, rec)
	require.Equal(t, id, res["scenario"])
	return res["date"]
}

func endOfDay(t *testing.T, s *testServer, date string) api.EndOfDayResponse {
	t.Helper()
	rec := s.do(t, call{method: "GET", path: "/api/reports/eod?date=" + date})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeInto[api.EndOfDayResponse](t, rec)
}

func TestScenario_BalancedDay(t *testing.T) {
	// GIVEN: The balanced-day scenario
	s := newTestServer(t)

	// WHEN: Loading it and building its report
	date := loadScenario(t, s, "balanced-day")
	eod := endOfDay(t, s, date)

	// THEN: Yesterday, every check passes
	assert.Equal(t, "2025-03-09", date)
	assert.Empty(t, eod.Mismatches)
	assert.True(t, dec(140).Equal(eod.Report.Cash.ExpectedCash))
	assert.True(t, dec(1010).Equal(eod.Report.EndingSafeBalance))
}

func TestScenario_SafeFlows(t *testing.T) {
	s := newTestServer(t)

	eod := endOfDay(t, s, loadScenario(t, s, "safe-flows"))

	assert.Empty(t, eod.Mismatches)
	assert.True(t, dec(70).Equal(eod.Report.SafeInflowsTotal))
	assert.True(t, dec(50).Equal(eod.Report.SafeOutflowsTotal))
	assert.True(t, dec(1020).Equal(eod.Report.EndingSafeBalance))
}

func TestScenario_ShortDrawer(t *testing.T) {
	s := newTestServer(t)

	eod := endOfDay(t, s, loadScenario(t, s, "short-drawer"))

	assert.Equal(t, []string{"cash"}, eod.Mismatches)
	assert.True(t, dec(-5).Equal(eod.Report.Cash.Variance))
	assert.True(t, dec(-5).Equal(eod.Report.DiscrepancySummary["bob"]))
	require.Len(t, eod.Report.Irregularities, 1)
	assert.Equal(t, 2, eod.Report.Irregularities[0].MissingCount)
}

func TestScenario_KeycardShortfall(t *testing.T) {
	s := newTestServer(t)

	eod := endOfDay(t, s, loadScenario(t, s, "keycard-shortfall"))

	assert.Empty(t, eod.Mismatches)
	assert.True(t, dec(-2).Equal(eod.Report.KeycardDiscrepancyTotal))
	assert.True(t, dec(2).Equal(eod.Report.Keycards.ExpectedKeycards))
}

func TestScenario_ReplacesPreviousAndKeepsSettings(t *testing.T) {
	// GIVEN: Custom till settings and a loaded scenario
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, call{method: "PUT", path: "/api/settings/till",
		body: api.TillSettingsDTO{DrawerLimit: dec(300), PinRequiredAboveLimit: true}}).Code)
	loadScenario(t, s, "balanced-day")

	// WHEN: Loading another scenario
	loadScenario(t, s, "keycard-shortfall")

	// THEN: Only the new scenario's events exist, settings survive
	cash, err := s.store.CashCounts(t.Context())
	require.NoError(t, err)
	for _, c := range cash {
		assert.Contains(t, c.ID, "keycard-shortfall-")
	}
	got := decodeInto[api.TillSettingsDTO](t, s.do(t, call{method: "GET", path: "/api/settings/till"}))
	assert.True(t, dec(300).Equal(got.DrawerLimit))
	assert.True(t, got.PinRequiredAboveLimit)

	current := decodeInto[api.ScenarioDTO](t, s.do(t, call{method: "GET", path: "/api/scenarios/current"}))
	assert.Equal(t, "keycard-shortfall", current.ID)
}

func TestScenario_ResetClosesCachedSessions(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, call{method: "POST", path: "/api/till/open", user: "anna", body: api.OpenTillRequest{Cash: dec(100)}}).Code)

	rec := s.do(t, call{method: "POST", path: "/api/scenarios/reset"})
	require.Equal(t, http.StatusOK, rec.Code)

	sess := decodeInto[api.SessionResponse](t, s.do(t, call{method: "GET", path: "/api/till/session", user: "anna"}))
	assert.False(t, sess.Session.Open)
}

func TestScenario_Errors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: "POST", path: "/api/scenarios/load", body: map[string]string{"scenario_id": "payday"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	list := decodeInto[[]api.ScenarioDTO](t, s.do(t, call{method: "GET", path: "/api/scenarios"}))
	assert.Len(t, list, 4)
}

func TestScenario_StoreWithoutReset(t *testing.T) {
	// GIVEN: A handler built without a Resetter
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	h := api.NewHandler(api.Deps{Store: st, Engine: till.NewEngine(st, till.Config{}), Zone: recon.UTC})
	router := api.NewRouter(h, []string{"*"})

	// WHEN: Resetting
	req := httptest.NewRequest("POST", "/api/scenarios/reset", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// THEN: Not implemented
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
