package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/attendance/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	registry := attendance.NewRegistry("Member", "Employee")

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	engine := attendance.NewEngine(mem, registry, attendance.WithLogger(log))
	tracker := attendance.NewTracker(engine, mem)
	analytics := attendance.NewAnalytics(mem, mem)

	handler := api.NewHandler(tracker, engine, analytics, registry, mem, log)
	server := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(server.Close)

	mem.SeedEntity(attendance.TargetEntity{
		Key:               attendance.TargetKey{TenantID: "t1", TargetModel: "Member", TargetID: "m1"},
		AttendanceEnabled: true,
		Stats:             attendance.EmptyStats(time.Now().UTC()),
	})
	return server, mem
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func checkInBody(at string) map[string]any {
	return map[string]any{
		"tenant_id":    "t1",
		"target_model": "Member",
		"target_id":    "m1",
		"method":       "kiosk",
		"at":           at,
	}
}

// =============================================================================
// CHECK-IN / CHECK-OUT ENDPOINT TESTS
// =============================================================================

func TestAPI_CheckInAndOut_RoundTrip(t *testing.T) {
	// GIVEN: A running server with a seeded member
	// WHEN: The member checks in and out over HTTP
	// THEN: Both calls succeed and the record reflects the session

	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/attendance/check-in", checkInBody("2025-03-10T09:00:00Z"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	in := decodeBody[api.CheckInResponse](t, resp)
	assert.NotEmpty(t, in.Entry.ID)
	assert.Equal(t, "kiosk", in.Entry.Method)

	resp = postJSON(t, server.URL+"/api/attendance/check-out", map[string]any{
		"tenant_id":    "t1",
		"target_model": "Member",
		"target_id":    "m1",
		"check_in_id":  in.Entry.ID,
		"at":           "2025-03-10T17:00:00Z",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[api.CheckInResponse](t, resp)

	assert.Equal(t, "full_day", out.Entry.AttendanceType)
	assert.Equal(t, 1, out.Record.MonthlyTotal)
	assert.Equal(t, "1", out.Record.TotalWorkDays)
}

func TestAPI_CheckIn_MissingFields(t *testing.T) {
	// GIVEN: A request body without a tenant id
	// WHEN: It is posted
	// THEN: Validation rejects it with a 400 and a machine code

	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/attendance/check-in", map[string]any{
		"target_model": "Member",
		"target_id":    "m1",
		"method":       "kiosk",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody[api.ErrorResponse](t, resp)
	assert.Equal(t, "validation_failed", body.Code)
}

func TestAPI_CheckIn_DuplicateConflict(t *testing.T) {
	// GIVEN: An open session started two minutes ago
	// WHEN: The member checks in again over HTTP
	// THEN: The duplicate maps to 409 with its code

	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/attendance/check-in", checkInBody("2025-03-10T09:00:00Z"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/api/attendance/check-in", checkInBody("2025-03-10T09:02:00Z"))
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decodeBody[api.ErrorResponse](t, resp)
	assert.Equal(t, "duplicate_check_in", body.Code)
}

func TestAPI_CheckIn_UnknownMember(t *testing.T) {
	server, _ := newTestServer(t)

	body := checkInBody("2025-03-10T09:00:00Z")
	body["target_id"] = "ghost"

	resp := postJSON(t, server.URL+"/api/attendance/check-in", body)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	errBody := decodeBody[api.ErrorResponse](t, resp)
	assert.Equal(t, "member_not_found", errBody.Code)
}

func TestAPI_CheckIn_DisallowedModel(t *testing.T) {
	server, _ := newTestServer(t)

	body := checkInBody("2025-03-10T09:00:00Z")
	body["target_model"] = "Robot"

	resp := postJSON(t, server.URL+"/api/attendance/check-in", body)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// =============================================================================
// OCCUPANCY AND STATS ENDPOINT TESTS
// =============================================================================

func TestAPI_Occupancy(t *testing.T) {
	// GIVEN: One active session
	// WHEN: Occupancy is queried
	// THEN: The session is listed with its check-in id

	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/attendance/check-in", checkInBody("2025-03-10T09:00:00Z"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	in := decodeBody[api.CheckInResponse](t, resp)

	resp, err := http.Get(server.URL + "/api/attendance/occupancy?tenant_id=t1&target_model=Member")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[struct {
		Count     int `json:"count"`
		Occupants []struct {
			CheckInID string `json:"checkInId"`
		} `json:"occupants"`
	}](t, resp)

	require.Equal(t, 1, body.Count)
	assert.Equal(t, in.Entry.ID, body.Occupants[0].CheckInID)
}

func TestAPI_GetStats(t *testing.T) {
	// GIVEN: A member with one recorded visit
	// WHEN: Their stats are fetched
	// THEN: The stored projection is returned without recomputation

	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/attendance/check-in", checkInBody("2025-03-10T09:00:00Z"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(server.URL + "/api/targets/Member/m1/stats?tenant_id=t1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats := decodeBody[api.StatsDTO](t, resp)
	assert.Equal(t, 1, stats.TotalVisits)
}

func TestAPI_GetRecord(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/attendance/check-in", checkInBody("2025-03-10T09:00:00Z"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	url := fmt.Sprintf("%s/api/targets/Member/m1/records/2025/3/?tenant_id=t1", server.URL)
	resp, err := http.Get(url)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	record := decodeBody[api.RecordDTO](t, resp)
	assert.Equal(t, 2025, record.Year)
	assert.Equal(t, 3, record.Month)
	assert.Len(t, record.CheckIns, 1)
}

// =============================================================================
// CONFIG ENDPOINT TESTS
// =============================================================================

func TestAPI_ConfigRegisterAndGet(t *testing.T) {
	// GIVEN: An override registered over HTTP
	// WHEN: The effective config is fetched
	// THEN: The overridden field and the untouched defaults are both visible

	server, _ := newTestServer(t)

	raw, err := json.Marshal(map[string]any{
		"override": map[string]any{
			"validation": map[string]any{"duplicatePreventionMinutes": 30},
		},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, server.URL+"/api/config/Member/", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cfg := decodeBody[attendance.TargetModelConfig](t, resp)
	assert.Equal(t, 30, cfg.Validation.DuplicatePreventionMinutes)
	assert.Equal(t, attendance.PolicyTimeBased, cfg.Detection.Policy)
}

func TestAPI_ConfigDisallowedModel(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/config/Robot/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
