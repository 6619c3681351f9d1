/*
handlers.go - HTTP API handlers for the attendance engine

PURPOSE:
  Exposes the attendance engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Attendance:
    POST   /api/attendance/check-in    Record a check-in
    POST   /api/attendance/check-out   Close an open session
    POST   /api/attendance/toggle      Kiosk-style toggle
    GET    /api/attendance/occupancy   Live checked-in list
    POST   /api/attendance/sweep       Auto-checkout expired sessions

  Targets:
    GET    /api/targets/{model}/{id}/stats             Engagement projection
    POST   /api/targets/{model}/{id}/stats/recalculate Rebuild from history
    GET    /api/targets/{model}/{id}/records           Full record history
    GET    /api/targets/{model}/{id}/records/{year}/{month} One month
    POST   /api/targets/{model}/{id}/records/{year}/{month}/retroactive
    PUT    /api/targets/.../check-ins/{checkInId}/check-in-time
    PUT    /api/targets/.../check-ins/{checkInId}/check-out-time
    PUT    /api/targets/.../check-ins/{checkInId}/type
    DELETE /api/targets/.../check-ins/{checkInId}

  Analytics:
    GET    /api/analytics/dashboard    Tenant-wide monthly summary
    GET    /api/analytics/time-slots   Aggregated slot distribution
    GET    /api/analytics/trend        Daily visit counts over a window

  Config:
    GET    /api/config/{model}         Effective model configuration
    PUT    /api/config/{model}         Register model with overrides

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator struct tags)
  3. Call domain logic (tracker, engine, analytics)
  4. Serialize response
  5. Map domain errors to HTTP status

ERROR HANDLING:
  Domain sentinels carry their own HTTP mapping (attendance.HTTPStatus)
  and machine code (attendance.Code). The handler never invents status
  codes for domain failures.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Background auto-checkout sweeps
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Tracker   *attendance.Tracker
	Engine    *attendance.Engine
	Analytics *attendance.Analytics
	Registry  *attendance.Registry
	Entities  attendance.EntityStore
	Log       *logrus.Logger

	validate *validator.Validate
}

// NewHandler creates a new handler wired to the given domain components.
func NewHandler(tracker *attendance.Tracker, engine *attendance.Engine, analytics *attendance.Analytics, registry *attendance.Registry, entities attendance.EntityStore, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{
		Tracker:   tracker,
		Engine:    engine,
		Analytics: analytics,
		Registry:  registry,
		Entities:  entities,
		Log:       log,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// decode parses and validates a JSON request body.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &attendance.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	if err := h.validate.Struct(dst); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return &attendance.ValidationError{Field: errs[0].Field(), Message: "failed " + errs[0].Tag() + " validation"}
		}
		return err
	}
	return nil
}

func parseAt(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, &attendance.ValidationError{Field: "at", Message: "must be RFC3339"}
	}
	return t, nil
}

func actorPtr(id, actorType string) *attendance.Actor {
	if id == "" {
		return nil
	}
	if actorType == "" {
		actorType = "staff"
	}
	return &attendance.Actor{ID: id, Type: actorType}
}

// =============================================================================
// ATTENDANCE HANDLERS
// =============================================================================

// CheckIn records a check-in.
// POST /api/attendance/check-in
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req CheckInRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	at, err := parseAt(req.At)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.Tracker.CheckIn(r.Context(), attendance.CheckInRequest{
		Target: attendance.TargetKey{
			TenantID:    req.TenantID,
			TargetModel: req.TargetModel,
			TargetID:    req.TargetID,
		},
		At:             at,
		Method:         attendance.CheckInMethod(req.Method),
		RecordedBy:     actorPtr(req.ActorID, req.ActorType),
		Notes:          req.Notes,
		Location:       req.Location,
		Device:         req.Device,
		ScheduledHours: req.ScheduledHours,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CheckInResponse{
		Entry:  toCheckInDTO(result.Entry),
		Record: toRecordDTO(result.Record),
		Stats:  toStatsDTO(result.Stats),
	})
}

// CheckOut closes an open session.
// POST /api/attendance/check-out
func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	var req CheckOutRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	at, err := parseAt(req.At)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.Tracker.CheckOut(r.Context(), attendance.CheckOutRequest{
		Target: attendance.TargetKey{
			TenantID:    req.TenantID,
			TargetModel: req.TargetModel,
			TargetID:    req.TargetID,
		},
		CheckInID:      req.CheckInID,
		At:             at,
		CheckedOutBy:   actorPtr(req.ActorID, req.ActorType),
		ScheduledHours: req.ScheduledHours,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CheckInResponse{
		Entry:  toCheckInDTO(result.Entry),
		Record: toRecordDTO(result.Record),
		Stats:  toStatsDTO(result.Stats),
	})
}

// Toggle dispatches to check-in or check-out based on session state.
// POST /api/attendance/toggle
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req CheckInRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	at, err := parseAt(req.At)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.Tracker.Toggle(r.Context(), attendance.CheckInRequest{
		Target: attendance.TargetKey{
			TenantID:    req.TenantID,
			TargetModel: req.TargetModel,
			TargetID:    req.TargetID,
		},
		At:             at,
		Method:         attendance.CheckInMethod(req.Method),
		RecordedBy:     actorPtr(req.ActorID, req.ActorType),
		Notes:          req.Notes,
		Location:       req.Location,
		Device:         req.Device,
		ScheduledHours: req.ScheduledHours,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ToggleResponse{CheckedIn: result.CheckedIn}
	if result.CheckIn != nil {
		resp.CheckIn = &CheckInResponse{
			Entry:  toCheckInDTO(result.CheckIn.Entry),
			Record: toRecordDTO(result.CheckIn.Record),
			Stats:  toStatsDTO(result.CheckIn.Stats),
		}
	}
	if result.CheckOut != nil {
		resp.CheckOut = &CheckInResponse{
			Entry:  toCheckInDTO(result.CheckOut.Entry),
			Record: toRecordDTO(result.CheckOut.Record),
			Stats:  toStatsDTO(result.CheckOut.Stats),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Occupancy returns the live checked-in list.
// GET /api/attendance/occupancy?tenant_id=...&target_model=...
func (h *Handler) Occupancy(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeDomainError(w, &attendance.ValidationError{Field: "tenant_id", Message: "required"})
		return
	}

	occupants, err := h.Tracker.Occupancy(r.Context(), tenantID, r.URL.Query().Get("target_model"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(occupants),
		"occupants": occupants,
	})
}

// Sweep closes expired sessions.
// POST /api/attendance/sweep
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	before, err := parseAt(req.Before)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.Tracker.CheckoutExpired(r.Context(), attendance.SweepRequest{
		TenantID:    req.TenantID,
		TargetModel: req.TargetModel,
		Before:      before,
		Limit:       req.Limit,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// TARGET HANDLERS
// =============================================================================

func targetFromURL(r *http.Request) (attendance.TargetKey, error) {
	key := attendance.TargetKey{
		TenantID:    r.URL.Query().Get("tenant_id"),
		TargetModel: chi.URLParam(r, "model"),
		TargetID:    chi.URLParam(r, "id"),
	}
	if key.TenantID == "" {
		return key, &attendance.ValidationError{Field: "tenant_id", Message: "required"}
	}
	return key, nil
}

func refFromURL(r *http.Request) (attendance.RecordRef, error) {
	key, err := targetFromURL(r)
	if err != nil {
		return attendance.RecordRef{}, err
	}
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		return attendance.RecordRef{}, &attendance.ValidationError{Field: "year", Message: "must be an integer"}
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		return attendance.RecordRef{}, &attendance.ValidationError{Field: "month", Message: "must be 1-12"}
	}
	return attendance.RecordRef{
		TenantID:    key.TenantID,
		TargetModel: key.TargetModel,
		TargetID:    key.TargetID,
		Year:        year,
		Month:       time.Month(month),
	}, nil
}

// GetStats returns the target's stored engagement projection. This is
// the cheap read path; use the recalculate endpoint to rebuild it.
// GET /api/targets/{model}/{id}/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	key, err := targetFromURL(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	entity, err := h.Entities.GetEntity(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(entity.Stats))
}

// RecalculateStats rebuilds the projection from full history.
// POST /api/targets/{model}/{id}/stats/recalculate
func (h *Handler) RecalculateStats(w http.ResponseWriter, r *http.Request) {
	key, err := targetFromURL(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	stats, err := h.Tracker.RecalculateStats(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// ListRecords returns the target's monthly record history.
// GET /api/targets/{model}/{id}/records
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	key, err := targetFromURL(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	records, err := h.Engine.History(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]RecordDTO, len(records))
	for i, record := range records {
		dtos[i] = toRecordDTO(record)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRecord returns one monthly record.
// GET /api/targets/{model}/{id}/records/{year}/{month}
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	ref, err := refFromURL(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	record, err := h.Engine.Record(r.Context(), ref)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// AddRetroactive records a past leave day.
// POST /api/targets/{model}/{id}/records/{year}/{month}/retroactive
func (h *Handler) AddRetroactive(w http.ResponseWriter, r *http.Request) {
	ref, err := refFromURL(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req RetroactiveRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	day, err := time.Parse("2006-01-02", req.Day)
	if err != nil {
		writeDomainError(w, &attendance.ValidationError{Field: "day", Message: "must be YYYY-MM-DD"})
		return
	}

	record, err := h.Engine.AddRetroactiveAttendance(r.Context(), ref, day,
		attendance.AttendanceType(req.AttendanceType),
		attendance.Actor{ID: req.ActorID, Type: orDefault(req.ActorType, "staff")},
		req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(record))
}

// CorrectCheckInTime moves an entry's check-in timestamp.
// PUT /api/targets/{model}/{id}/records/{year}/{month}/check-ins/{checkInId}/check-in-time
func (h *Handler) CorrectCheckInTime(w http.ResponseWriter, r *http.Request) {
	h.correctTime(w, r, h.Engine.UpdateCheckInTime)
}

// CorrectCheckOutTime moves an entry's check-out timestamp.
// PUT /api/targets/{model}/{id}/records/{year}/{month}/check-ins/{checkInId}/check-out-time
func (h *Handler) CorrectCheckOutTime(w http.ResponseWriter, r *http.Request) {
	h.correctTime(w, r, h.Engine.UpdateCheckOutTime)
}

type correctTimeFn func(ctx context.Context, ref attendance.RecordRef, checkInID string, newTime time.Time, actor attendance.Actor) (*attendance.MonthlyRecord, error)

func (h *Handler) correctTime(w http.ResponseWriter, r *http.Request, apply correctTimeFn) {
	ref, err := refFromURL(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req CorrectTimeRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	newTime, err := time.Parse(time.RFC3339, req.NewTime)
	if err != nil {
		writeDomainError(w, &attendance.ValidationError{Field: "new_time", Message: "must be RFC3339"})
		return
	}

	record, err := apply(r.Context(), ref, chi.URLParam(r, "checkInId"), newTime,
		attendance.Actor{ID: req.ActorID, Type: orDefault(req.ActorType, "staff")})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// OverrideType re-classifies an entry's attendance type.
// PUT /api/targets/{model}/{id}/records/{year}/{month}/check-ins/{checkInId}/type
func (h *Handler) OverrideType(w http.ResponseWriter, r *http.Request) {
	ref, err := refFromURL(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req OverrideTypeRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	record, err := h.Engine.OverrideAttendanceType(r.Context(), ref, chi.URLParam(r, "checkInId"),
		attendance.AttendanceType(req.AttendanceType),
		attendance.Actor{ID: req.ActorID, Type: orDefault(req.ActorType, "staff")})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// DeleteCheckIn removes an entry.
// DELETE /api/targets/{model}/{id}/records/{year}/{month}/check-ins/{checkInId}
func (h *Handler) DeleteCheckIn(w http.ResponseWriter, r *http.Request) {
	ref, err := refFromURL(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req DeleteCheckInRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	record, err := h.Engine.DeleteCheckIn(r.Context(), ref, chi.URLParam(r, "checkInId"),
		attendance.Actor{ID: req.ActorID, Type: orDefault(req.ActorType, "staff")})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// =============================================================================
// ANALYTICS HANDLERS
// =============================================================================

func monthFromQuery(r *http.Request, now time.Time) (int, time.Month, error) {
	year := now.Year()
	month := now.Month()
	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, &attendance.ValidationError{Field: "year", Message: "must be an integer"}
		}
		year = y
	}
	if v := r.URL.Query().Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return 0, 0, &attendance.ValidationError{Field: "month", Message: "must be 1-12"}
		}
		month = time.Month(m)
	}
	return year, month, nil
}

// Dashboard returns the tenant-wide monthly summary.
// GET /api/analytics/dashboard?tenant_id=...&target_model=...&year=...&month=...
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeDomainError(w, &attendance.ValidationError{Field: "tenant_id", Message: "required"})
		return
	}
	year, month, err := monthFromQuery(r, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summary, err := h.Analytics.Dashboard(r.Context(), tenantID, r.URL.Query().Get("target_model"), year, month)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// TimeSlots returns the aggregated slot distribution for a month.
// GET /api/analytics/time-slots?tenant_id=...&year=...&month=...
func (h *Handler) TimeSlots(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeDomainError(w, &attendance.ValidationError{Field: "tenant_id", Message: "required"})
		return
	}
	year, month, err := monthFromQuery(r, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slots, err := h.Analytics.TimeSlotDistribution(r.Context(), tenantID, r.URL.Query().Get("target_model"), year, month)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

// Trend returns daily visit counts over a trailing window.
// GET /api/analytics/trend?tenant_id=...&days=30
func (h *Handler) Trend(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeDomainError(w, &attendance.ValidationError{Field: "tenant_id", Message: "required"})
		return
	}

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 || d > 366 {
			writeDomainError(w, &attendance.ValidationError{Field: "days", Message: "must be 1-366"})
			return
		}
		days = d
	}

	until := time.Now().UTC()
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeDomainError(w, &attendance.ValidationError{Field: "until", Message: "must be RFC3339"})
			return
		}
		until = t
	}

	points, err := h.Analytics.Trend(r.Context(), tenantID, r.URL.Query().Get("target_model"), until, days)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// =============================================================================
// CONFIG HANDLERS
// =============================================================================

// GetConfig returns the effective configuration for a target model.
// GET /api/config/{model}
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	if !h.Registry.Allowed(model) {
		writeDomainError(w, attendance.ErrTargetModelNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.Registry.Get(model))
}

// RegisterConfig registers a target model with overrides.
// PUT /api/config/{model}
func (h *Handler) RegisterConfig(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")

	var req RegisterConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, &attendance.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()})
		return
	}

	if err := h.Registry.Register(model, req.Override); err != nil {
		writeDomainError(w, err)
		return
	}

	h.Log.WithField("targetModel", model).Info("target model configuration registered")
	writeJSON(w, http.StatusOK, h.Registry.Get(model))
}

// Health is the liveness probe.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeDomainError maps a domain error onto the wire format using the
// sentinel's own status and machine code.
func writeDomainError(w http.ResponseWriter, err error) {
	writeJSON(w, attendance.HTTPStatus(err), ErrorResponse{
		Error: err.Error(),
		Code:  attendance.Code(err),
	})
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
