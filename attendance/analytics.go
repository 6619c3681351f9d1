/*
analytics.go - Read-side rollups over monthly records

PURPOSE:
  Dashboard, time-slot, and trend aggregations built by scanning the
  monthly records of a tenant. No business rules live here beyond
  summation and averaging; the numbers come from the counters the
  aggregate engine already maintains.

SEE ALSO:
  - aggregate.go: The per-month counters being rolled up
  - session.go: Occupancy, the live complement to these read models
*/
package attendance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ANALYTICS
// =============================================================================

// Analytics exposes read-side rollups.
type Analytics struct {
	records  RecordStore
	entities EntityStore
	now      func() time.Time
}

// NewAnalytics builds the read side over the same stores as the engine.
func NewAnalytics(records RecordStore, entities EntityStore) *Analytics {
	return &Analytics{records: records, entities: entities, now: time.Now}
}

// DashboardSummary is the tenant-level overview for one month.
type DashboardSummary struct {
	TenantID          string          `json:"tenantId"`
	Year              int             `json:"year"`
	Month             time.Month      `json:"month"`
	TotalVisits       int             `json:"totalVisits"`
	ActiveTargets     int             `json:"activeTargets"`
	CurrentlyCheckedIn int            `json:"currentlyCheckedIn"`
	TotalWorkDays     decimal.Decimal `json:"totalWorkDays"`
	AverageVisits     decimal.Decimal `json:"averageVisitsPerTarget"`
}

// Dashboard summarizes a tenant's month, optionally per target model.
func (a *Analytics) Dashboard(ctx context.Context, tenantID, targetModel string, year int, month time.Month) (*DashboardSummary, error) {
	records, err := a.records.ListForMonth(ctx, tenantID, targetModel, year, month)
	if err != nil {
		return nil, err
	}

	summary := &DashboardSummary{
		TenantID:      tenantID,
		Year:          year,
		Month:         month,
		TotalWorkDays: decimal.Zero,
		AverageVisits: decimal.Zero,
	}
	for _, record := range records {
		summary.TotalVisits += record.MonthlyTotal
		summary.TotalWorkDays = summary.TotalWorkDays.Add(record.TotalWorkDays)
		if record.MonthlyTotal > 0 {
			summary.ActiveTargets++
		}
	}
	if summary.ActiveTargets > 0 {
		summary.AverageVisits = decimal.NewFromInt(int64(summary.TotalVisits)).
			DivRound(decimal.NewFromInt(int64(summary.ActiveTargets)), 4)
	}

	live, err := a.entities.ListActiveSessions(ctx, ActiveSessionFilter{TenantID: tenantID, TargetModel: targetModel})
	if err != nil {
		return nil, err
	}
	summary.CurrentlyCheckedIn = len(live)
	return summary, nil
}

// TimeSlotDistribution sums the slot histograms across a tenant's month.
func (a *Analytics) TimeSlotDistribution(ctx context.Context, tenantID, targetModel string, year int, month time.Month) (map[TimeSlot]int, error) {
	records, err := a.records.ListForMonth(ctx, tenantID, targetModel, year, month)
	if err != nil {
		return nil, err
	}

	distribution := map[TimeSlot]int{}
	for _, record := range records {
		for slot, count := range record.TimeSlotDistribution {
			distribution[slot] += count
		}
	}
	return distribution, nil
}

// TrendPoint is one day in a visit trend.
type TrendPoint struct {
	Date   string `json:"date"` // ISO date
	Visits int    `json:"visits"`
}

// Trend returns per-day visit counts for the N days ending at `until`
// (inclusive). Days without visits appear with a zero count.
func (a *Analytics) Trend(ctx context.Context, tenantID, targetModel string, until time.Time, days int) ([]TrendPoint, error) {
	if days <= 0 {
		days = 30
	}
	start := until.AddDate(0, 0, -(days - 1))

	// Visits per day, collected from every month the window touches.
	counts := map[string]int{}
	for cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC); !cursor.After(until); cursor = cursor.AddDate(0, 1, 0) {
		records, err := a.records.ListForMonth(ctx, tenantID, targetModel, cursor.Year(), cursor.Month())
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			for i := range record.CheckIns {
				e := &record.CheckIns[i]
				if !countable(e.Status) || e.AttendanceType.IsLeave() {
					continue
				}
				counts[e.Day()]++
			}
		}
	}

	points := make([]TrendPoint, 0, days)
	for d := 0; d < days; d++ {
		day := start.AddDate(0, 0, d).Format("2006-01-02")
		points = append(points, TrendPoint{Date: day, Visits: counts[day]})
	}
	return points, nil
}
