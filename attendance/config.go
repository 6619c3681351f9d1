/*
config.go - Per-target-model detection and validation policy

PURPOSE:
  Every target model ("Member", "Employee", "Student", ...) gets a
  configuration describing how sessions are classified, when the system
  auto-checks sessions out, and which validation rules apply.

SMART DEFAULTS:
  Configurations are generated on demand from the model name alone:
  - Models named "Employee" get the schedule-aware policy: sessions are
    classified by the ratio of hours worked to scheduled hours
    (overtime >= 110%, full day >= 75%, half day >= 40%, else unpaid).
  - Every other model gets the time-based policy: absolute hour
    thresholds (overtime >= 10h, full day >= 1h, half day >= 0.5h).

OVERRIDES:
  Register() deep-merges a partial override onto the generated default.
  The merge replaces arrays, timestamps, and primitives wholesale and
  recurses only into plain maps; a circular override is an error.

SCOPE:
  The registry is instance-owned. Two engines never share configuration
  state, so overrides in one tenant's engine cannot leak into another.

SEE ALSO:
  - detector.go: Consumes DetectionConfig
  - session.go: Consumes AutoCheckoutConfig and ValidationConfig
*/
package attendance

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// =============================================================================
// CONFIG MODEL
// =============================================================================

type DetectionPolicy string

const (
	PolicyTimeBased     DetectionPolicy = "time_based"
	PolicyScheduleAware DetectionPolicy = "schedule_aware"
)

// TargetModelConfig is the full per-model policy.
type TargetModelConfig struct {
	TargetModel  string             `json:"targetModel"`
	Detection    DetectionConfig    `json:"detection"`
	AutoCheckout AutoCheckoutConfig `json:"autoCheckout"`
	Validation   ValidationConfig   `json:"validation"`
}

// DetectionConfig selects and parameterizes the classification policy.
type DetectionConfig struct {
	Policy    DetectionPolicy `json:"policy"`
	Rules     DetectionRules  `json:"rules"`
	TimeHints TimeHints       `json:"timeHints"`
}

// DetectionRules holds both threshold ladders; only the ladder matching
// Detection.Policy is consulted by the detector.
type DetectionRules struct {
	// DefaultType is the provisional classification for open sessions.
	DefaultType AttendanceType `json:"defaultType"`

	// Time-based policy: absolute hours worked.
	OvertimeHours float64 `json:"overtimeHours"`
	FullDayHours  float64 `json:"fullDayHours"`
	MinimalHours  float64 `json:"minimalHours"`

	// Schedule-aware policy: fraction of scheduled hours.
	OvertimeRatio float64 `json:"overtimeRatio"`
	FullDayRatio  float64 `json:"fullDayRatio"`
	HalfDayRatio  float64 `json:"halfDayRatio"`

	Fallback FallbackRules `json:"fallback"`
}

// FallbackRules apply when the schedule-aware policy has no schedule.
type FallbackRules struct {
	StandardHours float64 `json:"standardHours"`
}

// TimeHints disambiguate which half of the day a half-day session covers.
type TimeHints struct {
	MorningCutoff  int `json:"morningCutoff"`  // check-in hour < cutoff hints morning
	AfternoonStart int `json:"afternoonStart"` // check-out hour >= start hints afternoon
}

// AutoCheckoutConfig controls system-initiated check-outs.
type AutoCheckoutConfig struct {
	Enabled    bool    `json:"enabled"`
	AfterHours float64 `json:"afterHours"`
}

// ValidationConfig controls the session tracker's acceptance rules.
type ValidationConfig struct {
	AllowWeekends              bool `json:"allowWeekends"`
	WarnOnly                   bool `json:"warnOnly"`
	DuplicatePreventionMinutes int  `json:"duplicatePreventionMinutes"`
	MaxCheckInsPerMonth        int  `json:"maxCheckInsPerMonth"`

	// CountUnpaidLeaveInTotals controls whether unpaid leave entries
	// accumulate MonthlyTotal and UniqueDaysVisited.
	CountUnpaidLeaveInTotals bool `json:"countUnpaidLeaveInTotals"`

	// ResetStreakAfterDays is the maximum gap (in days) since the last
	// visit before the current streak reads as zero.
	ResetStreakAfterDays int `json:"resetStreakAfterDays"`
}

// ExpectedCheckOut returns the auto-checkout deadline for a check-in time,
// or nil when auto-checkout is disabled.
func (c AutoCheckoutConfig) ExpectedCheckOut(checkIn time.Time) *time.Time {
	if !c.Enabled || c.AfterHours <= 0 {
		return nil
	}
	t := checkIn.Add(time.Duration(c.AfterHours * float64(time.Hour)))
	return &t
}

// DefaultConfig generates the smart default for a target model name.
// This is a pure function: same name, same configuration.
func DefaultConfig(targetModel string) TargetModelConfig {
	cfg := TargetModelConfig{
		TargetModel: targetModel,
		Detection: DetectionConfig{
			Policy: PolicyTimeBased,
			Rules: DetectionRules{
				DefaultType:   TypeFullDay,
				OvertimeHours: 10,
				FullDayHours:  1,
				MinimalHours:  0.5,
				OvertimeRatio: 1.10,
				FullDayRatio:  0.75,
				HalfDayRatio:  0.40,
				Fallback:      FallbackRules{StandardHours: 8},
			},
			TimeHints: TimeHints{MorningCutoff: 12, AfternoonStart: 13},
		},
		AutoCheckout: AutoCheckoutConfig{Enabled: true, AfterHours: 12},
		Validation: ValidationConfig{
			AllowWeekends:              true,
			WarnOnly:                   true,
			DuplicatePreventionMinutes: 5,
			MaxCheckInsPerMonth:        62,
			ResetStreakAfterDays:       1,
		},
	}

	if targetModel == "Employee" {
		cfg.Detection.Policy = PolicyScheduleAware
		cfg.AutoCheckout.AfterHours = 10
		cfg.Validation.AllowWeekends = false
	}
	return cfg
}

// =============================================================================
// REGISTRY - Instance-owned configuration cache
// =============================================================================

// Registry caches generated configurations and applies overrides.
// Reads are pure lookups; Register is expected at setup time only.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]TargetModelConfig

	// AllowedModels, when non-empty, is the allowlist of target models
	// the engine will accept.
	allowed map[string]bool
}

// NewRegistry creates an empty registry. Pass allowed model names to
// restrict which models the engine serves; nil means all models.
func NewRegistry(allowedModels ...string) *Registry {
	var allowed map[string]bool
	if len(allowedModels) > 0 {
		allowed = make(map[string]bool, len(allowedModels))
		for _, m := range allowedModels {
			allowed[m] = true
		}
	}
	return &Registry{
		configs: make(map[string]TargetModelConfig),
		allowed: allowed,
	}
}

// Allowed reports whether the target model passes the allowlist.
func (r *Registry) Allowed(targetModel string) bool {
	if r.allowed == nil {
		return true
	}
	return r.allowed[targetModel]
}

// Get returns the configuration for a target model, generating and
// caching the smart default on first reference.
func (r *Registry) Get(targetModel string) TargetModelConfig {
	r.mu.RLock()
	cfg, ok := r.configs[targetModel]
	r.mu.RUnlock()
	if ok {
		return cfg
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.configs[targetModel]; ok {
		return cfg
	}
	cfg = DefaultConfig(targetModel)
	r.configs[targetModel] = cfg
	return cfg
}

// Register deep-merges a partial override onto the generated default
// (or the previously registered configuration) for the model.
func (r *Registry) Register(targetModel string, override map[string]any) error {
	if targetModel == "" {
		return &ValidationError{Field: "targetModel", Message: "required"}
	}

	base := r.Get(targetModel)

	merged, err := mergeConfig(base, override)
	if err != nil {
		return err
	}
	merged.TargetModel = targetModel

	r.mu.Lock()
	r.configs[targetModel] = merged
	r.mu.Unlock()
	return nil
}

// =============================================================================
// DEEP MERGE
// =============================================================================

var errCircularOverride = errors.New("circular reference in config override")

// mergeConfig applies a partial override onto a configuration by merging
// their map forms, then decoding back into the typed structure.
func mergeConfig(base TargetModelConfig, override map[string]any) (TargetModelConfig, error) {
	raw, err := json.Marshal(base)
	if err != nil {
		return base, fmt.Errorf("encode base config: %w", err)
	}
	var dst map[string]any
	if err := json.Unmarshal(raw, &dst); err != nil {
		return base, fmt.Errorf("decode base config: %w", err)
	}

	if err := deepMerge(dst, override, make(map[uintptr]bool)); err != nil {
		return base, err
	}

	raw, err = json.Marshal(dst)
	if err != nil {
		return base, fmt.Errorf("encode merged config: %w", err)
	}
	var merged TargetModelConfig
	if err := json.Unmarshal(raw, &merged); err != nil {
		return base, &ValidationError{Field: "override", Message: err.Error()}
	}
	return merged, nil
}

// deepMerge merges src into dst. Arrays, times and primitives replace the
// destination value wholesale; only plain maps are merged recursively.
func deepMerge(dst, src map[string]any, seen map[uintptr]bool) error {
	ptr := reflect.ValueOf(src).Pointer()
	if seen[ptr] {
		return errCircularOverride
	}
	seen[ptr] = true
	defer delete(seen, ptr)

	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		if !srcIsMap {
			dst[k] = v
			continue
		}
		dstMap, dstIsMap := dst[k].(map[string]any)
		if !dstIsMap {
			// Destination is not a map: replace wholesale, but still
			// reject cycles inside the override value.
			if err := checkCycle(srcMap, seen); err != nil {
				return err
			}
			dst[k] = srcMap
			continue
		}
		if err := deepMerge(dstMap, srcMap, seen); err != nil {
			return err
		}
	}
	return nil
}

func checkCycle(m map[string]any, seen map[uintptr]bool) error {
	ptr := reflect.ValueOf(m).Pointer()
	if seen[ptr] {
		return errCircularOverride
	}
	seen[ptr] = true
	defer delete(seen, ptr)

	for _, v := range m {
		if child, ok := v.(map[string]any); ok {
			if err := checkCycle(child, seen); err != nil {
				return err
			}
		}
	}
	return nil
}
