package permission

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Condition names as reported in Result.ConditionsApplied.
const (
	CondValidHours           = "valid_hours"
	CondValidDays            = "valid_days"
	CondAllowedRegions       = "allowed_regions"
	CondMaxRequestsPerMinute = "max_requests_per_minute"
	CondMaxRequestsPerDay    = "max_requests_per_day"
	CondMaxTransactionAmount = "max_transaction_amount"
	CondDailySpendLimit      = "daily_spend_limit"
	CondRequiresApproval     = "requires_approval"
)

// Conditions narrow when a grant applies.
type Conditions struct {
	ValidHours           *HourWindow `json:"valid_hours,omitempty"`
	ValidDays            []string    `json:"valid_days,omitempty"`
	AllowedRegions       []string    `json:"allowed_regions,omitempty"`
	MaxRequestsPerMinute int         `json:"max_requests_per_minute,omitempty"`
	MaxRequestsPerDay    int         `json:"max_requests_per_day,omitempty"`
	MaxTransactionAmount *float64    `json:"max_transaction_amount,omitempty"`
	DailySpendLimit      *float64    `json:"daily_spend_limit,omitempty"`
	RequiresApproval     bool        `json:"requires_approval,omitempty"`

	// Timezone is the IANA zone valid_hours and valid_days are read in.
	// Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

// IsZero reports whether c sets no condition at all.
func (c *Conditions) IsZero() bool {
	return c == nil || (c.ValidHours == nil &&
		len(c.ValidDays) == 0 &&
		len(c.AllowedRegions) == 0 &&
		c.MaxRequestsPerMinute == 0 &&
		c.MaxRequestsPerDay == 0 &&
		c.MaxTransactionAmount == nil &&
		c.DailySpendLimit == nil &&
		!c.RequiresApproval &&
		c.Timezone == "")
}

// HourWindow is an inclusive range of hours of the day. Start > End wraps
// past midnight.
type HourWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// UnmarshalJSON accepts hours as numbers (9) or clock strings ("09:00").
func (w *HourWindow) UnmarshalJSON(data []byte) error {
	var raw struct {
		Start json.RawMessage `json:"start"`
		End   json.RawMessage `json:"end"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid valid_hours: %w", err)
	}
	start, err := parseHour(raw.Start)
	if err != nil {
		return fmt.Errorf("invalid valid_hours.start: %w", err)
	}
	end, err := parseHour(raw.End)
	if err != nil {
		return fmt.Errorf("invalid valid_hours.end: %w", err)
	}
	w.Start, w.End = start, end
	return nil
}

func parseHour(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing")
	}
	var h int
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		hh, _, _ := strings.Cut(s, ":")
		n, err := strconv.Atoi(strings.TrimSpace(hh))
		if err != nil {
			return 0, fmt.Errorf("bad hour %q", s)
		}
		h = n
	} else if err := json.Unmarshal(raw, &h); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 {
		return 0, fmt.Errorf("hour %d out of range", h)
	}
	return h, nil
}

// Contains reports whether hour falls inside the window.
func (w HourWindow) Contains(hour int) bool {
	if w.Start <= w.End {
		return hour >= w.Start && hour <= w.End
	}
	return hour >= w.Start || hour <= w.End
}

// Context is the caller-supplied request context conditions are evaluated in.
// Time-based conditions always use the evaluator's clock.
type Context struct {
	Region string `json:"region,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// EvaluateConditions checks the time, day and region conditions of c at
// now, read in c.Timezone. Spend and approval conditions are reported as
// applied but not enforced. Rate conditions are not handled here. It returns
// the applied condition names and, when ok is false, the denial reason.
func EvaluateConditions(c *Conditions, pctx Context, now time.Time) (applied []string, reason string, ok bool) {
	applied = []string{}
	if c == nil {
		return applied, "", true
	}

	t := now.UTC()
	if c.Timezone != "" && (c.ValidHours != nil || len(c.ValidDays) > 0) {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return applied, fmt.Sprintf("invalid timezone %q", c.Timezone), false
		}
		t = t.In(loc)
	}

	if c.ValidHours != nil {
		applied = append(applied, CondValidHours)
		if !c.ValidHours.Contains(t.Hour()) {
			return applied, fmt.Sprintf("outside allowed hours (%02d:00-%02d:59)", c.ValidHours.Start, c.ValidHours.End), false
		}
	}

	if len(c.ValidDays) > 0 {
		applied = append(applied, CondValidDays)
		day := strings.ToLower(t.Weekday().String())
		if !containsFold(c.ValidDays, day) {
			return applied, fmt.Sprintf("not allowed on %s", day), false
		}
	}

	if len(c.AllowedRegions) > 0 {
		applied = append(applied, CondAllowedRegions)
		if pctx.Region != "" && !containsFold(c.AllowedRegions, pctx.Region) {
			return applied, fmt.Sprintf("region %s not allowed", pctx.Region), false
		}
	}

	if c.MaxTransactionAmount != nil {
		applied = append(applied, CondMaxTransactionAmount)
	}
	if c.DailySpendLimit != nil {
		applied = append(applied, CondDailySpendLimit)
	}
	if c.RequiresApproval {
		applied = append(applied, CondRequiresApproval)
	}

	return applied, "", true
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return true
		}
	}
	return false
}
