package permission

import (
	"context"
	"encoding/json"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/agentid-dev/agentid-core/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Monday 2026-03-02 10:30 UTC.
var monday = time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

func newTestEvaluator(now *time.Time) *Evaluator {
	clock := func() time.Time { return *now }
	return NewEvaluator(ratelimit.NewLimiter(nil, ratelimit.WithClock(clock)), WithClock(clock))
}

func TestEvaluator_WildcardGrant(t *testing.T) {
	now := monday
	e := newTestEvaluator(&now)
	grants := MustParse(`["read:*"]`)

	res, err := e.Check(context.Background(), Request{CredentialID: "c1", Action: "read:users"}, grants)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, []string{}, res.ConditionsApplied)

	res, err = e.Check(context.Background(), Request{CredentialID: "c1", Action: "write:users"}, grants)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.Equal(t, ReasonNotPermitted, res.Reason)
	assert.Nil(t, res.RateLimit)
}

func TestEvaluator_ValidHours(t *testing.T) {
	tests := []struct {
		name  string
		start int
		end   int
		hour  int
		want  bool
	}{
		{"inside", 9, 17, 10, true},
		{"end inclusive", 9, 17, 17, true},
		{"before", 9, 17, 8, false},
		{"wrap late", 22, 6, 23, true},
		{"wrap early", 22, 6, 5, true},
		{"wrap outside", 22, 6, 12, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Date(2026, 3, 2, tt.hour, 15, 0, 0, time.UTC)
			e := newTestEvaluator(&now)
			grants := []Grant{{Action: "read", Conditions: &Conditions{ValidHours: &HourWindow{Start: tt.start, End: tt.end}}}}

			res, err := e.Check(context.Background(), Request{CredentialID: "c1", Action: "read:x"}, grants)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Granted)
			assert.Equal(t, []string{CondValidHours}, res.ConditionsApplied)
		})
	}
}

func TestEvaluator_ConditionTimezone(t *testing.T) {
	now := monday
	e := newTestEvaluator(&now)
	ny := []Grant{{Action: "read", Conditions: &Conditions{ValidHours: &HourWindow{Start: 9, End: 17}, Timezone: "America/New_York"}}}
	utc := []Grant{{Action: "read", Conditions: &Conditions{ValidHours: &HourWindow{Start: 9, End: 17}}}}

	// 10:30 UTC is 05:30 in New York.
	res, err := e.Check(context.Background(), Request{CredentialID: "c1", Action: "read:x"}, ny)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	res, err = e.Check(context.Background(), Request{CredentialID: "c1", Action: "read:x"}, utc)
	require.NoError(t, err)
	assert.True(t, res.Granted)

	now = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	res, err = e.Check(context.Background(), Request{CredentialID: "c1", Action: "read:x"}, ny)
	require.NoError(t, err)
	assert.True(t, res.Granted)

	// Monday 03:00 UTC is still Sunday in New York.
	now = time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	days := []Grant{{Action: "read", Conditions: &Conditions{ValidDays: []string{"monday"}, Timezone: "America/New_York"}}}
	res, err = e.Check(context.Background(), Request{CredentialID: "c1", Action: "read:x"}, days)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.Contains(t, res.Reason, "sunday")

	bad := []Grant{{Action: "read", Conditions: &Conditions{ValidHours: &HourWindow{Start: 0, End: 23}, Timezone: "Mars/Olympus"}}}
	res, err = e.Check(context.Background(), Request{CredentialID: "c1", Action: "read:x"}, bad)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.Contains(t, res.Reason, "invalid timezone")
}

func TestEvaluator_CallerContextCannotMoveClock(t *testing.T) {
	now := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	e := newTestEvaluator(&now)
	grants := []Grant{{Action: "read", Conditions: &Conditions{ValidHours: &HourWindow{Start: 9, End: 17}}}}

	var pctx Context
	require.NoError(t, json.Unmarshal([]byte(`{"region":"eu","time":"2026-03-02T10:00:00Z","timezone":"Asia/Tokyo"}`), &pctx))
	res, err := e.Check(context.Background(), Request{CredentialID: "c1", Action: "read:x", Context: pctx}, grants)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.Equal(t, "eu", pctx.Region)
}

func TestConditions_IsZero(t *testing.T) {
	var nilConds *Conditions
	assert.True(t, nilConds.IsZero())
	assert.True(t, (&Conditions{}).IsZero())
	assert.False(t, (&Conditions{MaxRequestsPerDay: 1}).IsZero())
	assert.False(t, (&Conditions{AllowedRegions: []string{"eu"}}).IsZero())
}

func TestEvaluator_ValidDays(t *testing.T) {
	now := monday
	e := newTestEvaluator(&now)
	grants := []Grant{{Action: "read", Conditions: &Conditions{ValidDays: []string{"Monday", "tuesday"}}}}

	res, err := e.Check(context.Background(), Request{CredentialID: "c1", Action: "read:x"}, grants)
	require.NoError(t, err)
	assert.True(t, res.Granted)

	now = monday.AddDate(0, 0, 5)
	res, err = e.Check(context.Background(), Request{CredentialID: "c1", Action: "read:x"}, grants)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.Equal(t, "not allowed on saturday", res.Reason)
}

func TestEvaluator_AllowedRegions(t *testing.T) {
	now := monday
	e := newTestEvaluator(&now)
	grants := []Grant{{Action: "read", Conditions: &Conditions{AllowedRegions: []string{"eu", "us"}}}}

	res, err := e.Check(context.Background(), Request{CredentialID: "c1", Action: "read:x", Context: Context{Region: "EU"}}, grants)
	require.NoError(t, err)
	assert.True(t, res.Granted)

	res, err = e.Check(context.Background(), Request{CredentialID: "c1", Action: "read:x", Context: Context{Region: "apac"}}, grants)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.Contains(t, res.Reason, "apac")

	res, err = e.Check(context.Background(), Request{CredentialID: "c1", Action: "read:x"}, grants)
	require.NoError(t, err)
	assert.True(t, res.Granted, "unknown region is soft-allowed")
	assert.Equal(t, []string{CondAllowedRegions}, res.ConditionsApplied)
}

func TestEvaluator_SpendConditionsRecordedNotEnforced(t *testing.T) {
	now := monday
	e := newTestEvaluator(&now)
	amount := 0.0
	grants := []Grant{{Action: "transact", Conditions: &Conditions{
		MaxTransactionAmount: &amount,
		DailySpendLimit:      &amount,
		RequiresApproval:     true,
	}}}

	res, err := e.Check(context.Background(), Request{CredentialID: "c1", Action: "transact:pay"}, grants)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, []string{CondMaxTransactionAmount, CondDailySpendLimit, CondRequiresApproval}, res.ConditionsApplied)
}

func TestEvaluator_RateLimit(t *testing.T) {
	now := monday
	e := newTestEvaluator(&now)
	grants := MustParse(`[{"action": "read:*", "conditions": {"max_requests_per_minute": 3}}]`)
	req := Request{CredentialID: "c1", Action: "read:users"}

	for i := 0; i < 3; i++ {
		res, err := e.Check(context.Background(), req, grants)
		require.NoError(t, err)
		require.True(t, res.Granted)
	}

	res, err := e.Check(context.Background(), req, grants)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	require.NotNil(t, res.RateLimit)
	require.NotNil(t, res.RateLimit.MinuteRemaining)
	assert.Equal(t, 0, *res.RateLimit.MinuteRemaining)
	assert.Equal(t, []string{CondMaxRequestsPerMinute}, res.ConditionsApplied)

	now = now.Add(time.Minute)
	res, err = e.Check(context.Background(), req, grants)
	require.NoError(t, err)
	assert.True(t, res.Granted)
}

func TestEvaluator_RateLimitNotConsultedWhenConditionFails(t *testing.T) {
	now := monday
	e := newTestEvaluator(&now)
	grants := []Grant{{Action: "read", Conditions: &Conditions{
		ValidDays:            []string{"sunday"},
		MaxRequestsPerMinute: 1,
	}}}

	for i := 0; i < 3; i++ {
		res, err := e.Check(context.Background(), Request{CredentialID: "c1", Action: "read:x"}, grants)
		require.NoError(t, err)
		assert.False(t, res.Granted)
		assert.Nil(t, res.RateLimit)
	}

	// Sunday: the budget is untouched by the denials above.
	now = monday.AddDate(0, 0, 6)
	res, err := e.Check(context.Background(), Request{CredentialID: "c1", Action: "read:x"}, grants)
	require.NoError(t, err)
	assert.True(t, res.Granted)
}

func TestHourWindow_UnmarshalFormats(t *testing.T) {
	grants := MustParse(`[{"action": "read", "conditions": {"valid_hours": {"start": 22, "end": "06:30"}}}]`)
	assert.Equal(t, &HourWindow{Start: 22, End: 6}, grants[0].Conditions.ValidHours)
}
