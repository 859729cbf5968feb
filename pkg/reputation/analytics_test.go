package reputation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func daily(values ...float64) []Point {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]Point, len(values))
	for i, v := range values {
		out[i] = Point{Timestamp: start.AddDate(0, 0, i), Value: v}
	}
	return out
}

func TestTrend(t *testing.T) {
	up := Trend(daily(50, 55, 60))
	assert.Equal(t, DirectionUp, up.Direction)
	assert.InDelta(t, 20, up.ChangePercent, 1e-9)
	assert.InDelta(t, 55, up.Average, 1e-9)
	assert.Equal(t, 50.0, up.Min)
	assert.Equal(t, 60.0, up.Max)

	assert.Equal(t, DirectionDown, Trend(daily(100, 90)).Direction)
	assert.Equal(t, DirectionStable, Trend(daily(100, 104)).Direction)
	assert.Equal(t, DirectionStable, Trend(nil).Direction)

	zero := Trend(daily(0, 10))
	assert.Equal(t, DirectionUp, zero.Direction)
	assert.Equal(t, 100.0, zero.ChangePercent)
	assert.Equal(t, 0.0, Trend(daily(0, 0)).ChangePercent)
}

func TestMovingAverage(t *testing.T) {
	series := daily(1, 2, 3, 4, 5)
	ma := MovingAverage(series, 3)
	require.Len(t, ma, 3)
	assert.InDelta(t, 2, ma[0].Value, 1e-9)
	assert.InDelta(t, 3, ma[1].Value, 1e-9)
	assert.InDelta(t, 4, ma[2].Value, 1e-9)
	assert.Equal(t, series[2].Timestamp, ma[0].Timestamp)

	assert.Nil(t, MovingAverage(series, 6))
	assert.Nil(t, MovingAverage(series, 0))
}

func TestDetectAnomalies(t *testing.T) {
	spike := DetectAnomalies(daily(10, 10, 10, 10, 100), 2)
	require.Len(t, spike, 5)
	for _, a := range spike[:4] {
		assert.False(t, a.IsAnomaly)
	}
	assert.True(t, spike[4].IsAnomaly)
	assert.InDelta(t, 2, spike[4].Deviation, 1e-9)
	assert.InDelta(t, 28, spike[4].Expected, 1e-9)

	for _, a := range DetectAnomalies(daily(10, 11, 9, 10, 11), 2) {
		assert.False(t, a.IsAnomaly)
	}

	short := DetectAnomalies(daily(1, 1000), 2)
	for _, a := range short {
		assert.False(t, a.IsAnomaly)
		assert.Equal(t, a.Value, a.Expected)
	}

	for _, a := range DetectAnomalies(daily(5, 5, 5), 0) {
		assert.False(t, a.IsAnomaly)
	}
}

func TestForecast(t *testing.T) {
	series := daily(10, 20, 30, 40)
	fc := Forecast(series, 2)
	require.Len(t, fc, 2)
	assert.InDelta(t, 50, fc[0].Value, 1e-9)
	assert.InDelta(t, 60, fc[1].Value, 1e-9)
	assert.Equal(t, series[3].Timestamp.AddDate(0, 0, 1), fc[0].Timestamp)
	assert.Equal(t, series[3].Timestamp.AddDate(0, 0, 2), fc[1].Timestamp)

	down := Forecast(daily(30, 20, 10), 3)
	for _, p := range down {
		assert.GreaterOrEqual(t, p.Value, 0.0)
	}
	assert.Equal(t, 0.0, down[2].Value)

	one := Forecast(daily(42), 2)
	require.Len(t, one, 2)
	assert.Equal(t, 42.0, one[1].Value)

	assert.Nil(t, Forecast(nil, 2))
}

func TestGroupByPeriod(t *testing.T) {
	series := []Point{
		{Timestamp: time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC), Value: 10}, // Wednesday
		{Timestamp: time.Date(2026, 3, 4, 10, 45, 0, 0, time.UTC), Value: 20},
		{Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), Value: 30}, // Sunday
		{Timestamp: time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC), Value: 40}, // Saturday
	}

	weeks, err := GroupByPeriod(series, PeriodWeek)
	require.NoError(t, err)
	require.Len(t, weeks, 2)
	assert.Equal(t, "2026-02-22", weeks[0].Key)
	assert.Equal(t, 40.0, weeks[0].Average)
	assert.Equal(t, "2026-03-01", weeks[1].Key)
	assert.InDelta(t, 20, weeks[1].Average, 1e-9)
	assert.Equal(t, 3, weeks[1].Count)

	hours, err := GroupByPeriod(series, PeriodHour)
	require.NoError(t, err)
	require.Len(t, hours, 3)
	assert.Equal(t, "2026-03-04T10:00", hours[2].Key)
	assert.InDelta(t, 15, hours[2].Average, 1e-9)

	months, err := GroupByPeriod(series, PeriodMonth)
	require.NoError(t, err)
	require.Len(t, months, 2)
	assert.Equal(t, "2026-02", months[0].Key)
	assert.Equal(t, "2026-03", months[1].Key)

	days, err := GroupByPeriod(series, PeriodDay)
	require.NoError(t, err)
	assert.Len(t, days, 3)

	_, err = GroupByPeriod(series, "year")
	assert.Error(t, err)
}

func TestAnalyze(t *testing.T) {
	a, err := Analyze(daily(10, 20, 30, 40), AnalyzeOptions{Window: 2, Periods: 1, GroupBy: PeriodDay})
	require.NoError(t, err)
	assert.Equal(t, DirectionUp, a.Trend.Direction)
	assert.Len(t, a.MovingAverage, 3)
	assert.Len(t, a.Anomalies, 4)
	require.Len(t, a.Forecast, 1)
	assert.InDelta(t, 50, a.Forecast[0].Value, 1e-9)
	assert.Len(t, a.Groups, 4)
}
