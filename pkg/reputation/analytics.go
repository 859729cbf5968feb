package reputation

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Point is one observation of a time series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Direction of a trend.
type Direction string

// Trend directions.
const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionStable Direction = "stable"
)

// trendThreshold is the percent change beyond which a series is trending.
const trendThreshold = 5.0

// TrendSummary describes a series from first to last point.
type TrendSummary struct {
	Direction     Direction `json:"direction"`
	ChangePercent float64   `json:"change_percent"`
	Average       float64   `json:"average"`
	Min           float64   `json:"min"`
	Max           float64   `json:"max"`
}

// Trend summarizes series. A zero first value yields ±100% when the last value
// differs, 0% otherwise.
func Trend(series []Point) TrendSummary {
	if len(series) == 0 {
		return TrendSummary{Direction: DirectionStable}
	}

	minV, maxV, sum := series[0].Value, series[0].Value, 0.0
	for _, p := range series {
		sum += p.Value
		minV = math.Min(minV, p.Value)
		maxV = math.Max(maxV, p.Value)
	}

	first, last := series[0].Value, series[len(series)-1].Value
	var change float64
	switch {
	case first != 0:
		change = (last - first) / math.Abs(first) * 100
	case last > 0:
		change = 100
	case last < 0:
		change = -100
	}

	dir := DirectionStable
	if change > trendThreshold {
		dir = DirectionUp
	} else if change < -trendThreshold {
		dir = DirectionDown
	}

	return TrendSummary{
		Direction:     dir,
		ChangePercent: change,
		Average:       sum / float64(len(series)),
		Min:           minV,
		Max:           maxV,
	}
}

// MovingAverage returns the trailing mean over window points, emitted from
// index window-1 onward and stamped with the last point of each window.
func MovingAverage(series []Point, window int) []Point {
	if window <= 0 || window > len(series) {
		return nil
	}
	out := make([]Point, 0, len(series)-window+1)
	sum := 0.0
	for i, p := range series {
		sum += p.Value
		if i >= window {
			sum -= series[i-window].Value
		}
		if i >= window-1 {
			out = append(out, Point{Timestamp: p.Timestamp, Value: sum / float64(window)})
		}
	}
	return out
}

// DefaultAnomalyThreshold is the deviation, in standard deviations, at which a
// point is anomalous.
const DefaultAnomalyThreshold = 2.0

// Anomaly annotates one point of a series.
type Anomaly struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Expected  float64   `json:"expected"`
	Deviation float64   `json:"deviation"`
	IsAnomaly bool      `json:"is_anomaly"`
}

// DetectAnomalies scores each point against the population mean and standard
// deviation. A point whose absolute deviation reaches threshold is flagged.
// Series shorter than three points, or with zero spread, are never anomalous.
func DetectAnomalies(series []Point, threshold float64) []Anomaly {
	if threshold <= 0 {
		threshold = DefaultAnomalyThreshold
	}
	out := make([]Anomaly, len(series))
	if len(series) < 3 {
		for i, p := range series {
			out[i] = Anomaly{Timestamp: p.Timestamp, Value: p.Value, Expected: p.Value}
		}
		return out
	}

	mean, std := meanStdDev(series)
	for i, p := range series {
		a := Anomaly{Timestamp: p.Timestamp, Value: p.Value, Expected: mean}
		if std > 0 {
			a.Deviation = (p.Value - mean) / std
			a.IsAnomaly = math.Abs(a.Deviation) >= threshold
		}
		out[i] = a
	}
	return out
}

func meanStdDev(series []Point) (mean, std float64) {
	n := float64(len(series))
	for _, p := range series {
		mean += p.Value
	}
	mean /= n
	var sq float64
	for _, p := range series {
		d := p.Value - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

// Forecast fits an ordinary least-squares line against the point index and
// projects periods further points at the series' average spacing. Values are
// clamped at zero.
func Forecast(series []Point, periods int) []Point {
	n := len(series)
	if n == 0 || periods <= 0 {
		return nil
	}

	slope, intercept := 0.0, series[0].Value
	spacing := 24 * time.Hour
	if n > 1 {
		slope, intercept = leastSquares(series)
		spacing = series[n-1].Timestamp.Sub(series[0].Timestamp) / time.Duration(n-1)
	}

	last := series[n-1].Timestamp
	out := make([]Point, 0, periods)
	for k := 1; k <= periods; k++ {
		x := float64(n - 1 + k)
		out = append(out, Point{
			Timestamp: last.Add(time.Duration(k) * spacing),
			Value:     math.Max(0, intercept+slope*x),
		})
	}
	return out
}

// leastSquares fits y = intercept + slope*x with x the point index.
func leastSquares(series []Point) (slope, intercept float64) {
	n := float64(len(series))
	var sumX, sumY, sumXY, sumXX float64
	for i, p := range series {
		x := float64(i)
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

// Period is a grouping unit.
type Period string

// Grouping units.
const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Bucket is the average of the points that fall in one period.
type Bucket struct {
	Key     string    `json:"key"`
	Start   time.Time `json:"start"`
	Average float64   `json:"average"`
	Count   int       `json:"count"`
}

// GroupByPeriod buckets points into UTC-aligned periods (weeks start on
// Sunday) and returns the bucket averages sorted by period start.
func GroupByPeriod(series []Point, unit Period) ([]Bucket, error) {
	type acc struct {
		start time.Time
		sum   float64
		n     int
	}
	groups := make(map[string]*acc)
	for _, p := range series {
		start, key, err := periodStart(p.Timestamp.UTC(), unit)
		if err != nil {
			return nil, err
		}
		g, ok := groups[key]
		if !ok {
			g = &acc{start: start}
			groups[key] = g
		}
		g.sum += p.Value
		g.n++
	}

	out := make([]Bucket, 0, len(groups))
	for key, g := range groups {
		out = append(out, Bucket{Key: key, Start: g.start, Average: g.sum / float64(g.n), Count: g.n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func periodStart(t time.Time, unit Period) (time.Time, string, error) {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch unit {
	case PeriodHour:
		start := t.Truncate(time.Hour)
		return start, start.Format("2006-01-02T15:00"), nil
	case PeriodDay:
		return day, day.Format("2006-01-02"), nil
	case PeriodWeek:
		start := day.AddDate(0, 0, -int(day.Weekday()))
		return start, start.Format("2006-01-02"), nil
	case PeriodMonth:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.Format("2006-01"), nil
	default:
		return time.Time{}, "", fmt.Errorf("unknown period %q", unit)
	}
}

// Analytics bundles every analysis of one series.
type Analytics struct {
	Trend         TrendSummary `json:"trend"`
	MovingAverage []Point      `json:"moving_average,omitempty"`
	Anomalies     []Anomaly    `json:"anomalies"`
	Forecast      []Point      `json:"forecast,omitempty"`
	Groups        []Bucket     `json:"groups,omitempty"`
}

// AnalyzeOptions selects analysis parameters. Zero values select defaults:
// window 7, threshold 2, no forecast, no grouping.
type AnalyzeOptions struct {
	Window    int
	Threshold float64
	Periods   int
	GroupBy   Period
}

// Analyze runs every analysis over series.
func Analyze(series []Point, opts AnalyzeOptions) (Analytics, error) {
	if opts.Window <= 0 {
		opts.Window = 7
	}
	a := Analytics{
		Trend:         Trend(series),
		MovingAverage: MovingAverage(series, opts.Window),
		Anomalies:     DetectAnomalies(series, opts.Threshold),
		Forecast:      Forecast(series, opts.Periods),
	}
	if opts.GroupBy != "" {
		groups, err := GroupByPeriod(series, opts.GroupBy)
		if err != nil {
			return Analytics{}, err
		}
		a.Groups = groups
	}
	return a, nil
}
