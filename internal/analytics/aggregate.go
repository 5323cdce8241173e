package analytics

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"

	"sewerwatch/internal/model"
)

// Validation failures are distinct so the API layer can report the exact
// reason for rejection.
var (
	ErrBadMetric      = errors.New("unsupported metric")
	ErrBadPeriod      = errors.New("period must be a positive value like \"24h\" or \"7d\"")
	ErrWindowTooLarge = errors.New("period exceeds the 30 day maximum")
	ErrBadGroupBy     = errors.New("groupBy must be either \"hour\" or \"day\"")

	// ErrNoData marks an empty result set; it is an outcome, not a failure.
	ErrNoData = errors.New("no data for the specified parameters")
)

type Interval string

const (
	IntervalHour Interval = "hour"
	IntervalDay  Interval = "day"
)

var allowedMetrics = map[string]bool{
	"sewageLevel":  true,
	"methaneLevel": true,
	"flowRate":     true,
	"temperature":  true,
}

var periodPattern = regexp.MustCompile(`^(\d+)(h|d)$`)

// Query is a validated analytics request.
type Query struct {
	Metric      string
	PeriodValue int
	PeriodUnit  string
	Window      time.Duration
	Interval    Interval
}

// ParseQuery validates the raw request parameters in order: metric, period
// format, window size, grouping. When groupBy is empty the interval is
// auto-selected: hourly for windows up to 24 hours, daily beyond.
func ParseQuery(metric, period, groupBy string) (Query, error) {
	if !allowedMetrics[metric] {
		return Query{}, ErrBadMetric
	}
	if period == "" {
		period = "24h"
	}
	m := periodPattern.FindStringSubmatch(period)
	if m == nil {
		return Query{}, ErrBadPeriod
	}
	value, err := strconv.Atoi(m[1])
	if err != nil || value <= 0 {
		return Query{}, ErrBadPeriod
	}
	unit := m[2]
	maxPeriod := 30
	window := time.Duration(value) * 24 * time.Hour
	if unit == "h" {
		maxPeriod = 720
		window = time.Duration(value) * time.Hour
	}
	if value > maxPeriod {
		return Query{}, ErrWindowTooLarge
	}
	interval := Interval(groupBy)
	switch groupBy {
	case "":
		interval = IntervalDay
		if window <= 24*time.Hour {
			interval = IntervalHour
		}
	case "hour", "day":
	default:
		return Query{}, ErrBadGroupBy
	}
	return Query{
		Metric:      metric,
		PeriodValue: value,
		PeriodUnit:  unit,
		Window:      window,
		Interval:    interval,
	}, nil
}

// TimeBucket is a calendar bucket key. Hour is only present when grouping
// hourly.
type TimeBucket struct {
	Hour  *int `json:"hour,omitempty"`
	Day   int  `json:"day"`
	Month int  `json:"month"`
	Year  int  `json:"year"`
}

type Stats struct {
	Avg   float64 `json:"avg"`
	Max   float64 `json:"max"`
	Min   float64 `json:"min"`
	Count int     `json:"count"`
}

type Bucket struct {
	TimeGroup TimeBucket `json:"timeGroup"`
	Stats     Stats      `json:"stats"`

	first time.Time
}

type accumulator struct {
	sum   float64
	max   float64
	min   float64
	count int
	first time.Time
}

// Aggregate groups samples into calendar buckets at the given interval and
// computes per-bucket stats. Buckets are ordered ascending by the earliest
// sample timestamp observed in each bucket, which stays correct across
// month and year boundaries where the bare bucket key would be ambiguous.
// An empty sample set yields ErrNoData.
func Aggregate(samples []model.MetricSample, interval Interval) ([]Bucket, error) {
	if len(samples) == 0 {
		return nil, ErrNoData
	}
	type key struct {
		year, month, day, hour int
	}
	groups := make(map[key]*accumulator)
	for _, sample := range samples {
		ts := sample.Timestamp.UTC()
		k := key{year: ts.Year(), month: int(ts.Month()), day: ts.Day()}
		if interval == IntervalHour {
			k.hour = ts.Hour()
		}
		acc, ok := groups[k]
		if !ok {
			acc = &accumulator{max: sample.Value, min: sample.Value, first: ts}
			groups[k] = acc
		}
		acc.sum += sample.Value
		acc.count++
		if sample.Value > acc.max {
			acc.max = sample.Value
		}
		if sample.Value < acc.min {
			acc.min = sample.Value
		}
		if ts.Before(acc.first) {
			acc.first = ts
		}
	}
	out := make([]Bucket, 0, len(groups))
	for k, acc := range groups {
		bucket := Bucket{
			TimeGroup: TimeBucket{Day: k.day, Month: k.month, Year: k.year},
			Stats: Stats{
				Avg:   round2(acc.sum / float64(acc.count)),
				Max:   round2(acc.max),
				Min:   round2(acc.min),
				Count: acc.count,
			},
			first: acc.first,
		}
		if interval == IntervalHour {
			hour := k.hour
			bucket.TimeGroup.Hour = &hour
		}
		out = append(out, bucket)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].first.Before(out[j].first)
	})
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
