package issues

import (
	"fmt"
	"math"
	"time"

	"mediasentry/internal/database/repositories"
)

type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendSporadic   Trend = "sporadic"
	TrendStable     Trend = "stable"
)

const (
	trendWindowDays = 7
	burstThreshold  = 3
	peakHourCount   = 3
)

// Timeline is the derived occurrence-history view of one issue.
type Timeline struct {
	Trend        Trend
	PeakHours    []int
	Bursts       []string
	DailyCounts  []repositories.BucketCount
	HourlyCounts []repositories.BucketCount
}

// TimelineAnalyzer reads occurrence buckets and derives trend, peak-hour and
// burst signals. It runs read-only queries and holds no state of its own.
type TimelineAnalyzer struct {
	repo repositories.IssueRepository
}

func NewTimelineAnalyzer(repo repositories.IssueRepository) *TimelineAnalyzer {
	return &TimelineAnalyzer{repo: repo}
}

func (t *TimelineAnalyzer) Analyze(issueID string) (*Timeline, error) {
	return t.AnalyzeAt(issueID, time.Now())
}

// AnalyzeAt is Analyze with an explicit clock. Trend and peak hours look at
// the last two weeks; bursts only at the last 24 hours, since a burst three
// days ago is no longer actionable.
func (t *TimelineAnalyzer) AnalyzeAt(issueID string, now time.Time) (*Timeline, error) {
	windowStart := now.AddDate(0, 0, -trendWindowDays*2)

	daily, err := t.repo.DailyCounts(issueID, windowStart)
	if err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}
	hourly, err := t.repo.HourlyCounts(issueID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("hourly counts: %w", err)
	}
	hours, err := t.repo.HourOfDayCounts(issueID, windowStart)
	if err != nil {
		return nil, fmt.Errorf("hour-of-day counts: %w", err)
	}

	return &Timeline{
		Trend:        AnalyzeTrend(daily, now),
		PeakHours:    PeakHours(hours),
		Bursts:       Bursts(hourly),
		DailyCounts:  daily,
		HourlyCounts: hourly,
	}, nil
}

// AnalyzeTrend compares the last 7 days of occurrences against the 7 days
// before that. Days with no occurrences count as zero, which is what makes
// the sporadic check meaningful for errors that fire in clumps.
func AnalyzeTrend(daily []repositories.BucketCount, now time.Time) Trend {
	// SQLite's strftime emits UTC dates, so bucket lookups must too.
	now = now.UTC()

	byBucket := make(map[string]int64, len(daily))
	for _, b := range daily {
		byBucket[b.Bucket] = b.Count
	}

	var recent, prior float64
	series := make([]float64, 0, trendWindowDays*2)
	for day := 0; day < trendWindowDays*2; day++ {
		n := float64(byBucket[now.AddDate(0, 0, -day).Format("2006-01-02")])
		series = append(series, n)
		if day < trendWindowDays {
			recent += n
		} else {
			prior += n
		}
	}

	switch {
	case prior == 0 && recent > 0:
		return TrendIncreasing
	case recent > prior*1.2:
		return TrendIncreasing
	case prior > 0 && recent < prior*0.8:
		return TrendDecreasing
	}

	mean, stddev := meanStddev(series)
	if mean > 0 && stddev > mean*1.5 {
		return TrendSporadic
	}
	return TrendStable
}

// PeakHours picks the top hours of day by summed count. The input is already
// ordered by count descending.
func PeakHours(hours []repositories.HourCount) []int {
	peaks := make([]int, 0, peakHourCount)
	for _, h := range hours {
		if len(peaks) == peakHourCount {
			break
		}
		if h.Count > 0 {
			peaks = append(peaks, h.Hour)
		}
	}
	return peaks
}

// Bursts returns the hour buckets that crossed the burst threshold.
func Bursts(hourly []repositories.BucketCount) []string {
	var bursts []string
	for _, b := range hourly {
		if b.Count >= burstThreshold {
			bursts = append(bursts, b.Bucket)
		}
	}
	return bursts
}

func meanStddev(series []float64) (float64, float64) {
	if len(series) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(len(series))

	var sq float64
	for _, v := range series {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(series)))
}
