package service

import (
	"math"
	"time"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
	// hoursPerMonth approximates a month as 30 days when sizing retention curves.
	hoursPerMonth = 24 * 30
)

type window struct {
	from time.Time
	to   time.Time
}

func monthsElapsed(start, now time.Time) float64 {
	if now.Before(start) {
		return 0
	}
	return now.Sub(start).Hours() / hoursPerMonth
}

// weeklyWindows returns the week windows after signup, capped at maxWeeks and
// at the number of weeks the cohort has had time to live through.
func weeklyWindows(start, now time.Time, maxWeeks int) []window {
	n := min(maxWeeks, int(math.Floor(monthsElapsed(start, now)*4)))
	windows := make([]window, 0, max(n, 0))
	for w := 1; w <= n; w++ {
		from := start.Add(time.Duration(w) * week)
		if from.After(now) {
			break
		}
		windows = append(windows, window{from: from, to: from.Add(week)})
	}
	return windows
}

func monthlyWindows(start, now time.Time) []window {
	n := int(math.Floor(monthsElapsed(start, now)))
	windows := make([]window, 0, max(n, 0))
	for m := 1; m <= n; m++ {
		from := start.AddDate(0, m, 0)
		if from.After(now) {
			break
		}
		windows = append(windows, window{from: from, to: from.AddDate(0, 1, 0)})
	}
	return windows
}

func retentionPercent(active, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := math.Round(100 * float64(active) / float64(total))
	return math.Min(100, math.Max(0, pct))
}

// estimateLTV projects revenue over the horizon. Observed monthly retention is
// used where it exists; later months decay from the last value.
func estimateLTV(monthly []float64, horizon int, decay, averageMonthlyRevenue float64) int64 {
	var (
		total float64
		prev  = 100.0
	)
	for i := 0; i < horizon; i++ {
		r := prev * decay
		if i < len(monthly) {
			r = monthly[i]
		}
		total += averageMonthlyRevenue * r / 100
		prev = r
	}
	return int64(math.Round(total))
}

func churnedUsers(total int, monthly []float64) int {
	last := 100.0
	if len(monthly) > 0 {
		last = monthly[len(monthly)-1]
	}
	return int(math.Round(float64(total) * (1 - last/100)))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func daysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / day)
}
