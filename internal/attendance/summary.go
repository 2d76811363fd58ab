package attendance

import (
	"math"
	"time"

	"github.com/kozaktomas/attendance/internal/database"
)

// Day-over-day trend labels.
const (
	TrendImproved = "Improved"
	TrendDeclined = "Declined"
)

// DaySummary is the attendance of every group on one date.
type DaySummary struct {
	Date    string `json:"date"`
	Present int    `json:"present"`
	Total   int    `json:"total"`
}

// Performance compares one date with the previous day.
type Performance struct {
	Date               string  `json:"date"`
	TodayPercentage    float64 `json:"today_percentage"`
	PreviousPercentage float64 `json:"previous_percentage"`
	Change             float64 `json:"change"`
	Trend              string  `json:"trend"`
}

// Summarize adds up the aggregate rows of date across groups.
func Summarize(rows []database.DailyAggregate, date string) DaySummary {
	s := DaySummary{Date: date}
	for _, r := range rows {
		if r.Date == date {
			s.Total += r.TotalStudents
			s.Present += r.Present
		}
	}
	return s
}

// Percentage returns present/total as a percentage, 0 for an empty day.
func (s DaySummary) Percentage() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Present) / float64(s.Total) * 100
}

// ComparePerformance compares day with the day before. Change is the absolute
// difference rounded to one decimal; a tie counts as declined.
func ComparePerformance(rows []database.DailyAggregate, day time.Time) Performance {
	today := day.Format(database.DateLayout)
	yesterday := day.AddDate(0, 0, -1).Format(database.DateLayout)

	todayPct := Summarize(rows, today).Percentage()
	prevPct := Summarize(rows, yesterday).Percentage()
	change := todayPct - prevPct

	p := Performance{
		Date:               today,
		TodayPercentage:    todayPct,
		PreviousPercentage: prevPct,
		Change:             math.Round(math.Abs(change)*10) / 10,
		Trend:              TrendDeclined,
	}
	if change > 0 {
		p.Trend = TrendImproved
	}
	return p
}
