package service

import (
	"math"

	"github.com/noah-isme/attendance-dashboard/internal/models"
)

const (
	poorAttendanceThreshold    = 60
	warningAttendanceThreshold = 75
)

// ComputeStats derives attendance statistics from a record list. The result does not
// depend on input order. Excused and pending records count toward the total only.
func ComputeStats(records []models.AttendanceRecord) models.AttendanceStats {
	stats := models.AttendanceStats{TotalSessions: len(records), Status: models.StatsStatusNoData}
	for _, record := range records {
		switch record.Status {
		case models.AttendanceStatusPresent:
			stats.PresentSessions++
		case models.AttendanceStatusLate:
			stats.LateSessions++
		case models.AttendanceStatusAbsent:
			stats.AbsentSessions++
		}
	}
	if stats.TotalSessions == 0 {
		return stats
	}

	attended := float64(stats.PresentSessions + stats.LateSessions)
	stats.AttendanceRate = int(math.Round(100 * attended / float64(stats.TotalSessions)))
	stats.Status = classifyRate(stats.AttendanceRate)
	return stats
}

func classifyRate(rate int) models.StatsStatus {
	switch {
	case rate < poorAttendanceThreshold:
		return models.StatsStatusPoor
	case rate < warningAttendanceThreshold:
		return models.StatsStatusWarning
	default:
		return models.StatsStatusGood
	}
}
