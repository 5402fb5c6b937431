package transform

import (
	"time"

	"GraderUsageETL/internal/models"

	"go.uber.org/zap"
)

// ComputeStatistics summarises validated attempts. It returns false for empty input.
func ComputeStatistics(attempts []models.Attempt) (models.Statistics, bool) {
	var s models.Statistics
	if len(attempts) == 0 {
		return s, false
	}

	users := make(map[string]struct{})
	var earliest, latest time.Time
	for i, a := range attempts {
		users[a.UserID] = struct{}{}

		switch a.AttemptType {
		case models.AttemptSubmit:
			s.SubmitAttempts++
		case models.AttemptRun:
			s.RunAttempts++
		}

		if a.IsCorrect {
			s.CorrectAttempts++
		} else {
			s.IncorrectAttempts++
		}

		if i == 0 || a.CreatedAt.Before(earliest) {
			earliest = a.CreatedAt
		}
		if i == 0 || a.CreatedAt.After(latest) {
			latest = a.CreatedAt
		}
	}

	s.TotalRecords = len(attempts)
	s.UniqueUsers = len(users)
	s.EarliestAttempt = &earliest
	s.LatestAttempt = &latest

	if s.SubmitAttempts > 0 {
		s.SuccessRate = round2(float64(s.CorrectAttempts) * 100 / float64(s.SubmitAttempts))
		ratio := round2(float64(s.RunAttempts) / float64(s.SubmitAttempts))
		s.RunToSubmitRatio = &ratio
	}
	s.AvgAttemptsPerUser = round2(float64(s.TotalRecords) / float64(s.UniqueUsers))
	s.DateRangeDays = int(latest.Sub(earliest) / (24 * time.Hour))

	return s, true
}

// LogStatistics writes the main counters at INFO.
func LogStatistics(log *zap.Logger, s models.Statistics) {
	log.Info("data statistics",
		zap.Int("total_records", s.TotalRecords),
		zap.Int("unique_users", s.UniqueUsers),
		zap.Int("submit_attempts", s.SubmitAttempts),
		zap.Int("run_attempts", s.RunAttempts),
		zap.Int("correct_attempts", s.CorrectAttempts),
		zap.Int("incorrect_attempts", s.IncorrectAttempts),
		zap.Float64("success_rate", s.SuccessRate),
		zap.Float64("avg_attempts_per_user", s.AvgAttemptsPerUser),
		zap.Int("date_range_days", s.DateRangeDays))
}
