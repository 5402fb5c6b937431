package models

import "time"

// Statistics summarises the validated attempts of a single run.
type Statistics struct {
	TotalRecords       int        `json:"total_records"`
	UniqueUsers        int        `json:"unique_users"`
	SubmitAttempts     int        `json:"submit_attempts"`
	RunAttempts        int        `json:"run_attempts"`
	CorrectAttempts    int        `json:"correct_attempts"`
	IncorrectAttempts  int        `json:"incorrect_attempts"`
	EarliestAttempt    *time.Time `json:"earliest_attempt,omitempty"`
	LatestAttempt      *time.Time `json:"latest_attempt,omitempty"`
	SuccessRate        float64    `json:"success_rate"`
	RunToSubmitRatio   *float64   `json:"run_to_submit_ratio"` // nil when there are no submits
	AvgAttemptsPerUser float64    `json:"avg_attempts_per_user"`
	DateRangeDays      int        `json:"date_range_days"`
}

// TableStats is the aggregate over everything stored in the attempts table.
type TableStats struct {
	TotalRecords      int64      `json:"total_records"`
	UniqueUsers       int64      `json:"unique_users"`
	SubmitAttempts    int64      `json:"submit_attempts"`
	RunAttempts       int64      `json:"run_attempts"`
	CorrectAttempts   int64      `json:"correct_attempts"`
	IncorrectAttempts int64      `json:"incorrect_attempts"`
	EarliestAttempt   *time.Time `json:"earliest_attempt,omitempty"`
	LatestAttempt     *time.Time `json:"latest_attempt,omitempty"`
}
