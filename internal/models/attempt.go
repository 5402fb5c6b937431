package models

import "time"

// AttemptType is the grader action recorded for an attempt.
type AttemptType string

const (
	AttemptSubmit AttemptType = "submit"
	AttemptRun    AttemptType = "run"
)

// RawRecord is one element of the grader API response, as decoded JSON.
type RawRecord = map[string]any

// RawAttempt is a record after passback_params were unpacked, before validation.
type RawAttempt struct {
	UserID               any
	OAuthConsumerKey     any
	LISResultSourcedID   any
	LISOutcomeServiceURL any
	IsCorrect            any
	AttemptType          any
	CreatedAt            any
}

// Attempt is a validated grader attempt, one row of the attempts table.
type Attempt struct {
	UserID               string      `json:"user_id"`
	OAuthConsumerKey     string      `json:"oauth_consumer_key,omitempty"`
	LISResultSourcedID   string      `json:"lis_result_sourcedid"`
	LISOutcomeServiceURL string      `json:"lis_outcome_service_url"`
	IsCorrect            bool        `json:"is_correct"`
	AttemptType          AttemptType `json:"attempt_type"`
	CreatedAt            time.Time   `json:"created_at"`
}

// AttemptKey is the natural key of an attempt. It matches the table's unique constraint.
type AttemptKey struct {
	UserID             string
	LISResultSourcedID string
	AttemptType        AttemptType
	CreatedAt          time.Time
}

func (a Attempt) Key() AttemptKey {
	return AttemptKey{
		UserID:             a.UserID,
		LISResultSourcedID: a.LISResultSourcedID,
		AttemptType:        a.AttemptType,
		CreatedAt:          a.CreatedAt.UTC(),
	}
}
