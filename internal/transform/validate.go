// Package transform validates unpacked grader records and summarises them.
package transform

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"GraderUsageETL/internal/models"

	"go.uber.org/zap"
)

// createdAtLayout is parsed in UTC. A fractional second after the seconds
// field is accepted by time.Parse without being in the layout.
const createdAtLayout = "2006-01-02 15:04:05"

// ValidationError names the first field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate converts a RawAttempt into an Attempt. It never panics and gives
// the same answer for the same input.
func Validate(raw models.RawAttempt) (models.Attempt, error) {
	var a models.Attempt

	userID, ok := raw.UserID.(string)
	if !ok {
		return a, invalid("user_id", "expected string, got %T", raw.UserID)
	}
	a.UserID = userID

	switch v := raw.OAuthConsumerKey.(type) {
	case nil:
	case string:
		a.OAuthConsumerKey = v
	default:
		return a, invalid("oauth_consumer_key", "expected string or null, got %T", raw.OAuthConsumerKey)
	}

	sourced, ok := raw.LISResultSourcedID.(string)
	if !ok || !strings.Contains(sourced, "course") {
		return a, invalid("lis_result_sourcedid", "must be a string containing \"course\"")
	}
	a.LISResultSourcedID = sourced

	outcome, ok := raw.LISOutcomeServiceURL.(string)
	if !ok || !strings.Contains(outcome, "https") {
		return a, invalid("lis_outcome_service_url", "must be a string containing \"https\"")
	}
	a.LISOutcomeServiceURL = outcome

	correct, err := parseIsCorrect(raw.IsCorrect)
	if err != nil {
		return a, err
	}
	a.IsCorrect = correct

	switch raw.AttemptType {
	case string(models.AttemptSubmit):
		a.AttemptType = models.AttemptSubmit
	case string(models.AttemptRun):
		a.AttemptType = models.AttemptRun
	default:
		return a, invalid("attempt_type", "must be submit or run, got %v", raw.AttemptType)
	}

	createdAt, err := parseCreatedAt(raw.CreatedAt)
	if err != nil {
		return a, err
	}
	a.CreatedAt = createdAt

	return a, nil
}

// parseIsCorrect accepts null, 0, 1, false and true. Null is stored as false.
func parseIsCorrect(v any) (bool, error) {
	switch x := v.(type) {
	case nil:
		return false, nil
	case bool:
		return x, nil
	case float64:
		if x == 0 || x == 1 {
			return x == 1, nil
		}
	case int:
		if x == 0 || x == 1 {
			return x == 1, nil
		}
	case int64:
		if x == 0 || x == 1 {
			return x == 1, nil
		}
	}
	return false, invalid("is_correct", "must be null, 0 or 1, got %v", v)
}

func parseCreatedAt(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, invalid("created_at", "expected string, got %T", v)
	}
	t, err := time.ParseInLocation(createdAtLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, invalid("created_at", "%q does not match YYYY-MM-DD HH:MM:SS[.ffffff]", s)
	}
	return t, nil
}

// Report counts validation results per rejected field.
type Report struct {
	Received int            `json:"received"`
	Valid    int            `json:"valid"`
	Rejected map[string]int `json:"rejected,omitempty"`
}

// KeptPercent is the share of received rows that passed validation, rounded to 2 places.
func (r Report) KeptPercent() float64 {
	if r.Received == 0 {
		return 0
	}
	return round2(float64(r.Valid) * 100 / float64(r.Received))
}

// Process validates every row, keeping the valid ones in input order.
func Process(raws []models.RawAttempt, log *zap.Logger) ([]models.Attempt, Report) {
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("processing records", zap.Int("received", len(raws)))

	report := Report{Received: len(raws), Rejected: map[string]int{}}
	out := make([]models.Attempt, 0, len(raws))
	for i, raw := range raws {
		a, err := Validate(raw)
		if err != nil {
			field := "unknown"
			var verr *ValidationError
			if errors.As(err, &verr) {
				field = verr.Field
			}
			report.Rejected[field]++
			log.Debug("record rejected", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, a)
	}
	report.Valid = len(out)

	log.Info("records processed",
		zap.Int("valid", report.Valid),
		zap.Float64("percent", report.KeptPercent()))
	return out, report
}

// Dedupe drops attempts whose natural key was already seen. The first one wins.
func Dedupe(attempts []models.Attempt) []models.Attempt {
	seen := make(map[models.AttemptKey]struct{}, len(attempts))
	out := make([]models.Attempt, 0, len(attempts))
	for _, a := range attempts {
		k := a.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, a)
	}
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
