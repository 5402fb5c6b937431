package extract

import (
	"encoding/json"
	"math"
	"strings"

	"GraderUsageETL/internal/models"

	"go.uber.org/zap"
)

// Drop reasons reported by Unpack.
const (
	DropRecord      = "record"
	DropUserID      = "lti_user_id"
	DropPassback    = "passback_params"
	DropIsCorrect   = "is_correct"
	DropAttemptType = "attempt_type"
	DropCreatedAt   = "created_at"
)

const (
	passbackConsumer = "oauth_consumer_key"
	passbackSourced  = "lis_result_sourcedid"
	passbackOutcome  = "lis_outcome_service_url"
)

// UnpackReport counts what Unpack kept and why it dropped the rest.
type UnpackReport struct {
	Received int            `json:"received"`
	Unpacked int            `json:"unpacked"`
	Dropped  map[string]int `json:"dropped,omitempty"`
}

// KeptPercent is the share of received records that were unpacked, rounded to 2 places.
func (r UnpackReport) KeptPercent() float64 {
	if r.Received == 0 {
		return 0
	}
	return math.Round(float64(r.Unpacked)*10000/float64(r.Received)) / 100
}

// Unpack flattens API records into RawAttempts. A nil record (a non-object
// array element), a record missing any required field, or one whose
// passback_params cannot be decoded is dropped.
// Values are not type-checked here.
func Unpack(records []models.RawRecord, log *zap.Logger) ([]models.RawAttempt, UnpackReport) {
	if log == nil {
		log = zap.NewNop()
	}
	report := UnpackReport{Received: len(records), Dropped: map[string]int{}}
	log.Info("unpacking records", zap.Int("received", len(records)))

	out := make([]models.RawAttempt, 0, len(records))
	for i, rec := range records {
		raw, reason, ok := unpackRecord(rec)
		if !ok {
			report.Dropped[reason]++
			log.Debug("record dropped", zap.Int("index", i), zap.String("field", reason))
			continue
		}
		out = append(out, raw)
	}
	report.Unpacked = len(out)

	log.Info("records unpacked",
		zap.Int("unpacked", report.Unpacked),
		zap.Float64("percent", report.KeptPercent()))
	return out, report
}

func unpackRecord(rec models.RawRecord) (models.RawAttempt, string, bool) {
	var raw models.RawAttempt
	if rec == nil {
		return raw, DropRecord, false
	}

	userID, ok := rec["lti_user_id"]
	if !ok {
		return raw, DropUserID, false
	}
	raw.UserID = userID

	params, ok := decodePassback(rec["passback_params"])
	if !ok {
		return raw, DropPassback, false
	}
	for _, key := range []string{passbackConsumer, passbackSourced, passbackOutcome} {
		if _, present := params[key]; !present {
			return raw, DropPassback, false
		}
	}
	raw.OAuthConsumerKey = params[passbackConsumer]
	raw.LISResultSourcedID = params[passbackSourced]
	raw.LISOutcomeServiceURL = params[passbackOutcome]

	if raw.IsCorrect, ok = rec["is_correct"]; !ok {
		return raw, DropIsCorrect, false
	}
	if raw.AttemptType, ok = rec["attempt_type"]; !ok {
		return raw, DropAttemptType, false
	}
	if raw.CreatedAt, ok = rec["created_at"]; !ok {
		return raw, DropCreatedAt, false
	}
	return raw, "", true
}

// decodePassback accepts an object, or a string holding single-quoted
// pseudo-JSON such as {'oauth_consumer_key': '', ...}.
func decodePassback(v any) (map[string]any, bool) {
	switch p := v.(type) {
	case map[string]any:
		return p, true
	case string:
		var params map[string]any
		if err := json.Unmarshal([]byte(strings.ReplaceAll(p, "'", `"`)), &params); err != nil {
			return nil, false
		}
		return params, params != nil
	default:
		return nil, false
	}
}
