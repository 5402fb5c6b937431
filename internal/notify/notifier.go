// Package notify reports finished ETL runs by e-mail and to message brokers.
package notify

import (
	"context"
	"errors"
	"fmt"

	"GraderUsageETL/internal/models"
)

// Kind selects the message template for a report.
type Kind string

const (
	KindSimple     Kind = "simple"
	KindStatistics Kind = "statistics"
	KindError      Kind = "error"
)

// Report is everything a notifier may say about one run.
type Report struct {
	ScriptName string             `json:"script"`
	Run        models.Run         `json:"run"`
	Statistics *models.Statistics `json:"statistics,omitempty"`
	LogFile    string             `json:"log_file,omitempty"`
}

// Kind is error for failed runs, statistics when they were computed, simple otherwise.
func (r Report) Kind() Kind {
	switch {
	case r.Run.Status == models.RunFailed:
		return KindError
	case r.Statistics != nil:
		return KindStatistics
	default:
		return KindSimple
	}
}

type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

// Multi sends the report to every notifier, even after failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, r Report) error {
	var errs []error
	for i, n := range m {
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
