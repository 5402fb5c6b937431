package pipeline

import (
	"fmt"
	"strings"
	"time"

	"GraderUsageETL/internal/extract"
	"GraderUsageETL/internal/models"
)

// WindowConfig holds the START_DATE/END_DATE settings and the default lookback.
type WindowConfig struct {
	Start    string
	End      string
	Lookback time.Duration
}

// The first layout also accepts fractional seconds.
var windowLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

// ResolveWindow picks the extraction window. Explicit bounds win. Without a
// start, the run resumes at the end of the last successful window, or at
// now minus the lookback. Without an end, the window ends at now.
func ResolveWindow(cfg WindowConfig, last *models.Run, now time.Time) (models.Window, error) {
	now = now.UTC()
	var w models.Window

	if cfg.End != "" {
		end, err := parseWindowTime(cfg.End)
		if err != nil {
			return w, fmt.Errorf("ResolveWindow(): END_DATE: %w", err)
		}
		w.End = end
	} else {
		w.End = now
	}

	switch {
	case cfg.Start != "":
		start, err := parseWindowTime(cfg.Start)
		if err != nil {
			return w, fmt.Errorf("ResolveWindow(): START_DATE: %w", err)
		}
		w.Start = start
	case last != nil:
		w.Start = last.Window.End.UTC()
	default:
		lookback := cfg.Lookback
		if lookback <= 0 {
			lookback = 24 * time.Hour
		}
		w.Start = w.End.Add(-lookback)
	}

	if !w.End.After(w.Start) {
		return w, fmt.Errorf("ResolveWindow(): %w: %s to %s", extract.ErrInvalidWindow,
			w.Start.Format(extract.TimeLayout), w.End.Format(extract.TimeLayout))
	}
	return w, nil
}

func parseWindowTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range windowLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
