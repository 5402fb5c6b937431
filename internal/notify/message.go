package notify

import (
	"fmt"
	"strings"
	"time"

	"GraderUsageETL/internal/models"

	"github.com/dustin/go-humanize"
)

const (
	timeFmt = "2006-01-02 15:04:05"
	footer  = "---\nAutomatic notification. Do not reply to this message.\n"
)

// Subject returns the e-mail subject for r.
func Subject(r Report) string {
	switch r.Kind() {
	case KindError:
		return fmt.Sprintf("ERROR %s - Execution failed", r.ScriptName)
	case KindStatistics:
		return fmt.Sprintf("INFO %s - Statistics report", r.ScriptName)
	default:
		return fmt.Sprintf("INFO %s - Completed", r.ScriptName)
	}
}

// Body returns the plain-text e-mail body for r.
func Body(r Report) string {
	var b strings.Builder

	if r.Kind() == KindError {
		b.WriteString("SCRIPT EXECUTION ERROR\n\n")
		fmt.Fprintf(&b, "Script: %s\n", r.ScriptName)
		b.WriteString("Status: FAILED\n")
		fmt.Fprintf(&b, "Time: %s\n", finishedAt(r.Run).Format(timeFmt))
		fmt.Fprintf(&b, "Run: %s\n\n", r.Run.ID)
		fmt.Fprintf(&b, "Error: %s\n\n", r.Run.Error)
		if r.LogFile != "" {
			fmt.Fprintf(&b, "Log file: %s\n\n", r.LogFile)
		}
		b.WriteString("Action required:\n")
		b.WriteString("1. Check server availability\n")
		b.WriteString("2. Check the database connection\n")
		b.WriteString("3. Check API access\n\n")
		b.WriteString(footer)
		return b.String()
	}

	b.WriteString("Script run report\n\n")
	fmt.Fprintf(&b, "Script: %s\n", r.ScriptName)
	b.WriteString("Status: COMPLETED\n")
	fmt.Fprintf(&b, "Run: %s\n", r.Run.ID)
	fmt.Fprintf(&b, "Window: %s to %s\n\n",
		r.Run.Window.Start.UTC().Format(timeFmt),
		r.Run.Window.End.UTC().Format(timeFmt))

	if !r.Run.StartedAt.IsZero() && r.Run.FinishedAt != nil {
		fmt.Fprintf(&b, "Started: %s\n", r.Run.StartedAt.Format(timeFmt))
		fmt.Fprintf(&b, "Duration: %s\n\n", formatDuration(r.Run.Duration()))
	} else {
		fmt.Fprintf(&b, "Finished: %s\n\n", finishedAt(r.Run).Format(timeFmt))
	}

	if r.Kind() == KindStatistics {
		b.WriteString(formatStatistics(*r.Statistics))
		fmt.Fprintf(&b, "Rows inserted: %s\n\n", humanize.Comma(r.Run.Inserted))
	}

	b.WriteString(footer)
	return b.String()
}

func formatStatistics(s models.Statistics) string {
	var b strings.Builder
	b.WriteString("MAIN METRICS:\n")
	b.WriteString(strings.Repeat("-", 30) + "\n")
	fmt.Fprintf(&b, "Total records: %s\n", humanize.Comma(int64(s.TotalRecords)))
	fmt.Fprintf(&b, "Unique users: %s\n", humanize.Comma(int64(s.UniqueUsers)))
	fmt.Fprintf(&b, "Submit attempts: %s\n", humanize.Comma(int64(s.SubmitAttempts)))
	fmt.Fprintf(&b, "Run attempts: %s\n", humanize.Comma(int64(s.RunAttempts)))
	fmt.Fprintf(&b, "Correct: %s\n", humanize.Comma(int64(s.CorrectAttempts)))
	fmt.Fprintf(&b, "Incorrect: %s\n", humanize.Comma(int64(s.IncorrectAttempts)))
	fmt.Fprintf(&b, "Success rate: %.1f%%\n", s.SuccessRate)
	return b.String()
}

// formatDuration renders HH:MM:SS.
func formatDuration(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}

func finishedAt(run models.Run) time.Time {
	if run.FinishedAt != nil {
		return *run.FinishedAt
	}
	return time.Now()
}
