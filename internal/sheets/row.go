package sheets

import (
	"fmt"
	"strconv"
	"time"

	"GraderUsageETL/internal/models"
)

const (
	Title       = "SF Statistics Dashboard"
	cellTimeFmt = "2006-01-02 15:04:05"
)

// Headers are the dashboard column titles, in column order A..M.
var Headers = []string{
	"Date loaded",
	"Total records",
	"Unique users",
	"Submit attempts",
	"Run attempts",
	"Correct attempts",
	"Incorrect attempts",
	"Success rate, %",
	"Run/Submit ratio",
	"Avg attempts per user",
	"Days in range",
	"Earliest attempt",
	"Latest attempt",
}

// Fixed widths in pixels applied when the header is written.
var columnWidths = []int64{220, 180, 250, 180, 160, 200, 220, 190, 250, 300, 200, 280, 280}

// BuildRow renders one dashboard row. A missing run/submit ratio means
// there were no submits and is written as "inf".
func BuildRow(s models.Statistics, loadedAt time.Time) []any {
	ratio := "inf"
	if s.RunToSubmitRatio != nil {
		ratio = formatFloat(*s.RunToSubmitRatio)
	}
	return []any{
		loadedAt.Format(cellTimeFmt),
		strconv.Itoa(s.TotalRecords),
		strconv.Itoa(s.UniqueUsers),
		strconv.Itoa(s.SubmitAttempts),
		strconv.Itoa(s.RunAttempts),
		strconv.Itoa(s.CorrectAttempts),
		strconv.Itoa(s.IncorrectAttempts),
		formatFloat(s.SuccessRate),
		ratio,
		formatFloat(s.AvgAttemptsPerUser),
		strconv.Itoa(s.DateRangeDays),
		formatTimePtr(s.EarliestAttempt),
		formatTimePtr(s.LatestAttempt),
	}
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(cellTimeFmt)
}

// columnLetter converts a zero-based index to a column name (0 -> A, 12 -> M).
func columnLetter(i int) string {
	name := ""
	for i >= 0 {
		name = string(rune('A'+i%26)) + name
		i = i/26 - 1
	}
	return name
}

// nextRow returns the 1-based row for new data given the values of column A.
// Data starts at row 3; the first gap after the header is reused.
func nextRow(columnA [][]any) int {
	for i := 2; i < len(columnA); i++ {
		if cellString(columnA[i]) == "" {
			return i + 1
		}
	}
	return max(len(columnA)+1, 3)
}

func isEmpty(columnA [][]any) bool {
	return len(columnA) == 0 || cellString(columnA[0]) == ""
}

func cellString(row []any) string {
	if len(row) == 0 || row[0] == nil {
		return ""
	}
	return fmt.Sprint(row[0])
}

// autoWidths sizes each column to its longest value, about 10px per character,
// clamped to [100, 400].
func autoWidths(values [][]any, columns int) []int64 {
	widths := make([]int64, columns)
	for c := 0; c < columns; c++ {
		longest := 0
		for _, row := range values {
			if c < len(row) {
				longest = max(longest, len([]rune(fmt.Sprint(row[c]))))
			}
		}
		widths[c] = int64(min(max(longest*10+20, 100), 400))
	}
	return widths
}
