package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"GraderUsageETL/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun(status models.RunStatus) models.Run {
	started := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	finished := started.Add(1*time.Hour + 2*time.Minute + 3*time.Second)
	return models.Run{
		ID:         "run-1",
		Window:     models.Window{Start: started.Add(-24 * time.Hour), End: started},
		StartedAt:  started,
		FinishedAt: &finished,
		Status:     status,
		Inserted:   12345,
	}
}

func TestSubject(t *testing.T) {
	ok := Report{ScriptName: "SF ETL", Run: sampleRun(models.RunSucceeded)}
	assert.Equal(t, "INFO SF ETL - Completed", Subject(ok))

	ok.Statistics = &models.Statistics{}
	assert.Equal(t, "INFO SF ETL - Statistics report", Subject(ok))

	failed := Report{ScriptName: "SF ETL", Run: sampleRun(models.RunFailed), Statistics: &models.Statistics{}}
	assert.Equal(t, "ERROR SF ETL - Execution failed", Subject(failed))
}

func TestBody_Statistics(t *testing.T) {
	r := Report{
		ScriptName: "SF ETL",
		Run:        sampleRun(models.RunSucceeded),
		Statistics: &models.Statistics{TotalRecords: 1500, UniqueUsers: 20, SuccessRate: 66.666},
	}
	body := Body(r)

	assert.Contains(t, body, "Status: COMPLETED")
	assert.Contains(t, body, "Started: 2026-10-18 09:00:00")
	assert.Contains(t, body, "Duration: 01:02:03")
	assert.Contains(t, body, "Total records: 1,500")
	assert.Contains(t, body, "Success rate: 66.7%")
	assert.Contains(t, body, "Rows inserted: 12,345")
	assert.Contains(t, body, "Window: 2026-10-17 09:00:00 to 2026-10-18 09:00:00")
}

func TestBody_Error(t *testing.T) {
	run := sampleRun(models.RunFailed)
	run.Error = "extract: connection refused"
	body := Body(Report{ScriptName: "SF ETL", Run: run, LogFile: "logs/2026-10-18.log"})

	assert.Contains(t, body, "Status: FAILED")
	assert.Contains(t, body, "Error: extract: connection refused")
	assert.Contains(t, body, "Log file: logs/2026-10-18.log")
	assert.NotContains(t, body, "MAIN METRICS")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00:00", formatDuration(0))
	assert.Equal(t, "00:01:05", formatDuration(65*time.Second))
	assert.Equal(t, "27:46:40", formatDuration(100000*time.Second))
}

type recordingNotifier struct {
	calls int
	err   error
}

func (n *recordingNotifier) Notify(context.Context, Report) error {
	n.calls++
	return n.err
}

func TestMulti_CallsEveryNotifier(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingNotifier{err: boom}
	b := &recordingNotifier{}

	err := Multi{a, b}.Notify(context.Background(), Report{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)

	assert.NoError(t, Multi{b}.Notify(context.Background(), Report{}))
}
