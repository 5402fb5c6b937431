package pipeline

import (
	"testing"
	"time"

	"GraderUsageETL/internal/extract"
	"GraderUsageETL/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWindow(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	last := &models.Run{Window: models.Window{
		Start: now.Add(-48 * time.Hour),
		End:   now.Add(-6 * time.Hour),
	}}

	tests := []struct {
		name      string
		cfg       WindowConfig
		last      *models.Run
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "explicit bounds",
			cfg:       WindowConfig{Start: "2023-04-01 12:00:00.000000", End: "2023-04-02 12:00:00"},
			last:      last,
			wantStart: time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2023, 4, 2, 12, 0, 0, 0, time.UTC),
		},
		{
			name:      "date only",
			cfg:       WindowConfig{Start: "2023-04-01", End: "2023-04-03"},
			wantStart: time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2023, 4, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "resume after last successful run",
			last:      last,
			wantStart: now.Add(-6 * time.Hour),
			wantEnd:   now,
		},
		{
			name:      "lookback without history",
			cfg:       WindowConfig{Lookback: 3 * time.Hour},
			wantStart: now.Add(-3 * time.Hour),
			wantEnd:   now,
		},
		{
			name:      "default lookback",
			wantStart: now.Add(-24 * time.Hour),
			wantEnd:   now,
		},
		{
			name:      "RFC3339 start",
			cfg:       WindowConfig{Start: "2026-10-18T09:00:00+03:00"},
			wantStart: time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC),
			wantEnd:   now,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ResolveWindow(tt.cfg, tt.last, now)
			require.NoError(t, err)
			assert.True(t, tt.wantStart.Equal(w.Start), "start %s", w.Start)
			assert.True(t, tt.wantEnd.Equal(w.End), "end %s", w.End)
		})
	}
}

func TestResolveWindow_Errors(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	_, err := ResolveWindow(WindowConfig{Start: "yesterday"}, nil, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "START_DATE")

	_, err = ResolveWindow(WindowConfig{End: "18/10/2026"}, nil, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "END_DATE")

	_, err = ResolveWindow(WindowConfig{Start: "2026-10-19", End: "2026-10-18"}, nil, now)
	assert.ErrorIs(t, err, extract.ErrInvalidWindow)

	caughtUp := &models.Run{Window: models.Window{End: now}}
	_, err = ResolveWindow(WindowConfig{}, caughtUp, now)
	assert.ErrorIs(t, err, extract.ErrInvalidWindow)
}
