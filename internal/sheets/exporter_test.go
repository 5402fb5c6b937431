package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"GraderUsageETL/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/option"
)

// fakeSheets emulates the handful of Sheets API calls the exporter makes.
type fakeSheets struct {
	mu            sync.Mutex
	existing      []string
	columnA       [][]any
	failWrites    bool
	addedSheet    bool
	headerWritten bool
	writtenRange  string
	writtenValues [][]any
	batchCalls    int
}

func (f *fakeSheets) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		path := r.URL.Path
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(path, "/v4/spreadsheets/sheet-id"):
			var sheets []map[string]any
			for i, title := range f.existing {
				sheets = append(sheets, map[string]any{"properties": map[string]any{"sheetId": i, "title": title}})
			}
			json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})

		case r.Method == http.MethodPost && strings.HasSuffix(path, "/values:batchUpdate"):
			f.headerWritten = true
			w.Write([]byte(`{}`))

		case r.Method == http.MethodPost && strings.HasSuffix(path, "sheet-id:batchUpdate"):
			f.batchCalls++
			if strings.Contains(string(body), `"addSheet"`) {
				f.addedSheet = true
				w.Write([]byte(`{"replies":[{"addSheet":{"properties":{"sheetId":42,"title":"sf_statistics"}}}]}`))
				return
			}
			w.Write([]byte(`{"replies":[]}`))

		case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
			values := f.columnA
			if !strings.HasSuffix(path, "A:A") {
				values = append(append([][]any{}, f.columnA...), f.writtenValues...)
			}
			json.NewEncoder(w).Encode(map[string]any{"values": values})

		case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
			if f.failWrites {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":{"code":400,"message":"bad range"}}`))
				return
			}
			var vr struct {
				Values [][]any `json:"values"`
			}
			assert.NoError(t, json.Unmarshal(body, &vr))
			f.writtenRange = path[strings.Index(path, "/values/")+len("/values/"):]
			f.writtenValues = vr.Values
			w.Write([]byte(`{}`))

		default:
			t.Errorf("unexpected request %s %s", r.Method, path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestExporter(t *testing.T, fake *fakeSheets) *Exporter {
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	e, err := NewExporter(context.Background(), "", "sheet-id", "sf_statistics", zaptest.NewLogger(t),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return e
}

func testStats() models.Statistics {
	earliest := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	latest := time.Date(2023, 5, 3, 9, 30, 0, 0, time.UTC)
	ratio := 1.5
	return models.Statistics{
		TotalRecords:       5,
		UniqueUsers:        3,
		SubmitAttempts:     2,
		RunAttempts:        3,
		CorrectAttempts:    1,
		IncorrectAttempts:  4,
		EarliestAttempt:    &earliest,
		LatestAttempt:      &latest,
		SuccessRate:        50,
		RunToSubmitRatio:   &ratio,
		AvgAttemptsPerUser: 1.67,
		DateRangeDays:      2,
	}
}

func TestExport_CreatesSheetAndHeader(t *testing.T) {
	fake := &fakeSheets{existing: []string{"Sheet1"}}
	e := newTestExporter(t, fake)

	loaded := time.Date(2023, 5, 4, 10, 0, 0, 0, time.UTC)
	row, err := e.Export(context.Background(), testStats(), loaded)
	require.NoError(t, err)

	assert.Equal(t, 3, row)
	assert.True(t, fake.addedSheet)
	assert.True(t, fake.headerWritten)
	assert.Equal(t, "'sf_statistics'!A3:M3", fake.writtenRange)
	require.Len(t, fake.writtenValues, 1)
	assert.Equal(t, "2023-05-04 10:00:00", fake.writtenValues[0][0])
	assert.Equal(t, "1.50", fake.writtenValues[0][8])
}

func TestExport_AppendsAfterExistingRows(t *testing.T) {
	fake := &fakeSheets{
		existing: []string{"Sheet1", "sf_statistics"},
		columnA:  [][]any{{Title}, {"Date loaded"}, {"2023-05-01 10:00:00"}, {"2023-05-02 10:00:00"}},
	}
	e := newTestExporter(t, fake)

	row, err := e.Export(context.Background(), testStats(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 5, row)
	assert.False(t, fake.addedSheet)
	assert.False(t, fake.headerWritten)
	assert.Equal(t, "'sf_statistics'!A5:M5", fake.writtenRange)
	assert.Equal(t, 1, fake.batchCalls, "only the finishing format batch")
}

func TestExport_WriteFailure(t *testing.T) {
	fake := &fakeSheets{
		existing:   []string{"sf_statistics"},
		columnA:    [][]any{{Title}, {"Date loaded"}},
		failWrites: true,
	}
	e := newTestExporter(t, fake)

	_, err := e.Export(context.Background(), testStats(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 3")
}

func TestNewExporter_RequiresSpreadsheetID(t *testing.T) {
	_, err := NewExporter(context.Background(), "", "", "", nil, option.WithoutAuthentication())
	assert.Error(t, err)
}
