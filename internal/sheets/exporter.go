// Package sheets appends run statistics to a Google Sheets dashboard.
package sheets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"GraderUsageETL/internal/models"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

const (
	newSheetRows    = 1000
	newSheetColumns = 20
	frozenRows      = 2
	headerRowHeight = 50
)

// Exporter writes statistics rows to one sheet of a spreadsheet.
type Exporter struct {
	svc           *gsheets.Service
	spreadsheetID string
	sheetName     string
	log           *zap.Logger
}

// NewExporter authenticates with the service account in credentialsFile.
// An empty credentialsFile leaves authentication to opts.
func NewExporter(ctx context.Context, credentialsFile, spreadsheetID, sheetName string, log *zap.Logger, opts ...option.ClientOption) (*Exporter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if spreadsheetID == "" {
		return nil, fmt.Errorf("NewExporter(): spreadsheet id is required")
	}
	if sheetName == "" {
		sheetName = "sf_statistics"
	}

	clientOpts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	if credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	log.Info("connecting to Google Sheets API")
	svc, err := gsheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("NewExporter(): failed to create sheets client: %w", err)
	}
	return &Exporter{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName, log: log}, nil
}

// Export appends one statistics row and returns its 1-based row number.
// The sheet, title and header are created when missing. Cosmetic formatting
// failures are logged and do not fail the export.
func (e *Exporter) Export(ctx context.Context, s models.Statistics, loadedAt time.Time) (int, error) {
	e.log.Info("exporting statistics to Google Sheets", zap.String("sheet", e.sheetName))

	sheetID, created, err := e.ensureSheet(ctx)
	if err != nil {
		return 0, fmt.Errorf("Export(): %w", err)
	}

	columnA, err := e.values(ctx, "A:A")
	if err != nil {
		return 0, fmt.Errorf("Export(): failed to read sheet: %w", err)
	}
	if created || isEmpty(columnA) {
		e.log.Info("sheet is empty, writing header")
		if err := e.writeHeader(ctx, sheetID); err != nil {
			return 0, fmt.Errorf("Export(): %w", err)
		}
		columnA = [][]any{{Title}, {Headers[0]}}
	}

	row := nextRow(columnA)
	data := BuildRow(s, loadedAt)
	rng := fmt.Sprintf("A%d:%s%d", row, columnLetter(len(data)-1), row)
	_, err = e.svc.Spreadsheets.Values.Update(e.spreadsheetID, e.a1(rng), &gsheets.ValueRange{
		Values: [][]any{data},
	}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("Export(): failed to write row %d: %w", row, err)
	}

	e.finish(ctx, sheetID, row)
	e.log.Info("statistics exported", zap.Int("row", row))
	return row, nil
}

// ensureSheet finds the sheet by title or adds it.
func (e *Exporter) ensureSheet(ctx context.Context) (int64, bool, error) {
	ss, err := e.svc.Spreadsheets.Get(e.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, false, fmt.Errorf("ensureSheet(): failed to open spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == e.sheetName {
			e.log.Debug("sheet found", zap.String("sheet", e.sheetName), zap.Int64("sheet_id", sh.Properties.SheetId))
			return sh.Properties.SheetId, false, nil
		}
	}

	e.log.Info("sheet not found, creating", zap.String("sheet", e.sheetName))
	resp, err := e.batch(ctx, &gsheets.Request{
		AddSheet: &gsheets.AddSheetRequest{
			Properties: &gsheets.SheetProperties{
				Title: e.sheetName,
				GridProperties: &gsheets.GridProperties{
					RowCount:    newSheetRows,
					ColumnCount: newSheetColumns,
				},
			},
		},
	})
	if err != nil {
		return 0, false, fmt.Errorf("ensureSheet(): failed to add sheet: %w", err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return 0, false, fmt.Errorf("ensureSheet(): empty addSheet reply")
	}
	return resp.Replies[0].AddSheet.Properties.SheetId, true, nil
}

func (e *Exporter) writeHeader(ctx context.Context, sheetID int64) error {
	headers := make([]any, len(Headers))
	for i, h := range Headers {
		headers[i] = h
	}
	last := columnLetter(len(Headers) - 1)

	_, err := e.svc.Spreadsheets.Values.BatchUpdate(e.spreadsheetID, &gsheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data: []*gsheets.ValueRange{
			{Range: e.a1("A1"), Values: [][]any{{Title}}},
			{Range: e.a1("A2:" + last + "2"), Values: [][]any{headers}},
		},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("writeHeader(): failed to write header: %w", err)
	}

	cols := int64(len(Headers))
	reqs := []*gsheets.Request{
		{MergeCells: &gsheets.MergeCellsRequest{
			Range:     gridRange(sheetID, 0, 1, 0, cols),
			MergeType: "MERGE_ALL",
		}},
		{RepeatCell: &gsheets.RepeatCellRequest{
			Range: gridRange(sheetID, 0, 1, 0, cols),
			Cell: &gsheets.CellData{UserEnteredFormat: &gsheets.CellFormat{
				TextFormat:          &gsheets.TextFormat{Bold: true, FontSize: 16},
				HorizontalAlignment: "CENTER",
			}},
			Fields: "userEnteredFormat(textFormat,horizontalAlignment)",
		}},
		{RepeatCell: &gsheets.RepeatCellRequest{
			Range: gridRange(sheetID, 1, 2, 0, cols),
			Cell: &gsheets.CellData{UserEnteredFormat: &gsheets.CellFormat{
				TextFormat:          &gsheets.TextFormat{Bold: true, FontSize: 11},
				BackgroundColor:     &gsheets.Color{Red: 0.95, Green: 0.95, Blue: 0.95},
				Borders:             solidBorders(),
				HorizontalAlignment: "CENTER",
				VerticalAlignment:   "MIDDLE",
				WrapStrategy:        "WRAP",
			}},
			Fields: "userEnteredFormat(textFormat,backgroundColor,borders,horizontalAlignment,verticalAlignment,wrapStrategy)",
		}},
		dimensionSize(sheetID, "ROWS", 1, headerRowHeight),
	}
	for i, w := range columnWidths {
		reqs = append(reqs, dimensionSize(sheetID, "COLUMNS", int64(i), w))
	}
	if _, err := e.batch(ctx, reqs...); err != nil {
		e.log.Warn("could not format header", zap.Error(err))
	}
	return nil
}

// finish formats the new data row, fits column widths and freezes the header.
func (e *Exporter) finish(ctx context.Context, sheetID int64, row int) {
	r := int64(row - 1)
	cols := int64(len(Headers))
	align := func(start, end int64, h string) *gsheets.Request {
		return &gsheets.Request{RepeatCell: &gsheets.RepeatCellRequest{
			Range: gridRange(sheetID, r, r+1, start, end),
			Cell: &gsheets.CellData{UserEnteredFormat: &gsheets.CellFormat{
				HorizontalAlignment: h,
			}},
			Fields: "userEnteredFormat.horizontalAlignment",
		}}
	}

	reqs := []*gsheets.Request{
		{RepeatCell: &gsheets.RepeatCellRequest{
			Range: gridRange(sheetID, r, r+1, 0, cols),
			Cell: &gsheets.CellData{UserEnteredFormat: &gsheets.CellFormat{
				Borders:           solidBorders(),
				VerticalAlignment: "MIDDLE",
				WrapStrategy:      "WRAP",
			}},
			Fields: "userEnteredFormat(borders,verticalAlignment,wrapStrategy)",
		}},
		align(0, 1, "CENTER"),
		align(1, 11, "RIGHT"),
		align(11, 13, "CENTER"),
	}

	values, err := e.values(ctx, "A1:"+columnLetter(len(Headers)-1))
	if err != nil {
		e.log.Warn("could not read sheet for column widths", zap.Error(err))
	} else if len(values) >= 2 {
		for i, w := range autoWidths(values[1:], len(Headers)) {
			reqs = append(reqs, dimensionSize(sheetID, "COLUMNS", int64(i), w))
		}
	}

	reqs = append(reqs, &gsheets.Request{UpdateSheetProperties: &gsheets.UpdateSheetPropertiesRequest{
		Properties: &gsheets.SheetProperties{
			SheetId:         sheetID,
			GridProperties:  &gsheets.GridProperties{FrozenRowCount: frozenRows},
			ForceSendFields: []string{"SheetId"},
		},
		Fields: "gridProperties.frozenRowCount",
	}})

	if _, err := e.batch(ctx, reqs...); err != nil {
		e.log.Warn("could not format data row", zap.Int("row", row), zap.Error(err))
	}
}

func (e *Exporter) values(ctx context.Context, rng string) ([][]any, error) {
	vr, err := e.svc.Spreadsheets.Values.Get(e.spreadsheetID, e.a1(rng)).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return vr.Values, nil
}

func (e *Exporter) batch(ctx context.Context, reqs ...*gsheets.Request) (*gsheets.BatchUpdateSpreadsheetResponse, error) {
	return e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: reqs,
	}).Context(ctx).Do()
}

// a1 prefixes a range with the quoted sheet name.
func (e *Exporter) a1(rng string) string {
	return "'" + strings.ReplaceAll(e.sheetName, "'", "''") + "'!" + rng
}

// Sheet id 0 is a valid id, so it has to be forced into the JSON.
func gridRange(sheetID, startRow, endRow, startCol, endCol int64) *gsheets.GridRange {
	return &gsheets.GridRange{
		SheetId:          sheetID,
		StartRowIndex:    startRow,
		EndRowIndex:      endRow,
		StartColumnIndex: startCol,
		EndColumnIndex:   endCol,
		ForceSendFields:  []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
	}
}

func dimensionSize(sheetID int64, dimension string, index, pixels int64) *gsheets.Request {
	return &gsheets.Request{UpdateDimensionProperties: &gsheets.UpdateDimensionPropertiesRequest{
		Range: &gsheets.DimensionRange{
			SheetId:         sheetID,
			Dimension:       dimension,
			StartIndex:      index,
			EndIndex:        index + 1,
			ForceSendFields: []string{"SheetId", "StartIndex"},
		},
		Properties: &gsheets.DimensionProperties{PixelSize: pixels},
		Fields:     "pixelSize",
	}}
}

func solidBorders() *gsheets.Borders {
	solid := func() *gsheets.Border { return &gsheets.Border{Style: "SOLID"} }
	return &gsheets.Borders{Top: solid(), Bottom: solid(), Left: solid(), Right: solid()}
}
