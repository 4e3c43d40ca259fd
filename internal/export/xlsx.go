// Package export renders schedule sets as spreadsheets for printing and review.
package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"schoolbell/internal/schedule"
)

var headers = []string{"Time", "Name", "Type", "Break (min)", "Enabled"}

var columnWidths = []float64{10, 28, 10, 12, 10}

// SheetOrder lists weekdays as they appear in the workbook, school week first.
var SheetOrder = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// WriteSchedule writes set as an XLSX workbook with one sheet per weekday.
// Bells are listed in ring order; disabled bells are included and marked.
func WriteSchedule(w io.Writer, set schedule.ScheduleSet) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for i, day := range SheetOrder {
		idx, err := f.NewSheet(day)
		if err != nil {
			return fmt.Errorf("create sheet %s: %w", day, err)
		}
		if i == 0 {
			f.SetActiveSheet(idx)
		}
		if err := writeDay(f, day, bellsFor(set.Bells, day), headerStyle); err != nil {
			return err
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}
	if err := f.SetDocProps(&excelize.DocProperties{Title: set.Name, Creator: "schoolbell"}); err != nil {
		return fmt.Errorf("set doc props: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// bellsFor returns every bell of day, enabled or not, sorted by time.
func bellsFor(bells []schedule.Bell, day string) []schedule.Bell {
	var out []schedule.Bell
	for _, b := range bells {
		if b.Day == day {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

func writeDay(f *excelize.File, sheet string, bells []schedule.Bell, headerStyle int) error {
	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, name, name, columnWidths[col]); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	for i, b := range bells {
		enabled := "Yes"
		if !b.Enabled {
			enabled = "No"
		}
		row := []interface{}{b.Time, b.Name, string(b.BellType), b.BreakDuration, enabled}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
