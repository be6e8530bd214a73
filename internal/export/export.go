// Package export renders attendance records, joined with roster details,
// as downloadable CSV or XLSX.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"qattend/internal/ledger"
	"qattend/internal/roster"
)

// rows flattens records into a header plus data rows. Roster extra columns
// uploaded with the sheet come back out: their keys form additional columns
// after the fixed six.
func rows(records []ledger.Record, students map[string]roster.Student) [][]string {
	extraKeys := map[string]bool{}
	for _, rec := range records {
		if s, ok := students[rec.RollNumber]; ok {
			for k := range s.Extra {
				extraKeys[k] = true
			}
		}
	}
	extras := make([]string, 0, len(extraKeys))
	for k := range extraKeys {
		extras = append(extras, k)
	}
	sort.Strings(extras)

	header := append([]string{"rollnumber", "studentname", "branch", "scope", "date", "time"}, extras...)
	out := [][]string{header}

	for _, rec := range records {
		s := students[rec.RollNumber]
		row := []string{rec.RollNumber, s.StudentName, s.Branch, rec.Scope, rec.Day, rec.ClockTime}
		for _, k := range extras {
			row = append(row, s.Extra[k])
		}
		out = append(out, row)
	}
	return out
}

// CSV renders records as CSV bytes.
func CSV(records []ledger.Record, students map[string]roster.Student) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, row := range rows(records, students) {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// XLSX renders records as a single-sheet workbook.
func XLSX(records []ledger.Record, students map[string]roster.Student) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	for i, row := range rows(records, students) {
		for j, val := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, val); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
