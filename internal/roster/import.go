package roster

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrNoRollColumn reports an upload without a recognizable roll column.
var ErrNoRollColumn = errors.New(`upload needs a column whose header contains "roll"`)

// ImportResult summarizes a roster upload.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Importer writes parsed rows into a roster store. Satisfied by *Repository.
type Importer interface {
	Insert(ctx context.Context, s Student) (bool, error)
}

// ImportCSV loads a roster from a CSV upload. The roll column is any header
// containing "roll" (case-insensitive) and becomes the canonical key; headers
// containing "name" and "branch" map onto their fields; everything else
// passes through into Extra. Rows whose roll number already exists are
// counted as skipped, not errors.
func ImportCSV(ctx context.Context, store Importer, r io.Reader) (ImportResult, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return ImportResult{}, fmt.Errorf("read header: %w", err)
	}

	var res ImportResult
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("read row: %w", err)
		}
		inserted, err := importRow(ctx, store, header, record)
		if err != nil {
			return res, err
		}
		if inserted {
			res.Imported++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// ImportXLSX loads a roster from the first sheet of an xlsx upload.
func ImportXLSX(ctx context.Context, store Importer, r io.Reader) (ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return ImportResult{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	if err != nil {
		return ImportResult{}, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return ImportResult{}, errors.New("empty sheet")
	}

	header := rows[0]
	var res ImportResult
	for _, record := range rows[1:] {
		inserted, err := importRow(ctx, store, header, record)
		if err != nil {
			return res, err
		}
		if inserted {
			res.Imported++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

func importRow(ctx context.Context, store Importer, header, record []string) (bool, error) {
	s, err := rowToStudent(header, record)
	if err != nil {
		return false, err
	}
	if s == nil {
		// blank row
		return false, nil
	}
	return store.Insert(ctx, *s)
}

// rowToStudent maps one sheet row onto a Student per the header contract.
func rowToStudent(header, record []string) (*Student, error) {
	s := Student{Extra: map[string]string{}}
	foundRoll := false
	allBlank := true

	for i, h := range header {
		var val string
		if i < len(record) {
			val = strings.TrimSpace(record[i])
		}
		if val != "" {
			allBlank = false
		}
		key := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(key, "roll"):
			foundRoll = true
			s.RollNumber = strings.ToLower(val)
		case strings.Contains(key, "name"):
			s.StudentName = val
		case strings.Contains(key, "branch"):
			s.Branch = val
		case key != "":
			s.Extra[key] = val
		}
	}

	if !foundRoll {
		return nil, ErrNoRollColumn
	}
	if allBlank {
		return nil, nil
	}
	if s.RollNumber == "" {
		return nil, errors.New("row missing roll number")
	}
	return &s, nil
}
