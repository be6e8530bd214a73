package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"qattend/internal/ledger"
	"qattend/internal/roster"
)

func sample() ([]ledger.Record, map[string]roster.Student) {
	records := []ledger.Record{
		{RollNumber: "a1", Scope: "default", Day: "2026-03-02", ClockTime: "09:01:12"},
		{RollNumber: "a2", Scope: "default", Day: "2026-03-02", ClockTime: "09:02:45"},
	}
	students := map[string]roster.Student{
		"a1": {RollNumber: "a1", StudentName: "Asha", Branch: "CSE", Extra: map[string]string{"parent phone": "9999900001"}},
		"a2": {RollNumber: "a2", StudentName: "Ravi", Branch: "ECE", Extra: map[string]string{"parent phone": "9999900002"}},
	}
	return records, students
}

func TestCSVJoinsRosterColumns(t *testing.T) {
	records, students := sample()
	out, err := CSV(records, students)
	if err != nil {
		t.Fatalf("csv: %v", err)
	}

	rows, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}

	header := rows[0]
	want := []string{"rollnumber", "studentname", "branch", "scope", "date", "time", "parent phone"}
	if len(header) != len(want) {
		t.Fatalf("header %v, want %v", header, want)
	}
	for i := range want {
		if header[i] != want[i] {
			t.Fatalf("header[%d] = %q, want %q", i, header[i], want[i])
		}
	}
	if rows[1][1] != "Asha" || rows[1][6] != "9999900001" {
		t.Fatalf("roster join wrong: %v", rows[1])
	}
}

func TestXLSXProducesWorkbook(t *testing.T) {
	records, students := sample()
	out, err := XLSX(records, students)
	if err != nil {
		t.Fatalf("xlsx: %v", err)
	}
	// xlsx files are zip archives.
	if len(out) < 4 || out[0] != 'P' || out[1] != 'K' {
		t.Fatalf("not a zip/xlsx payload: % x", out[:4])
	}
}
