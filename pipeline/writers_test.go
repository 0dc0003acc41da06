package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/go-scrape-units/models"
)

func sampleRecord() *models.PropertyRecord {
	floor := 12
	area := 1250.5
	price := 2450000.0
	return &models.PropertyRecord{
		RowIndex:        0,
		ProjectCategory: "Residential",
		Project:         "Marina Vista",
		UnitType:        "2BR",
		Floor:           "12",
		UnitNo:          "MV-1204",
		TotalUnitArea:   "1,250.50 sqft",
		StartingPrice:   "AED 2,450,000",
		RecordID:        "a0X5g000001",
		FloorNumber:     &floor,
		Area:            &area,
		Price:           &price,
	}
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "units.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Validate(); err == nil {
		t.Fatalf("expected validate to fail before any record is written")
	}

	unparsed := &models.PropertyRecord{RowIndex: 1, Project: "Marina Vista", UnitNo: "MV-1205", StartingPrice: "On request"}
	if err := writer.Write([]*models.PropertyRecord{sampleRecord(), unparsed}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows=%d, want 3", len(rows))
	}
	if rows[0][0] != "row_index" || rows[0][1] != "project_category" || len(rows[0]) != 13 {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	if rows[1][5] != "MV-1204" || rows[1][10] != "12" || rows[1][11] != "1250.5" || rows[1][12] != "2450000" {
		t.Fatalf("unexpected first row: %v", rows[1])
	}
	if rows[2][10] != "" || rows[2][12] != "" {
		t.Fatalf("unparsed numbers should be empty cells, got %v", rows[2])
	}
}

func TestJSONWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "units.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if err := writer.Write([]*models.PropertyRecord{sampleRecord()}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var decoded []models.PropertyRecord
	for scanner.Scan() {
		var record models.PropertyRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		decoded = append(decoded, record)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(decoded) != 1 || decoded[0].UnitNo != "MV-1204" || decoded[0].Price == nil || *decoded[0].Price != 2450000 {
		t.Fatalf("unexpected decoded records: %+v", decoded)
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "units.csv")
	jsonPath := filepath.Join(dir, "units.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := writer.Write([]*models.PropertyRecord{sampleRecord()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, path := range []string{csvPath, jsonPath} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if info.Size() == 0 {
			t.Fatalf("%s is empty", path)
		}
	}
}

func TestSQLiteWriterUpserts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "units.db")

	writer, err := NewSQLiteWriter(path)
	if err != nil {
		t.Fatalf("create sqlite writer: %v", err)
	}
	defer writer.Close()

	first := sampleRecord()
	if err := writer.Write([]*models.PropertyRecord{first}); err != nil {
		t.Fatalf("first write: %v", err)
	}

	repriced := sampleRecord()
	newPrice := 2300000.0
	repriced.StartingPrice = "AED 2,300,000"
	repriced.Price = &newPrice
	other := &models.PropertyRecord{RowIndex: 1, Project: "Marina Vista", UnitNo: "MV-1205"}
	if err := writer.Write([]*models.PropertyRecord{repriced, other}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	units, err := writer.Units()
	if err != nil {
		t.Fatalf("units: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("units=%d, want 2", len(units))
	}
	if units[0].StartingPrice != "AED 2,300,000" || units[0].Price == nil || *units[0].Price != newPrice {
		t.Fatalf("expected repriced unit, got %+v", units[0])
	}
	if units[1].FloorNumber != nil || units[1].Price != nil {
		t.Fatalf("expected NULL numerics for unparsed unit, got %+v", units[1])
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestSQLiteWriterKeepsUnitsSharingCellRecordID(t *testing.T) {
	writer, err := NewSQLiteWriter(filepath.Join(t.TempDir(), "units.db"))
	if err != nil {
		t.Fatalf("create sqlite writer: %v", err)
	}
	defer writer.Close()

	records := []*models.PropertyRecord{
		{RowIndex: 0, Project: "Marina Vista", UnitNo: "MV-1204", RecordID: "Available", RecordIDSource: models.RecordIDFromCell},
		{RowIndex: 1, Project: "Marina Vista", UnitNo: "MV-1205", RecordID: "Available", RecordIDSource: models.RecordIDFromCell},
	}
	if err := writer.Write(records); err != nil {
		t.Fatalf("write: %v", err)
	}

	units, err := writer.Units()
	if err != nil {
		t.Fatalf("units: %v", err)
	}
	if len(units) != 2 || units[0].UnitNo != "MV-1204" || units[1].UnitNo != "MV-1205" {
		t.Fatalf("units = %+v, want both rows", units)
	}
}

func TestMultiWriterJoinsValidateErrors(t *testing.T) {
	ok := &mockWriter{}
	empty := &mockWriter{validateErr: os.ErrNotExist}
	w := NewMultiWriter(ok, empty)

	if err := w.Validate(); err == nil {
		t.Fatalf("expected validate error from second writer")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ok.closed || !empty.closed {
		t.Fatalf("expected every writer closed")
	}
}

func TestWriteResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "result.json")
	result := &models.RunResult{Success: true, Properties: []models.PropertyRecord{*sampleRecord()}}

	if err := WriteResult(path, result); err != nil {
		t.Fatalf("write result: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	var decoded models.RunResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !decoded.Success || len(decoded.Properties) != 1 {
		t.Fatalf("unexpected decoded result: %+v", decoded)
	}
}
