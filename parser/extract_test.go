package parser

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-units/models"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func unitRow(key string, cells ...string) string {
	var b strings.Builder
	if key != "" {
		fmt.Fprintf(&b, `<tr data-row-key-value="%s">`, key)
	} else {
		b.WriteString("<tr>")
	}
	for _, c := range cells {
		fmt.Fprintf(&b, "<td>%s</td>", c)
	}
	b.WriteString("</tr>")
	return b.String()
}

func listingTable(rows ...string) string {
	return `<lightning-datatable><table class="slds-table"><thead><tr>` +
		`<th>Category</th><th>Project</th><th>Type</th><th>Floor</th><th>Unit</th><th>Area</th><th>Price</th>` +
		`</tr></thead><tbody>` + strings.Join(rows, "") + `</tbody></table></lightning-datatable>`
}

func TestExtractRecordsMapsColumns(t *testing.T) {
	html := listingTable(
		unitRow("a0X5g000001",
			"Residential",
			`<span class="slds-truncate" title="Marina Vista Tower B">Marina Vista Tow…</span>`,
			"2BR",
			"Floor 12",
			"MV-1204",
			"1,250.50 sq ft",
			`1,234,567 AED <a href="/sfc/servlet.shepherd/document/download/069XX">Floor plan</a>`,
		),
	)

	records := ExtractRecords(html, Options{BaseURL: "https://partner-portal.example.com/s/available-units", Logger: quietLogger})
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, 0, got.RowIndex)
	assert.Equal(t, "Residential", got.ProjectCategory)
	assert.Equal(t, "Marina Vista Tower B", got.Project)
	assert.Equal(t, "2BR", got.UnitType)
	assert.Equal(t, "MV-1204", got.UnitNo)
	assert.Equal(t, "a0X5g000001", got.RecordID)
	assert.Equal(t, models.RecordIDFromRowKey, got.RecordIDSource)
	assert.Equal(t, "https://partner-portal.example.com/sfc/servlet.shepherd/document/download/069XX", got.DocumentURL)
	require.NotNil(t, got.FloorNumber)
	assert.Equal(t, 12, *got.FloorNumber)
	require.NotNil(t, got.Area)
	assert.InDelta(t, 1250.5, *got.Area, 1e-9)
	require.NotNil(t, got.Price)
	assert.Equal(t, 1234567.0, *got.Price)
}

func TestExtractRecordsUnparseableNumbersAreNil(t *testing.T) {
	html := listingTable(unitRow("", "Commercial", "Harbour Point", "Retail", "G", "HP-G01", "TBC", ""))

	records := ExtractRecords(html, Options{Logger: quietLogger})
	require.Len(t, records, 1)
	assert.Nil(t, records[0].FloorNumber)
	assert.Nil(t, records[0].Area)
	assert.Nil(t, records[0].Price)
}

func TestExtractRecordsSkipsShortRows(t *testing.T) {
	html := listingTable(
		unitRow("", "Residential", "Marina Vista", "2BR", "12", "MV-1204", "1,250"),
		unitRow("", "Residential", "Marina Vista", "3BR", "14", "MV-1402", "1,800", "2,100,000"),
	)

	records := ExtractRecords(html, Options{Logger: quietLogger})
	require.Len(t, records, 1)
	assert.Equal(t, "MV-1402", records[0].UnitNo)
	assert.Equal(t, 1, records[0].RowIndex)
}

func TestExtractRecordsDropsRowsWithoutUnitAndProject(t *testing.T) {
	html := listingTable(
		unitRow("", "Residential", "", "2BR", "12", "", "1,250", "1,234,567 AED"),
		unitRow("", "Residential", "", "2BR", "12", "MV-1204", "1,250", "1,234,567 AED"),
		unitRow("", "Residential", "Marina Vista", "2BR", "12", "", "1,250", "1,234,567 AED"),
	)

	records := ExtractRecords(html, Options{Logger: quietLogger})
	require.Len(t, records, 2)
	for _, r := range records {
		assert.True(t, r.UnitNo != "" || r.Project != "", "record %+v has neither unit nor project", r)
	}
}

func TestExtractRecordsTruncatesToMaxResults(t *testing.T) {
	rows := make([]string, 20)
	for i := range rows {
		rows[i] = unitRow("", "Residential", "Marina Vista", "1BR", fmt.Sprint(i+1), fmt.Sprintf("MV-%02d", i), "800", "900,000")
	}

	records := ExtractRecords(listingTable(rows...), Options{MaxResults: 5, Logger: quietLogger})
	require.Len(t, records, 5)
	for i, r := range records {
		assert.Equal(t, fmt.Sprintf("MV-%02d", i), r.UnitNo)
	}
}

func TestExtractRecordsIsIdempotent(t *testing.T) {
	html := listingTable(
		unitRow("k1", "Residential", "Marina Vista", "2BR", "12", "MV-1204", "1,250", "1,234,567 AED"),
		unitRow("k2", "Residential", "Marina Vista", "3BR", "14", "MV-1402", "1,800", "2,100,000 AED"),
	)
	opts := Options{MaxResults: 10, Logger: quietLogger}

	first := ExtractRecords(html, opts)
	second := ExtractRecords(html, opts)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("extraction not idempotent (-first +second):\n%s", diff)
	}
}

func TestExtractRecordsFiltersAndSpecificUnit(t *testing.T) {
	html := listingTable(
		unitRow("", "Residential", "Marina Vista", "2BR", "12", "MV-1204", "1,250", "1,234,567"),
		unitRow("", "Residential", "Harbour Point", "2BR", "3", "HP-0301", "1,100", "990,000"),
		unitRow("", "Commercial", "Marina Vista", "Retail", "G", "MV-G01", "600", "2,000,000"),
	)

	tests := []struct {
		name  string
		opts  Options
		units []string
	}{
		{name: "no filters", opts: Options{}, units: []string{"MV-1204", "HP-0301", "MV-G01"}},
		{name: "project substring", opts: Options{Filters: map[string]string{"project": "marina"}}, units: []string{"MV-1204", "MV-G01"}},
		{name: "two columns", opts: Options{Filters: map[string]string{"project": "Marina", "unit_type": "2br"}}, units: []string{"MV-1204"}},
		{name: "unknown column ignored", opts: Options{Filters: map[string]string{"view": "sea"}}, units: []string{"MV-1204", "HP-0301", "MV-G01"}},
		{name: "specific unit", opts: Options{SpecificUnit: "hp-0301"}, units: []string{"HP-0301"}},
		{name: "specific unit missing", opts: Options{SpecificUnit: "XX-1"}, units: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Logger = quietLogger
			var units []string
			for _, r := range ExtractRecords(html, tt.opts) {
				units = append(units, r.UnitNo)
			}
			assert.Equal(t, tt.units, units)
		})
	}
}

func TestExtractRecordsFallbackSelectors(t *testing.T) {
	html := `<div><table role="grid"><tr>` +
		`<td>Residential</td><td>Marina Vista</td><td>2BR</td><td>12</td><td>MV-1204</td><td>1,250</td><td>1,234,567</td>` +
		`<td><a href="/s/detail/a0X5g000009">View</a></td></tr></table></div>`

	records := ExtractRecords(html, Options{Logger: quietLogger})
	require.Len(t, records, 1)
	assert.Equal(t, "a0X5g000009", records[0].RecordID)
	assert.Equal(t, models.RecordIDFromLink, records[0].RecordIDSource)
}

func TestExtractRecordsCellRecordIDDoesNotKey(t *testing.T) {
	html := listingTable(
		unitRow("", "Residential", "Marina Vista", "2BR", "12", "MV-1204", "1,250", "1,234,567", "Available"),
		unitRow("", "Residential", "Marina Vista", "2BR", "12", "MV-1205", "1,250", "1,234,567", "Available"),
	)

	records := ExtractRecords(html, Options{Logger: quietLogger})
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "Available", r.RecordID)
		assert.Equal(t, models.RecordIDFromCell, r.RecordIDSource)
	}
	assert.NotEqual(t, records[0].Key(), records[1].Key())
	assert.Equal(t, "Marina Vista|MV-1204", records[0].Key())
}

func TestExtractRecordsEmptyInput(t *testing.T) {
	for _, html := range []string{"", "<div>no table here</div>"} {
		records := ExtractRecords(html, Options{Logger: quietLogger})
		assert.NotNil(t, records)
		assert.Empty(t, records)
	}
}
