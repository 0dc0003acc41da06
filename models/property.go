// Package models defines data structures for the scraper.
package models

import "time"

// Session identifies one scrape run in logs, metrics and output.
type Session struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"startTime"`
}

// PropertyRecord is one unit row from the portal's listing table.
// Numeric fields are nil when the display text could not be parsed.
type PropertyRecord struct {
	RowIndex        int      `csv:"row_index" json:"rowIndex" db:"row_index"`
	ProjectCategory string   `csv:"project_category" json:"projectCategory" db:"project_category"`
	Project         string   `csv:"project" json:"project" db:"project"`
	UnitType        string   `csv:"unit_type" json:"unitType" db:"unit_type"`
	Floor           string   `csv:"floor" json:"floor" db:"floor"`
	UnitNo          string   `csv:"unit_no" json:"unitNo" db:"unit_no"`
	TotalUnitArea   string   `csv:"total_unit_area" json:"totalUnitArea" db:"total_unit_area"`
	StartingPrice   string   `csv:"starting_price" json:"startingPrice" db:"starting_price"`
	RecordID        string   `csv:"record_id" json:"recordId" db:"record_id"`
	DocumentURL     string   `csv:"document_url" json:"documentUrl,omitempty" db:"document_url"`
	FloorNumber     *int     `csv:"floor_number" json:"floorNumber" db:"floor_number"`
	Area            *float64 `csv:"area" json:"area" db:"area"`
	Price           *float64 `csv:"price" json:"price" db:"price"`

	// RecordIDSource says where RecordID was read from. It is not persisted.
	RecordIDSource string `csv:"-" json:"-" db:"-"`
}

// Record id sources. Cell text is display data and is not unique.
const (
	RecordIDFromRowKey = "row_key"
	RecordIDFromLink   = "link"
	RecordIDFromCell   = "cell"
)

// Key identifies a record for de-duplication. A portal record id wins
// unless it was read from cell text, falling back to project and unit
// number.
func (p *PropertyRecord) Key() string {
	if p.RecordID != "" && p.RecordIDSource != RecordIDFromCell {
		return p.RecordID
	}
	return p.Project + "|" + p.UnitNo
}
