package parser

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-units/models"
)

// MinCells is the fewest cells a listing row can have and still carry every
// column of a PropertyRecord.
const MinCells = 7

var containerSelectors = []string{
	"lightning-datatable",
	"table.slds-table",
	`table[role="grid"]`,
	"table",
}

var rowSelectors = []string{
	"tbody tr",
	"tr[data-row-key-value]",
	"tr",
}

const (
	truncatedSelector = ".slds-truncate[title]"
	recordLinkSel     = `a[href*="/detail/"], a[href*="/lightning/r/"]`
	documentLinkSel   = `a[href$=".pdf"], a[href*="/sfc/servlet.shepherd/"], a[href*="download"]`
)

// Options tune extraction. A zero MaxResults means no cap.
type Options struct {
	MaxResults   int
	Filters      map[string]string
	SpecificUnit string
	BaseURL      string
	Logger       *slog.Logger
}

// ExtractRecords maps each row of the listing table in html to a
// PropertyRecord. Rows with too few cells or without a unit number and
// project are skipped. It never fails: unusable input yields no records.
func ExtractRecords(html string, opts Options) []models.PropertyRecord {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		logger.Error("parse listing table", slog.Any("error", err))
		return []models.PropertyRecord{}
	}

	rows := findRows(doc.Selection)
	if rows.Length() == 0 {
		logger.Warn("listing table has no rows")
		return []models.PropertyRecord{}
	}

	base, _ := url.Parse(opts.BaseURL)
	records := make([]models.PropertyRecord, 0, rows.Length())
	skipped := 0
	rows.Each(func(i int, row *goquery.Selection) {
		record, err := parseRow(i, row, base)
		if err != nil {
			skipped++
			logger.Debug("skip listing row", slog.Any("error", err))
			return
		}
		if !matches(record, opts) {
			return
		}
		records = append(records, *record)
	})

	if opts.MaxResults > 0 && len(records) > opts.MaxResults {
		records = records[:opts.MaxResults]
	}
	logger.Info("extracted listing rows",
		slog.Int("rows", rows.Length()),
		slog.Int("records", len(records)),
		slog.Int("skipped", skipped),
	)
	return records
}

func findRows(root *goquery.Selection) *goquery.Selection {
	for _, containerSel := range containerSelectors {
		container := root.Find(containerSel).First()
		if container.Length() == 0 {
			continue
		}
		for _, rowSel := range rowSelectors {
			rows := container.Find(rowSel).FilterFunction(func(_ int, s *goquery.Selection) bool {
				return s.ParentsFiltered("thead").Length() == 0
			})
			if rows.Length() > 0 {
				return rows
			}
		}
	}
	return root.Find("tr").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.ParentsFiltered("thead").Length() == 0
	})
}

func parseRow(index int, row *goquery.Selection, base *url.URL) (*models.PropertyRecord, error) {
	cells := row.ChildrenFiltered("th, td")
	if cells.Length() < MinCells {
		return nil, RowParseError{Row: index, Err: fmt.Errorf("%d cells, need %d", cells.Length(), MinCells)}
	}

	text := make([]string, cells.Length())
	cells.Each(func(i int, cell *goquery.Selection) {
		text[i] = cellText(cell)
	})

	record := &models.PropertyRecord{
		RowIndex:        index,
		ProjectCategory: text[0],
		Project:         text[1],
		UnitType:        text[2],
		Floor:           text[3],
		UnitNo:          text[4],
		TotalUnitArea:   text[5],
		StartingPrice:   text[6],
	}
	record.FloorNumber = ParseInt(record.Floor)
	record.Area = ParseFloat(record.TotalUnitArea)
	record.Price = ParseFloat(record.StartingPrice)
	record.RecordID, record.RecordIDSource = recordID(row, text)
	if href, ok := row.Find(documentLinkSel).First().Attr("href"); ok {
		record.DocumentURL = resolve(base, href)
	}

	if err := ValidateRecord(record); err != nil {
		return nil, RowParseError{Row: index, Err: err}
	}
	return record, nil
}

// cellText prefers the title of a truncated span, which holds the full
// value when the visible text is elided.
func cellText(cell *goquery.Selection) string {
	if title, ok := cell.Find(truncatedSelector).First().Attr("title"); ok {
		if t := NormalizeText(title); t != "" {
			return t
		}
	}
	return NormalizeText(cell.Text())
}

func recordID(row *goquery.Selection, text []string) (string, string) {
	if key, ok := row.Attr("data-row-key-value"); ok && strings.TrimSpace(key) != "" {
		return strings.TrimSpace(key), models.RecordIDFromRowKey
	}
	if href, ok := row.Find(recordLinkSel).First().Attr("href"); ok {
		if u, err := url.Parse(href); err == nil {
			if id := recordIDFromPath(u.Path); id != "" {
				return id, models.RecordIDFromLink
			}
		}
	}
	if len(text) > MinCells && text[MinCells] != "" {
		return text[MinCells], models.RecordIDFromCell
	}
	return "", ""
}

// recordIDFromPath returns the segment after "detail" or "r/<object>",
// e.g. /s/detail/a0X5g000001 or /lightning/r/Unit__c/a0X5g000001/view.
func recordIDFromPath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		switch part {
		case "detail":
			if i+1 < len(parts) {
				return parts[i+1]
			}
		case "r":
			if i+2 < len(parts) {
				return parts[i+2]
			}
		}
	}
	return ""
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	if base == nil || ref.IsAbs() {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func matches(p *models.PropertyRecord, opts Options) bool {
	if unit := strings.TrimSpace(opts.SpecificUnit); unit != "" {
		if !strings.EqualFold(strings.TrimSpace(p.UnitNo), unit) {
			return false
		}
	}
	for column, want := range opts.Filters {
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		got, known := columnValue(p, column)
		if !known {
			continue
		}
		if !strings.Contains(strings.ToLower(got), strings.ToLower(want)) {
			return false
		}
	}
	return true
}

// columnValue looks up a record field by a loosely spelled column name:
// "unitType", "unit_type" and "Unit Type" all resolve the same field.
func columnValue(p *models.PropertyRecord, name string) (string, bool) {
	key := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(name))
	switch key {
	case "projectcategory", "category":
		return p.ProjectCategory, true
	case "project":
		return p.Project, true
	case "unittype", "type":
		return p.UnitType, true
	case "floor":
		return p.Floor, true
	case "unitno", "unit", "unitnumber":
		return p.UnitNo, true
	case "totalunitarea", "area":
		return p.TotalUnitArea, true
	case "startingprice", "price":
		return p.StartingPrice, true
	}
	return "", false
}
