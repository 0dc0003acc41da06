package pipeline

import (
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-scrape-units/models"
)

const unitsSchema = `
CREATE TABLE IF NOT EXISTS units (
	record_key       TEXT PRIMARY KEY,
	row_index        INTEGER NOT NULL,
	project_category TEXT NOT NULL,
	project          TEXT NOT NULL,
	unit_type        TEXT NOT NULL,
	floor            TEXT NOT NULL,
	unit_no          TEXT NOT NULL,
	total_unit_area  TEXT NOT NULL,
	starting_price   TEXT NOT NULL,
	record_id        TEXT NOT NULL,
	document_url     TEXT NOT NULL,
	floor_number     INTEGER,
	area             REAL,
	price            REAL,
	scraped_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

const upsertUnit = `
INSERT INTO units (
	record_key, row_index, project_category, project, unit_type, floor, unit_no,
	total_unit_area, starting_price, record_id, document_url, floor_number, area, price
) VALUES (
	:record_key, :row_index, :project_category, :project, :unit_type, :floor, :unit_no,
	:total_unit_area, :starting_price, :record_id, :document_url, :floor_number, :area, :price
)
ON CONFLICT(record_key) DO UPDATE SET
	row_index = excluded.row_index,
	project_category = excluded.project_category,
	project = excluded.project,
	unit_type = excluded.unit_type,
	floor = excluded.floor,
	unit_no = excluded.unit_no,
	total_unit_area = excluded.total_unit_area,
	starting_price = excluded.starting_price,
	record_id = excluded.record_id,
	document_url = excluded.document_url,
	floor_number = excluded.floor_number,
	area = excluded.area,
	price = excluded.price,
	scraped_at = CURRENT_TIMESTAMP`

type unitRow struct {
	Key string `db:"record_key"`
	models.PropertyRecord
}

// SQLiteWriter upserts records into a units table keyed by record key, so
// repeated runs refresh rather than duplicate a unit.
type SQLiteWriter struct {
	db      *sqlx.DB
	written int
	mu      sync.Mutex
}

// NewSQLiteWriter opens (or creates) the database at dsn.
func NewSQLiteWriter(dsn string) (*SQLiteWriter, error) {
	if dsn != ":memory:" {
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
	}
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(unitsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create units table: %w", err)
	}
	return &SQLiteWriter{db: db}, nil
}

// Write upserts the batch in one transaction.
func (sw *SQLiteWriter) Write(records []*models.PropertyRecord) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	tx, err := sw.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	stmt, err := tx.PrepareNamed(upsertUnit)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(unitRow{Key: r.Key(), PropertyRecord: *r}); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert unit %s: %w", r.Key(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite tx: %w", err)
	}
	sw.written += len(records)
	return nil
}

// Units reads back every stored unit in row order.
func (sw *SQLiteWriter) Units() ([]models.PropertyRecord, error) {
	var rows []unitRow
	if err := sw.db.Select(&rows, `SELECT record_key, row_index, project_category, project, unit_type, floor, unit_no,
		total_unit_area, starting_price, record_id, document_url, floor_number, area, price
		FROM units ORDER BY row_index, record_key`); err != nil {
		return nil, fmt.Errorf("select units: %w", err)
	}
	out := make([]models.PropertyRecord, len(rows))
	for i, r := range rows {
		out[i] = r.PropertyRecord
	}
	return out, nil
}

// Close closes the database handle.
func (sw *SQLiteWriter) Close() error {
	return sw.db.Close()
}

// Validate ensures this writer stored at least one record.
func (sw *SQLiteWriter) Validate() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.written == 0 {
		return fmt.Errorf("sqlite writer stored no records")
	}
	return nil
}
