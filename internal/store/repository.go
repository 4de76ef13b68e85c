package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	_ "modernc.org/sqlite"

	"github.com/galois26/procurement-ingester/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - tender_records with supplier sub-identity columns and typed payload
const currentSchemaVersion = 1

const timeLayout = time.RFC3339Nano

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidRecord = errors.New("record lacks source name, id, title or a supported buyer country")
)

// Repository persists tender records idempotently, keyed by
// (source_name, source_record_id).
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

type Option func(*Repository)

// WithNow replaces the clock used for created_at and updated_at.
func WithNow(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// Open creates or opens the SQLite database at path and brings the schema
// up to date. The handle is limited to one connection; SQLite has a single
// writer.
func Open(ctx context.Context, path string, opts ...Option) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	r := New(db, opts...)
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// New wraps an existing handle. The schema is assumed to be in place.
func New(db *sql.DB, opts ...Option) *Repository {
	r := &Repository{db: db, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) migrate(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := r.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	var version int
	if err := r.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

const upsertSQL = `INSERT INTO tender_records (
    source_name, source_record_id, title, description, agency, buyer_country,
    award_amount, currency, award_date,
    supplier_name, supplier_registry_id, supplier_classification_code,
    data_source_url, raw_payload, raw_payload_format, raw_payload_version, tags,
    created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source_name, source_record_id) DO UPDATE SET
    title = excluded.title,
    description = excluded.description,
    agency = excluded.agency,
    buyer_country = excluded.buyer_country,
    award_amount = excluded.award_amount,
    currency = excluded.currency,
    award_date = excluded.award_date,
    supplier_name = excluded.supplier_name,
    supplier_registry_id = excluded.supplier_registry_id,
    supplier_classification_code = excluded.supplier_classification_code,
    data_source_url = excluded.data_source_url,
    raw_payload = excluded.raw_payload,
    raw_payload_format = excluded.raw_payload_format,
    raw_payload_version = excluded.raw_payload_version,
    tags = excluded.tags,
    updated_at = excluded.updated_at`

// Upsert inserts rec or overwrites every mutable column of the existing
// row with the same identity. created_at is kept from the first insert.
func (r *Repository) Upsert(ctx context.Context, rec model.TenderRecord) error {
	if rec.SourceName == "" || rec.SourceRecordID == "" || rec.Title == "" || !rec.BuyerCountry.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, rec.Key())
	}
	tags, err := json.Marshal(nonNilTags(rec.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	now := r.now().UTC().Format(timeLayout)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	_, err = tx.ExecContext(ctx, upsertSQL,
		rec.SourceName, rec.SourceRecordID, rec.Title,
		nullStr(rec.Description), nullStr(rec.Agency), string(rec.BuyerCountry),
		nullFloat(rec.AwardAmount), nullStr(rec.Currency), nullDate(rec.AwardDate),
		nullStr(rec.Supplier.Name), nullStr(rec.Supplier.RegistryID), nullStr(rec.Supplier.ClassificationCode),
		nullStr(rec.DataSourceURL), nullBytes(rec.RawPayload.Data), nullStr(string(rec.RawPayload.Format)), rec.RawPayload.Version,
		string(tags), now, now,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert %s: %w", rec.Key(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", rec.Key(), err)
	}
	return nil
}

// BulkUpsert upserts every record of seq in order and returns how many were
// written. It stops at the first failure.
func (r *Repository) BulkUpsert(ctx context.Context, seq iter.Seq[model.TenderRecord]) (int, error) {
	n := 0
	for rec := range seq {
		if err := r.Upsert(ctx, rec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

const selectSQL = `SELECT source_name, source_record_id, title, description, agency, buyer_country,
    award_amount, currency, award_date,
    supplier_name, supplier_registry_id, supplier_classification_code,
    data_source_url, raw_payload, raw_payload_format, raw_payload_version, tags,
    created_at, updated_at
FROM tender_records WHERE source_name = ? AND source_record_id = ?`

// Get loads one record by identity. It returns ErrNotFound when absent.
func (r *Repository) Get(ctx context.Context, sourceName, recordID string) (model.TenderRecord, error) {
	var (
		rec                                  model.TenderRecord
		desc, agency, currency, awardDate    sql.NullString
		supName, supRegistry, supClass, link sql.NullString
		format                               sql.NullString
		version                              sql.NullInt64
		amount                               sql.NullFloat64
		payload                              []byte
		country, tags, createdAt, updatedAt  string
	)
	err := r.db.QueryRowContext(ctx, selectSQL, sourceName, recordID).Scan(
		&rec.SourceName, &rec.SourceRecordID, &rec.Title, &desc, &agency, &country,
		&amount, &currency, &awardDate,
		&supName, &supRegistry, &supClass,
		&link, &payload, &format, &version, &tags,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TenderRecord{}, fmt.Errorf("%w: %s::%s", ErrNotFound, sourceName, recordID)
	}
	if err != nil {
		return model.TenderRecord{}, fmt.Errorf("get %s::%s: %w", sourceName, recordID, err)
	}

	rec.Description, rec.Agency, rec.Currency = desc.String, agency.String, currency.String
	rec.BuyerCountry = model.Country(country)
	if amount.Valid {
		v := amount.Float64
		rec.AwardAmount = &v
	}
	if awardDate.Valid {
		d, err := parseAwardDate(awardDate.String)
		if err != nil {
			return model.TenderRecord{}, fmt.Errorf("decode award_date of %s::%s: %w", sourceName, recordID, err)
		}
		rec.AwardDate = &d
	}
	rec.Supplier = model.Supplier{Name: supName.String, RegistryID: supRegistry.String, ClassificationCode: supClass.String}
	rec.DataSourceURL = link.String
	rec.RawPayload = model.Payload{Version: int(version.Int64), Format: model.PayloadFormat(format.String), Data: payload}
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return model.TenderRecord{}, fmt.Errorf("decode tags of %s::%s: %w", sourceName, recordID, err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.TenderRecord{}, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.TenderRecord{}, err
	}
	return rec, nil
}

// Count returns the number of stored records.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tender_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// CountBySource returns the number of stored records per source_name.
func (r *Repository) CountBySource(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT source_name, COUNT(*) FROM tender_records GROUP BY source_name")
	if err != nil {
		return nil, fmt.Errorf("count by source: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("count by source: %w", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}

// parseTime reads our own timestamps and SQLite's CURRENT_TIMESTAMP default.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.DateTime} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// nullDate keeps the zone offset the source published.
func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(timeLayout)
}

// parseAwardDate also accepts bare dates written by hand or by older rows.
func parseAwardDate(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
