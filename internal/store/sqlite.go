package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/bureau-cli/internal/model"
)

const sqliteDateLayout = "2006-01-02"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Foreign keys are enabled on every pooled connection so deletes cascade.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+"_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS reports (
	id                   TEXT PRIMARY KEY,
	document_path        TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'pending',
	consolidation_status TEXT NOT NULL DEFAULT 'pending',
	canonical_text       TEXT NOT NULL DEFAULT '',
	error                TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extraction_results (
	id                  TEXT PRIMARY KEY,
	report_id           TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
	extraction_method   TEXT NOT NULL,
	extracted_text      TEXT NOT NULL,
	processing_time_ms  INTEGER NOT NULL DEFAULT 0,
	character_count     INTEGER NOT NULL DEFAULT 0,
	word_count          INTEGER NOT NULL DEFAULT 0,
	confidence_score    REAL NOT NULL,
	has_structured_data INTEGER NOT NULL DEFAULT 0,
	metadata            TEXT,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS consolidation_metadata (
	report_id              TEXT PRIMARY KEY REFERENCES reports(id) ON DELETE CASCADE,
	primary_source         TEXT NOT NULL,
	consolidation_strategy TEXT NOT NULL,
	confidence_level       REAL NOT NULL,
	field_sources          TEXT NOT NULL DEFAULT '{}',
	conflicts              TEXT NOT NULL DEFAULT '[]',
	conflict_count         INTEGER NOT NULL DEFAULT 0,
	requires_human_review  INTEGER NOT NULL DEFAULT 0,
	notes                  TEXT NOT NULL DEFAULT '',
	updated_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS personal_info (
	report_id     TEXT PRIMARY KEY REFERENCES reports(id) ON DELETE CASCADE,
	full_name     TEXT NOT NULL DEFAULT '',
	ssn_last4     TEXT NOT NULL DEFAULT '',
	date_of_birth TEXT,
	address       TEXT NOT NULL DEFAULT '',
	confidence    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS credit_accounts (
	id             TEXT PRIMARY KEY,
	report_id      TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
	creditor_name  TEXT NOT NULL,
	account_number TEXT NOT NULL DEFAULT '',
	balance        REAL,
	status         TEXT NOT NULL,
	is_negative    INTEGER NOT NULL DEFAULT 0,
	confidence     REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS credit_inquiries (
	id            TEXT PRIMARY KEY,
	report_id     TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
	inquirer_name TEXT NOT NULL,
	inquiry_date  TEXT,
	inquiry_type  TEXT NOT NULL DEFAULT 'hard',
	confidence    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS negative_items (
	id               TEXT PRIMARY KEY,
	report_id        TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
	category         TEXT NOT NULL,
	description      TEXT NOT NULL,
	severity         INTEGER NOT NULL,
	dispute_eligible INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
CREATE INDEX IF NOT EXISTS idx_extraction_results_report ON extraction_results(report_id);
CREATE INDEX IF NOT EXISTS idx_credit_accounts_report ON credit_accounts(report_id);
CREATE INDEX IF NOT EXISTS idx_credit_inquiries_report ON credit_inquiries(report_id);
CREATE INDEX IF NOT EXISTS idx_negative_items_report ON negative_items(report_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateReport(ctx context.Context, documentPath string) (*model.Report, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, document_path, status, consolidation_status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, documentPath, string(model.ReportStatusPending), string(model.ReportStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert report")
	}

	return &model.Report{
		ID:                  id,
		DocumentPath:        documentPath,
		Status:              model.ReportStatusPending,
		ConsolidationStatus: model.ReportStatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*model.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("report", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close() //nolint:errcheck

	var reports []model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

func (s *SQLiteStore) UpdateReportStatus(ctx context.Context, id string, status model.ReportStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), model.TruncateError(errMsg), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update report status %s", id)
	}
	return checkRowsAffected(res, "report", id)
}

func (s *SQLiteStore) UpdateConsolidationStatus(ctx context.Context, id string, status model.ReportStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET consolidation_status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update consolidation status %s", id)
	}
	return checkRowsAffected(res, "report", id)
}

func (s *SQLiteStore) SetCanonicalText(ctx context.Context, id, text string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET canonical_text = ?, updated_at = ? WHERE id = ?`,
		text, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set canonical text %s", id)
	}
	return checkRowsAffected(res, "report", id)
}

func (s *SQLiteStore) DeleteReport(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete report %s", id)
	}
	return checkRowsAffected(res, "report", id)
}

func (s *SQLiteStore) InsertExtractionResult(ctx context.Context, r *model.ExtractionResult) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	var metaJSON sql.NullString
	if len(r.Metadata) > 0 {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal extraction metadata")
		}
		metaJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_results (id, report_id, extraction_method, extracted_text, processing_time_ms,
			character_count, word_count, confidence_score, has_structured_data, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ReportID, r.ExtractionMethod, r.ExtractedText, r.ProcessingTimeMs,
		r.CharacterCount, r.WordCount, r.ConfidenceScore, r.HasStructuredData, metaJSON, r.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert extraction result for report %s", r.ReportID)
}

func (s *SQLiteStore) ListExtractionResults(ctx context.Context, reportID string) ([]model.ExtractionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, report_id, extraction_method, extracted_text, processing_time_ms, character_count,
			word_count, confidence_score, has_structured_data, metadata, created_at
		 FROM extraction_results WHERE report_id = ? ORDER BY created_at, rowid`,
		reportID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list extraction results %s", reportID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ExtractionResult
	for rows.Next() {
		var r model.ExtractionResult
		var metaJSON sql.NullString
		if err := rows.Scan(&r.ID, &r.ReportID, &r.ExtractionMethod, &r.ExtractedText, &r.ProcessingTimeMs,
			&r.CharacterCount, &r.WordCount, &r.ConfidenceScore, &r.HasStructuredData, &metaJSON, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction result")
		}
		if metaJSON.Valid {
			if err := json.Unmarshal([]byte(metaJSON.String), &r.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal extraction metadata")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list extraction results iterate")
}

func (s *SQLiteStore) GetConsolidation(ctx context.Context, reportID string) (*model.ConsolidationMetadata, error) {
	var m model.ConsolidationMetadata
	var sourcesJSON, conflictsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT report_id, primary_source, consolidation_strategy, confidence_level, field_sources,
			conflicts, conflict_count, requires_human_review, notes, updated_at
		 FROM consolidation_metadata WHERE report_id = ?`,
		reportID,
	).Scan(&m.ReportID, &m.PrimarySource, &m.Strategy, &m.ConfidenceLevel, &sourcesJSON,
		&conflictsJSON, &m.ConflictCount, &m.RequiresHumanReview, &m.Notes, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get consolidation %s", reportID)
	}
	if err := unmarshalConsolidation(&m, []byte(sourcesJSON), []byte(conflictsJSON)); err != nil {
		return nil, eris.Wrap(err, "sqlite: get consolidation")
	}
	return &m, nil
}

func (s *SQLiteStore) ReplaceCanonical(ctx context.Context, reportID string, entities *model.EntitySet, meta *model.ConsolidationMetadata) error {
	if meta == nil {
		return eris.New("sqlite: replace canonical: nil consolidation metadata")
	}
	return s.inTx(ctx, "replace canonical", func(tx *sql.Tx) error {
		if err := replaceEntitiesSQLite(ctx, tx, reportID, entities); err != nil {
			return err
		}
		return upsertConsolidationSQLite(ctx, tx, reportID, meta)
	})
}

func (s *SQLiteStore) ReplaceEntities(ctx context.Context, reportID string, entities *model.EntitySet) error {
	return s.inTx(ctx, "replace entities", func(tx *sql.Tx) error {
		return replaceEntitiesSQLite(ctx, tx, reportID, entities)
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s: begin tx", op)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return eris.Wrapf(err, "sqlite: %s", op)
	}
	return eris.Wrapf(tx.Commit(), "sqlite: %s: commit tx", op)
}

func replaceEntitiesSQLite(ctx context.Context, tx *sql.Tx, reportID string, entities *model.EntitySet) error {
	e := assignIDs(reportID, entities)

	for _, table := range entityTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE report_id = ?`, reportID); err != nil {
			return eris.Wrapf(err, "clear %s", table)
		}
	}

	if p := e.PersonalInfo; p.FieldCount() > 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO personal_info (report_id, full_name, ssn_last4, date_of_birth, address, confidence) VALUES (?, ?, ?, ?, ?, ?)`,
			reportID, p.FullName, p.SSNLast4, formatDate(p.DateOfBirth), p.Address, p.Confidence,
		); err != nil {
			return eris.Wrap(err, "insert personal_info")
		}
	}
	for _, row := range accountRows(e.Accounts) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO credit_accounts (`+strings.Join(accountColumns, ", ")+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			row...,
		); err != nil {
			return eris.Wrap(err, "insert credit_accounts")
		}
	}
	for _, q := range e.Inquiries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO credit_inquiries (`+strings.Join(inquiryColumns, ", ")+`) VALUES (?, ?, ?, ?, ?, ?)`,
			q.ID, q.ReportID, q.InquirerName, formatDate(q.InquiryDate), string(q.InquiryType), q.Confidence,
		); err != nil {
			return eris.Wrap(err, "insert credit_inquiries")
		}
	}
	for _, row := range negativeRows(e.NegativeItems) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO negative_items (`+strings.Join(negativeColumns, ", ")+`) VALUES (?, ?, ?, ?, ?, ?)`,
			row...,
		); err != nil {
			return eris.Wrap(err, "insert negative_items")
		}
	}
	return nil
}

func upsertConsolidationSQLite(ctx context.Context, tx *sql.Tx, reportID string, m *model.ConsolidationMetadata) error {
	sourcesJSON, conflictsJSON, err := marshalConsolidation(m)
	if err != nil {
		return err
	}
	m.ReportID = reportID
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO consolidation_metadata (`+strings.Join(consolidationColumns, ", ")+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(report_id) DO UPDATE SET
			primary_source = excluded.primary_source,
			consolidation_strategy = excluded.consolidation_strategy,
			confidence_level = excluded.confidence_level,
			field_sources = excluded.field_sources,
			conflicts = excluded.conflicts,
			conflict_count = excluded.conflict_count,
			requires_human_review = excluded.requires_human_review,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		reportID, m.PrimarySource, string(m.Strategy), m.ConfidenceLevel, string(sourcesJSON),
		string(conflictsJSON), m.ConflictCount, m.RequiresHumanReview, m.Notes, m.UpdatedAt,
	)
	return eris.Wrap(err, "upsert consolidation_metadata")
}

func (s *SQLiteStore) GetEntities(ctx context.Context, reportID string) (*model.EntitySet, error) {
	e := &model.EntitySet{}

	var p model.PersonalInfo
	var dob sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT report_id, full_name, ssn_last4, date_of_birth, address, confidence FROM personal_info WHERE report_id = ?`,
		reportID,
	).Scan(&p.ReportID, &p.FullName, &p.SSNLast4, &dob, &p.Address, &p.Confidence)
	switch {
	case err == nil:
		if p.DateOfBirth, err = parseDate(dob); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse date of birth %s", reportID)
		}
		e.PersonalInfo = &p
	case !errors.Is(err, sql.ErrNoRows):
		return nil, eris.Wrapf(err, "sqlite: get personal info %s", reportID)
	}

	if e.Accounts, err = s.accounts(ctx, reportID); err != nil {
		return nil, err
	}
	if e.Inquiries, err = s.inquiries(ctx, reportID); err != nil {
		return nil, err
	}
	if e.NegativeItems, err = s.negativeItems(ctx, reportID); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLiteStore) accounts(ctx context.Context, reportID string) ([]model.CreditAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, report_id, creditor_name, account_number, balance, status, is_negative, confidence
		 FROM credit_accounts WHERE report_id = ? ORDER BY creditor_name, id`, reportID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get accounts %s", reportID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CreditAccount
	for rows.Next() {
		var a model.CreditAccount
		var balance sql.NullFloat64
		if err := rows.Scan(&a.ID, &a.ReportID, &a.CreditorName, &a.AccountNumber, &balance, &a.Status, &a.IsNegative, &a.Confidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan account")
		}
		if balance.Valid {
			b := balance.Float64
			a.Balance = &b
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: accounts iterate")
}

func (s *SQLiteStore) inquiries(ctx context.Context, reportID string) ([]model.CreditInquiry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, report_id, inquirer_name, inquiry_date, inquiry_type, confidence
		 FROM credit_inquiries WHERE report_id = ? ORDER BY inquiry_date, inquirer_name`, reportID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get inquiries %s", reportID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CreditInquiry
	for rows.Next() {
		var q model.CreditInquiry
		var date sql.NullString
		if err := rows.Scan(&q.ID, &q.ReportID, &q.InquirerName, &date, &q.InquiryType, &q.Confidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan inquiry")
		}
		if q.InquiryDate, err = parseDate(date); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse inquiry date")
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: inquiries iterate")
}

func (s *SQLiteStore) negativeItems(ctx context.Context, reportID string) ([]model.NegativeItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, report_id, category, description, severity, dispute_eligible
		 FROM negative_items WHERE report_id = ? ORDER BY severity DESC, id`, reportID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get negative items %s", reportID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.NegativeItem
	for rows.Next() {
		var n model.NegativeItem
		if err := rows.Scan(&n.ID, &n.ReportID, &n.Category, &n.Description, &n.Severity, &n.DisputeEligible); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan negative item")
		}
		out = append(out, n)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: negative items iterate")
}

func (s *SQLiteStore) CountEntities(ctx context.Context, reportID string) (model.EntityCounts, error) {
	var c model.EntityCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT count(*) FROM personal_info WHERE report_id = ?1),
			(SELECT count(*) FROM credit_accounts WHERE report_id = ?1),
			(SELECT count(*) FROM credit_inquiries WHERE report_id = ?1),
			(SELECT count(*) FROM negative_items WHERE report_id = ?1)`,
		reportID,
	).Scan(&c.PersonalInfo, &c.Accounts, &c.Inquiries, &c.NegativeItems)
	return c, eris.Wrapf(err, "sqlite: count entities %s", reportID)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReport(row scannable) (*model.Report, error) {
	var r model.Report
	if err := row.Scan(&r.ID, &r.DocumentPath, &r.Status, &r.ConsolidationStatus, &r.CanonicalText, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(sqliteDateLayout)
}

func parseDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(sqliteDateLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
