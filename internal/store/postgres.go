package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/bureau-cli/internal/db"
	"github.com/sells-group/bureau-cli/internal/model"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, s.pool, postgresMigrations, "migrations/postgres"), "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const reportColumns = `id, document_path, status, consolidation_status, canonical_text, error, created_at, updated_at`

func (s *PostgresStore) CreateReport(ctx context.Context, documentPath string) (*model.Report, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO reports (id, document_path, status, consolidation_status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, documentPath, string(model.ReportStatusPending), string(model.ReportStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert report")
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

func (s *PostgresStore) GetReport(ctx context.Context, id string) (*model.Report, error) {
	var r model.Report
	err := s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = $1`, id,
	).Scan(&r.ID, &r.DocumentPath, &r.Status, &r.ConsolidationStatus, &r.CanonicalText, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("report", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get report %s", id)
	}
	return &r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var reports []model.Report
	for rows.Next() {
		var r model.Report
		if err := rows.Scan(&r.ID, &r.DocumentPath, &r.Status, &r.ConsolidationStatus, &r.CanonicalText, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		reports = append(reports, r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: list reports iterate")
}

func (s *PostgresStore) UpdateReportStatus(ctx context.Context, id string, status model.ReportStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), model.TruncateError(errMsg), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update report status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("report", id)
	}
	return nil
}

func (s *PostgresStore) UpdateConsolidationStatus(ctx context.Context, id string, status model.ReportStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET consolidation_status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update consolidation status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("report", id)
	}
	return nil
}

func (s *PostgresStore) SetCanonicalText(ctx context.Context, id, text string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET canonical_text = $1, updated_at = $2 WHERE id = $3`,
		text, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set canonical text %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("report", id)
	}
	return nil
}

// DeleteReport removes the report; child rows go with it via ON DELETE CASCADE.
func (s *PostgresStore) DeleteReport(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete report %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("report", id)
	}
	return nil
}

func (s *PostgresStore) InsertExtractionResult(ctx context.Context, r *model.ExtractionResult) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	var metaJSON []byte
	if len(r.Metadata) > 0 {
		var err error
		if metaJSON, err = json.Marshal(r.Metadata); err != nil {
			return eris.Wrap(err, "postgres: marshal extraction metadata")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO extraction_results (id, report_id, extraction_method, extracted_text, processing_time_ms,
			character_count, word_count, confidence_score, has_structured_data, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.ReportID, r.ExtractionMethod, r.ExtractedText, r.ProcessingTimeMs,
		r.CharacterCount, r.WordCount, r.ConfidenceScore, r.HasStructuredData, metaJSON, r.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert extraction result for report %s", r.ReportID)
}

// ListExtractionResults returns a report's attempts, oldest first.
func (s *PostgresStore) ListExtractionResults(ctx context.Context, reportID string) ([]model.ExtractionResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, report_id, extraction_method, extracted_text, processing_time_ms, character_count,
			word_count, confidence_score, has_structured_data, metadata, created_at
		 FROM extraction_results WHERE report_id = $1 ORDER BY created_at, seq`,
		reportID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list extraction results %s", reportID)
	}
	defer rows.Close()

	var out []model.ExtractionResult
	for rows.Next() {
		var r model.ExtractionResult
		var metaJSON []byte
		if err := rows.Scan(&r.ID, &r.ReportID, &r.ExtractionMethod, &r.ExtractedText, &r.ProcessingTimeMs,
			&r.CharacterCount, &r.WordCount, &r.ConfidenceScore, &r.HasStructuredData, &metaJSON, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction result")
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal extraction metadata")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list extraction results iterate")
}

// GetConsolidation returns the report's metadata, or nil if none was written.
func (s *PostgresStore) GetConsolidation(ctx context.Context, reportID string) (*model.ConsolidationMetadata, error) {
	var m model.ConsolidationMetadata
	var sourcesJSON, conflictsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT report_id, primary_source, consolidation_strategy, confidence_level, field_sources,
			conflicts, conflict_count, requires_human_review, notes, updated_at
		 FROM consolidation_metadata WHERE report_id = $1`,
		reportID,
	).Scan(&m.ReportID, &m.PrimarySource, &m.Strategy, &m.ConfidenceLevel, &sourcesJSON,
		&conflictsJSON, &m.ConflictCount, &m.RequiresHumanReview, &m.Notes, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get consolidation %s", reportID)
	}
	if err := unmarshalConsolidation(&m, sourcesJSON, conflictsJSON); err != nil {
		return nil, eris.Wrap(err, "postgres: get consolidation")
	}
	return &m, nil
}

// ReplaceCanonical swaps the report's entity rows and upserts its
// consolidation metadata in one transaction, so readers never observe an
// empty or half-written canonical set.
func (s *PostgresStore) ReplaceCanonical(ctx context.Context, reportID string, entities *model.EntitySet, meta *model.ConsolidationMetadata) error {
	if meta == nil {
		return eris.New("postgres: replace canonical: nil consolidation metadata")
	}
	return s.inTx(ctx, "replace canonical", func(tx pgx.Tx) error {
		if err := replaceEntitiesTx(ctx, tx, reportID, entities); err != nil {
			return err
		}
		return upsertConsolidationTx(ctx, tx, reportID, meta)
	})
}

func (s *PostgresStore) ReplaceEntities(ctx context.Context, reportID string, entities *model.EntitySet) error {
	return s.inTx(ctx, "replace entities", func(tx pgx.Tx) error {
		return replaceEntitiesTx(ctx, tx, reportID, entities)
	})
}

func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: %s: begin tx", op)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return eris.Wrapf(err, "postgres: %s", op)
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: %s: commit tx", op)
}

func replaceEntitiesTx(ctx context.Context, tx pgx.Tx, reportID string, entities *model.EntitySet) error {
	e := assignIDs(reportID, entities)

	for _, table := range entityTables {
		if _, err := tx.Exec(ctx, `DELETE FROM `+pgx.Identifier{table}.Sanitize()+` WHERE report_id = $1`, reportID); err != nil {
			return eris.Wrapf(err, "clear %s", table)
		}
	}

	if p := e.PersonalInfo; p.FieldCount() > 0 {
		if _, err := tx.Exec(ctx,
			`INSERT INTO personal_info (report_id, full_name, ssn_last4, date_of_birth, address, confidence) VALUES ($1, $2, $3, $4, $5, $6)`,
			reportID, p.FullName, p.SSNLast4, p.DateOfBirth, p.Address, p.Confidence,
		); err != nil {
			return eris.Wrap(err, "insert personal_info")
		}
	}
	if _, err := db.CopyFrom(ctx, tx, "credit_accounts", accountColumns, accountRows(e.Accounts)); err != nil {
		return err
	}
	if _, err := db.CopyFrom(ctx, tx, "credit_inquiries", inquiryColumns, inquiryRows(e.Inquiries)); err != nil {
		return err
	}
	_, err := db.CopyFrom(ctx, tx, "negative_items", negativeColumns, negativeRows(e.NegativeItems))
	return err
}

var consolidationColumns = []string{
	"report_id", "primary_source", "consolidation_strategy", "confidence_level", "field_sources",
	"conflicts", "conflict_count", "requires_human_review", "notes", "updated_at",
}

func upsertConsolidationTx(ctx context.Context, tx pgx.Tx, reportID string, m *model.ConsolidationMetadata) error {
	query, err := db.UpsertSQL(db.UpsertConfig{
		Table:        "consolidation_metadata",
		Columns:      consolidationColumns,
		ConflictKeys: []string{"report_id"},
	})
	if err != nil {
		return err
	}
	sourcesJSON, conflictsJSON, err := marshalConsolidation(m)
	if err != nil {
		return err
	}
	m.ReportID = reportID
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, query,
		reportID, m.PrimarySource, string(m.Strategy), m.ConfidenceLevel, sourcesJSON,
		conflictsJSON, m.ConflictCount, m.RequiresHumanReview, m.Notes, m.UpdatedAt,
	)
	return eris.Wrap(err, "upsert consolidation_metadata")
}

func (s *PostgresStore) GetEntities(ctx context.Context, reportID string) (*model.EntitySet, error) {
	e := &model.EntitySet{}

	var p model.PersonalInfo
	err := s.pool.QueryRow(ctx,
		`SELECT report_id, full_name, ssn_last4, date_of_birth, address, confidence FROM personal_info WHERE report_id = $1`,
		reportID,
	).Scan(&p.ReportID, &p.FullName, &p.SSNLast4, &p.DateOfBirth, &p.Address, &p.Confidence)
	switch {
	case err == nil:
		e.PersonalInfo = &p
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, eris.Wrapf(err, "postgres: get personal info %s", reportID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, report_id, creditor_name, account_number, balance, status, is_negative, confidence
		 FROM credit_accounts WHERE report_id = $1 ORDER BY creditor_name, id`, reportID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get accounts %s", reportID)
	}
	e.Accounts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CreditAccount, error) {
		var a model.CreditAccount
		err := row.Scan(&a.ID, &a.ReportID, &a.CreditorName, &a.AccountNumber, &a.Balance, &a.Status, &a.IsNegative, &a.Confidence)
		return a, err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: scan accounts %s", reportID)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, report_id, inquirer_name, inquiry_date, inquiry_type, confidence
		 FROM credit_inquiries WHERE report_id = $1 ORDER BY inquiry_date, inquirer_name`, reportID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get inquiries %s", reportID)
	}
	e.Inquiries, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CreditInquiry, error) {
		var q model.CreditInquiry
		err := row.Scan(&q.ID, &q.ReportID, &q.InquirerName, &q.InquiryDate, &q.InquiryType, &q.Confidence)
		return q, err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: scan inquiries %s", reportID)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, report_id, category, description, severity, dispute_eligible
		 FROM negative_items WHERE report_id = $1 ORDER BY severity DESC, id`, reportID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get negative items %s", reportID)
	}
	e.NegativeItems, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.NegativeItem, error) {
		var n model.NegativeItem
		err := row.Scan(&n.ID, &n.ReportID, &n.Category, &n.Description, &n.Severity, &n.DisputeEligible)
		return n, err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: scan negative items %s", reportID)
	}
	return e, nil
}

func (s *PostgresStore) CountEntities(ctx context.Context, reportID string) (model.EntityCounts, error) {
	var c model.EntityCounts
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT count(*) FROM personal_info WHERE report_id = $1),
			(SELECT count(*) FROM credit_accounts WHERE report_id = $1),
			(SELECT count(*) FROM credit_inquiries WHERE report_id = $1),
			(SELECT count(*) FROM negative_items WHERE report_id = $1)`,
		reportID,
	).Scan(&c.PersonalInfo, &c.Accounts, &c.Inquiries, &c.NegativeItems)
	return c, eris.Wrapf(err, "postgres: count entities %s", reportID)
}

func marshalConsolidation(m *model.ConsolidationMetadata) (sources, conflicts []byte, err error) {
	fieldSources := m.FieldSources
	if fieldSources == nil {
		fieldSources = map[string]string{}
	}
	if sources, err = json.Marshal(fieldSources); err != nil {
		return nil, nil, eris.Wrap(err, "marshal field sources")
	}
	cs := m.Conflicts
	if cs == nil {
		cs = []model.Conflict{}
	}
	if conflicts, err = json.Marshal(cs); err != nil {
		return nil, nil, eris.Wrap(err, "marshal conflicts")
	}
	return sources, conflicts, nil
}

func unmarshalConsolidation(m *model.ConsolidationMetadata, sources, conflicts []byte) error {
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &m.FieldSources); err != nil {
			return eris.Wrap(err, "unmarshal field sources")
		}
	}
	if len(conflicts) > 0 {
		if err := json.Unmarshal(conflicts, &m.Conflicts); err != nil {
			return eris.Wrap(err, "unmarshal conflicts")
		}
	}
	if len(m.Conflicts) == 0 {
		m.Conflicts = nil
	}
	return nil
}
