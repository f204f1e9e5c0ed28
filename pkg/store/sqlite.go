package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cleargate-io/cleargate/pkg/errdefs"
	"github.com/cleargate-io/cleargate/pkg/qc"
	"github.com/cleargate-io/cleargate/pkg/release"
	"github.com/cleargate-io/cleargate/pkg/template"
)

// SQLite is the canonical single-node store. Uniqueness of decision and
// execution records is enforced by primary keys; review updates are
// compare-and-swap on the version column.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return NewSQLite(db)
}

// NewSQLite wraps an existing database handle and runs migrations.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS subjects (
		id     TEXT PRIMARY KEY,
		status TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS qc_reviews (
		id            TEXT PRIMARY KEY,
		subject_id    TEXT NOT NULL,
		reviewer_role TEXT NOT NULL,
		status        TEXT NOT NULL,
		outcome       TEXT NOT NULL DEFAULT '',
		comments      JSON,
		created_at    TEXT NOT NULL,
		reviewed_at   TEXT,
		version       INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS directives (
		id          TEXT PRIMARY KEY,
		review_id   TEXT NOT NULL,
		target_role TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS release_requests (
		id                TEXT PRIMARY KEY,
		workstream_id     TEXT NOT NULL,
		requesting_agent  TEXT NOT NULL,
		action_type       TEXT NOT NULL,
		evidence_ref      TEXT NOT NULL,
		guardian_pass_ref TEXT NOT NULL DEFAULT '',
		guardian_pass_at  TEXT,
		created_at        TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS release_decisions (
		request_id     TEXT PRIMARY KEY,
		authorized_by  TEXT NOT NULL,
		decision       TEXT NOT NULL,
		rule_basis     JSON,
		evidence_basis JSON,
		risk_rationale TEXT NOT NULL DEFAULT '',
		conditions     JSON,
		decided_at     TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS release_executions (
		request_id   TEXT PRIMARY KEY,
		executed_by  TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		external_ref TEXT NOT NULL DEFAULT '',
		notes        TEXT NOT NULL DEFAULT '',
		executed_at  TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS templates (
		id         TEXT PRIMARY KEY,
		service_id TEXT NOT NULL,
		pack       TEXT NOT NULL,
		version    TEXT NOT NULL,
		status     TEXT NOT NULL,
		doc        JSON NOT NULL
	);
	CREATE TABLE IF NOT EXISTS template_instances (
		id  TEXT PRIMARY KEY,
		doc JSON NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func encodeTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func decodeTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func encodeTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeTime(*t), Valid: true}
}

func decodeTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := decodeTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeJSON(v any) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

// RegisterSubject makes a subject known with an initial status.
func (s *SQLite) RegisterSubject(ctx context.Context, subjectID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subjects (id, status) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET status = excluded.status`,
		subjectID, status)
	if err != nil {
		return fmt.Errorf("failed to register subject: %w", err)
	}
	return nil
}

// SubjectExists implements qc.SubjectDirectory.
func (s *SQLite) SubjectExists(ctx context.Context, subjectID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM subjects WHERE id = ?`, subjectID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query subject: %w", err)
	}
	return true, nil
}

// SetSubjectStatus implements qc.SubjectDirectory.
func (s *SQLite) SetSubjectStatus(ctx context.Context, subjectID, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE subjects SET status = ? WHERE id = ?`, status, subjectID)
	if err != nil {
		return fmt.Errorf("failed to update subject status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errdefs.NotFound("subject", subjectID)
	}
	return nil
}

// SubjectStatus returns the stored status for a subject.
func (s *SQLite) SubjectStatus(ctx context.Context, subjectID string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM subjects WHERE id = ?`, subjectID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", errdefs.NotFound("subject", subjectID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query subject status: %w", err)
	}
	return status, nil
}

// CreateReview implements qc.Repository.
func (s *SQLite) CreateReview(ctx context.Context, review qc.Review) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO qc_reviews (id, subject_id, reviewer_role, status, outcome, comments, created_at, reviewed_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		review.ID, review.SubjectID, review.ReviewerRole, string(review.Status), string(review.Outcome),
		encodeJSON(review.Comments), encodeTime(review.CreatedAt), encodeTimePtr(review.ReviewedAt), review.Version)
	if err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errdefs.ErrConflict
	}
	return nil
}

func scanReview(row interface{ Scan(...any) error }) (qc.Review, error) {
	var (
		review       qc.Review
		status       string
		outcome      string
		commentsJSON sql.NullString
		createdAt    string
		reviewedAt   sql.NullString
	)
	err := row.Scan(&review.ID, &review.SubjectID, &review.ReviewerRole, &status, &outcome,
		&commentsJSON, &createdAt, &reviewedAt, &review.Version)
	if err != nil {
		return qc.Review{}, err
	}
	review.Status = qc.State(status)
	review.Outcome = qc.State(outcome)
	if commentsJSON.Valid && commentsJSON.String != "null" {
		if err := json.Unmarshal([]byte(commentsJSON.String), &review.Comments); err != nil {
			return qc.Review{}, fmt.Errorf("failed to decode review comments: %w", err)
		}
	}
	if review.CreatedAt, err = decodeTime(createdAt); err != nil {
		return qc.Review{}, fmt.Errorf("failed to decode review timestamp: %w", err)
	}
	if review.ReviewedAt, err = decodeTimePtr(reviewedAt); err != nil {
		return qc.Review{}, fmt.Errorf("failed to decode review timestamp: %w", err)
	}
	return review, nil
}

const reviewColumns = `id, subject_id, reviewer_role, status, outcome, comments, created_at, reviewed_at, version`

// GetReview implements qc.Repository.
func (s *SQLite) GetReview(ctx context.Context, id string) (qc.Review, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM qc_reviews WHERE id = ?`, id)
	review, err := scanReview(row)
	if err == sql.ErrNoRows {
		return qc.Review{}, errdefs.NotFound("qc_review", id)
	}
	if err != nil {
		return qc.Review{}, fmt.Errorf("failed to query review: %w", err)
	}
	return review, nil
}

// UpdateReviewCAS implements qc.Repository. The UPDATE is predicated on the
// previous version; zero affected rows means the review moved underneath
// the caller (or never existed).
func (s *SQLite) UpdateReviewCAS(ctx context.Context, review qc.Review) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE qc_reviews
		 SET status = ?, outcome = ?, comments = ?, reviewed_at = ?, version = ?
		 WHERE id = ? AND version = ?`,
		string(review.Status), string(review.Outcome), encodeJSON(review.Comments),
		encodeTimePtr(review.ReviewedAt), review.Version, review.ID, review.Version-1)
	if err != nil {
		return fmt.Errorf("failed to update review: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var one int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM qc_reviews WHERE id = ?`, review.ID).Scan(&one); err == sql.ErrNoRows {
			return errdefs.NotFound("qc_review", review.ID)
		}
		return errdefs.ErrConflict
	}
	return nil
}

// ListPendingReviews implements qc.Repository.
func (s *SQLite) ListPendingReviews(ctx context.Context) ([]qc.Review, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reviewColumns+` FROM qc_reviews WHERE status = ? ORDER BY created_at`, string(qc.StatePending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pending []qc.Review
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, review)
	}
	return pending, rows.Err()
}

// FileDirective implements qc.DirectiveSink.
func (s *SQLite) FileDirective(ctx context.Context, directive qc.Directive) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO directives (id, review_id, target_role, reason, created_at) VALUES (?, ?, ?, ?, ?)`,
		directive.ID, directive.ReviewID, directive.TargetRole, directive.Reason, encodeTime(directive.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to file directive: %w", err)
	}
	return nil
}

// PendingDirectives implements qc.DirectiveSink.
func (s *SQLite) PendingDirectives(ctx context.Context, targetRole string) ([]qc.Directive, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, review_id, target_role, reason, created_at FROM directives WHERE target_role = ? ORDER BY created_at`,
		targetRole)
	if err != nil {
		return nil, fmt.Errorf("failed to list directives: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var directives []qc.Directive
	for rows.Next() {
		var (
			d         qc.Directive
			createdAt string
		)
		if err := rows.Scan(&d.ID, &d.ReviewID, &d.TargetRole, &d.Reason, &createdAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = decodeTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to decode directive timestamp: %w", err)
		}
		directives = append(directives, d)
	}
	return directives, rows.Err()
}

// CreateRequest implements release.Repository.
func (s *SQLite) CreateRequest(ctx context.Context, request release.Request) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO release_requests (id, workstream_id, requesting_agent, action_type, evidence_ref, guardian_pass_ref, guardian_pass_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		request.ID, request.WorkstreamID, request.RequestingAgent, request.ActionType,
		request.EvidenceRef, request.GuardianPassRef, encodeTimePtr(request.GuardianPassAt), encodeTime(request.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert release request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errdefs.ErrConflict
	}
	return nil
}

func scanRequest(row interface{ Scan(...any) error }) (release.Request, error) {
	var (
		request        release.Request
		guardianPassAt sql.NullString
		createdAt      string
	)
	err := row.Scan(&request.ID, &request.WorkstreamID, &request.RequestingAgent, &request.ActionType,
		&request.EvidenceRef, &request.GuardianPassRef, &guardianPassAt, &createdAt)
	if err != nil {
		return release.Request{}, err
	}
	if request.GuardianPassAt, err = decodeTimePtr(guardianPassAt); err != nil {
		return release.Request{}, fmt.Errorf("failed to decode request timestamp: %w", err)
	}
	if request.CreatedAt, err = decodeTime(createdAt); err != nil {
		return release.Request{}, fmt.Errorf("failed to decode request timestamp: %w", err)
	}
	return request, nil
}

const requestColumns = `id, workstream_id, requesting_agent, action_type, evidence_ref, guardian_pass_ref, guardian_pass_at, created_at`

// GetRequest implements release.Repository.
func (s *SQLite) GetRequest(ctx context.Context, id string) (release.Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM release_requests WHERE id = ?`, id)
	request, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return release.Request{}, errdefs.NotFound("release_request", id)
	}
	if err != nil {
		return release.Request{}, fmt.Errorf("failed to query release request: %w", err)
	}
	return request, nil
}

// ListRequests implements release.Repository.
func (s *SQLite) ListRequests(ctx context.Context) ([]release.Request, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM release_requests ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list release requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var requests []release.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, rows.Err()
}

// PutDecision implements release.Repository. The primary key enforces the
// one-decision-per-request invariant.
func (s *SQLite) PutDecision(ctx context.Context, decision release.DecisionRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO release_decisions (request_id, authorized_by, decision, rule_basis, evidence_basis, risk_rationale, conditions, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (request_id) DO NOTHING`,
		decision.RequestID, decision.AuthorizedBy, string(decision.Decision),
		encodeJSON(decision.RuleBasis), encodeJSON(decision.EvidenceBasis),
		decision.RiskRationale, encodeJSON(decision.Conditions), encodeTime(decision.DecidedAt))
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errdefs.ErrConflict
	}
	return nil
}

// GetDecision implements release.Repository.
func (s *SQLite) GetDecision(ctx context.Context, requestID string) (release.DecisionRecord, bool, error) {
	var (
		decision      release.DecisionRecord
		decisionStr   string
		ruleBasis     sql.NullString
		evidenceBasis sql.NullString
		conditions    sql.NullString
		decidedAt     string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT request_id, authorized_by, decision, rule_basis, evidence_basis, risk_rationale, conditions, decided_at
		 FROM release_decisions WHERE request_id = ?`, requestID).
		Scan(&decision.RequestID, &decision.AuthorizedBy, &decisionStr, &ruleBasis, &evidenceBasis,
			&decision.RiskRationale, &conditions, &decidedAt)
	if err == sql.ErrNoRows {
		return release.DecisionRecord{}, false, nil
	}
	if err != nil {
		return release.DecisionRecord{}, false, fmt.Errorf("failed to query decision: %w", err)
	}
	decision.Decision = release.Decision(decisionStr)
	for _, col := range []struct {
		raw  sql.NullString
		into *[]string
	}{
		{ruleBasis, &decision.RuleBasis},
		{evidenceBasis, &decision.EvidenceBasis},
		{conditions, &decision.Conditions},
	} {
		if col.raw.Valid && col.raw.String != "null" {
			if err := json.Unmarshal([]byte(col.raw.String), col.into); err != nil {
				return release.DecisionRecord{}, false, fmt.Errorf("failed to decode decision basis: %w", err)
			}
		}
	}
	if decision.DecidedAt, err = decodeTime(decidedAt); err != nil {
		return release.DecisionRecord{}, false, fmt.Errorf("failed to decode decision timestamp: %w", err)
	}
	return decision, true, nil
}

// PutExecution implements release.Repository. The primary key enforces the
// one-execution-per-request invariant.
func (s *SQLite) PutExecution(ctx context.Context, execution release.Execution) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO release_executions (request_id, executed_by, outcome, external_ref, notes, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (request_id) DO NOTHING`,
		execution.RequestID, execution.ExecutedBy, string(execution.Outcome),
		execution.ExternalRef, execution.Notes, encodeTime(execution.ExecutedAt))
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errdefs.ErrConflict
	}
	return nil
}

// GetExecution implements release.Repository.
func (s *SQLite) GetExecution(ctx context.Context, requestID string) (release.Execution, bool, error) {
	var (
		execution  release.Execution
		outcome    string
		executedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT request_id, executed_by, outcome, external_ref, notes, executed_at
		 FROM release_executions WHERE request_id = ?`, requestID).
		Scan(&execution.RequestID, &execution.ExecutedBy, &outcome, &execution.ExternalRef,
			&execution.Notes, &executedAt)
	if err == sql.ErrNoRows {
		return release.Execution{}, false, nil
	}
	if err != nil {
		return release.Execution{}, false, fmt.Errorf("failed to query execution: %w", err)
	}
	execution.Outcome = release.Outcome(outcome)
	if execution.ExecutedAt, err = decodeTime(executedAt); err != nil {
		return release.Execution{}, false, fmt.Errorf("failed to decode execution timestamp: %w", err)
	}
	return execution, true, nil
}

// PutTemplate implements template.Repository as an upsert.
func (s *SQLite) PutTemplate(ctx context.Context, tmpl template.Template) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (id, service_id, pack, version, status, doc)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			service_id = excluded.service_id,
			pack = excluded.pack,
			version = excluded.version,
			status = excluded.status,
			doc = excluded.doc`,
		tmpl.ID, tmpl.ServiceID, string(tmpl.Pack), tmpl.Version, string(tmpl.Status), encodeJSON(tmpl))
	if err != nil {
		return fmt.Errorf("failed to upsert template: %w", err)
	}
	return nil
}

// GetTemplate implements template.Repository.
func (s *SQLite) GetTemplate(ctx context.Context, id string) (template.Template, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM templates WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return template.Template{}, errdefs.NotFound("template", id)
	}
	if err != nil {
		return template.Template{}, fmt.Errorf("failed to query template: %w", err)
	}
	var tmpl template.Template
	if err := json.Unmarshal([]byte(doc), &tmpl); err != nil {
		return template.Template{}, fmt.Errorf("failed to decode template: %w", err)
	}
	return tmpl, nil
}

// ListTemplates implements template.Repository.
func (s *SQLite) ListTemplates(ctx context.Context) ([]template.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var templates []template.Template
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var tmpl template.Template
		if err := json.Unmarshal([]byte(doc), &tmpl); err != nil {
			return nil, fmt.Errorf("failed to decode template: %w", err)
		}
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

// PutInstance implements template.Repository as an upsert.
func (s *SQLite) PutInstance(ctx context.Context, inst template.Instance) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO template_instances (id, doc) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET doc = excluded.doc`,
		inst.ID, encodeJSON(inst))
	if err != nil {
		return fmt.Errorf("failed to upsert template instance: %w", err)
	}
	return nil
}

// GetInstance implements template.Repository.
func (s *SQLite) GetInstance(ctx context.Context, id string) (template.Instance, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM template_instances WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return template.Instance{}, errdefs.NotFound("template_instance", id)
	}
	if err != nil {
		return template.Instance{}, fmt.Errorf("failed to query template instance: %w", err)
	}
	var inst template.Instance
	if err := json.Unmarshal([]byte(doc), &inst); err != nil {
		return template.Instance{}, fmt.Errorf("failed to decode template instance: %w", err)
	}
	return inst, nil
}

var (
	_ qc.Repository       = (*SQLite)(nil)
	_ qc.SubjectDirectory = (*SQLite)(nil)
	_ qc.DirectiveSink    = (*SQLite)(nil)
	_ release.Repository  = (*SQLite)(nil)
	_ template.Repository = (*SQLite)(nil)
)
