package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/cleargate-io/cleargate/pkg/errdefs"
	"github.com/cleargate-io/cleargate/pkg/qc"
	"github.com/cleargate-io/cleargate/pkg/release"
	"github.com/cleargate-io/cleargate/pkg/template"
)

// Postgres is the shared-deployment store. Same conflict semantics as the
// SQLite store: primary keys make decisions and executions write-once, the
// review UPDATE is predicated on the previous version.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects using a lib/pq DSN and runs migrations.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	return NewPostgres(db)
}

// NewPostgres wraps an existing database handle and runs migrations.
func NewPostgres(db *sql.DB) (*Postgres, error) {
	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Close closes the underlying database handle.
func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) migrate() error {
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
		comments      JSONB,
		created_at    TIMESTAMPTZ NOT NULL,
		reviewed_at   TIMESTAMPTZ,
		version       BIGINT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS directives (
		id          TEXT PRIMARY KEY,
		review_id   TEXT NOT NULL,
		target_role TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS release_requests (
		id                TEXT PRIMARY KEY,
		workstream_id     TEXT NOT NULL,
		requesting_agent  TEXT NOT NULL,
		action_type       TEXT NOT NULL,
		evidence_ref      TEXT NOT NULL,
		guardian_pass_ref TEXT NOT NULL DEFAULT '',
		guardian_pass_at  TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS release_decisions (
		request_id     TEXT PRIMARY KEY,
		authorized_by  TEXT NOT NULL,
		decision       TEXT NOT NULL,
		rule_basis     JSONB,
		evidence_basis JSONB,
		risk_rationale TEXT NOT NULL DEFAULT '',
		conditions     JSONB,
		decided_at     TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS release_executions (
		request_id   TEXT PRIMARY KEY,
		executed_by  TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		external_ref TEXT NOT NULL DEFAULT '',
		notes        TEXT NOT NULL DEFAULT '',
		executed_at  TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS templates (
		id         TEXT PRIMARY KEY,
		service_id TEXT NOT NULL,
		pack       TEXT NOT NULL,
		version    TEXT NOT NULL,
		status     TEXT NOT NULL,
		doc        JSONB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS template_instances (
		id  TEXT PRIMARY KEY,
		doc JSONB NOT NULL
	);`
	_, err := p.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// RegisterSubject makes a subject known with an initial status.
func (p *Postgres) RegisterSubject(ctx context.Context, subjectID, status string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO subjects (id, status) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`,
		subjectID, status)
	if err != nil {
		return fmt.Errorf("failed to register subject: %w", err)
	}
	return nil
}

// SubjectExists implements qc.SubjectDirectory.
func (p *Postgres) SubjectExists(ctx context.Context, subjectID string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx, `SELECT 1 FROM subjects WHERE id = $1`, subjectID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query subject: %w", err)
	}
	return true, nil
}

// SetSubjectStatus implements qc.SubjectDirectory.
func (p *Postgres) SetSubjectStatus(ctx context.Context, subjectID, status string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE subjects SET status = $1 WHERE id = $2`, status, subjectID)
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

// CreateReview implements qc.Repository.
func (p *Postgres) CreateReview(ctx context.Context, review qc.Review) error {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO qc_reviews (id, subject_id, reviewer_role, status, outcome, comments, created_at, reviewed_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		review.ID, review.SubjectID, review.ReviewerRole, string(review.Status), string(review.Outcome),
		encodeJSON(review.Comments), review.CreatedAt.UTC(), review.ReviewedAt, review.Version)
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

func scanReviewPG(row interface{ Scan(...any) error }) (qc.Review, error) {
	var (
		review       qc.Review
		status       string
		outcome      string
		commentsJSON sql.NullString
	)
	err := row.Scan(&review.ID, &review.SubjectID, &review.ReviewerRole, &status, &outcome,
		&commentsJSON, &review.CreatedAt, &review.ReviewedAt, &review.Version)
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
	return review, nil
}

// GetReview implements qc.Repository.
func (p *Postgres) GetReview(ctx context.Context, id string) (qc.Review, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM qc_reviews WHERE id = $1`, id)
	review, err := scanReviewPG(row)
	if err == sql.ErrNoRows {
		return qc.Review{}, errdefs.NotFound("qc_review", id)
	}
	if err != nil {
		return qc.Review{}, fmt.Errorf("failed to query review: %w", err)
	}
	return review, nil
}

// UpdateReviewCAS implements qc.Repository.
func (p *Postgres) UpdateReviewCAS(ctx context.Context, review qc.Review) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE qc_reviews
		 SET status = $1, outcome = $2, comments = $3, reviewed_at = $4, version = $5
		 WHERE id = $6 AND version = $7`,
		string(review.Status), string(review.Outcome), encodeJSON(review.Comments),
		review.ReviewedAt, review.Version, review.ID, review.Version-1)
	if err != nil {
		return fmt.Errorf("failed to update review: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var one int
		if err := p.db.QueryRowContext(ctx, `SELECT 1 FROM qc_reviews WHERE id = $1`, review.ID).Scan(&one); err == sql.ErrNoRows {
			return errdefs.NotFound("qc_review", review.ID)
		}
		return errdefs.ErrConflict
	}
	return nil
}

// ListPendingReviews implements qc.Repository.
func (p *Postgres) ListPendingReviews(ctx context.Context) ([]qc.Review, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+reviewColumns+` FROM qc_reviews WHERE status = $1 ORDER BY created_at`, string(qc.StatePending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pending []qc.Review
	for rows.Next() {
		review, err := scanReviewPG(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, review)
	}
	return pending, rows.Err()
}

// FileDirective implements qc.DirectiveSink.
func (p *Postgres) FileDirective(ctx context.Context, directive qc.Directive) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO directives (id, review_id, target_role, reason, created_at) VALUES ($1, $2, $3, $4, $5)`,
		directive.ID, directive.ReviewID, directive.TargetRole, directive.Reason, directive.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to file directive: %w", err)
	}
	return nil
}

// PendingDirectives implements qc.DirectiveSink.
func (p *Postgres) PendingDirectives(ctx context.Context, targetRole string) ([]qc.Directive, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, review_id, target_role, reason, created_at FROM directives WHERE target_role = $1 ORDER BY created_at`,
		targetRole)
	if err != nil {
		return nil, fmt.Errorf("failed to list directives: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var directives []qc.Directive
	for rows.Next() {
		var d qc.Directive
		if err := rows.Scan(&d.ID, &d.ReviewID, &d.TargetRole, &d.Reason, &d.CreatedAt); err != nil {
			return nil, err
		}
		directives = append(directives, d)
	}
	return directives, rows.Err()
}

// CreateRequest implements release.Repository.
func (p *Postgres) CreateRequest(ctx context.Context, request release.Request) error {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO release_requests (id, workstream_id, requesting_agent, action_type, evidence_ref, guardian_pass_ref, guardian_pass_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		request.ID, request.WorkstreamID, request.RequestingAgent, request.ActionType,
		request.EvidenceRef, request.GuardianPassRef, request.GuardianPassAt, request.CreatedAt.UTC())
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

func scanRequestPG(row interface{ Scan(...any) error }) (release.Request, error) {
	var request release.Request
	err := row.Scan(&request.ID, &request.WorkstreamID, &request.RequestingAgent, &request.ActionType,
		&request.EvidenceRef, &request.GuardianPassRef, &request.GuardianPassAt, &request.CreatedAt)
	if err != nil {
		return release.Request{}, err
	}
	return request, nil
}

// GetRequest implements release.Repository.
func (p *Postgres) GetRequest(ctx context.Context, id string) (release.Request, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM release_requests WHERE id = $1`, id)
	request, err := scanRequestPG(row)
	if err == sql.ErrNoRows {
		return release.Request{}, errdefs.NotFound("release_request", id)
	}
	if err != nil {
		return release.Request{}, fmt.Errorf("failed to query release request: %w", err)
	}
	return request, nil
}

// ListRequests implements release.Repository.
func (p *Postgres) ListRequests(ctx context.Context) ([]release.Request, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM release_requests ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list release requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var requests []release.Request
	for rows.Next() {
		request, err := scanRequestPG(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, rows.Err()
}

// PutDecision implements release.Repository.
func (p *Postgres) PutDecision(ctx context.Context, decision release.DecisionRecord) error {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO release_decisions (request_id, authorized_by, decision, rule_basis, evidence_basis, risk_rationale, conditions, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (request_id) DO NOTHING`,
		decision.RequestID, decision.AuthorizedBy, string(decision.Decision),
		encodeJSON(decision.RuleBasis), encodeJSON(decision.EvidenceBasis),
		decision.RiskRationale, encodeJSON(decision.Conditions), decision.DecidedAt.UTC())
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
func (p *Postgres) GetDecision(ctx context.Context, requestID string) (release.DecisionRecord, bool, error) {
	var (
		decision      release.DecisionRecord
		decisionStr   string
		ruleBasis     sql.NullString
		evidenceBasis sql.NullString
		conditions    sql.NullString
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT request_id, authorized_by, decision, rule_basis, evidence_basis, risk_rationale, conditions, decided_at
		 FROM release_decisions WHERE request_id = $1`, requestID).
		Scan(&decision.RequestID, &decision.AuthorizedBy, &decisionStr, &ruleBasis, &evidenceBasis,
			&decision.RiskRationale, &conditions, &decision.DecidedAt)
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
	return decision, true, nil
}

// PutExecution implements release.Repository.
func (p *Postgres) PutExecution(ctx context.Context, execution release.Execution) error {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO release_executions (request_id, executed_by, outcome, external_ref, notes, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (request_id) DO NOTHING`,
		execution.RequestID, execution.ExecutedBy, string(execution.Outcome),
		execution.ExternalRef, execution.Notes, execution.ExecutedAt.UTC())
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
func (p *Postgres) GetExecution(ctx context.Context, requestID string) (release.Execution, bool, error) {
	var (
		execution release.Execution
		outcome   string
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT request_id, executed_by, outcome, external_ref, notes, executed_at
		 FROM release_executions WHERE request_id = $1`, requestID).
		Scan(&execution.RequestID, &execution.ExecutedBy, &outcome, &execution.ExternalRef,
			&execution.Notes, &execution.ExecutedAt)
	if err == sql.ErrNoRows {
		return release.Execution{}, false, nil
	}
	if err != nil {
		return release.Execution{}, false, fmt.Errorf("failed to query execution: %w", err)
	}
	execution.Outcome = release.Outcome(outcome)
	return execution, true, nil
}

// PutTemplate implements template.Repository as an upsert.
func (p *Postgres) PutTemplate(ctx context.Context, tmpl template.Template) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO templates (id, service_id, pack, version, status, doc)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			service_id = EXCLUDED.service_id,
			pack = EXCLUDED.pack,
			version = EXCLUDED.version,
			status = EXCLUDED.status,
			doc = EXCLUDED.doc`,
		tmpl.ID, tmpl.ServiceID, string(tmpl.Pack), tmpl.Version, string(tmpl.Status), encodeJSON(tmpl))
	if err != nil {
		return fmt.Errorf("failed to upsert template: %w", err)
	}
	return nil
}

// GetTemplate implements template.Repository.
func (p *Postgres) GetTemplate(ctx context.Context, id string) (template.Template, error) {
	var doc string
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM templates WHERE id = $1`, id).Scan(&doc)
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
func (p *Postgres) ListTemplates(ctx context.Context) ([]template.Template, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM templates ORDER BY id`)
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
func (p *Postgres) PutInstance(ctx context.Context, inst template.Instance) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO template_instances (id, doc) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		inst.ID, encodeJSON(inst))
	if err != nil {
		return fmt.Errorf("failed to upsert template instance: %w", err)
	}
	return nil
}

// GetInstance implements template.Repository.
func (p *Postgres) GetInstance(ctx context.Context, id string) (template.Instance, error) {
	var doc string
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM template_instances WHERE id = $1`, id).Scan(&doc)
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
	_ qc.Repository       = (*Postgres)(nil)
	_ qc.SubjectDirectory = (*Postgres)(nil)
	_ qc.DirectiveSink    = (*Postgres)(nil)
	_ release.Repository  = (*Postgres)(nil)
	_ template.Repository = (*Postgres)(nil)
)
