package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/propsignal/geo-audit/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for
// local single-property audits without a Postgres instance.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS properties (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	city        TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL DEFAULT '',
	address     TEXT NOT NULL DEFAULT '',
	website_url TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS property_configs (
	property_id        TEXT PRIMARY KEY REFERENCES properties(id),
	domains            TEXT NOT NULL DEFAULT '[]',
	competitor_domains TEXT NOT NULL DEFAULT '[]',
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS queries (
	id          TEXT PRIMARY KEY,
	property_id TEXT NOT NULL REFERENCES properties(id),
	text        TEXT NOT NULL,
	is_active   INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS runs (
	id                  TEXT PRIMARY KEY,
	property_id         TEXT NOT NULL REFERENCES properties(id),
	batch_id            TEXT NOT NULL DEFAULT '',
	surface             TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'queued',
	progress_pct        REAL NOT NULL DEFAULT 0,
	current_query_index INTEGER NOT NULL DEFAULT 0,
	error_message       TEXT NOT NULL DEFAULT '',
	finished_at         DATETIME,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS answers (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	query_id    TEXT NOT NULL REFERENCES queries(id),
	answer      TEXT NOT NULL,
	score       TEXT NOT NULL,
	diagnostics TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (run_id, query_id)
);

CREATE TABLE IF NOT EXISTS citations (
	id              TEXT PRIMARY KEY,
	answer_id       TEXT NOT NULL REFERENCES answers(id),
	url             TEXT NOT NULL,
	domain          TEXT NOT NULL,
	is_brand_domain INTEGER NOT NULL DEFAULT 0,
	entity_ref      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS run_scores (
	run_id     TEXT PRIMARY KEY REFERENCES runs(id),
	aggregate  TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS batch_analyses (
	batch_id    TEXT PRIMARY KEY,
	analysis    TEXT NOT NULL,
	analyzed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_property ON runs(property_id);
CREATE INDEX IF NOT EXISTS idx_runs_batch ON runs(batch_id);
CREATE INDEX IF NOT EXISTS idx_queries_property ON queries(property_id, is_active);
CREATE INDEX IF NOT EXISTS idx_answers_run ON answers(run_id);
CREATE INDEX IF NOT EXISTS idx_citations_answer ON citations(answer_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, propertyID string, surface model.Surface, batchID string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, property_id, batch_id, surface, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, propertyID, batchID, string(surface), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:         id,
		PropertyID: propertyID,
		BatchID:    batchID,
		Surface:    surface,
		Status:     model.RunStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	err := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, runID,
	).Scan(&r.ID, &r.PropertyID, &r.BatchID, &r.Surface, &r.Status,
		&r.ProgressPct, &r.CurrentQueryIndex, &r.ErrorMessage, &r.FinishedAt,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE true`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.PropertyID != "" {
		query += ` AND property_id = ?`
		args = append(args, filter.PropertyID)
	}
	if filter.BatchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, filter.BatchID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.PropertyID, &r.BatchID, &r.Surface, &r.Status,
			&r.ProgressPct, &r.CurrentQueryIndex, &r.ErrorMessage, &r.FinishedAt,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errorMessage string) error {
	now := time.Now().UTC()
	var finishedAt any
	if status.Terminal() {
		finishedAt = now
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_message = ?, finished_at = COALESCE(?, finished_at), updated_at = ? WHERE id = ?`,
		string(status), errorMessage, finishedAt, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunProgress(ctx context.Context, runID string, progressPct float64, currentQueryIndex int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET progress_pct = ?, current_query_index = ?, updated_at = ? WHERE id = ?`,
		progressPct, currentQueryIndex, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run progress %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CreateProperty(ctx context.Context, p *model.Property) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO properties (id, name, city, state, address, website_url, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.City, p.State, p.Address, p.WebsiteURL, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: insert property")
}

func (s *SQLiteStore) GetProperty(ctx context.Context, propertyID string) (*model.Property, error) {
	var p model.Property
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, city, state, address, website_url FROM properties WHERE id = ?`,
		propertyID,
	).Scan(&p.ID, &p.Name, &p.City, &p.State, &p.Address, &p.WebsiteURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get property %s", propertyID)
	}
	return &p, nil
}

func (s *SQLiteStore) GetPropertyConfig(ctx context.Context, propertyID string) (*model.PropertyConfig, error) {
	cfg := model.PropertyConfig{PropertyID: propertyID}
	var domainsJSON, competitorsJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT domains, competitor_domains FROM property_configs WHERE property_id = ?`,
		propertyID,
	).Scan(&domainsJSON, &competitorsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get property config %s", propertyID)
	}

	if err := json.Unmarshal([]byte(domainsJSON), &cfg.Domains); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal domains")
	}
	if err := json.Unmarshal([]byte(competitorsJSON), &cfg.CompetitorDomains); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal competitor domains")
	}
	return &cfg, nil
}

func (s *SQLiteStore) SavePropertyConfig(ctx context.Context, cfg *model.PropertyConfig) error {
	domainsJSON, err := json.Marshal(cfg.Domains)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal domains")
	}
	competitorsJSON, err := json.Marshal(cfg.CompetitorDomains)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal competitor domains")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO property_configs (property_id, domains, competitor_domains, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (property_id) DO UPDATE SET domains = excluded.domains, competitor_domains = excluded.competitor_domains, updated_at = excluded.updated_at`,
		cfg.PropertyID, string(domainsJSON), string(competitorsJSON), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save property config")
}

func (s *SQLiteStore) CreateQuery(ctx context.Context, q *model.Query) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queries (id, property_id, text, is_active) VALUES (?, ?, ?, ?)`,
		q.ID, q.PropertyID, q.Text, q.IsActive,
	)
	return eris.Wrap(err, "sqlite: insert query")
}

// ImportQueries upserts queries one row at a time inside a transaction.
// SQLite has no COPY path; volumes here are small enough not to matter.
func (s *SQLiteStore) ImportQueries(ctx context.Context, queries []model.Query) (int64, error) {
	if len(queries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import queries begin")
	}
	defer tx.Rollback()

	var written int64
	for _, q := range queries {
		id := q.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO queries (id, property_id, text, is_active) VALUES (?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET property_id = excluded.property_id, text = excluded.text, is_active = excluded.is_active`,
			id, q.PropertyID, q.Text, q.IsActive,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert query %s", id)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import queries commit")
	}
	return written, nil
}

func (s *SQLiteStore) ListActiveQueries(ctx context.Context, propertyID string) ([]model.Query, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, property_id, text, is_active FROM queries WHERE property_id = ? AND is_active = 1 ORDER BY id`,
		propertyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active queries")
	}
	defer rows.Close()

	var queries []model.Query
	for rows.Next() {
		var q model.Query
		if err := rows.Scan(&q.ID, &q.PropertyID, &q.Text, &q.IsActive); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan query")
		}
		queries = append(queries, q)
	}
	return queries, eris.Wrap(rows.Err(), "sqlite: list active queries iterate")
}

func (s *SQLiteStore) SaveAnswer(ctx context.Context, a *model.AnswerRecord) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now().UTC()

	answerJSON, err := json.Marshal(a.Answer)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal answer")
	}
	scoreJSON, err := json.Marshal(a.Score)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal score")
	}
	diagJSON, err := json.Marshal(a.Diagnostics)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal diagnostics")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO answers (id, run_id, query_id, answer, score, diagnostics, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunID, a.QueryID, string(answerJSON), string(scoreJSON), string(diagJSON), a.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert answer")
}

func (s *SQLiteStore) SaveCitations(ctx context.Context, citations []model.CitationRecord) error {
	if len(citations) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: save citations begin")
	}
	defer tx.Rollback()

	for _, c := range citations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO citations (id, answer_id, url, domain, is_brand_domain, entity_ref) VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), c.AnswerID, c.URL, c.Domain, c.IsBrandDomain, c.EntityRef,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert citation")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: save citations commit")
}

func (s *SQLiteStore) ListAnswers(ctx context.Context, runID string) ([]model.AnswerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, query_id, answer, score, diagnostics, created_at FROM answers WHERE run_id = ? ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list answers")
	}
	defer rows.Close()

	var answers []model.AnswerRecord
	for rows.Next() {
		var a model.AnswerRecord
		var answerJSON, scoreJSON, diagJSON string
		if err := rows.Scan(&a.ID, &a.RunID, &a.QueryID, &answerJSON, &scoreJSON, &diagJSON, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan answer")
		}
		if err := json.Unmarshal([]byte(answerJSON), &a.Answer); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal answer")
		}
		if err := json.Unmarshal([]byte(scoreJSON), &a.Score); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal score")
		}
		if err := json.Unmarshal([]byte(diagJSON), &a.Diagnostics); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal diagnostics")
		}
		answers = append(answers, a)
	}
	return answers, eris.Wrap(rows.Err(), "sqlite: list answers iterate")
}

func (s *SQLiteStore) SaveRunScore(ctx context.Context, runID string, agg *model.RunAggregate) error {
	aggJSON, err := json.Marshal(agg)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal aggregate")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_scores (run_id, aggregate, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET aggregate = excluded.aggregate, created_at = excluded.created_at`,
		runID, string(aggJSON), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save run score")
}

func (s *SQLiteStore) GetRunScore(ctx context.Context, runID string) (*model.RunAggregate, error) {
	var aggJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT aggregate FROM run_scores WHERE run_id = ?`,
		runID,
	).Scan(&aggJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get run score %s", runID)
	}

	var agg model.RunAggregate
	if err := json.Unmarshal([]byte(aggJSON), &agg); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal aggregate")
	}
	return &agg, nil
}

func (s *SQLiteStore) SaveBatchAnalysis(ctx context.Context, analysis *model.CrossModelAnalysis) error {
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal analysis")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batch_analyses (batch_id, analysis, analyzed_at) VALUES (?, ?, ?)
		 ON CONFLICT (batch_id) DO UPDATE SET analysis = excluded.analysis, analyzed_at = excluded.analyzed_at`,
		analysis.BatchID, string(analysisJSON), analysis.AnalyzedAt,
	)
	return eris.Wrap(err, "sqlite: save batch analysis")
}

func (s *SQLiteStore) GetBatchAnalysis(ctx context.Context, batchID string) (*model.CrossModelAnalysis, error) {
	var analysisJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT analysis FROM batch_analyses WHERE batch_id = ?`,
		batchID,
	).Scan(&analysisJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get batch analysis %s", batchID)
	}

	var analysis model.CrossModelAnalysis
	if err := json.Unmarshal([]byte(analysisJSON), &analysis); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal analysis")
	}
	return &analysis, nil
}

var _ Store = (*SQLiteStore)(nil)
