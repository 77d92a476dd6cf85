package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/propsignal/geo-audit/internal/db"
	"github.com/propsignal/geo-audit/internal/model"
)

var _ Store = (*PostgresStore)(nil)

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

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot per-query store operations.
var preparedStatements = map[string]string{
	"get_run":             `SELECT id, property_id, batch_id, surface, status, progress_pct, current_query_index, error_message, finished_at, created_at, updated_at FROM runs WHERE id = $1`,
	"update_run_progress": `UPDATE runs SET progress_pct = $1, current_query_index = $2, updated_at = $3 WHERE id = $4`,
	"insert_answer":       `INSERT INTO answers (id, run_id, query_id, answer, score, diagnostics, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
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

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS properties (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name        TEXT NOT NULL,
	city        TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL DEFAULT '',
	address     TEXT NOT NULL DEFAULT '',
	website_url TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS property_configs (
	property_id        TEXT PRIMARY KEY REFERENCES properties(id),
	domains            JSONB NOT NULL DEFAULT '[]',
	competitor_domains JSONB NOT NULL DEFAULT '[]',
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS queries (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	property_id TEXT NOT NULL REFERENCES properties(id),
	text        TEXT NOT NULL,
	is_active   BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS runs (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	property_id         TEXT NOT NULL REFERENCES properties(id),
	batch_id            TEXT NOT NULL DEFAULT '',
	surface             TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'queued',
	progress_pct        DOUBLE PRECISION NOT NULL DEFAULT 0,
	current_query_index INTEGER NOT NULL DEFAULT 0,
	error_message       TEXT NOT NULL DEFAULT '',
	finished_at         TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS answers (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	query_id    TEXT NOT NULL REFERENCES queries(id),
	answer      JSONB NOT NULL,
	score       JSONB NOT NULL,
	diagnostics JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (run_id, query_id)
);

CREATE TABLE IF NOT EXISTS citations (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	answer_id       TEXT NOT NULL REFERENCES answers(id),
	url             TEXT NOT NULL,
	domain          TEXT NOT NULL,
	is_brand_domain BOOLEAN NOT NULL DEFAULT false,
	entity_ref      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS run_scores (
	run_id     TEXT PRIMARY KEY REFERENCES runs(id),
	aggregate  JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS batch_analyses (
	batch_id    TEXT PRIMARY KEY,
	analysis    JSONB NOT NULL,
	analyzed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_property ON runs(property_id);
CREATE INDEX IF NOT EXISTS idx_runs_batch ON runs(batch_id);
CREATE INDEX IF NOT EXISTS idx_queries_property ON queries(property_id, is_active);
CREATE INDEX IF NOT EXISTS idx_answers_run ON answers(run_id);
CREATE INDEX IF NOT EXISTS idx_citations_answer ON citations(answer_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, propertyID string, surface model.Surface, batchID string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, property_id, batch_id, surface, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, propertyID, batchID, string(surface), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

const runColumns = `id, property_id, batch_id, surface, status, progress_pct, current_query_index, error_message, finished_at, created_at, updated_at`

func scanRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	err := row.Scan(&r.ID, &r.PropertyID, &r.BatchID, &r.Surface, &r.Status,
		&r.ProgressPct, &r.CurrentQueryIndex, &r.ErrorMessage, &r.FinishedAt,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	run, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.PropertyID != "" {
		query += fmt.Sprintf(` AND property_id = $%d`, argIdx)
		args = append(args, filter.PropertyID)
		argIdx++
	}
	if filter.BatchID != "" {
		query += fmt.Sprintf(` AND batch_id = $%d`, argIdx)
		args = append(args, filter.BatchID)
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
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errorMessage string) error {
	now := time.Now().UTC()
	var finishedAt *time.Time
	if status.Terminal() {
		finishedAt = &now
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error_message = $2, finished_at = COALESCE($3, finished_at), updated_at = $4 WHERE id = $5`,
		string(status), errorMessage, finishedAt, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunProgress(ctx context.Context, runID string, progressPct float64, currentQueryIndex int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET progress_pct = $1, current_query_index = $2, updated_at = $3 WHERE id = $4`,
		progressPct, currentQueryIndex, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run progress %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CreateProperty(ctx context.Context, p *model.Property) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO properties (id, name, city, state, address, website_url, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, p.City, p.State, p.Address, p.WebsiteURL, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: insert property")
}

func (s *PostgresStore) GetProperty(ctx context.Context, propertyID string) (*model.Property, error) {
	var p model.Property
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, city, state, address, website_url FROM properties WHERE id = $1`,
		propertyID,
	).Scan(&p.ID, &p.Name, &p.City, &p.State, &p.Address, &p.WebsiteURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get property %s", propertyID)
	}
	return &p, nil
}

func (s *PostgresStore) GetPropertyConfig(ctx context.Context, propertyID string) (*model.PropertyConfig, error) {
	cfg := model.PropertyConfig{PropertyID: propertyID}
	var domainsJSON, competitorsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT domains, competitor_domains FROM property_configs WHERE property_id = $1`,
		propertyID,
	).Scan(&domainsJSON, &competitorsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get property config %s", propertyID)
	}

	if err := json.Unmarshal(domainsJSON, &cfg.Domains); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal domains")
	}
	if err := json.Unmarshal(competitorsJSON, &cfg.CompetitorDomains); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal competitor domains")
	}
	return &cfg, nil
}

func (s *PostgresStore) SavePropertyConfig(ctx context.Context, cfg *model.PropertyConfig) error {
	domainsJSON, err := json.Marshal(cfg.Domains)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal domains")
	}
	competitorsJSON, err := json.Marshal(cfg.CompetitorDomains)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal competitor domains")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO property_configs (property_id, domains, competitor_domains, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (property_id) DO UPDATE SET domains = $2, competitor_domains = $3, updated_at = $4`,
		cfg.PropertyID, domainsJSON, competitorsJSON, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save property config")
}

func (s *PostgresStore) CreateQuery(ctx context.Context, q *model.Query) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO queries (id, property_id, text, is_active) VALUES ($1, $2, $3, $4)`,
		q.ID, q.PropertyID, q.Text, q.IsActive,
	)
	return eris.Wrap(err, "postgres: insert query")
}

// ImportQueries bulk-upserts queries keyed by id via a temp-table COPY.
func (s *PostgresStore) ImportQueries(ctx context.Context, queries []model.Query) (int64, error) {
	rows := make([][]any, 0, len(queries))
	for _, q := range queries {
		id := q.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{id, q.PropertyID, q.Text, q.IsActive})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "queries",
		Columns:      []string{"id", "property_id", "text", "is_active"},
		ConflictKeys: []string{"id"},
	}, rows)
}

func (s *PostgresStore) ListActiveQueries(ctx context.Context, propertyID string) ([]model.Query, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, property_id, text, is_active FROM queries WHERE property_id = $1 AND is_active ORDER BY id`,
		propertyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active queries")
	}
	defer rows.Close()

	var queries []model.Query
	for rows.Next() {
		var q model.Query
		if err := rows.Scan(&q.ID, &q.PropertyID, &q.Text, &q.IsActive); err != nil {
			return nil, eris.Wrap(err, "postgres: scan query")
		}
		queries = append(queries, q)
	}
	return queries, eris.Wrap(rows.Err(), "postgres: list active queries iterate")
}

func (s *PostgresStore) SaveAnswer(ctx context.Context, a *model.AnswerRecord) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now().UTC()

	answerJSON, err := json.Marshal(a.Answer)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal answer")
	}
	scoreJSON, err := json.Marshal(a.Score)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal score")
	}
	diagJSON, err := json.Marshal(a.Diagnostics)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal diagnostics")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO answers (id, run_id, query_id, answer, score, diagnostics, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.RunID, a.QueryID, answerJSON, scoreJSON, diagJSON, a.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert answer")
}

// SaveCitations bulk-inserts citation rows via COPY.
func (s *PostgresStore) SaveCitations(ctx context.Context, citations []model.CitationRecord) error {
	rows := make([][]any, 0, len(citations))
	for _, c := range citations {
		rows = append(rows, []any{uuid.New().String(), c.AnswerID, c.URL, c.Domain, c.IsBrandDomain, c.EntityRef})
	}
	_, err := db.CopyFrom(ctx, s.pool, "citations",
		[]string{"id", "answer_id", "url", "domain", "is_brand_domain", "entity_ref"}, rows)
	return eris.Wrap(err, "postgres: insert citations")
}

func (s *PostgresStore) ListAnswers(ctx context.Context, runID string) ([]model.AnswerRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, query_id, answer, score, diagnostics, created_at FROM answers WHERE run_id = $1 ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list answers")
	}
	defer rows.Close()

	var answers []model.AnswerRecord
	for rows.Next() {
		var a model.AnswerRecord
		var answerJSON, scoreJSON, diagJSON []byte
		if err := rows.Scan(&a.ID, &a.RunID, &a.QueryID, &answerJSON, &scoreJSON, &diagJSON, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan answer")
		}
		if err := json.Unmarshal(answerJSON, &a.Answer); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal answer")
		}
		if err := json.Unmarshal(scoreJSON, &a.Score); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal score")
		}
		if err := json.Unmarshal(diagJSON, &a.Diagnostics); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal diagnostics")
		}
		answers = append(answers, a)
	}
	return answers, eris.Wrap(rows.Err(), "postgres: list answers iterate")
}

func (s *PostgresStore) SaveRunScore(ctx context.Context, runID string, agg *model.RunAggregate) error {
	aggJSON, err := json.Marshal(agg)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal aggregate")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_scores (run_id, aggregate, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (run_id) DO UPDATE SET aggregate = $2, created_at = $3`,
		runID, aggJSON, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save run score")
}

func (s *PostgresStore) GetRunScore(ctx context.Context, runID string) (*model.RunAggregate, error) {
	var aggJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT aggregate FROM run_scores WHERE run_id = $1`,
		runID,
	).Scan(&aggJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get run score %s", runID)
	}

	var agg model.RunAggregate
	if err := json.Unmarshal(aggJSON, &agg); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal aggregate")
	}
	return &agg, nil
}

func (s *PostgresStore) SaveBatchAnalysis(ctx context.Context, analysis *model.CrossModelAnalysis) error {
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal analysis")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO batch_analyses (batch_id, analysis, analyzed_at) VALUES ($1, $2, $3)
		 ON CONFLICT (batch_id) DO UPDATE SET analysis = $2, analyzed_at = $3`,
		analysis.BatchID, analysisJSON, analysis.AnalyzedAt,
	)
	return eris.Wrap(err, "postgres: save batch analysis")
}

func (s *PostgresStore) GetBatchAnalysis(ctx context.Context, batchID string) (*model.CrossModelAnalysis, error) {
	var analysisJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT analysis FROM batch_analyses WHERE batch_id = $1`,
		batchID,
	).Scan(&analysisJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get batch analysis %s", batchID)
	}

	var analysis model.CrossModelAnalysis
	if err := json.Unmarshal(analysisJSON, &analysis); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal analysis")
	}
	return &analysis, nil
}
