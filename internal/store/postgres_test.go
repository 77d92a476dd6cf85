package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsignal/geo-audit/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "p1", "b1", "openai", "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "p1", model.SurfaceOpenAI, "b1")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.Equal(t, model.SurfaceOpenAI, run.Surface)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "property_id", "batch_id", "surface", "status",
		"progress_pct", "current_query_index", "error_message", "finished_at",
		"created_at", "updated_at",
	}).AddRow("r1", "p1", "b1", model.SurfaceClaude, model.RunStatusRunning,
		50.0, 1, "", (*time.Time)(nil), now, now)

	mock.ExpectQuery(`SELECT .+ FROM runs WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(rows)

	run, err := s.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.SurfaceClaude, run.Surface)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.InDelta(t, 50.0, run.ProgressPct, 1e-9)
	assert.Nil(t, run.FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_TerminalSetsFinishedAt(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("completed", "", pgxmock.AnyArg(), pgxmock.AnyArg(), "r1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateRunStatus(context.Background(), "r1", model.RunStatusCompleted, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("failed", "boom", pgxmock.AnyArg(), pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "ghost", model.RunStatusFailed, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAnswer_AssignsID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO answers`).
		WithArgs(pgxmock.AnyArg(), "r1", "q1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := &model.AnswerRecord{RunID: "r1", QueryID: "q1"}
	require.NoError(t, s.SaveAnswer(context.Background(), rec))
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveCitations_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"citations"},
		[]string{"id", "answer_id", "url", "domain", "is_brand_domain", "entity_ref"}).
		WillReturnResult(2)

	err := s.SaveCitations(context.Background(), []model.CitationRecord{
		{AnswerID: "a1", URL: "https://sunsetapts.com/x", Domain: "sunsetapts.com", IsBrandDomain: true},
		{AnswerID: "a1", URL: "https://apartmentlist.com/austin", Domain: "apartmentlist.com"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveCitations_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.SaveCitations(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPropertyConfig(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"domains", "competitor_domains"}).
		AddRow([]byte(`["sunsetapts.com"]`), []byte(`["oakgrove.com"]`))
	mock.ExpectQuery(`SELECT domains, competitor_domains FROM property_configs`).
		WithArgs("p1").
		WillReturnRows(rows)

	cfg, err := s.GetPropertyConfig(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sunsetapts.com"}, cfg.Domains)
	assert.Equal(t, []string{"oakgrove.com"}, cfg.CompetitorDomains)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPropertyConfig_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT domains, competitor_domains FROM property_configs`).
		WithArgs("p-missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetPropertyConfig(context.Background(), "p-missing")
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePropertyConfig_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO property_configs .+ ON CONFLICT`).
		WithArgs("p1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SavePropertyConfig(context.Background(), &model.PropertyConfig{
		PropertyID: "p1",
		Domains:    []string{"sunsetapts.com"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListActiveQueries(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"id", "property_id", "text", "is_active"}).
		AddRow("q1", "p1", "best apartments downtown austin", true).
		AddRow("q2", "p1", "pet friendly apartments austin", true)
	mock.ExpectQuery(`SELECT id, property_id, text, is_active FROM queries`).
		WithArgs("p1").
		WillReturnRows(rows)

	queries, err := s.ListActiveQueries(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, queries, 2)
	assert.Equal(t, "q1", queries[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRunScore_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO run_scores .+ ON CONFLICT`).
		WithArgs("r1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveRunScore(context.Background(), "r1", &model.RunAggregate{OverallScore: 72.5})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRunScore_RoundTrip(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	agg := model.RunAggregate{OverallScore: 72.5, VisibilityPct: 100}
	aggJSON, err := json.Marshal(agg)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT aggregate FROM run_scores`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"aggregate"}).AddRow(aggJSON))

	got, err := s.GetRunScore(context.Background(), "r1")
	require.NoError(t, err)
	assert.InDelta(t, 72.5, got.OverallScore, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveBatchAnalysis_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	analysis := &model.CrossModelAnalysis{
		BatchID:       "b1",
		AgreementRate: 66.67,
		AnalyzedAt:    time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO batch_analyses .+ ON CONFLICT`).
		WithArgs("b1", pgxmock.AnyArg(), analysis.AnalyzedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveBatchAnalysis(context.Background(), analysis))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "property_id", "batch_id", "surface", "status",
		"progress_pct", "current_query_index", "error_message", "finished_at",
		"created_at", "updated_at",
	}).AddRow("r1", "p1", "b1", model.SurfaceOpenAI, model.RunStatusCompleted,
		100.0, 3, "", &now, now, now)

	mock.ExpectQuery(`SELECT .+ FROM runs WHERE true AND batch_id = \$1`).
		WithArgs("b1", 100).
		WillReturnRows(rows)

	runs, err := s.ListRuns(context.Background(), RunFilter{BatchID: "b1"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
