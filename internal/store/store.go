package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/propsignal/geo-audit/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status     model.RunStatus `json:"status,omitempty"`
	PropertyID string          `json:"property_id,omitempty"`
	BatchID    string          `json:"batch_id,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the audit pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, propertyID string, surface model.Surface, batchID string) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errorMessage string) error
	UpdateRunProgress(ctx context.Context, runID string, progressPct float64, currentQueryIndex int) error

	// Properties
	CreateProperty(ctx context.Context, p *model.Property) error
	GetProperty(ctx context.Context, propertyID string) (*model.Property, error)
	GetPropertyConfig(ctx context.Context, propertyID string) (*model.PropertyConfig, error)
	SavePropertyConfig(ctx context.Context, cfg *model.PropertyConfig) error

	// Queries. ImportQueries upserts in bulk, keyed by query id, and
	// returns the number of rows written.
	CreateQuery(ctx context.Context, q *model.Query) error
	ImportQueries(ctx context.Context, queries []model.Query) (int64, error)
	ListActiveQueries(ctx context.Context, propertyID string) ([]model.Query, error)

	// Answers. SaveAnswer assigns a.ID and a.CreatedAt before returning.
	SaveAnswer(ctx context.Context, a *model.AnswerRecord) error
	SaveCitations(ctx context.Context, citations []model.CitationRecord) error
	ListAnswers(ctx context.Context, runID string) ([]model.AnswerRecord, error)

	// Scores
	SaveRunScore(ctx context.Context, runID string, agg *model.RunAggregate) error
	GetRunScore(ctx context.Context, runID string) (*model.RunAggregate, error)

	// Batch analysis
	SaveBatchAnalysis(ctx context.Context, analysis *model.CrossModelAnalysis) error
	GetBatchAnalysis(ctx context.Context, batchID string) (*model.CrossModelAnalysis, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
