// Package audit executes runs: it drives every active query of a property
// through the selected connector, scores each answer, and persists results
// as it goes. Queries within a run are strictly sequential so progress
// reporting stays deterministic.
package audit

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/propsignal/geo-audit/internal/connector"
	"github.com/propsignal/geo-audit/internal/model"
	"github.com/propsignal/geo-audit/internal/normalize"
	"github.com/propsignal/geo-audit/internal/scorer"
	"github.com/propsignal/geo-audit/internal/store"
)

// Orchestrator owns the run lifecycle from queued to terminal.
type Orchestrator struct {
	store    store.Store
	registry connector.Registry
	mode     model.Mode
}

// NewOrchestrator builds an Orchestrator executing runs in the given mode.
func NewOrchestrator(st store.Store, registry connector.Registry, mode model.Mode) *Orchestrator {
	return &Orchestrator{store: st, registry: registry, mode: mode}
}

// ExecuteRun drives one run to a terminal state. Partial failures keep the
// run going; failed is reserved for configuration errors and runs where no
// query produced a usable answer.
func (o *Orchestrator) ExecuteRun(ctx context.Context, runID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return eris.Wrapf(err, "load run %s", runID)
	}
	if run.Status.Terminal() {
		return eris.Errorf("run %s already %s", runID, run.Status)
	}

	if err := o.store.UpdateRunStatus(ctx, runID, model.RunStatusRunning, ""); err != nil {
		return eris.Wrap(err, "mark run running")
	}

	qc, queries, err := o.prepare(ctx, run)
	if err != nil {
		return o.fail(ctx, runID, err)
	}

	conn, ok := o.registry[connector.Key{Surface: run.Surface, Mode: o.mode}]
	if !ok {
		return o.fail(ctx, runID, eris.Errorf("no connector configured for %s/%s", run.Surface, o.mode))
	}

	logger := zap.L().With(
		zap.String("run_id", runID),
		zap.String("surface", string(run.Surface)),
		zap.String("mode", string(o.mode)),
	)
	logger.Info("run started", zap.Int("queries", len(queries)))

	scored := make([]scorer.ScoredQuery, 0, len(queries))
	succeeded := 0
	for i, query := range queries {
		queryCtx := qc
		queryCtx.QueryID = query.ID
		queryCtx.QueryText = query.Text

		result := conn.Invoke(ctx, queryCtx)
		breakdown := scorer.Score(result.Answer, queryCtx)

		if err := o.persistAnswer(ctx, runID, query.ID, queryCtx, result, breakdown); err != nil {
			return o.fail(ctx, runID, eris.Wrapf(err, "persist answer for query %s", query.ID))
		}

		if !result.Answer.Empty() {
			succeeded++
		}
		scored = append(scored, scorer.ScoredQuery{
			QueryID:   query.ID,
			QueryText: query.Text,
			Breakdown: breakdown,
		})

		progress := 100 * float64(i+1) / float64(len(queries))
		if err := o.store.UpdateRunProgress(ctx, runID, progress, i+1); err != nil {
			logger.Warn("progress update failed", zap.Error(err))
		}
		logger.Debug("query scored",
			zap.String("query_id", query.ID),
			zap.Float64("score", breakdown.Score),
			zap.Bool("presence", breakdown.Presence),
		)
	}

	agg := scorer.Aggregate(scored)
	if err := o.store.SaveRunScore(ctx, runID, &agg); err != nil {
		return o.fail(ctx, runID, eris.Wrap(err, "persist run score"))
	}

	if succeeded == 0 {
		return o.fail(ctx, runID, eris.Errorf("no query produced a usable answer (%d attempted)", len(queries)))
	}

	if err := o.store.UpdateRunStatus(ctx, runID, model.RunStatusCompleted, ""); err != nil {
		return eris.Wrap(err, "mark run completed")
	}
	logger.Info("run completed",
		zap.Float64("overall_score", agg.OverallScore),
		zap.Float64("visibility_pct", agg.VisibilityPct),
		zap.Int("succeeded", succeeded),
	)
	return nil
}

// prepare loads the property, its brand configuration, and the active
// query set, synthesizing and persisting a default configuration when none
// exists yet.
func (o *Orchestrator) prepare(ctx context.Context, run *model.Run) (model.QueryContext, []model.Query, error) {
	prop, err := o.store.GetProperty(ctx, run.PropertyID)
	if err != nil {
		return model.QueryContext{}, nil, eris.Wrapf(err, "load property %s", run.PropertyID)
	}

	cfg, err := o.store.GetPropertyConfig(ctx, run.PropertyID)
	if err != nil {
		if !eris.Is(err, store.ErrNotFound) {
			return model.QueryContext{}, nil, eris.Wrap(err, "load property config")
		}
		cfg = defaultPropertyConfig(prop)
		if err := o.store.SavePropertyConfig(ctx, cfg); err != nil {
			return model.QueryContext{}, nil, eris.Wrap(err, "persist default property config")
		}
		zap.L().Info("synthesized default property config",
			zap.String("property_id", prop.ID),
			zap.Strings("domains", cfg.Domains),
		)
	}

	queries, err := o.store.ListActiveQueries(ctx, run.PropertyID)
	if err != nil {
		return model.QueryContext{}, nil, eris.Wrap(err, "load active queries")
	}
	if len(queries) == 0 {
		return model.QueryContext{}, nil, eris.Errorf("property %s has no active queries", run.PropertyID)
	}

	return model.QueryContext{
		BrandName:    prop.Name,
		BrandDomains: cfg.Domains,
		Competitors:  cfg.CompetitorDomains,
		Location:     prop.Location(),
	}, queries, nil
}

// defaultPropertyConfig derives a best-effort brand-domain list from the
// property's website when no explicit configuration exists.
func defaultPropertyConfig(prop *model.Property) *model.PropertyConfig {
	cfg := &model.PropertyConfig{PropertyID: prop.ID, Domains: []string{}, CompetitorDomains: []string{}}
	if d := normalize.Domain(prop.WebsiteURL); d != "" {
		cfg.Domains = append(cfg.Domains, d)
	}
	return cfg
}

func (o *Orchestrator) persistAnswer(ctx context.Context, runID, queryID string, qc model.QueryContext, result connector.Result, breakdown model.ScoreBreakdown) error {
	rec := &model.AnswerRecord{
		RunID:       runID,
		QueryID:     queryID,
		Answer:      result.Answer,
		Score:       breakdown,
		Diagnostics: result.Raw,
	}
	if err := o.store.SaveAnswer(ctx, rec); err != nil {
		return err
	}

	if len(result.Answer.Citations) == 0 {
		return nil
	}
	citations := make([]model.CitationRecord, 0, len(result.Answer.Citations))
	for _, c := range result.Answer.Citations {
		citations = append(citations, model.CitationRecord{
			AnswerID:      rec.ID,
			URL:           c.URL,
			Domain:        normalize.Domain(c.Domain),
			IsBrandDomain: normalize.IsBrandDomain(c.Domain, qc.BrandDomains),
			EntityRef:     c.EntityRef,
		})
	}
	return o.store.SaveCitations(ctx, citations)
}

// fail marks the run failed with a human-readable message and returns the
// original error.
func (o *Orchestrator) fail(ctx context.Context, runID string, cause error) error {
	msg := cause.Error()
	if err := o.store.UpdateRunStatus(ctx, runID, model.RunStatusFailed, msg); err != nil {
		zap.L().Error("could not mark run failed",
			zap.String("run_id", runID),
			zap.String("cause", msg),
			zap.Error(err),
		)
	}
	zap.L().Warn("run failed", zap.String("run_id", runID), zap.String("cause", msg))
	return fmt.Errorf("run %s failed: %w", runID, cause)
}
