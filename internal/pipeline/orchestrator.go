// Package pipeline sequences extraction, scoring, and persistence for one
// analysis session.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/botsentry/backend/internal/detection"
	"github.com/botsentry/backend/internal/extraction"
	"github.com/botsentry/backend/internal/metrics"
	"github.com/botsentry/backend/internal/session"
	"github.com/botsentry/backend/internal/storage/models"
	"github.com/botsentry/backend/internal/storage/sqlite"
	"github.com/botsentry/backend/pkg/logger"
)

type Orchestrator struct {
	sessions  *session.Manager
	extractor *extraction.Extractor
	engine    *detection.Engine
	store     *sqlite.Client
	pageLimit int
}

type Result struct {
	Extraction extraction.Result
	Detection  DetectionResult
}

type DetectionResult struct {
	UsersAnalyzed int
	BotsDetected  int
	Verdicts      []*models.BotVerdict
}

func NewOrchestrator(sessions *session.Manager, extractor *extraction.Extractor, engine *detection.Engine, store *sqlite.Client, pageLimit int) *Orchestrator {
	if pageLimit <= 0 {
		pageLimit = 100
	}
	return &Orchestrator{
		sessions:  sessions,
		extractor: extractor,
		engine:    engine,
		store:     store,
		pageLimit: pageLimit,
	}
}

// Run executes the full pipeline for one session: extraction, then scoring
// over all known accounts (or the caller-restricted subset), then a batched
// verdict upsert, then session completion. Any stage failure marks the
// session failed and surfaces as a single error; already-persisted upserts
// are not rolled back, so re-running the pipeline is safe.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, usernames []string) (*Result, error) {
	started := time.Now()

	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	logger.Info("Pipeline started",
		zap.String("session_id", sessionID),
		zap.String("community", sess.Community),
	)

	if err := o.sessions.Transition(sessionID, models.StatusExtracting); err != nil {
		return nil, o.fail(sessionID, err)
	}

	extractionResult, err := o.extractor.Extract(ctx, sess.Community, o.pageLimit)
	if err != nil {
		return nil, o.fail(sessionID, fmt.Errorf("extraction stage: %w", err))
	}

	if err := o.sessions.Transition(sessionID, models.StatusDataExtracted); err != nil {
		return nil, o.fail(sessionID, err)
	}
	if err := o.sessions.Transition(sessionID, models.StatusAnalyzing); err != nil {
		return nil, o.fail(sessionID, err)
	}

	accounts, err := o.store.ListAccounts(usernames)
	if err != nil {
		return nil, o.fail(sessionID, fmt.Errorf("analysis stage: %w", err))
	}
	aggregates, err := o.store.ActivityAggregates()
	if err != nil {
		return nil, o.fail(sessionID, fmt.Errorf("analysis stage: %w", err))
	}

	verdicts := o.engine.ScoreBatch(ctx, accounts, aggregates)

	if err := o.store.UpsertVerdicts(verdicts); err != nil {
		return nil, o.fail(sessionID, fmt.Errorf("failed to persist verdicts: %w", err))
	}

	botsDetected := 0
	for _, v := range verdicts {
		if v.BotProbability > 0.5 {
			botsDetected++
		}
	}

	if err := o.sessions.Complete(sessionID, len(verdicts), botsDetected); err != nil {
		return nil, o.fail(sessionID, err)
	}

	metrics.PipelineRuns.WithLabelValues(models.StatusCompleted).Inc()
	metrics.PipelineDuration.Observe(time.Since(started).Seconds())

	logger.Info("Pipeline completed",
		zap.String("session_id", sessionID),
		zap.Int("users_analyzed", len(verdicts)),
		zap.Int("bots_detected", botsDetected),
		zap.Duration("duration", time.Since(started)),
	)

	return &Result{
		Extraction: *extractionResult,
		Detection: DetectionResult{
			UsersAnalyzed: len(verdicts),
			BotsDetected:  botsDetected,
			Verdicts:      verdicts,
		},
	}, nil
}

// fail marks the session terminally failed and passes the stage error
// through unchanged. A failure while failing is logged, not surfaced; the
// stage error is the one the caller needs.
func (o *Orchestrator) fail(sessionID string, stageErr error) error {
	metrics.PipelineRuns.WithLabelValues(models.StatusFailed).Inc()

	if err := o.sessions.Fail(sessionID); err != nil {
		logger.Error("Failed to mark session as failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
	return fmt.Errorf("pipeline failed for session %s: %w", sessionID, stageErr)
}
