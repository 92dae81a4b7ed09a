// Package session owns the analysis-session lifecycle and is the only place
// session status transitions happen.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/botsentry/backend/internal/storage/models"
	"github.com/botsentry/backend/internal/storage/sqlite"
	"github.com/botsentry/backend/pkg/logger"
)

// legalTransitions maps each non-terminal status to its allowed successors.
// Any non-terminal status may additionally exit to failed.
var legalTransitions = map[string][]string{
	models.StatusPending:       {models.StatusExtracting},
	models.StatusExtracting:    {models.StatusDataExtracted},
	models.StatusDataExtracted: {models.StatusAnalyzing},
	models.StatusAnalyzing:     {models.StatusCompleted},
}

type Manager struct {
	store *sqlite.Client
}

func NewManager(store *sqlite.Client) *Manager {
	return &Manager{store: store}
}

func (m *Manager) Create(name, community string, parameters map[string]string) (*models.AnalysisSession, error) {
	if community == "" {
		return nil, fmt.Errorf("community is required")
	}
	if name == "" {
		name = fmt.Sprintf("Analysis of r/%s", community)
	}

	session := &models.AnalysisSession{
		ID:         uuid.New().String(),
		Name:       name,
		Community:  community,
		Status:     models.StatusPending,
		Parameters: parameters,
		StartedAt:  time.Now().UTC(),
	}

	if err := m.store.InsertSession(session); err != nil {
		return nil, err
	}

	logger.Info("Session created",
		zap.String("session_id", session.ID),
		zap.String("community", community),
	)
	return session, nil
}

func (m *Manager) Get(id string) (*models.AnalysisSession, error) {
	return m.store.GetSession(id)
}

func (m *Manager) List() ([]*models.AnalysisSession, error) {
	return m.store.ListSessions()
}

func (m *Manager) Delete(id string) error {
	return m.store.DeleteSession(id)
}

// Transition moves a session to the next non-terminal status, enforcing the
// pipeline's state order. Concurrent writers are last-write-wins; callers
// must not run two pipelines against one session.
func (m *Manager) Transition(id, to string) error {
	session, err := m.store.GetSession(id)
	if err != nil {
		return err
	}

	if !transitionAllowed(session.Status, to) {
		return fmt.Errorf("illegal session transition %s -> %s", session.Status, to)
	}

	if err := m.store.UpdateSessionStatus(id, to); err != nil {
		return err
	}

	logger.Debug("Session transitioned",
		zap.String("session_id", id),
		zap.String("from", session.Status),
		zap.String("to", to),
	)
	return nil
}

// Complete moves a session to its successful terminal state and freezes the
// aggregate counters. completed_at is set here and nowhere earlier.
func (m *Manager) Complete(id string, totalAnalyzed, botsDetected int) error {
	session, err := m.store.GetSession(id)
	if err != nil {
		return err
	}
	if !transitionAllowed(session.Status, models.StatusCompleted) {
		return fmt.Errorf("illegal session transition %s -> %s", session.Status, models.StatusCompleted)
	}

	return m.store.CompleteSession(id, totalAnalyzed, botsDetected, time.Now().UTC())
}

// Fail moves a session to the failed terminal state from any non-terminal
// status. Failing an already-terminal session is a no-op so a late error
// cannot reopen a finished run.
func (m *Manager) Fail(id string) error {
	session, err := m.store.GetSession(id)
	if err != nil {
		return err
	}
	if models.IsTerminalStatus(session.Status) {
		return nil
	}

	logger.Warn("Session failed", zap.String("session_id", id), zap.String("from", session.Status))
	return m.store.FailSession(id, time.Now().UTC())
}

func transitionAllowed(from, to string) bool {
	if to == models.StatusFailed {
		return !models.IsTerminalStatus(from)
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
