package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botsentry/backend/internal/detection"
	"github.com/botsentry/backend/internal/extraction"
	"github.com/botsentry/backend/internal/reddit"
	"github.com/botsentry/backend/internal/session"
	"github.com/botsentry/backend/internal/storage/models"
	"github.com/botsentry/backend/internal/storage/sqlite"
)

type fakeSource struct {
	items    []reddit.ActivityItem
	listErr  error
	profiles map[string]*reddit.Profile
}

func (f *fakeSource) Authenticate(ctx context.Context) error { return nil }

func (f *fakeSource) ListActivity(ctx context.Context, community string, limit int) ([]reddit.ActivityItem, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.items, nil
}

func (f *fakeSource) GetProfile(ctx context.Context, username string) (*reddit.Profile, error) {
	profile, ok := f.profiles[username]
	if !ok {
		return nil, reddit.ErrNotFound
	}
	return profile, nil
}

func communitySource() *fakeSource {
	created := time.Now().Add(-2 * time.Hour)
	return &fakeSource{
		items: []reddit.ActivityItem{
			{ID: "t3_p1", Kind: "post", Author: "organic_user", Community: "golang", Title: "release notes", Score: 40, CreatedAt: created},
			{ID: "t1_c1", Kind: "comment", Author: "organic_user", Community: "golang", Body: "nice", Score: 4, CreatedAt: created},
			{ID: "t3_p2", Kind: "post", Author: "karma_farmer", Community: "golang", Title: "upvote this", Score: 0, CreatedAt: created},
		},
		profiles: map[string]*reddit.Profile{
			"organic_user": {
				Username:         "organic_user",
				CommentKarma:     4000,
				LinkKarma:        800,
				IsVerified:       true,
				HasVerifiedEmail: true,
				CreatedAt:        time.Now().AddDate(-4, 0, 0),
			},
			"karma_farmer": {
				Username:  "karma_farmer",
				CreatedAt: time.Now().Add(-48 * time.Hour),
			},
		},
	}
}

func newTestOrchestrator(t *testing.T, source *fakeSource) (*Orchestrator, *session.Manager, *sqlite.Client) {
	t.Helper()

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())

	sessions := session.NewManager(store)
	extractor := extraction.NewExtractor(source, store)
	engine := detection.NewEngine(0, 2)

	return NewOrchestrator(sessions, extractor, engine, store, 100), sessions, store
}

func TestRun_FullPipeline(t *testing.T) {
	orchestrator, sessions, store := newTestOrchestrator(t, communitySource())

	sess, err := sessions.Create("sweep", "golang", nil)
	require.NoError(t, err)

	result, err := orchestrator.Run(context.Background(), sess.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Extraction.ActivityCount)
	assert.Equal(t, 2, result.Extraction.AuthorCount)
	assert.Equal(t, 2, result.Detection.UsersAnalyzed)
	assert.Equal(t, 1, result.Detection.BotsDetected)
	require.Len(t, result.Detection.Verdicts, 2)

	// Two-day-old zero-karma account with no email trips the rule table hard.
	byUser := map[string]*models.BotVerdict{}
	for _, v := range result.Detection.Verdicts {
		byUser[v.Username] = v
	}
	assert.Greater(t, byUser["karma_farmer"].BotProbability, 0.5)
	assert.Less(t, byUser["organic_user"].BotProbability, 0.5)

	stored, err := sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.TotalAccountsAnalyzed)
	assert.Equal(t, 1, stored.BotsDetected)
	require.NotNil(t, stored.CompletedAt)

	verdicts, err := store.ListVerdicts()
	require.NoError(t, err)
	assert.Len(t, verdicts, 2)
}

func TestRun_RestrictedUsernames(t *testing.T) {
	orchestrator, sessions, _ := newTestOrchestrator(t, communitySource())

	sess, err := sessions.Create("targeted", "golang", nil)
	require.NoError(t, err)

	result, err := orchestrator.Run(context.Background(), sess.ID, []string{"karma_farmer"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Detection.UsersAnalyzed)
	require.Len(t, result.Detection.Verdicts, 1)
	assert.Equal(t, "karma_farmer", result.Detection.Verdicts[0].Username)
}

func TestRun_ExtractionFailureMarksSessionFailed(t *testing.T) {
	source := communitySource()
	source.listErr = errors.New("listing unavailable")
	orchestrator, sessions, _ := newTestOrchestrator(t, source)

	sess, err := sessions.Create("doomed", "golang", nil)
	require.NoError(t, err)

	_, err = orchestrator.Run(context.Background(), sess.ID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extraction stage")
	assert.Contains(t, err.Error(), sess.ID)

	stored, err := sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	require.NotNil(t, stored.CompletedAt)
}

func TestRun_UnknownSession(t *testing.T) {
	orchestrator, _, _ := newTestOrchestrator(t, communitySource())

	_, err := orchestrator.Run(context.Background(), "no-such-session", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestRun_RerunAfterCompletionIsRejected(t *testing.T) {
	orchestrator, sessions, _ := newTestOrchestrator(t, communitySource())

	sess, err := sessions.Create("once", "golang", nil)
	require.NoError(t, err)

	_, err = orchestrator.Run(context.Background(), sess.ID, nil)
	require.NoError(t, err)

	// A completed session is terminal; the status machine refuses the restart.
	_, err = orchestrator.Run(context.Background(), sess.ID, nil)
	require.Error(t, err)

	stored, err := sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}
