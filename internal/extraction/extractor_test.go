package extraction

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botsentry/backend/internal/reddit"
	"github.com/botsentry/backend/internal/storage/sqlite"
)

type fakeSource struct {
	authErr      error
	items        []reddit.ActivityItem
	listErr      error
	profiles     map[string]*reddit.Profile
	profileErrs  map[string]error
	profileCalls map[string]int
}

func (f *fakeSource) Authenticate(ctx context.Context) error {
	return f.authErr
}

func (f *fakeSource) ListActivity(ctx context.Context, community string, limit int) ([]reddit.ActivityItem, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.items, nil
}

func (f *fakeSource) GetProfile(ctx context.Context, username string) (*reddit.Profile, error) {
	if f.profileCalls == nil {
		f.profileCalls = make(map[string]int)
	}
	f.profileCalls[username]++

	if err := f.profileErrs[username]; err != nil {
		return nil, err
	}
	profile, ok := f.profiles[username]
	if !ok {
		return nil, reddit.ErrNotFound
	}
	return profile, nil
}

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())
	return store
}

func testItems() []reddit.ActivityItem {
	created := time.Now().Add(-time.Hour)
	return []reddit.ActivityItem{
		{ID: "t3_p1", Kind: "post", Author: "alice", Community: "golang", Title: "post one", Score: 12, CreatedAt: created},
		{ID: "t3_p2", Kind: "post", Author: "bob", Community: "golang", Title: "post two", Score: 3, CreatedAt: created},
		{ID: "t1_c1", Kind: "comment", Author: "alice", Community: "golang", Body: "a comment", Score: 5, CreatedAt: created},
		{ID: "t1_c2", Kind: "comment", Author: "[deleted]", Community: "golang", Body: "gone", Score: 1, CreatedAt: created},
	}
}

func testProfiles() map[string]*reddit.Profile {
	return map[string]*reddit.Profile{
		"alice": {Username: "alice", CommentKarma: 500, LinkKarma: 50, HasVerifiedEmail: true, CreatedAt: time.Now().AddDate(-2, 0, 0)},
		"bob":   {Username: "bob", CommentKarma: 1, LinkKarma: 0, CreatedAt: time.Now().AddDate(0, 0, -3)},
	}
}

func TestExtract_PersistsActivityAndAuthors(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{items: testItems(), profiles: testProfiles()}

	result, err := NewExtractor(source, store).Extract(context.Background(), "golang", 100)
	require.NoError(t, err)

	assert.Equal(t, 4, result.ActivityCount)
	assert.Equal(t, 2, result.AuthorCount)

	// Deleted authors are persisted as activity but never fetched.
	assert.Zero(t, source.profileCalls["[deleted]"])

	aggregates, err := store.ActivityAggregates()
	require.NoError(t, err)
	assert.Equal(t, 1, aggregates["alice"].PostCount)
	assert.Equal(t, 1, aggregates["alice"].CommentCount)
	assert.Equal(t, 12.0, aggregates["alice"].PostScoreSum)

	accounts, err := store.ListAccounts(nil)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].Username)
	assert.InDelta(t, 730, accounts[0].AccountAgeDays, 2)
	assert.Equal(t, 3, accounts[1].AccountAgeDays)
}

func TestExtract_DeduplicatesAuthors(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{items: testItems(), profiles: testProfiles()}

	_, err := NewExtractor(source, store).Extract(context.Background(), "golang", 100)
	require.NoError(t, err)

	// alice appears on a post and a comment but is fetched once.
	assert.Equal(t, 1, source.profileCalls["alice"])
	assert.Equal(t, 1, source.profileCalls["bob"])
}

func TestExtract_Idempotent(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{items: testItems(), profiles: testProfiles()}
	extractor := NewExtractor(source, store)

	_, err := extractor.Extract(context.Background(), "golang", 100)
	require.NoError(t, err)
	_, err = extractor.Extract(context.Background(), "golang", 100)
	require.NoError(t, err)

	activityCount, err := store.CountActivity()
	require.NoError(t, err)
	accountCount, err := store.CountAccounts()
	require.NoError(t, err)

	assert.Equal(t, 4, activityCount)
	assert.Equal(t, 2, accountCount)
}

func TestExtract_AuthorFetchFailureSkipsNotAborts(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{
		items:       testItems(),
		profiles:    testProfiles(),
		profileErrs: map[string]error{"bob": errors.New("upstream hiccup")},
	}

	result, err := NewExtractor(source, store).Extract(context.Background(), "golang", 100)
	require.NoError(t, err)

	assert.Equal(t, 4, result.ActivityCount)
	assert.Equal(t, 1, result.AuthorCount)

	accounts, err := store.ListAccounts(nil)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "alice", accounts[0].Username)
}

func TestExtract_AuthFailureIsFatal(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{authErr: reddit.ErrMissingCredentials}

	_, err := NewExtractor(source, store).Extract(context.Background(), "golang", 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, reddit.ErrMissingCredentials)

	count, countErr := store.CountActivity()
	require.NoError(t, countErr)
	assert.Zero(t, count)
}

func TestExtract_PageFetchFailureIsFatal(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{listErr: errors.New("listing unavailable")}

	_, err := NewExtractor(source, store).Extract(context.Background(), "golang", 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "activity fetch failed")
}
