// Package extraction populates account and activity storage for one
// community from the upstream data source.
package extraction

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/botsentry/backend/internal/metrics"
	"github.com/botsentry/backend/internal/reddit"
	"github.com/botsentry/backend/internal/storage/models"
	"github.com/botsentry/backend/pkg/logger"
)

// Source is the upstream data source contract. reddit.Client implements it;
// tests substitute fakes.
type Source interface {
	Authenticate(ctx context.Context) error
	ListActivity(ctx context.Context, community string, limit int) ([]reddit.ActivityItem, error)
	GetProfile(ctx context.Context, username string) (*reddit.Profile, error)
}

// Store is the slice of the persistence layer extraction writes to.
type Store interface {
	UpsertActivity(items []*models.RedditActivity) error
	UpsertAccounts(accounts []*models.RedditAccount) error
}

// Result reports how much was successfully extracted. Both counts are
// always non-negative.
type Result struct {
	ActivityCount int
	AuthorCount   int
}

type Extractor struct {
	source Source
	store  Store
	now    func() time.Time
}

func NewExtractor(source Source, store Store) *Extractor {
	return &Extractor{
		source: source,
		store:  store,
		now:    time.Now,
	}
}

// Extract runs one extraction pass: authenticate, fetch a single page of the
// community feed, persist the activity, then fetch and persist each unique
// author's profile. Auth, page-fetch, and store failures are fatal; a single
// author's profile fetch failure is logged and skipped.
func (e *Extractor) Extract(ctx context.Context, community string, limit int) (*Result, error) {
	logger.Info("Starting extraction",
		zap.String("community", community),
		zap.Int("limit", limit),
	)

	if err := e.source.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("upstream authentication failed: %w", err)
	}

	items, err := e.source.ListActivity(ctx, community, limit)
	if err != nil {
		return nil, fmt.Errorf("activity fetch failed: %w", err)
	}

	records := make([]*models.RedditActivity, 0, len(items))
	authorSet := make(map[string]struct{})
	for _, item := range items {
		records = append(records, &models.RedditActivity{
			PlatformID:     item.ID,
			Kind:           item.Kind,
			AuthorUsername: item.Author,
			Community:      item.Community,
			Title:          item.Title,
			Body:           item.Body,
			Score:          item.Score,
			CreatedAt:      item.CreatedAt,
		})
		if skippableAuthor(item.Author) {
			continue
		}
		authorSet[item.Author] = struct{}{}
	}

	if err := e.store.UpsertActivity(records); err != nil {
		return nil, fmt.Errorf("failed to persist activity: %w", err)
	}
	metrics.ActivityExtracted.Add(float64(len(records)))

	authors := make([]string, 0, len(authorSet))
	for author := range authorSet {
		authors = append(authors, author)
	}
	sort.Strings(authors)

	accounts := make([]*models.RedditAccount, 0, len(authors))
	for _, author := range authors {
		profile, err := e.source.GetProfile(ctx, author)
		if err != nil {
			// Partial extraction is tolerated: one dead author must not
			// abort the page.
			metrics.ProfileFetchFailures.Inc()
			logger.Warn("Skipping author after profile fetch failure",
				zap.String("username", author),
				zap.Error(err),
			)
			continue
		}
		accounts = append(accounts, e.toAccount(profile))
	}

	if err := e.store.UpsertAccounts(accounts); err != nil {
		return nil, fmt.Errorf("failed to persist accounts: %w", err)
	}
	metrics.AuthorsExtracted.Add(float64(len(accounts)))

	result := &Result{
		ActivityCount: len(records),
		AuthorCount:   len(accounts),
	}

	logger.Info("Extraction finished",
		zap.String("community", community),
		zap.Int("activity_count", result.ActivityCount),
		zap.Int("author_count", result.AuthorCount),
		zap.Int("authors_skipped", len(authors)-len(accounts)),
	)
	return result, nil
}

func (e *Extractor) toAccount(profile *reddit.Profile) *models.RedditAccount {
	now := e.now().UTC()

	ageDays := 0
	if profile.CreatedAt.Before(now) {
		ageDays = int(now.Sub(profile.CreatedAt).Seconds() / 86400)
	}

	return &models.RedditAccount{
		Username:         profile.Username,
		AccountAgeDays:   ageDays,
		CommentKarma:     profile.CommentKarma,
		LinkKarma:        profile.LinkKarma,
		IsVerified:       profile.IsVerified,
		HasVerifiedEmail: profile.HasVerifiedEmail,
		IsPremium:        profile.IsPremium,
		AccountCreatedAt: profile.CreatedAt,
		FetchedAt:        now,
	}
}

// skippableAuthor filters placeholder authors that have no fetchable
// profile.
func skippableAuthor(author string) bool {
	return author == "" || author == "[deleted]"
}
