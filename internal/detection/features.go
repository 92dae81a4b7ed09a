package detection

import (
	"github.com/botsentry/backend/internal/storage/models"
)

// Feature vector dimensions, in the fixed order every vector uses.
const (
	FeatureAccountAgeDays = iota
	FeatureCommentKarma
	FeatureLinkKarma
	FeatureKarmaRatio
	FeaturePostingFrequency
	FeatureAvgPostScore
	FeaturePostCommentRatio
	FeatureIsVerified
	FeatureHasVerifiedEmail
	FeatureIsPremium

	FeatureCount
)

// FeatureNames maps each dimension index to its stable name, used for the
// explainable feature map persisted with every verdict.
var FeatureNames = [FeatureCount]string{
	"account_age_days",
	"comment_karma",
	"link_karma",
	"karma_ratio",
	"posting_frequency",
	"avg_post_score",
	"post_comment_ratio",
	"is_verified",
	"has_verified_email",
	"is_premium",
}

// ExtractFeatures projects one account and its activity aggregates into the
// fixed ten-dimensional vector. It is pure and cannot fail: malformed or
// negative numeric inputs are coerced to 0 before any ratio is computed, and
// zero denominators yield 0 (or fall back to the numerator for the
// post/comment ratio).
func ExtractFeatures(account *models.RedditAccount, agg models.ActivityAggregates) []float64 {
	ageDays := nonNegative(float64(account.AccountAgeDays))
	commentKarma := nonNegative(float64(account.CommentKarma))
	linkKarma := nonNegative(float64(account.LinkKarma))
	postCount := nonNegative(float64(agg.PostCount))
	commentCount := nonNegative(float64(agg.CommentCount))
	postScoreSum := nonNegative(agg.PostScoreSum)

	karmaRatio := 0.0
	if total := commentKarma + linkKarma; total > 0 {
		karmaRatio = commentKarma / total
	}

	postingFrequency := 0.0
	if ageDays > 0 {
		postingFrequency = (postCount + commentCount) / ageDays
	}

	avgPostScore := 0.0
	if postCount > 0 {
		avgPostScore = postScoreSum / postCount
	}

	postCommentRatio := postCount
	if commentCount > 0 {
		postCommentRatio = postCount / commentCount
	}

	v := make([]float64, FeatureCount)
	v[FeatureAccountAgeDays] = ageDays
	v[FeatureCommentKarma] = commentKarma
	v[FeatureLinkKarma] = linkKarma
	v[FeatureKarmaRatio] = karmaRatio
	v[FeaturePostingFrequency] = postingFrequency
	v[FeatureAvgPostScore] = avgPostScore
	v[FeaturePostCommentRatio] = postCommentRatio
	v[FeatureIsVerified] = boolFeature(account.IsVerified)
	v[FeatureHasVerifiedEmail] = boolFeature(account.HasVerifiedEmail)
	v[FeatureIsPremium] = boolFeature(account.IsPremium)

	return v
}

// FeatureMap converts a vector into the named form stored on verdicts.
func FeatureMap(vector []float64) map[string]float64 {
	m := make(map[string]float64, len(vector))
	for i, value := range vector {
		if i >= FeatureCount {
			break
		}
		m[FeatureNames[i]] = value
	}
	return m
}

func nonNegative(x float64) float64 {
	// NaN compares false against everything, so it falls through to 0 too.
	if x > 0 {
		return x
	}
	return 0
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
