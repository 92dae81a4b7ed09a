package detection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/botsentry/backend/internal/metrics"
	"github.com/botsentry/backend/internal/storage/models"
	"github.com/botsentry/backend/pkg/logger"
)

// Detection method tags recorded on verdicts.
const (
	MethodRuleBased        = "rule_based"
	MethodRuleBasedAnomaly = "rule_based+anomaly"
)

// Risk factor labels. These overlap the weight rules but are a distinct set:
// they exist to explain a verdict to a human, not to compute the score.
const (
	RiskNewAccount           = "new_account"
	RiskLowKarmaForAge       = "low_karma_for_age"
	RiskHighPostingFrequency = "high_posting_frequency"
	RiskUnverifiedEmail      = "unverified_email"
	RiskKarmaRatioAnomaly    = "karma_ratio_anomaly"
)

const defaultWorkers = 4

// Engine converts account records into bot verdicts. The rule table is the
// mandatory baseline; when anomalyWeight > 0 the population-relative anomaly
// score is folded in as an additional weighted term.
type Engine struct {
	anomalyWeight float64
	workers       int
}

func NewEngine(anomalyWeight float64, workers int) *Engine {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Engine{
		anomalyWeight: anomalyWeight,
		workers:       workers,
	}
}

// ScoreBatch scores every account independently. Accounts with no activity
// aggregates are scored against zeroed defaults, never skipped, and one
// account's bad data cannot abort the batch. The returned slice preserves
// the input order.
func (e *Engine) ScoreBatch(ctx context.Context, accounts []*models.RedditAccount, aggregates map[string]models.ActivityAggregates) []*models.BotVerdict {
	if len(accounts) == 0 {
		return nil
	}

	// The reference population for anomaly scoring is the batch itself.
	population := make([][]float64, len(accounts))
	for i, account := range accounts {
		population[i] = ExtractFeatures(account, aggregates[account.Username])
	}

	verdicts := make([]*models.BotVerdict, len(accounts))

	var wg sync.WaitGroup
	work := make(chan int)

	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				verdicts[i] = e.scoreOne(accounts[i], population[i], population)
			}
		}()
	}

	for i := range accounts {
		select {
		case <-ctx.Done():
			// Unscored accounts still get a verdict from zeroed defaults so
			// the batch result stays complete.
		case work <- i:
			continue
		}
		break
	}
	close(work)
	wg.Wait()

	for i, account := range accounts {
		if verdicts[i] == nil {
			verdicts[i] = e.scoreOne(account, population[i], population)
		}
	}

	logger.Info("Batch scored",
		zap.Int("accounts", len(accounts)),
		zap.Float64("anomaly_weight", e.anomalyWeight),
	)

	return verdicts
}

func (e *Engine) scoreOne(account *models.RedditAccount, vector []float64, population [][]float64) *models.BotVerdict {
	probability := ruleScore(vector)

	features := FeatureMap(vector)
	method := MethodRuleBased

	anomaly := ScoreAnomaly(population, vector)
	features["anomaly_score"] = anomaly
	if e.anomalyWeight > 0 {
		probability += e.anomalyWeight * anomaly
		method = MethodRuleBasedAnomaly
	}

	if probability > 1 {
		probability = 1
	}

	riskFactors := riskFactors(vector)

	confidence := 0.5
	if len(riskFactors) > 0 {
		confidence = 0.7 + 0.1*float64(len(riskFactors))
		if confidence > 1 {
			confidence = 1
		}
	}

	metrics.AccountsScored.Inc()
	metrics.BotProbability.Observe(probability)

	return &models.BotVerdict{
		Username:          account.Username,
		BotProbability:    probability,
		ConfidenceScore:   confidence,
		DetectionMethod:   method,
		Features:          features,
		RiskFactors:       riskFactors,
		AnalysisTimestamp: time.Now().UTC(),
	}
}

// ruleScore is the additive heuristic baseline. Each condition contributes a
// fixed weight; the sum is clamped to 1.0 by the caller.
func ruleScore(v []float64) float64 {
	age := v[FeatureAccountAgeDays]
	commentKarma := v[FeatureCommentKarma]
	linkKarma := v[FeatureLinkKarma]

	score := 0.0

	switch {
	case age < 7:
		score += 0.30
	case age < 30:
		score += 0.20
	case age < 90:
		score += 0.10
	}

	if commentKarma < 5 {
		score += 0.20
	}
	if linkKarma == 0 && commentKarma == 0 {
		score += 0.30
	}
	if v[FeaturePostingFrequency] > 5 {
		score += 0.20
	}
	if v[FeatureAvgPostScore] < 1 {
		score += 0.10
	}
	if v[FeatureHasVerifiedEmail] == 0 {
		score += 0.10
	}
	if v[FeatureIsVerified] == 0 && age > 365 {
		score += 0.05
	}

	return score
}

func riskFactors(v []float64) []string {
	age := v[FeatureAccountAgeDays]
	totalKarma := v[FeatureCommentKarma] + v[FeatureLinkKarma]

	var factors []string

	if age < 30 {
		factors = append(factors, RiskNewAccount)
	}
	if age > 90 && totalKarma < 50 {
		factors = append(factors, RiskLowKarmaForAge)
	}
	if v[FeaturePostingFrequency] > 10 {
		factors = append(factors, RiskHighPostingFrequency)
	}
	if v[FeatureHasVerifiedEmail] == 0 && age > 7 {
		factors = append(factors, RiskUnverifiedEmail)
	}
	if totalKarma > 0 && v[FeatureKarmaRatio] < 0.1 {
		factors = append(factors, RiskKarmaRatioAnomaly)
	}

	return factors
}
