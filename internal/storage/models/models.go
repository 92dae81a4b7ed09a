package models

import "time"

// Analysis session statuses. A session walks pending -> extracting_data ->
// data_extracted -> analyzing -> completed; any non-terminal state may exit
// to failed on an unrecoverable error.
const (
	StatusPending       = "pending"
	StatusExtracting    = "extracting_data"
	StatusDataExtracted = "data_extracted"
	StatusAnalyzing     = "analyzing"
	StatusCompleted     = "completed"
	StatusFailed        = "failed"
)

// IsTerminalStatus reports whether a session in the given status will never
// transition again.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

type AnalysisSession struct {
	ID                    string
	Name                  string
	Community             string
	Status                string
	TotalAccountsAnalyzed int
	BotsDetected          int
	Parameters            map[string]string
	StartedAt             time.Time
	CompletedAt           *time.Time
}

// RedditAccount is the stored profile snapshot for one author, keyed on
// username. Re-extraction overwrites it (last write wins).
type RedditAccount struct {
	Username         string
	AccountAgeDays   int
	CommentKarma     int
	LinkKarma        int
	IsVerified       bool
	HasVerifiedEmail bool
	IsPremium        bool
	AccountCreatedAt time.Time
	FetchedAt        time.Time
}

// RedditActivity is one post or comment, keyed on the platform id. The author
// is a weak reference; the matching RedditAccount may not have been fetched.
type RedditActivity struct {
	PlatformID     string
	Kind           string // "post" or "comment"
	AuthorUsername string
	Community      string
	Title          string
	Body           string
	Score          int
	CreatedAt      time.Time
}

// ActivityAggregates summarizes one author's stored activity for scoring.
type ActivityAggregates struct {
	PostCount    int
	CommentCount int
	PostScoreSum float64
}

// BotVerdict is the current scoring result for one account, keyed on
// username. Each analysis run overwrites the previous verdict.
type BotVerdict struct {
	Username          string
	BotProbability    float64
	ConfidenceScore   float64
	DetectionMethod   string
	Features          map[string]float64
	RiskFactors       []string
	AnalysisTimestamp time.Time
}
