package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/botsentry/backend/internal/storage/models"
	"github.com/botsentry/backend/pkg/logger"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("record not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		community TEXT NOT NULL,
		status TEXT NOT NULL,
		total_accounts_analyzed INTEGER NOT NULL DEFAULT 0,
		bots_detected INTEGER NOT NULL DEFAULT 0,
		parameters TEXT,
		started_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON analysis_sessions(started_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON analysis_sessions(status);

	CREATE TABLE IF NOT EXISTS reddit_accounts (
		username TEXT PRIMARY KEY,
		account_age_days INTEGER NOT NULL,
		comment_karma INTEGER NOT NULL,
		link_karma INTEGER NOT NULL,
		is_verified INTEGER NOT NULL DEFAULT 0,
		has_verified_email INTEGER NOT NULL DEFAULT 0,
		is_premium INTEGER NOT NULL DEFAULT 0,
		account_created_at INTEGER NOT NULL,
		fetched_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reddit_activity (
		platform_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		author_username TEXT NOT NULL,
		community TEXT NOT NULL,
		title TEXT,
		body TEXT,
		score INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activity_author ON reddit_activity(author_username);
	CREATE INDEX IF NOT EXISTS idx_activity_community ON reddit_activity(community);

	CREATE TABLE IF NOT EXISTS bot_verdicts (
		username TEXT PRIMARY KEY,
		bot_probability REAL NOT NULL,
		confidence_score REAL NOT NULL,
		detection_method TEXT NOT NULL,
		features TEXT,
		risk_factors TEXT,
		analysis_timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_verdicts_probability ON bot_verdicts(bot_probability);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertSession(s *models.AnalysisSession) error {
	paramsJSON, _ := json.Marshal(s.Parameters)

	query := `
		INSERT INTO analysis_sessions (id, name, community, status, total_accounts_analyzed,
			bots_detected, parameters, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		s.ID,
		s.Name,
		s.Community,
		s.Status,
		s.TotalAccountsAnalyzed,
		s.BotsDetected,
		string(paramsJSON),
		s.StartedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	logger.Debug("Session inserted", zap.String("session_id", s.ID), zap.String("community", s.Community))
	return nil
}

func (c *Client) GetSession(id string) (*models.AnalysisSession, error) {
	query := `
		SELECT id, name, community, status, total_accounts_analyzed, bots_detected,
			parameters, started_at, completed_at
		FROM analysis_sessions WHERE id = ?
	`

	row := c.db.QueryRow(query, id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return s, nil
}

func (c *Client) ListSessions() ([]*models.AnalysisSession, error) {
	query := `
		SELECT id, name, community, status, total_accounts_analyzed, bots_detected,
			parameters, started_at, completed_at
		FROM analysis_sessions
		ORDER BY started_at DESC, id DESC
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.AnalysisSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.AnalysisSession, error) {
	var s models.AnalysisSession
	var paramsJSON sql.NullString
	var startedAt int64
	var completedAt sql.NullInt64

	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Community,
		&s.Status,
		&s.TotalAccountsAnalyzed,
		&s.BotsDetected,
		&paramsJSON,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if paramsJSON.Valid && paramsJSON.String != "" {
		json.Unmarshal([]byte(paramsJSON.String), &s.Parameters)
	}
	s.StartedAt = time.Unix(startedAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		s.CompletedAt = &t
	}

	return &s, nil
}

func (c *Client) DeleteSession(id string) error {
	res, err := c.db.Exec(`DELETE FROM analysis_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	logger.Debug("Session deleted", zap.String("session_id", id))
	return nil
}

// UpdateSessionStatus moves a session to a non-terminal status. Terminal
// transitions go through CompleteSession or FailSession so completed_at is
// set exactly when the session ends.
func (c *Client) UpdateSessionStatus(id, status string) error {
	res, err := c.db.Exec(`UPDATE analysis_sessions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	return nil
}

func (c *Client) CompleteSession(id string, totalAnalyzed, botsDetected int, completedAt time.Time) error {
	query := `
		UPDATE analysis_sessions
		SET status = ?, total_accounts_analyzed = ?, bots_detected = ?, completed_at = ?
		WHERE id = ?
	`

	res, err := c.db.Exec(query, models.StatusCompleted, totalAnalyzed, botsDetected, completedAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	logger.Info("Session completed",
		zap.String("session_id", id),
		zap.Int("total_accounts_analyzed", totalAnalyzed),
		zap.Int("bots_detected", botsDetected),
	)
	return nil
}

func (c *Client) FailSession(id string, completedAt time.Time) error {
	query := `UPDATE analysis_sessions SET status = ?, completed_at = ? WHERE id = ?`

	res, err := c.db.Exec(query, models.StatusFailed, completedAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark session failed: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	return nil
}

func (c *Client) UpsertAccounts(accounts []*models.RedditAccount) error {
	if len(accounts) == 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO reddit_accounts (username, account_age_days, comment_karma, link_karma,
			is_verified, has_verified_email, is_premium, account_created_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			account_age_days = excluded.account_age_days,
			comment_karma = excluded.comment_karma,
			link_karma = excluded.link_karma,
			is_verified = excluded.is_verified,
			has_verified_email = excluded.has_verified_email,
			is_premium = excluded.is_premium,
			account_created_at = excluded.account_created_at,
			fetched_at = excluded.fetched_at
	`

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare account upsert: %w", err)
	}
	defer stmt.Close()

	for _, a := range accounts {
		_, err = stmt.Exec(
			a.Username,
			a.AccountAgeDays,
			a.CommentKarma,
			a.LinkKarma,
			boolToInt(a.IsVerified),
			boolToInt(a.HasVerifiedEmail),
			boolToInt(a.IsPremium),
			a.AccountCreatedAt.Unix(),
			a.FetchedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert account %s: %w", a.Username, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account upsert: %w", err)
	}

	logger.Debug("Accounts upserted", zap.Int("count", len(accounts)))
	return nil
}

func (c *Client) UpsertActivity(items []*models.RedditActivity) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO reddit_activity (platform_id, kind, author_username, community,
			title, body, score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(platform_id) DO UPDATE SET
			score = excluded.score,
			title = excluded.title,
			body = excluded.body
	`

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare activity upsert: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		_, err = stmt.Exec(
			item.PlatformID,
			item.Kind,
			item.AuthorUsername,
			item.Community,
			item.Title,
			item.Body,
			item.Score,
			item.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert activity %s: %w", item.PlatformID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activity upsert: %w", err)
	}

	logger.Debug("Activity upserted", zap.Int("count", len(items)))
	return nil
}

// ListAccounts returns all stored accounts, or only the named ones when
// usernames is non-empty.
func (c *Client) ListAccounts(usernames []string) ([]*models.RedditAccount, error) {
	query := `
		SELECT username, account_age_days, comment_karma, link_karma, is_verified,
			has_verified_email, is_premium, account_created_at, fetched_at
		FROM reddit_accounts
	`
	args := make([]interface{}, 0, len(usernames))

	if len(usernames) > 0 {
		query += ` WHERE username IN (?` + repeatPlaceholder(len(usernames)-1) + `)`
		for _, u := range usernames {
			args = append(args, u)
		}
	}
	query += ` ORDER BY username`

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.RedditAccount
	for rows.Next() {
		var a models.RedditAccount
		var isVerified, hasEmail, isPremium int
		var createdAt, fetchedAt int64

		err := rows.Scan(
			&a.Username,
			&a.AccountAgeDays,
			&a.CommentKarma,
			&a.LinkKarma,
			&isVerified,
			&hasEmail,
			&isPremium,
			&createdAt,
			&fetchedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}

		a.IsVerified = isVerified != 0
		a.HasVerifiedEmail = hasEmail != 0
		a.IsPremium = isPremium != 0
		a.AccountCreatedAt = time.Unix(createdAt, 0)
		a.FetchedAt = time.Unix(fetchedAt, 0)
		accounts = append(accounts, &a)
	}

	return accounts, rows.Err()
}

// ActivityAggregates computes per-author post/comment counts and the post
// score sum across all stored activity.
func (c *Client) ActivityAggregates() (map[string]models.ActivityAggregates, error) {
	query := `
		SELECT author_username,
			SUM(CASE WHEN kind = 'post' THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'comment' THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'post' THEN score ELSE 0 END)
		FROM reddit_activity
		GROUP BY author_username
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate activity: %w", err)
	}
	defer rows.Close()

	aggregates := make(map[string]models.ActivityAggregates)
	for rows.Next() {
		var username string
		var agg models.ActivityAggregates

		err := rows.Scan(&username, &agg.PostCount, &agg.CommentCount, &agg.PostScoreSum)
		if err != nil {
			return nil, fmt.Errorf("failed to scan aggregates: %w", err)
		}
		aggregates[username] = agg
	}

	return aggregates, rows.Err()
}

func (c *Client) UpsertVerdicts(verdicts []*models.BotVerdict) error {
	if len(verdicts) == 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO bot_verdicts (username, bot_probability, confidence_score,
			detection_method, features, risk_factors, analysis_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			bot_probability = excluded.bot_probability,
			confidence_score = excluded.confidence_score,
			detection_method = excluded.detection_method,
			features = excluded.features,
			risk_factors = excluded.risk_factors,
			analysis_timestamp = excluded.analysis_timestamp
	`

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare verdict upsert: %w", err)
	}
	defer stmt.Close()

	for _, v := range verdicts {
		featuresJSON, _ := json.Marshal(v.Features)
		factorsJSON, _ := json.Marshal(v.RiskFactors)

		_, err = stmt.Exec(
			v.Username,
			v.BotProbability,
			v.ConfidenceScore,
			v.DetectionMethod,
			string(featuresJSON),
			string(factorsJSON),
			v.AnalysisTimestamp.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert verdict for %s: %w", v.Username, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit verdict upsert: %w", err)
	}

	logger.Debug("Verdicts upserted", zap.Int("count", len(verdicts)))
	return nil
}

func (c *Client) ListVerdicts() ([]*models.BotVerdict, error) {
	query := `
		SELECT username, bot_probability, confidence_score, detection_method,
			features, risk_factors, analysis_timestamp
		FROM bot_verdicts
		ORDER BY bot_probability DESC, username
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}
	defer rows.Close()

	var verdicts []*models.BotVerdict
	for rows.Next() {
		var v models.BotVerdict
		var featuresJSON, factorsJSON sql.NullString
		var ts int64

		err := rows.Scan(
			&v.Username,
			&v.BotProbability,
			&v.ConfidenceScore,
			&v.DetectionMethod,
			&featuresJSON,
			&factorsJSON,
			&ts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}

		if featuresJSON.Valid {
			json.Unmarshal([]byte(featuresJSON.String), &v.Features)
		}
		if factorsJSON.Valid {
			json.Unmarshal([]byte(factorsJSON.String), &v.RiskFactors)
		}
		v.AnalysisTimestamp = time.Unix(ts, 0)
		verdicts = append(verdicts, &v)
	}

	return verdicts, rows.Err()
}

func (c *Client) CountAccounts() (int, error) {
	var n int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM reddit_accounts`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

func (c *Client) CountActivity() (int, error) {
	var n int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM reddit_activity`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count activity: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func repeatPlaceholder(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}
