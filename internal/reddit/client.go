// Package reddit implements the upstream data source contract against the
// Reddit OAuth API: authenticate, list a community's newest activity, and
// fetch per-author profiles.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/botsentry/backend/internal/metrics"
	"github.com/botsentry/backend/pkg/circuitbreaker"
	"github.com/botsentry/backend/pkg/logger"
	"github.com/botsentry/backend/pkg/retry"
)

var (
	// ErrMissingCredentials means no client id/secret was configured; nothing
	// upstream is ever called in that case.
	ErrMissingCredentials = errors.New("reddit credentials not configured")
	// ErrNotFound is returned for profiles of deleted or shadowbanned users.
	ErrNotFound = errors.New("reddit resource not found")
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reddit api returned status %d", e.StatusCode)
}

func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return false
}

// ActivityItem is one post or comment from a community feed.
type ActivityItem struct {
	ID        string
	Kind      string // "post" or "comment"
	Author    string
	Community string
	Title     string
	Body      string
	Score     int
	CreatedAt time.Time
}

// Profile is one author's public account record.
type Profile struct {
	Username         string
	CommentKarma     int
	LinkKarma        int
	IsVerified       bool
	HasVerifiedEmail bool
	IsPremium        bool
	CreatedAt        time.Time
}

// ProfileCache is an optional read-through cache for profile fetches.
type ProfileCache interface {
	GetProfile(ctx context.Context, username string) (*Profile, bool, error)
	SetProfile(ctx context.Context, profile *Profile) error
}

type Config struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	BaseURL      string
	AuthURL      string
	Timeout      time.Duration
	// RequestDelay is the minimum spacing between consecutive upstream
	// calls. The default 100ms keeps us inside Reddit's free-tier budget.
	RequestDelay time.Duration
	Cache        ProfileCache
}

type Client struct {
	clientID     string
	clientSecret string
	userAgent    string
	baseURL      string
	authURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
	breaker      *circuitbreaker.CircuitBreaker
	cache        ProfileCache

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://oauth.reddit.com"
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = "https://www.reddit.com/api/v1/access_token"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "botsentry/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestDelay <= 0 {
		cfg.RequestDelay = 100 * time.Millisecond
	}

	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		userAgent:    cfg.UserAgent,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		authURL:      cfg.AuthURL,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(rate.Every(cfg.RequestDelay), 1),
		breaker: circuitbreaker.New("reddit-profile", circuitbreaker.Config{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
			Logger:           logger.Log,
		}),
		cache: cfg.Cache,
	}
}

// Authenticate obtains an app-only access token via the client-credentials
// grant. Missing or rejected credentials are fatal to the caller.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.clientID == "" || c.clientSecret == "" {
		return ErrMissingCredentials
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create auth request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("auth", "error").Inc()
		return fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.UpstreamRequests.WithLabelValues("auth", strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authentication rejected: %w", &StatusError{StatusCode: resp.StatusCode})
	}

	var tokenResp struct {
		AccessToken string  `json:"access_token"`
		ExpiresIn   float64 `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return fmt.Errorf("authentication rejected: empty access token")
	}

	c.mu.Lock()
	c.token = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	c.mu.Unlock()

	logger.Info("Authenticated against Reddit API",
		zap.Float64("expires_in_sec", tokenResp.ExpiresIn),
	)
	return nil
}

// ListActivity fetches one page of a community's newest activity, bounded by
// limit. Listing children of unknown kinds are skipped.
func (c *Client) ListActivity(ctx context.Context, community string, limit int) ([]ActivityItem, error) {
	if limit <= 0 {
		limit = 100
	}

	path := fmt.Sprintf("/r/%s/new?limit=%d&raw_json=1", url.PathEscape(community), limit)
	body, err := c.get(ctx, "list_activity", path)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch activity for r/%s: %w", community, err)
	}

	var listing struct {
		Data struct {
			Children []struct {
				Kind string `json:"kind"`
				Data struct {
					Name       string  `json:"name"`
					Author     string  `json:"author"`
					Subreddit  string  `json:"subreddit"`
					Title      string  `json:"title"`
					Selftext   string  `json:"selftext"`
					Body       string  `json:"body"`
					Score      int     `json:"score"`
					CreatedUTC float64 `json:"created_utc"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("failed to decode activity listing: %w", err)
	}

	items := make([]ActivityItem, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		var kind, content string
		switch child.Kind {
		case "t3":
			kind = "post"
			content = child.Data.Selftext
		case "t1":
			kind = "comment"
			content = child.Data.Body
		default:
			continue
		}

		items = append(items, ActivityItem{
			ID:        child.Data.Name,
			Kind:      kind,
			Author:    child.Data.Author,
			Community: child.Data.Subreddit,
			Title:     child.Data.Title,
			Body:      content,
			Score:     child.Data.Score,
			CreatedAt: time.Unix(int64(child.Data.CreatedUTC), 0).UTC(),
		})
	}

	logger.Debug("Fetched activity page",
		zap.String("community", community),
		zap.Int("items", len(items)),
	)
	return items, nil
}

// GetProfile fetches one author's account record. Calls run behind a circuit
// breaker: a melting upstream degrades to fast failures the extraction stage
// logs and skips.
func (c *Client) GetProfile(ctx context.Context, username string) (*Profile, error) {
	if c.cache != nil {
		profile, hit, err := c.cache.GetProfile(ctx, username)
		if err != nil {
			logger.Warn("Profile cache read failed", zap.String("username", username), zap.Error(err))
		} else if hit {
			metrics.ProfileCacheHits.Inc()
			return profile, nil
		}
	}

	var body []byte
	err := c.breaker.Execute(func() error {
		var err error
		path := fmt.Sprintf("/user/%s/about?raw_json=1", url.PathEscape(username))
		body, err = c.get(ctx, "get_profile", path)
		return err
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch profile for %s: %w", username, err)
	}

	var about struct {
		Data struct {
			Name             string  `json:"name"`
			CommentKarma     int     `json:"comment_karma"`
			LinkKarma        int     `json:"link_karma"`
			Verified         bool    `json:"verified"`
			HasVerifiedEmail bool    `json:"has_verified_email"`
			IsGold           bool    `json:"is_gold"`
			CreatedUTC       float64 `json:"created_utc"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &about); err != nil {
		return nil, fmt.Errorf("failed to decode profile for %s: %w", username, err)
	}

	profile := &Profile{
		Username:         about.Data.Name,
		CommentKarma:     about.Data.CommentKarma,
		LinkKarma:        about.Data.LinkKarma,
		IsVerified:       about.Data.Verified,
		HasVerifiedEmail: about.Data.HasVerifiedEmail,
		IsPremium:        about.Data.IsGold,
		CreatedAt:        time.Unix(int64(about.Data.CreatedUTC), 0).UTC(),
	}
	if profile.Username == "" {
		profile.Username = username
	}

	if c.cache != nil {
		if err := c.cache.SetProfile(ctx, profile); err != nil {
			logger.Warn("Profile cache write failed", zap.String("username", username), zap.Error(err))
		}
	}

	return profile, nil
}

// get issues one rate-limited GET against the API host, retrying transient
// 429/5xx responses with backoff.
func (c *Client) get(ctx context.Context, endpoint, path string) ([]byte, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return nil, fmt.Errorf("not authenticated")
	}

	var body []byte
	cfg := retry.DefaultConfig()
	cfg.ShouldRetry = isTransient
	cfg.Logger = logger.Log

	err := retry.Do(ctx, cfg, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
			return err
		}
		defer resp.Body.Close()
		metrics.UpstreamRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode != http.StatusOK {
			return &StatusError{StatusCode: resp.StatusCode}
		}

		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}
